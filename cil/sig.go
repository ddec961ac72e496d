package cil

import (
	"fmt"
	"strings"

	"github.com/modtool/cil-go/internal/metadata"
	"github.com/modtool/cil-go/internal/stream"
)

// UnknownSentinel is the placeholder used wherever a name or type could not
// be resolved from metadata.
const UnknownSentinel = "<unknown>"

// Signature element types (ECMA-335 II.23.1.16)
const (
	etEnd         = 0x00
	etVoid        = 0x01
	etBoolean     = 0x02
	etChar        = 0x03
	etI1          = 0x04
	etU1          = 0x05
	etI2          = 0x06
	etU2          = 0x07
	etI4          = 0x08
	etU4          = 0x09
	etI8          = 0x0A
	etU8          = 0x0B
	etR4          = 0x0C
	etR8          = 0x0D
	etString      = 0x0E
	etPtr         = 0x0F
	etByRef       = 0x10
	etValueType   = 0x11
	etClass       = 0x12
	etVar         = 0x13
	etArray       = 0x14
	etGenericInst = 0x15
	etTypedByRef  = 0x16
	etIntPtr      = 0x18
	etUIntPtr     = 0x19
	etFnPtr       = 0x1B
	etObject      = 0x1C
	etSZArray     = 0x1D
	etMVar        = 0x1E
	etCModReqd    = 0x1F
	etCModOpt     = 0x20
	etSentinel    = 0x41
	etPinned      = 0x45
)

// Signature calling-convention byte
const (
	sigHasThis      = 0x20
	sigGeneric      = 0x10
	sigLocalSig     = 0x07
	sigFieldSig     = 0x06
	sigConvMask     = 0x0F
)

// primitiveNames is the fixed mapping from primitive element kinds to their
// canonical display strings.
var primitiveNames = map[byte]string{
	etVoid:       "void",
	etBoolean:    "bool",
	etChar:       "char",
	etI1:         "sbyte",
	etU1:         "byte",
	etI2:         "short",
	etU2:         "ushort",
	etI4:         "int",
	etU4:         "uint",
	etI8:         "long",
	etU8:         "ulong",
	etR4:         "float",
	etR8:         "double",
	etString:     "string",
	etTypedByRef: "typedref",
	etIntPtr:     "IntPtr",
	etUIntPtr:    "UIntPtr",
	etObject:     "object",
}

// typeInfo is one decoded signature element: the canonical display string
// plus enough structure for custom-attribute value decoding.
type typeInfo struct {
	Display string
	Elem    byte
	Token   metadata.Token // set for class/valuetype elements
}

// methodSig is a decoded method signature.
type methodSig struct {
	HasThis      bool
	GenericCount uint32
	Return       typeInfo
	Params       []typeInfo
}

// sigResolver decodes binary type signatures into canonical display
// strings. It is stateless apart from the table reference and is safe for
// concurrent use.
type sigResolver struct {
	tables *metadata.Tables
}

// methodSig decodes a MethodDefSig blob: calling convention, optional
// generic parameter count, parameter count, return type, parameter types.
func (s *sigResolver) methodSig(blob []byte) (*methodSig, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("cil: empty method signature")
	}

	r := stream.NewReader(blob)
	conv, err := r.ReadU8()
	if err != nil {
		return nil, err
	}

	sig := &methodSig{HasThis: conv&sigHasThis != 0}

	if conv&sigGeneric != 0 {
		if sig.GenericCount, err = r.ReadCompressedUint(); err != nil {
			return nil, err
		}
	}

	paramCount, err := r.ReadCompressedUint()
	if err != nil {
		return nil, err
	}

	if sig.Return, err = s.readType(r); err != nil {
		return nil, err
	}

	sig.Params = make([]typeInfo, 0, paramCount)
	for i := uint32(0); i < paramCount; i++ {
		p, err := s.readType(r)
		if err != nil {
			return nil, err
		}
		sig.Params = append(sig.Params, p)
	}

	return sig, nil
}

// localTypes decodes a LocalVarSig blob into one display string per local.
// A local whose individual element fails to decode becomes the unknown
// sentinel; only a malformed header fails the whole decode.
func (s *sigResolver) localTypes(blob []byte) ([]string, error) {
	r := stream.NewReader(blob)

	conv, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if conv&sigConvMask != sigLocalSig {
		return nil, fmt.Errorf("cil: not a local variable signature (0x%02x)", conv)
	}

	count, err := r.ReadCompressedUint()
	if err != nil {
		return nil, err
	}

	types := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		t, err := s.readType(r)
		if err != nil {
			// The cursor is unreliable past a bad element; pad the
			// remaining locals with the sentinel.
			for ; i < count; i++ {
				types = append(types, UnknownSentinel)
			}
			break
		}
		types = append(types, t.Display)
	}

	return types, nil
}

// fieldType decodes a FieldSig blob into the field's display type.
func (s *sigResolver) fieldType(blob []byte) (string, error) {
	r := stream.NewReader(blob)

	conv, err := r.ReadU8()
	if err != nil {
		return "", err
	}
	if conv&sigConvMask != sigFieldSig {
		return "", fmt.Errorf("cil: not a field signature (0x%02x)", conv)
	}

	t, err := s.readType(r)
	if err != nil {
		return "", err
	}
	return t.Display, nil
}

// readType decodes a single type element. Unsupported element kinds yield
// a tagged sentinel string rather than an error; only truncated input
// fails.
func (s *sigResolver) readType(r *stream.Reader) (typeInfo, error) {
	b, err := r.ReadU8()
	if err != nil {
		return typeInfo{}, err
	}

	if name, ok := primitiveNames[b]; ok {
		return typeInfo{Display: name, Elem: b}, nil
	}

	switch b {
	case etPtr:
		elem, err := s.readType(r)
		if err != nil {
			return typeInfo{}, err
		}
		return typeInfo{Display: elem.Display + "*", Elem: b}, nil

	case etByRef:
		elem, err := s.readType(r)
		if err != nil {
			return typeInfo{}, err
		}
		return typeInfo{Display: "ref " + elem.Display, Elem: b}, nil

	case etSZArray:
		elem, err := s.readType(r)
		if err != nil {
			return typeInfo{}, err
		}
		return typeInfo{Display: elem.Display + "[]", Elem: b}, nil

	case etArray:
		return s.readArray(r)

	case etValueType, etClass:
		tok, err := readTypeDefOrRef(r)
		if err != nil {
			return typeInfo{}, err
		}
		return typeInfo{Display: s.typeName(tok), Elem: b, Token: tok}, nil

	case etGenericInst:
		return s.readGenericInst(r)

	case etVar:
		n, err := r.ReadCompressedUint()
		if err != nil {
			return typeInfo{}, err
		}
		return typeInfo{Display: fmt.Sprintf("!%d", n), Elem: b}, nil

	case etMVar:
		n, err := r.ReadCompressedUint()
		if err != nil {
			return typeInfo{}, err
		}
		return typeInfo{Display: fmt.Sprintf("!!%d", n), Elem: b}, nil

	case etCModReqd, etCModOpt:
		// Custom modifiers are transparent for display purposes
		if _, err := readTypeDefOrRef(r); err != nil {
			return typeInfo{}, err
		}
		return s.readType(r)

	case etPinned, etSentinel:
		return s.readType(r)

	default:
		// Unresolvable kinds degrade to a tagged sentinel; analysis
		// continues with the rest of the signature.
		return typeInfo{Display: fmt.Sprintf("<unknown_type_0x%02X>", b), Elem: b}, nil
	}
}

// readArray decodes a multi-dimensional array shape.
func (s *sigResolver) readArray(r *stream.Reader) (typeInfo, error) {
	elem, err := s.readType(r)
	if err != nil {
		return typeInfo{}, err
	}

	rank, err := r.ReadCompressedUint()
	if err != nil {
		return typeInfo{}, err
	}

	numSizes, err := r.ReadCompressedUint()
	if err != nil {
		return typeInfo{}, err
	}
	for i := uint32(0); i < numSizes; i++ {
		if _, err := r.ReadCompressedUint(); err != nil {
			return typeInfo{}, err
		}
	}

	numLoBounds, err := r.ReadCompressedUint()
	if err != nil {
		return typeInfo{}, err
	}
	for i := uint32(0); i < numLoBounds; i++ {
		if _, err := r.ReadCompressedUint(); err != nil {
			return typeInfo{}, err
		}
	}

	dims := "[]"
	if rank > 1 {
		dims = "[" + strings.Repeat(",", int(rank-1)) + "]"
	}
	return typeInfo{Display: elem.Display + dims, Elem: etArray}, nil
}

// readGenericInst decodes a generic instantiation into
// "Name<Arg1, Arg2, ...>".
func (s *sigResolver) readGenericInst(r *stream.Reader) (typeInfo, error) {
	// CLASS or VALUETYPE marker for the generic definition
	if _, err := r.ReadU8(); err != nil {
		return typeInfo{}, err
	}

	tok, err := readTypeDefOrRef(r)
	if err != nil {
		return typeInfo{}, err
	}
	base := s.typeName(tok)

	// Strip the CLR arity suffix ("List`1" -> "List")
	if i := strings.IndexByte(base, '`'); i >= 0 {
		base = base[:i]
	}

	argc, err := r.ReadCompressedUint()
	if err != nil {
		return typeInfo{}, err
	}

	args := make([]string, 0, argc)
	for i := uint32(0); i < argc; i++ {
		a, err := s.readType(r)
		if err != nil {
			return typeInfo{}, err
		}
		args = append(args, a.Display)
	}

	return typeInfo{
		Display: base + "<" + strings.Join(args, ", ") + ">",
		Elem:    etGenericInst,
		Token:   tok,
	}, nil
}

// typeName resolves a TypeDef/TypeRef/TypeSpec token to a display name,
// degrading to the unknown sentinel instead of failing.
func (s *sigResolver) typeName(tok metadata.Token) string {
	switch tok.Table() {
	case metadata.TableTypeDef:
		row, err := s.tables.TypeDef(tok.RID())
		if err != nil {
			return UnknownSentinel
		}
		return row.FullName()
	case metadata.TableTypeRef:
		row, err := s.tables.TypeRef(tok.RID())
		if err != nil {
			return UnknownSentinel
		}
		return row.FullName()
	default:
		return UnknownSentinel
	}
}

// readTypeDefOrRef decodes the compressed TypeDefOrRefOrSpec encoding used
// inside signatures: the low two bits select the table, the rest is the
// RID.
func readTypeDefOrRef(r *stream.Reader) (metadata.Token, error) {
	v, err := r.ReadCompressedUint()
	if err != nil {
		return 0, err
	}

	rid := v >> 2
	switch v & 0x3 {
	case 0:
		return metadata.NewToken(metadata.TableTypeDef, rid), nil
	case 1:
		return metadata.NewToken(metadata.TableTypeRef, rid), nil
	case 2:
		return metadata.NewToken(metadata.TableTypeSpec, rid), nil
	default:
		return 0, fmt.Errorf("cil: invalid type encoding tag %d", v&0x3)
	}
}
