package cil

import (
	"math"
	"strings"

	"github.com/modtool/cil-go/internal/metadata"
	"github.com/modtool/cil-go/internal/stream"
)

// Policy attribute identity. The suffix check tolerates attribute types
// resolved through different reference forms (plain, namespaced, aliased).
const (
	privacyAttrSimpleName = "MethodPrivacyAttribute"
	privacyAttrFullName   = "ModTool.Decompiler.MethodPrivacyAttribute"
	privacyEnumSuffix     = "PrivacyLevel"
)

// Custom-attribute blob encoding (ECMA-335 II.23.3)
const (
	attrProlog uint16 = 0x0001

	namedArgField    uint8 = 0x53
	namedArgProperty uint8 = 0x54

	serTypeBoolean uint8 = 0x02
	serTypeChar    uint8 = 0x03
	serTypeI1      uint8 = 0x04
	serTypeU1      uint8 = 0x05
	serTypeI2      uint8 = 0x06
	serTypeU2      uint8 = 0x07
	serTypeI4      uint8 = 0x08
	serTypeU4      uint8 = 0x09
	serTypeI8      uint8 = 0x0A
	serTypeU8      uint8 = 0x0B
	serTypeString  uint8 = 0x0E
	serTypeEnum    uint8 = 0x55
)

// attrValue is a decoded custom-attribute argument: an explicit tagged
// variant instead of runtime-boxed values.
type attrValue struct {
	isInt bool
	i     int64

	isStr bool
	s     string
}

// coerceLevel maps a decoded argument value onto a privacy level.
// Integers of any width coerce by magnitude; strings match level names
// case-insensitively; everything else falls through to Public.
func coerceLevel(v attrValue) PrivacyLevel {
	switch {
	case v.isInt:
		switch {
		case v.i <= 0:
			return PrivacyPublic
		case v.i == 1:
			return PrivacyObfuscated
		default:
			return PrivacyPrivate
		}
	case v.isStr:
		switch strings.ToLower(v.s) {
		case "private":
			return PrivacyPrivate
		case "obfuscated":
			return PrivacyObfuscated
		default:
			return PrivacyPublic
		}
	default:
		return PrivacyPublic
	}
}

// resolvePrivacy applies the three-level precedence rule: method-level
// attributes first, then the declaring type, then the assembly. The first
// level carrying a recognized policy attribute wins outright; lower levels
// are never consulted after a match. Absence everywhere yields the default
// Public decision.
//
// Decoding failures inside a recognized attribute fail open: the decision
// silently defaults to Public with an empty reason, so malformed policy
// metadata can never block decompilation.
func (c *methodContext) resolvePrivacy() PrivacyDecision {
	parents := []metadata.Token{
		c.token,
		metadata.NewToken(metadata.TableTypeDef, c.typeRID),
	}
	if c.md.Tables.RowCount(metadata.TableAssembly) > 0 {
		parents = append(parents, metadata.NewToken(metadata.TableAssembly, 1))
	}

	for _, parent := range parents {
		attrs, err := c.md.Tables.CustomAttributes(parent)
		if err != nil {
			continue
		}
		for _, attr := range attrs {
			if !c.isPrivacyAttribute(attr.Ctor) {
				continue
			}
			decision, err := c.decodePrivacyAttribute(attr)
			if err != nil {
				// Fail open: a recognized but malformed attribute
				// still terminates the search.
				return PrivacyDecision{Level: PrivacyPublic}
			}
			return decision
		}
	}

	return PrivacyDecision{Level: PrivacyPublic}
}

// isPrivacyAttribute resolves an attribute constructor token to its
// declaring type and matches it against the policy attribute by simple
// name, fully-qualified name, or ".<simpleName>" suffix.
func (c *methodContext) isPrivacyAttribute(ctor metadata.Token) bool {
	simple, full, ok := c.attributeTypeName(ctor)
	if !ok {
		return false
	}
	return simple == privacyAttrSimpleName ||
		full == privacyAttrFullName ||
		strings.HasSuffix(full, "."+privacyAttrSimpleName)
}

// attributeTypeName returns the simple and namespace-qualified name of the
// type declaring an attribute constructor.
func (c *methodContext) attributeTypeName(ctor metadata.Token) (simple, full string, ok bool) {
	switch ctor.Table() {
	case metadata.TableMethodDef:
		typeRID, err := c.md.Tables.TypeDefForMethod(ctor.RID())
		if err != nil {
			return "", "", false
		}
		row, err := c.md.Tables.TypeDef(typeRID)
		if err != nil {
			return "", "", false
		}
		return row.Name, row.FullName(), true

	case metadata.TableMemberRef:
		ref, err := c.md.Tables.MemberRef(ctor.RID())
		if err != nil {
			return "", "", false
		}
		switch ref.Parent.Table() {
		case metadata.TableTypeRef:
			row, err := c.md.Tables.TypeRef(ref.Parent.RID())
			if err != nil {
				return "", "", false
			}
			return row.Name, row.FullName(), true
		case metadata.TableTypeDef:
			row, err := c.md.Tables.TypeDef(ref.Parent.RID())
			if err != nil {
				return "", "", false
			}
			return row.Name, row.FullName(), true
		}
	}
	return "", "", false
}

// decodePrivacyAttribute decodes a policy attribute's blob: the first
// positional argument sets the level, the second the reason; named
// arguments Level/Reason override the corresponding positional value but
// never clear one back to default when absent.
func (c *methodContext) decodePrivacyAttribute(attr metadata.CustomAttributeRow) (PrivacyDecision, error) {
	params, err := c.ctorParams(attr.Ctor)
	if err != nil {
		return PrivacyDecision{}, err
	}

	r := stream.NewReader(attr.Value)
	prolog, err := r.ReadU16()
	if err != nil || prolog != attrProlog {
		return PrivacyDecision{}, ErrBadContainer
	}

	decision := PrivacyDecision{Level: PrivacyPublic}

	for i, p := range params {
		v, err := c.readFixedArg(r, p)
		if err != nil {
			return PrivacyDecision{}, err
		}
		switch i {
		case 0:
			decision.Level = coerceLevel(v)
		case 1:
			if v.isStr {
				decision.Reason = v.s
			}
		}
	}

	namedCount, err := r.ReadU16()
	if err != nil {
		// No named-argument section at all is tolerated; a truncated
		// one is not distinguishable, so both end decoding here.
		return decision, nil
	}

	for i := uint16(0); i < namedCount; i++ {
		kind, err := r.ReadU8()
		if err != nil {
			return PrivacyDecision{}, err
		}
		if kind != namedArgField && kind != namedArgProperty {
			return PrivacyDecision{}, ErrBadContainer
		}

		tag, enumName, err := readNamedArgType(r)
		if err != nil {
			return PrivacyDecision{}, err
		}
		name, err := r.ReadSerString()
		if err != nil {
			return PrivacyDecision{}, err
		}
		v, err := readSerValue(r, tag, enumName)
		if err != nil {
			return PrivacyDecision{}, err
		}

		switch name {
		case "Level":
			decision.Level = coerceLevel(v)
		case "Reason":
			if v.isStr {
				decision.Reason = v.s
			}
		}
	}

	return decision, nil
}

// ctorParams decodes the attribute constructor's parameter types from its
// MethodDef or MemberRef signature.
func (c *methodContext) ctorParams(ctor metadata.Token) ([]typeInfo, error) {
	var blob []byte

	switch ctor.Table() {
	case metadata.TableMethodDef:
		row, err := c.md.Tables.MethodDef(ctor.RID())
		if err != nil {
			return nil, err
		}
		blob = row.Signature
	case metadata.TableMemberRef:
		row, err := c.md.Tables.MemberRef(ctor.RID())
		if err != nil {
			return nil, err
		}
		blob = row.Signature
	default:
		return nil, ErrInvalidToken
	}

	sig, err := c.res.methodSig(blob)
	if err != nil {
		return nil, err
	}
	return sig.Params, nil
}

// readFixedArg decodes one positional constructor argument according to
// the declared parameter type.
func (c *methodContext) readFixedArg(r *stream.Reader, p typeInfo) (attrValue, error) {
	switch p.Elem {
	case etBoolean, etU1:
		b, err := r.ReadU8()
		if err != nil {
			return attrValue{}, err
		}
		return attrValue{isInt: true, i: int64(b)}, nil

	case etI1:
		b, err := r.ReadU8()
		if err != nil {
			return attrValue{}, err
		}
		return attrValue{isInt: true, i: int64(int8(b))}, nil

	case etChar, etU2:
		v, err := r.ReadU16()
		if err != nil {
			return attrValue{}, err
		}
		return attrValue{isInt: true, i: int64(v)}, nil

	case etI2:
		v, err := r.ReadU16()
		if err != nil {
			return attrValue{}, err
		}
		return attrValue{isInt: true, i: int64(int16(v))}, nil

	case etI4:
		v, err := r.ReadI32()
		if err != nil {
			return attrValue{}, err
		}
		return attrValue{isInt: true, i: int64(v)}, nil

	case etU4:
		v, err := r.ReadU32()
		if err != nil {
			return attrValue{}, err
		}
		return attrValue{isInt: true, i: int64(v)}, nil

	case etI8:
		v, err := r.ReadU64()
		if err != nil {
			return attrValue{}, err
		}
		return attrValue{isInt: true, i: int64(v)}, nil

	case etU8:
		v, err := r.ReadU64()
		if err != nil {
			return attrValue{}, err
		}
		if v > math.MaxInt64 {
			v = math.MaxInt64
		}
		return attrValue{isInt: true, i: int64(v)}, nil

	case etString:
		s, err := r.ReadSerString()
		if err != nil {
			return attrValue{}, err
		}
		return attrValue{isStr: true, s: s}, nil

	case etValueType:
		// Enum arguments serialize as their underlying integer. The
		// policy-level enum is recognized by name suffix so its values
		// decode symbolically rather than being rejected as opaque
		// value types.
		if strings.HasSuffix(c.res.typeName(p.Token), privacyEnumSuffix) {
			v, err := r.ReadI32()
			if err != nil {
				return attrValue{}, err
			}
			return attrValue{isInt: true, i: int64(v)}, nil
		}
		return attrValue{}, ErrBadContainer

	case etObject:
		tag, enumName, err := readNamedArgType(r)
		if err != nil {
			return attrValue{}, err
		}
		return readSerValue(r, tag, enumName)

	default:
		return attrValue{}, ErrBadContainer
	}
}

// readNamedArgType reads a serialization-type tag, including the enum form
// that carries the enum type name inline.
func readNamedArgType(r *stream.Reader) (tag uint8, enumName string, err error) {
	tag, err = r.ReadU8()
	if err != nil {
		return 0, "", err
	}
	if tag == serTypeEnum {
		enumName, err = r.ReadSerString()
		if err != nil {
			return 0, "", err
		}
	}
	return tag, enumName, nil
}

// readSerValue decodes a value prefixed by a serialization-type tag.
func readSerValue(r *stream.Reader, tag uint8, enumName string) (attrValue, error) {
	switch tag {
	case serTypeBoolean, serTypeU1:
		b, err := r.ReadU8()
		if err != nil {
			return attrValue{}, err
		}
		return attrValue{isInt: true, i: int64(b)}, nil

	case serTypeI1:
		b, err := r.ReadU8()
		if err != nil {
			return attrValue{}, err
		}
		return attrValue{isInt: true, i: int64(int8(b))}, nil

	case serTypeChar, serTypeU2:
		v, err := r.ReadU16()
		if err != nil {
			return attrValue{}, err
		}
		return attrValue{isInt: true, i: int64(v)}, nil

	case serTypeI2:
		v, err := r.ReadU16()
		if err != nil {
			return attrValue{}, err
		}
		return attrValue{isInt: true, i: int64(int16(v))}, nil

	case serTypeI4:
		v, err := r.ReadI32()
		if err != nil {
			return attrValue{}, err
		}
		return attrValue{isInt: true, i: int64(v)}, nil

	case serTypeU4:
		v, err := r.ReadU32()
		if err != nil {
			return attrValue{}, err
		}
		return attrValue{isInt: true, i: int64(v)}, nil

	case serTypeI8:
		v, err := r.ReadU64()
		if err != nil {
			return attrValue{}, err
		}
		return attrValue{isInt: true, i: int64(v)}, nil

	case serTypeU8:
		v, err := r.ReadU64()
		if err != nil {
			return attrValue{}, err
		}
		if v > math.MaxInt64 {
			v = math.MaxInt64
		}
		return attrValue{isInt: true, i: int64(v)}, nil

	case serTypeString:
		s, err := r.ReadSerString()
		if err != nil {
			return attrValue{}, err
		}
		return attrValue{isStr: true, s: s}, nil

	case serTypeEnum:
		// Underlying type is not recoverable from the blob alone;
		// 32-bit is the universal default for policy enums.
		v, err := r.ReadI32()
		if err != nil {
			return attrValue{}, err
		}
		return attrValue{isInt: true, i: int64(v)}, nil

	default:
		return attrValue{}, ErrBadContainer
	}
}
