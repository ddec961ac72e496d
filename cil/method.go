package cil

import (
	"fmt"
	"strings"

	"github.com/modtool/cil-go/internal/metadata"
	"github.com/modtool/cil-go/internal/stream"
)

// Method body header encoding (ECMA-335 II.25.4)
const (
	bodyFormatMask uint8 = 0x03
	bodyTinyFormat uint8 = 0x02
	bodyFatFormat  uint8 = 0x03

	fatHeaderMinSize = 12
)

// methodBody is an extracted method body: the raw IL plus the local
// variable signature token, if the body declares one.
type methodBody struct {
	Code          []byte
	MaxStack      uint16
	LocalSigToken metadata.Token
}

// methodContext bundles everything resolved about one method token. It is
// built per request and never cached.
type methodContext struct {
	file    *File
	md      *metadata.Root
	token   metadata.Token
	row     *metadata.MethodDefRow
	typeRID uint32
	typeRow *metadata.TypeDefRow
	sig     *methodSig
	res     *sigResolver
}

// resolveMethod validates a raw token and resolves the method row, its
// declaring type and its decoded signature. A token that is not a
// MethodDef token, or whose RID is out of range, fails with
// ErrInvalidToken.
func (f *File) resolveMethod(token uint32) (*methodContext, error) {
	md, err := f.Metadata()
	if err != nil {
		return nil, err
	}

	t := metadata.Token(token)
	if t.Table() != metadata.TableMethodDef || t.IsNil() ||
		t.RID() > md.Tables.RowCount(metadata.TableMethodDef) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, t)
	}

	row, err := md.Tables.MethodDef(t.RID())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, t)
	}

	typeRID, err := md.Tables.TypeDefForMethod(t.RID())
	if err != nil {
		return nil, fmt.Errorf("cil: failed to resolve declaring type of %s: %w", t, err)
	}
	typeRow, err := md.Tables.TypeDef(typeRID)
	if err != nil {
		return nil, fmt.Errorf("cil: failed to decode declaring type of %s: %w", t, err)
	}

	res := &sigResolver{tables: md.Tables}
	sig, err := res.methodSig(row.Signature)
	if err != nil {
		// A broken signature degrades the display, not the analysis.
		sig = &methodSig{Return: typeInfo{Display: UnknownSentinel}}
	}

	return &methodContext{
		file:    f,
		md:      md,
		token:   t,
		row:     row,
		typeRID: typeRID,
		typeRow: typeRow,
		sig:     sig,
		res:     res,
	}, nil
}

// signatureString formats the canonical display signature:
// "ReturnType Namespace.Type::Name(Param1, Param2)".
func (c *methodContext) signatureString() string {
	params := make([]string, len(c.sig.Params))
	for i, p := range c.sig.Params {
		params[i] = p.Display
	}
	return fmt.Sprintf("%s %s::%s(%s)",
		c.sig.Return.Display, c.typeRow.FullName(), c.row.Name,
		strings.Join(params, ", "))
}

// body extracts the raw IL of the method. Methods without a body address
// (abstract, extern) fail with ErrNoMethodBody.
func (c *methodContext) body() (*methodBody, error) {
	if c.row.RVA == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMethodBody, c.token)
	}

	first, err := c.file.pe.ReadVirtual(c.row.RVA, 1)
	if err != nil {
		return nil, fmt.Errorf("cil: failed to read body header of %s: %w", c.token, err)
	}

	switch first[0] & bodyFormatMask {
	case bodyTinyFormat:
		size := uint32(first[0] >> 2)
		code, err := c.file.pe.ReadVirtual(c.row.RVA+1, size)
		if err != nil {
			return nil, fmt.Errorf("cil: failed to read tiny body of %s: %w", c.token, err)
		}
		return &methodBody{Code: code, MaxStack: 8}, nil

	case bodyFatFormat:
		raw, err := c.file.pe.ReadVirtual(c.row.RVA, fatHeaderMinSize)
		if err != nil {
			return nil, fmt.Errorf("cil: failed to read fat body header of %s: %w", c.token, err)
		}

		r := stream.NewReader(raw)
		flagsAndSize, _ := r.ReadU16()
		maxStack, _ := r.ReadU16()
		codeSize, _ := r.ReadU32()
		localSigTok, _ := r.ReadU32()

		headerSize := uint32(flagsAndSize>>12) * 4
		if headerSize < fatHeaderMinSize {
			headerSize = fatHeaderMinSize
		}

		code, err := c.file.pe.ReadVirtual(c.row.RVA+headerSize, codeSize)
		if err != nil {
			return nil, fmt.Errorf("cil: failed to read fat body of %s: %w", c.token, err)
		}
		return &methodBody{
			Code:          code,
			MaxStack:      maxStack,
			LocalSigToken: metadata.Token(localSigTok),
		}, nil

	default:
		return nil, &ParseError{
			Section: "method body",
			Offset:  int64(c.row.RVA),
			Message: fmt.Sprintf("unrecognized body format 0x%02x", first[0]&bodyFormatMask),
		}
	}
}
