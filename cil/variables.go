package cil

import (
	"fmt"

	"github.com/modtool/cil-go/internal/metadata"
)

// fieldFlagStatic marks a static field in the Field table flags.
const fieldFlagStatic uint16 = 0x0010

// buildVariables constructs the method's variable table: parameters in
// signature order, then instance fields of the declaring type, then locals
// in signature order. The order is fixed and never re-sorted. body may be
// nil for methods without IL.
func (c *methodContext) buildVariables(body *methodBody) []VariableEntry {
	vars := c.parameterEntries()
	vars = append(vars, c.fieldEntries()...)
	return append(vars, c.localEntries(body)...)
}

// parameterEntries pairs the decoded signature's parameter types with the
// method's parameter records by position. Signature order is authoritative:
// the i-th parameter record (after skipping the reserved return-value
// record with sequence 0) names the i-th signature parameter, even when
// records are sparse or reordered.
func (c *methodContext) parameterEntries() []VariableEntry {
	names := make([]string, 0, len(c.sig.Params))
	for rid := c.row.ParamFirst; rid < c.row.ParamEnd; rid++ {
		p, err := c.md.Tables.Param(rid)
		if err != nil {
			continue
		}
		if p.Sequence == 0 {
			// Reserved record describing the return value
			continue
		}
		names = append(names, p.Name)
	}

	entries := make([]VariableEntry, 0, len(c.sig.Params))
	for i, p := range c.sig.Params {
		name := ""
		if i < len(names) {
			name = names[i]
		}
		if name == "" {
			name = fmt.Sprintf("arg%d", i)
		}
		entries = append(entries, VariableEntry{
			Name:    name,
			Type:    p.Display,
			IsLocal: false,
			Index:   int32(i),
		})
	}
	return entries
}

// fieldEntries lists every declared instance field of the owning type as
// inspectable state, independent of whether the method body touches it.
func (c *methodContext) fieldEntries() []VariableEntry {
	var entries []VariableEntry
	for rid := c.typeRow.FieldFirst; rid < c.typeRow.FieldEnd; rid++ {
		f, err := c.md.Tables.Field(rid)
		if err != nil {
			continue
		}
		if f.Flags&fieldFlagStatic != 0 {
			continue
		}

		ftype, err := c.res.fieldType(f.Signature)
		if err != nil {
			ftype = UnknownSentinel
		}

		entries = append(entries, VariableEntry{
			Name:    "this." + f.Name,
			Type:    ftype,
			IsLocal: false,
			Index:   -1,
		})
	}
	return entries
}

// localEntries decodes the local-variable signature into one entry per
// local. Locals carry no names in metadata, only types, so names are
// synthesized. When the method has no body or no local signature, or the
// signature fails to decode as a whole, exactly one placeholder entry is
// produced so the method never ends up with zero local entries.
func (c *methodContext) localEntries(body *methodBody) []VariableEntry {
	placeholder := []VariableEntry{{
		Name:    UnknownSentinel,
		Type:    UnknownSentinel,
		IsLocal: true,
		Index:   -1,
	}}

	if body == nil || body.LocalSigToken.IsNil() ||
		body.LocalSigToken.Table() != metadata.TableStandAloneSig {
		return placeholder
	}

	blob, err := c.md.Tables.StandAloneSig(body.LocalSigToken.RID())
	if err != nil || blob == nil {
		return placeholder
	}

	types, err := c.res.localTypes(blob)
	if err != nil {
		return placeholder
	}

	entries := make([]VariableEntry, 0, len(types))
	for i, t := range types {
		entries = append(entries, VariableEntry{
			Name:    fmt.Sprintf("<unknown_local_%d>", i),
			Type:    t,
			IsLocal: true,
			Index:   int32(i),
		})
	}
	return entries
}
