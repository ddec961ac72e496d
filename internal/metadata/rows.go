package metadata

import "fmt"

// MethodDefRow is one decoded row of the MethodDef table. ParamFirst and
// ParamEnd bound the method's half-open range in the Param table.
type MethodDefRow struct {
	RVA        uint32
	ImplFlags  uint16
	Flags      uint16
	Name       string
	Signature  []byte
	ParamFirst uint32
	ParamEnd   uint32
}

// TypeDefRow is one decoded row of the TypeDef table with resolved member
// ranges.
type TypeDefRow struct {
	Flags       uint32
	Name        string
	Namespace   string
	Extends     Token
	FieldFirst  uint32
	FieldEnd    uint32
	MethodFirst uint32
	MethodEnd   uint32
}

// FullName returns "Namespace.Name", or just the name for the empty
// namespace.
func (r *TypeDefRow) FullName() string {
	if r.Namespace == "" {
		return r.Name
	}
	return r.Namespace + "." + r.Name
}

// FieldRow is one decoded row of the Field table.
type FieldRow struct {
	Flags     uint16
	Name      string
	Signature []byte
}

// ParamRow is one decoded row of the Param table.
type ParamRow struct {
	Flags    uint16
	Sequence uint16
	Name     string
}

// TypeRefRow is one decoded row of the TypeRef table.
type TypeRefRow struct {
	Scope     Token
	Name      string
	Namespace string
}

// FullName returns "Namespace.Name", or just the name for the empty
// namespace.
func (r *TypeRefRow) FullName() string {
	if r.Namespace == "" {
		return r.Name
	}
	return r.Namespace + "." + r.Name
}

// MemberRefRow is one decoded row of the MemberRef table.
type MemberRefRow struct {
	Parent    Token
	Name      string
	Signature []byte
}

// CustomAttributeRow is one decoded row of the CustomAttribute table.
type CustomAttributeRow struct {
	Parent Token
	Ctor   Token // MethodDef or MemberRef of the attribute constructor
	Value  []byte
}

// AssemblyRow is the single row of the Assembly table.
type AssemblyRow struct {
	HashAlgID uint32
	Major     uint16
	Minor     uint16
	Build     uint16
	Revision  uint16
	Flags     uint32
	Name      string
	Culture   string
}

// Version formats the four-part assembly version.
func (r *AssemblyRow) Version() string {
	return fmt.Sprintf("%d.%d.%d.%d", r.Major, r.Minor, r.Build, r.Revision)
}

// MethodDef decodes the MethodDef row with the given RID.
func (t *Tables) MethodDef(rid uint32) (*MethodDefRow, error) {
	row := &MethodDefRow{}

	v, err := t.value(TableMethodDef, rid, 0)
	if err != nil {
		return nil, err
	}
	row.RVA = v

	if v, err = t.value(TableMethodDef, rid, 1); err != nil {
		return nil, err
	}
	row.ImplFlags = uint16(v)

	if v, err = t.value(TableMethodDef, rid, 2); err != nil {
		return nil, err
	}
	row.Flags = uint16(v)

	if row.Name, err = t.stringCol(TableMethodDef, rid, 3); err != nil {
		return nil, err
	}
	if row.Signature, err = t.blobCol(TableMethodDef, rid, 4); err != nil {
		return nil, err
	}

	if row.ParamFirst, err = t.value(TableMethodDef, rid, 5); err != nil {
		return nil, err
	}
	row.ParamEnd, err = t.listEnd(TableMethodDef, rid, 5, TableParam)
	if err != nil {
		return nil, err
	}

	return row, nil
}

// TypeDef decodes the TypeDef row with the given RID.
func (t *Tables) TypeDef(rid uint32) (*TypeDefRow, error) {
	row := &TypeDefRow{}

	v, err := t.value(TableTypeDef, rid, 0)
	if err != nil {
		return nil, err
	}
	row.Flags = v

	if row.Name, err = t.stringCol(TableTypeDef, rid, 1); err != nil {
		return nil, err
	}
	if row.Namespace, err = t.stringCol(TableTypeDef, rid, 2); err != nil {
		return nil, err
	}

	if v, err = t.value(TableTypeDef, rid, 3); err != nil {
		return nil, err
	}
	if row.Extends, err = decodeCoded(codedTypeDefOrRef, v); err != nil {
		return nil, err
	}

	if row.FieldFirst, err = t.value(TableTypeDef, rid, 4); err != nil {
		return nil, err
	}
	if row.FieldEnd, err = t.listEnd(TableTypeDef, rid, 4, TableField); err != nil {
		return nil, err
	}
	if row.MethodFirst, err = t.value(TableTypeDef, rid, 5); err != nil {
		return nil, err
	}
	if row.MethodEnd, err = t.listEnd(TableTypeDef, rid, 5, TableMethodDef); err != nil {
		return nil, err
	}

	return row, nil
}

// TypeDefForMethod finds the TypeDef RID whose method list contains the
// given MethodDef RID.
func (t *Tables) TypeDefForMethod(methodRID uint32) (uint32, error) {
	n := t.counts[TableTypeDef]
	for rid := uint32(1); rid <= n; rid++ {
		first, err := t.value(TableTypeDef, rid, 5)
		if err != nil {
			return 0, err
		}
		end, err := t.listEnd(TableTypeDef, rid, 5, TableMethodDef)
		if err != nil {
			return 0, err
		}
		if methodRID >= first && methodRID < end {
			return rid, nil
		}
	}
	return 0, fmt.Errorf("metadata: no declaring type for method %d: %w", methodRID, ErrRowOutOfRange)
}

// Field decodes the Field row with the given RID.
func (t *Tables) Field(rid uint32) (*FieldRow, error) {
	row := &FieldRow{}

	v, err := t.value(TableField, rid, 0)
	if err != nil {
		return nil, err
	}
	row.Flags = uint16(v)

	if row.Name, err = t.stringCol(TableField, rid, 1); err != nil {
		return nil, err
	}
	if row.Signature, err = t.blobCol(TableField, rid, 2); err != nil {
		return nil, err
	}
	return row, nil
}

// Param decodes the Param row with the given RID.
func (t *Tables) Param(rid uint32) (*ParamRow, error) {
	row := &ParamRow{}

	v, err := t.value(TableParam, rid, 0)
	if err != nil {
		return nil, err
	}
	row.Flags = uint16(v)

	if v, err = t.value(TableParam, rid, 1); err != nil {
		return nil, err
	}
	row.Sequence = uint16(v)

	if row.Name, err = t.stringCol(TableParam, rid, 2); err != nil {
		return nil, err
	}
	return row, nil
}

// TypeRef decodes the TypeRef row with the given RID.
func (t *Tables) TypeRef(rid uint32) (*TypeRefRow, error) {
	row := &TypeRefRow{}

	v, err := t.value(TableTypeRef, rid, 0)
	if err != nil {
		return nil, err
	}
	if row.Scope, err = decodeCoded(codedResolutionScope, v); err != nil {
		return nil, err
	}

	if row.Name, err = t.stringCol(TableTypeRef, rid, 1); err != nil {
		return nil, err
	}
	if row.Namespace, err = t.stringCol(TableTypeRef, rid, 2); err != nil {
		return nil, err
	}
	return row, nil
}

// MemberRef decodes the MemberRef row with the given RID.
func (t *Tables) MemberRef(rid uint32) (*MemberRefRow, error) {
	row := &MemberRefRow{}

	v, err := t.value(TableMemberRef, rid, 0)
	if err != nil {
		return nil, err
	}
	if row.Parent, err = decodeCoded(codedMemberRefParent, v); err != nil {
		return nil, err
	}

	if row.Name, err = t.stringCol(TableMemberRef, rid, 1); err != nil {
		return nil, err
	}
	if row.Signature, err = t.blobCol(TableMemberRef, rid, 2); err != nil {
		return nil, err
	}
	return row, nil
}

// StandAloneSig returns the signature blob of the StandAloneSig row with
// the given RID.
func (t *Tables) StandAloneSig(rid uint32) ([]byte, error) {
	return t.blobCol(TableStandAloneSig, rid, 0)
}

// TypeSpec returns the signature blob of the TypeSpec row with the given
// RID.
func (t *Tables) TypeSpec(rid uint32) ([]byte, error) {
	return t.blobCol(TableTypeSpec, rid, 0)
}

// CustomAttributes returns every CustomAttribute row attached to the given
// parent token. The CustomAttribute table is scanned linearly; it is sorted
// by parent in well-formed images but correctness does not depend on it.
func (t *Tables) CustomAttributes(parent Token) ([]CustomAttributeRow, error) {
	var out []CustomAttributeRow

	n := t.counts[TableCustomAttribute]
	for rid := uint32(1); rid <= n; rid++ {
		v, err := t.value(TableCustomAttribute, rid, 0)
		if err != nil {
			return nil, err
		}
		p, err := decodeCoded(codedHasCustomAttribute, v)
		if err != nil {
			// A tag outside the group: skip the row rather than
			// failing the whole scan.
			continue
		}
		if p != parent {
			continue
		}

		if v, err = t.value(TableCustomAttribute, rid, 1); err != nil {
			return nil, err
		}
		ctor, err := decodeCoded(codedCustomAttributeType, v)
		if err != nil {
			continue
		}

		value, err := t.blobCol(TableCustomAttribute, rid, 2)
		if err != nil {
			return nil, err
		}

		out = append(out, CustomAttributeRow{Parent: parent, Ctor: ctor, Value: value})
	}

	return out, nil
}

// Assembly decodes the single Assembly table row, or returns nil when the
// image is a module without an assembly manifest.
func (t *Tables) Assembly() (*AssemblyRow, error) {
	if t.counts[TableAssembly] == 0 {
		return nil, nil
	}

	row := &AssemblyRow{}
	cols := []struct {
		col int
		dst func(uint32)
	}{
		{0, func(v uint32) { row.HashAlgID = v }},
		{1, func(v uint32) { row.Major = uint16(v) }},
		{2, func(v uint32) { row.Minor = uint16(v) }},
		{3, func(v uint32) { row.Build = uint16(v) }},
		{4, func(v uint32) { row.Revision = uint16(v) }},
		{5, func(v uint32) { row.Flags = v }},
	}
	for _, c := range cols {
		v, err := t.value(TableAssembly, 1, c.col)
		if err != nil {
			return nil, err
		}
		c.dst(v)
	}

	var err error
	if row.Name, err = t.stringCol(TableAssembly, 1, 7); err != nil {
		return nil, err
	}
	if row.Culture, err = t.stringCol(TableAssembly, 1, 8); err != nil {
		return nil, err
	}
	return row, nil
}

// ModuleName returns the name of the Module table's single row.
func (t *Tables) ModuleName() (string, error) {
	if t.counts[TableModule] == 0 {
		return "", ErrRowOutOfRange
	}
	return t.stringCol(TableModule, 1, 1)
}

// stringCol reads a #Strings column and resolves it.
func (t *Tables) stringCol(id TableID, rid uint32, col int) (string, error) {
	v, err := t.value(id, rid, col)
	if err != nil {
		return "", err
	}
	return t.root.String(v)
}

// blobCol reads a #Blob column and resolves it. A zero offset yields nil.
func (t *Tables) blobCol(id TableID, rid uint32, col int) ([]byte, error) {
	v, err := t.value(id, rid, col)
	if err != nil {
		return nil, err
	}
	if v == 0 {
		return nil, nil
	}
	return t.root.Blob(v)
}

// listEnd resolves the exclusive end of a member-list column: the next
// row's list start, or one past the target table's last row for the final
// owner.
func (t *Tables) listEnd(id TableID, rid uint32, col int, target TableID) (uint32, error) {
	if rid < t.counts[id] {
		return t.value(id, rid+1, col)
	}
	return t.counts[target] + 1, nil
}
