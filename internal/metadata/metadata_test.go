package metadata

import (
	"encoding/binary"
	"errors"
	"testing"
)

// testHeaps accumulates heap contents while rows are being laid out.
type testHeaps struct {
	strings  []byte
	blob     []byte
	guid     []byte
	interned map[string]uint32
}

func newTestHeaps() *testHeaps {
	return &testHeaps{
		strings:  []byte{0},
		blob:     []byte{0},
		guid:     make([]byte, 16),
		interned: make(map[string]uint32),
	}
}

func (h *testHeaps) str(s string) uint32 {
	if s == "" {
		return 0
	}
	if off, ok := h.interned[s]; ok {
		return off
	}
	off := uint32(len(h.strings))
	h.strings = append(h.strings, s...)
	h.strings = append(h.strings, 0)
	h.interned[s] = off
	return off
}

func (h *testHeaps) blobOff(b []byte) uint32 {
	if len(b) == 0 {
		return 0
	}
	off := uint32(len(h.blob))
	h.blob = append(h.blob, byte(len(b)))
	h.blob = append(h.blob, b...)
	return off
}

type rowBuffer struct{ b []byte }

func (r *rowBuffer) u16(v uint32) *rowBuffer {
	r.b = binary.LittleEndian.AppendUint16(r.b, uint16(v))
	return r
}

func (r *rowBuffer) u32(v uint32) *rowBuffer {
	r.b = binary.LittleEndian.AppendUint32(r.b, v)
	return r
}

// buildTestMetadata assembles a minimal but complete metadata root: one
// module, one type with one field and one method taking one parameter,
// and an assembly manifest.
func buildTestMetadata(t *testing.T) []byte {
	t.Helper()

	h := newTestHeaps()

	var module rowBuffer
	module.u16(0).u16(h.str("m.dll")).u16(1).u16(0).u16(0)

	var typeDef rowBuffer
	typeDef.u32(0x100001).
		u16(h.str("Widget")).u16(h.str("Acme")).
		u16(0).  // extends: nil TypeDefOrRef
		u16(1).  // field list start
		u16(1)   // method list start

	var field rowBuffer
	field.u16(0x0001).u16(h.str("count")).u16(h.blobOff([]byte{0x06, 0x08}))

	var method rowBuffer
	method.u32(0x2050).u16(0).u16(0x0086).
		u16(h.str("Run")).
		u16(h.blobOff([]byte{0x20, 0x01, 0x01, 0x0E})).
		u16(1)

	var param rowBuffer
	param.u16(0).u16(1).u16(h.str("text"))

	var assembly rowBuffer
	assembly.u32(0x8004).u16(1).u16(2).u16(3).u16(4).u32(0).
		u16(0).u16(h.str("acme")).u16(0)

	// #~ stream
	var ts rowBuffer
	ts.u32(0)
	ts.b = append(ts.b, 2, 0, 0, 1) // major, minor, heapSizes, reserved
	valid := uint64(1)<<uint(TableModule) | 1<<uint(TableTypeDef) |
		1<<uint(TableField) | 1<<uint(TableMethodDef) |
		1<<uint(TableParam) | 1<<uint(TableAssembly)
	ts.b = binary.LittleEndian.AppendUint64(ts.b, valid)
	ts.b = binary.LittleEndian.AppendUint64(ts.b, 0)
	for range [6]int{} {
		// Every present table has exactly one row
		ts.u32(1)
	}
	ts.b = append(ts.b, module.b...)
	ts.b = append(ts.b, typeDef.b...)
	ts.b = append(ts.b, field.b...)
	ts.b = append(ts.b, method.b...)
	ts.b = append(ts.b, param.b...)
	ts.b = append(ts.b, assembly.b...)

	return buildRoot(ts.b, h)
}

// buildRoot wraps a tables stream and heaps in a "BSJB" metadata root.
func buildRoot(tables []byte, h *testHeaps) []byte {
	version := []byte("v4.0.30319\x00\x00")

	type streamDesc struct {
		name string
		body []byte
	}
	streams := []streamDesc{
		{"#~", tables},
		{"#Strings", h.strings},
		{"#Blob", h.blob},
		{"#GUID", h.guid},
	}

	headerSize := 4 + 8 + 4 + len(version) + 4
	for _, s := range streams {
		n := len(s.name) + 1
		headerSize += 8 + (n+3)/4*4
	}

	var out rowBuffer
	out.u32(0x424A5342).u16(1).u16(1).u32(0)
	out.u32(uint32(len(version)))
	out.b = append(out.b, version...)
	out.u16(0).u16(uint32(len(streams)))

	offset := headerSize
	for _, s := range streams {
		out.u32(uint32(offset)).u32(uint32(len(s.body)))
		out.b = append(out.b, s.name...)
		out.b = append(out.b, 0)
		for len(out.b)%4 != 0 {
			out.b = append(out.b, 0)
		}
		offset += len(s.body)
	}

	for _, s := range streams {
		out.b = append(out.b, s.body...)
	}
	return out.b
}

func TestParse(t *testing.T) {
	root, err := Parse(buildTestMetadata(t))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if root.Version != "v4.0.30319" {
		t.Errorf("Version = %q, want v4.0.30319", root.Version)
	}
	for _, id := range []TableID{TableModule, TableTypeDef, TableField,
		TableMethodDef, TableParam, TableAssembly} {
		if n := root.Tables.RowCount(id); n != 1 {
			t.Errorf("RowCount(0x%02X) = %d, want 1", id, n)
		}
	}
	if n := root.Tables.RowCount(TableTypeRef); n != 0 {
		t.Errorf("RowCount(TypeRef) = %d, want 0", n)
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse([]byte{1, 2}); !errors.Is(err, ErrTruncatedRoot) {
		t.Errorf("short input error = %v, want ErrTruncatedRoot", err)
	}

	bad := buildTestMetadata(t)
	bad[0] = 'X'
	if _, err := Parse(bad); !errors.Is(err, ErrInvalidRoot) {
		t.Errorf("bad magic error = %v, want ErrInvalidRoot", err)
	}
}

func TestMethodDefRow(t *testing.T) {
	root, err := Parse(buildTestMetadata(t))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	row, err := root.Tables.MethodDef(1)
	if err != nil {
		t.Fatalf("MethodDef(1) error = %v", err)
	}
	if row.Name != "Run" {
		t.Errorf("Name = %q, want Run", row.Name)
	}
	if row.RVA != 0x2050 {
		t.Errorf("RVA = 0x%X, want 0x2050", row.RVA)
	}
	if row.ParamFirst != 1 || row.ParamEnd != 2 {
		t.Errorf("param range = [%d, %d), want [1, 2)", row.ParamFirst, row.ParamEnd)
	}
	wantSig := []byte{0x20, 0x01, 0x01, 0x0E}
	if len(row.Signature) != len(wantSig) {
		t.Fatalf("Signature = % X, want % X", row.Signature, wantSig)
	}
	for i, b := range wantSig {
		if row.Signature[i] != b {
			t.Fatalf("Signature = % X, want % X", row.Signature, wantSig)
		}
	}

	if _, err := root.Tables.MethodDef(2); !errors.Is(err, ErrRowOutOfRange) {
		t.Errorf("MethodDef(2) error = %v, want ErrRowOutOfRange", err)
	}
	if _, err := root.Tables.MethodDef(0); !errors.Is(err, ErrRowOutOfRange) {
		t.Errorf("MethodDef(0) error = %v, want ErrRowOutOfRange", err)
	}
}

func TestTypeDefRow(t *testing.T) {
	root, err := Parse(buildTestMetadata(t))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	row, err := root.Tables.TypeDef(1)
	if err != nil {
		t.Fatalf("TypeDef(1) error = %v", err)
	}
	if row.FullName() != "Acme.Widget" {
		t.Errorf("FullName() = %q, want Acme.Widget", row.FullName())
	}
	if row.FieldFirst != 1 || row.FieldEnd != 2 {
		t.Errorf("field range = [%d, %d), want [1, 2)", row.FieldFirst, row.FieldEnd)
	}
	if row.MethodFirst != 1 || row.MethodEnd != 2 {
		t.Errorf("method range = [%d, %d), want [1, 2)", row.MethodFirst, row.MethodEnd)
	}

	rid, err := root.Tables.TypeDefForMethod(1)
	if err != nil || rid != 1 {
		t.Errorf("TypeDefForMethod(1) = %d, %v, want 1", rid, err)
	}
	if _, err := root.Tables.TypeDefForMethod(9); err == nil {
		t.Error("TypeDefForMethod(9) should fail")
	}
}

func TestParamAndFieldRows(t *testing.T) {
	root, err := Parse(buildTestMetadata(t))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	p, err := root.Tables.Param(1)
	if err != nil {
		t.Fatalf("Param(1) error = %v", err)
	}
	if p.Name != "text" || p.Sequence != 1 {
		t.Errorf("Param = %+v", p)
	}

	f, err := root.Tables.Field(1)
	if err != nil {
		t.Fatalf("Field(1) error = %v", err)
	}
	if f.Name != "count" || f.Flags != 0x0001 {
		t.Errorf("Field = %+v", f)
	}
	if len(f.Signature) != 2 || f.Signature[0] != 0x06 || f.Signature[1] != 0x08 {
		t.Errorf("Field signature = % X", f.Signature)
	}
}

func TestAssemblyAndModule(t *testing.T) {
	root, err := Parse(buildTestMetadata(t))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	asm, err := root.Tables.Assembly()
	if err != nil {
		t.Fatalf("Assembly() error = %v", err)
	}
	if asm == nil {
		t.Fatal("Assembly() = nil")
	}
	if asm.Name != "acme" {
		t.Errorf("Name = %q, want acme", asm.Name)
	}
	if asm.Version() != "1.2.3.4" {
		t.Errorf("Version() = %q, want 1.2.3.4", asm.Version())
	}

	name, err := root.Tables.ModuleName()
	if err != nil || name != "m.dll" {
		t.Errorf("ModuleName() = %q, %v, want m.dll", name, err)
	}
}

func TestHeapAccess(t *testing.T) {
	root, err := Parse(buildTestMetadata(t))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if s, err := root.String(0); err != nil || s != "" {
		t.Errorf("String(0) = %q, %v, want empty", s, err)
	}
	if _, err := root.String(0xFFFF); !errors.Is(err, ErrBadHeapOffset) {
		t.Errorf("String(out of range) error = %v, want ErrBadHeapOffset", err)
	}
	if _, err := root.Blob(0xFFFF); !errors.Is(err, ErrBadHeapOffset) {
		t.Errorf("Blob(out of range) error = %v, want ErrBadHeapOffset", err)
	}

	g, err := root.GUID(1)
	if err != nil {
		t.Fatalf("GUID(1) error = %v", err)
	}
	if g != [16]byte{} {
		t.Errorf("GUID(1) = %v, want zero", g)
	}
	if _, err := root.GUID(5); !errors.Is(err, ErrBadHeapOffset) {
		t.Errorf("GUID(5) error = %v, want ErrBadHeapOffset", err)
	}
}

func TestToken(t *testing.T) {
	tok := NewToken(TableMethodDef, 0x2A)
	if tok.Table() != TableMethodDef || tok.RID() != 0x2A {
		t.Errorf("token = %s", tok)
	}
	if tok.String() != "0x0600002A" {
		t.Errorf("String() = %s, want 0x0600002A", tok)
	}
	if tok.IsNil() {
		t.Error("IsNil() = true for nonzero RID")
	}
	if !NewToken(TableTypeDef, 0).IsNil() {
		t.Error("IsNil() = false for zero RID")
	}
}

func TestDecodeCoded(t *testing.T) {
	// HasCustomAttribute: 5 tag bits, MethodDef is tag 0, TypeDef tag 3
	tok, err := decodeCoded(codedHasCustomAttribute, 1<<5|0)
	if err != nil || tok.Table() != TableMethodDef || tok.RID() != 1 {
		t.Errorf("decodeCoded(method) = %s, %v", tok, err)
	}
	tok, err = decodeCoded(codedHasCustomAttribute, 7<<5|3)
	if err != nil || tok.Table() != TableTypeDef || tok.RID() != 7 {
		t.Errorf("decodeCoded(typedef) = %s, %v", tok, err)
	}

	// CustomAttributeType: 3 tag bits; tags 0, 1 and 4 are unassigned
	if _, err := decodeCoded(codedCustomAttributeType, 1<<3|0); !errors.Is(err, ErrUnsupportedCode) {
		t.Errorf("unassigned tag error = %v, want ErrUnsupportedCode", err)
	}
	tok, err = decodeCoded(codedCustomAttributeType, 3<<3|2)
	if err != nil || tok.Table() != TableMethodDef || tok.RID() != 3 {
		t.Errorf("decodeCoded(ctor) = %s, %v", tok, err)
	}
}
