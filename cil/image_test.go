package cil

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// Synthetic assembly layout: one module "demo.dll" with a Demo.Calc type
// (methods Add, Mul, Compute; fields total and static cache) and a
// ModTool.Decompiler.MethodPrivacyAttribute type with two constructors.
// Add carries a method-level privacy attribute, Calc a type-level one,
// Compute an attribute using the named-argument form.
const (
	tokAdd      = 0x06000001
	tokMul      = 0x06000002
	tokCompute  = 0x06000003
	tokCtorArgs = 0x06000004
	tokCtorNone = 0x06000005
)

type imageHeaps struct {
	strings  []byte
	blob     []byte
	guid     []byte
	interned map[string]uint32
}

func newImageHeaps() *imageHeaps {
	return &imageHeaps{
		strings:  []byte{0},
		blob:     []byte{0},
		guid:     make([]byte, 16),
		interned: make(map[string]uint32),
	}
}

func (h *imageHeaps) str(s string) uint32 {
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

func (h *imageHeaps) blobOff(b []byte) uint32 {
	if len(b) == 0 {
		return 0
	}
	off := uint32(len(h.blob))
	h.blob = append(h.blob, byte(len(b)))
	h.blob = append(h.blob, b...)
	return off
}

type rowBytes struct{ b []byte }

func (r *rowBytes) u16(v uint32) *rowBytes {
	r.b = binary.LittleEndian.AppendUint16(r.b, uint16(v))
	return r
}

func (r *rowBytes) u32(v uint32) *rowBytes {
	r.b = binary.LittleEndian.AppendUint32(r.b, v)
	return r
}

func attrBlob(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func serString(s string) []byte {
	return append([]byte{byte(len(s))}, s...)
}

func le32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func buildTestMetadata() []byte {
	return buildMetadataImage(false)
}

// buildMetadataImage emits the #~ stream; withAssemblyAttr additionally
// hangs a privacy attribute off the Assembly row.
func buildMetadataImage(withAssemblyAttr bool) []byte {
	h := newImageHeaps()

	var module rowBytes
	module.u16(0).u16(h.str("demo.dll")).u16(1).u16(0).u16(0)

	var typeDefs rowBytes
	// Demo.Calc: fields [1,3), methods [1,4)
	typeDefs.u32(0x100001).
		u16(h.str("Calc")).u16(h.str("Demo")).
		u16(0).u16(1).u16(1)
	// ModTool.Decompiler.MethodPrivacyAttribute: no fields, methods [4,6)
	typeDefs.u32(0x100081).
		u16(h.str("MethodPrivacyAttribute")).u16(h.str("ModTool.Decompiler")).
		u16(0).u16(3).u16(4)

	var fields rowBytes
	fields.u16(0x0001).u16(h.str("total")).u16(h.blobOff([]byte{0x06, 0x08}))
	fields.u16(0x0011).u16(h.str("cache")).u16(h.blobOff([]byte{0x06, 0x0E}))

	var methods rowBytes
	// static int Add(int, int), tiny body
	methods.u32(0x2050).u16(0).u16(0x0016).
		u16(h.str("Add")).
		u16(h.blobOff([]byte{0x00, 0x02, 0x08, 0x08, 0x08})).
		u16(1)
	// int Mul(), fat body with two locals
	methods.u32(0x2060).u16(0).u16(0x0086).
		u16(h.str("Mul")).
		u16(h.blobOff([]byte{0x20, 0x00, 0x08})).
		u16(3)
	// abstract void Compute()
	methods.u32(0).u16(0).u16(0x05C6).
		u16(h.str("Compute")).
		u16(h.blobOff([]byte{0x20, 0x00, 0x01})).
		u16(3)
	// MethodPrivacyAttribute..ctor(int, string)
	methods.u32(0).u16(0).u16(0x1886).
		u16(h.str(".ctor")).
		u16(h.blobOff([]byte{0x20, 0x02, 0x01, 0x08, 0x0E})).
		u16(3)
	// MethodPrivacyAttribute..ctor()
	methods.u32(0).u16(0).u16(0x1886).
		u16(h.str(".ctor")).
		u16(h.blobOff([]byte{0x20, 0x00, 0x01})).
		u16(3)

	var params rowBytes
	params.u16(0).u16(1).u16(h.str("a"))
	params.u16(0).u16(2).u16(h.str("b"))

	// [MethodPrivacy(1, "tuned")] on Add
	attrAdd := attrBlob([]byte{0x01, 0x00}, le32(1), serString("tuned"), []byte{0x00, 0x00})
	// [MethodPrivacy(2, "locked")] on Calc
	attrCalc := attrBlob([]byte{0x01, 0x00}, le32(2), serString("locked"), []byte{0x00, 0x00})
	// [MethodPrivacy(Level = "Private")] on Compute
	attrNamed := attrBlob([]byte{0x01, 0x00}, []byte{0x01, 0x00},
		[]byte{0x54, 0x0E}, serString("Level"), serString("Private"))

	var attrs rowBytes
	attrs.u16(1<<5 | 0).u16(4<<3 | 2).u16(h.blobOff(attrAdd))
	attrs.u16(1<<5 | 3).u16(4<<3 | 2).u16(h.blobOff(attrCalc))
	attrCount := uint32(3)
	if withAssemblyAttr {
		// [MethodPrivacy(2, "sealed")] on the assembly itself
		attrAsm := attrBlob([]byte{0x01, 0x00}, le32(2), serString("sealed"), []byte{0x00, 0x00})
		attrs.u16(1<<5 | 14).u16(4<<3 | 2).u16(h.blobOff(attrAsm))
		attrCount = 4
	}
	attrs.u16(3<<5 | 0).u16(5<<3 | 2).u16(h.blobOff(attrNamed))

	var sas rowBytes
	sas.u16(h.blobOff([]byte{0x07, 0x02, 0x08, 0x0E}))

	var assembly rowBytes
	assembly.u32(0x8004).u16(1).u16(2).u16(3).u16(4).u32(0).
		u16(0).u16(h.str("demo")).u16(0)

	var ts rowBytes
	ts.u32(0)
	ts.b = append(ts.b, 2, 0, 0, 1)
	valid := uint64(1)<<0 | 1<<2 | 1<<4 | 1<<6 | 1<<8 | 1<<12 | 1<<17 | 1<<32
	ts.b = binary.LittleEndian.AppendUint64(ts.b, valid)
	ts.b = binary.LittleEndian.AppendUint64(ts.b, 0)
	for _, n := range []uint32{1, 2, 2, 5, 2, attrCount, 1, 1} {
		ts.u32(n)
	}
	ts.b = append(ts.b, module.b...)
	ts.b = append(ts.b, typeDefs.b...)
	ts.b = append(ts.b, fields.b...)
	ts.b = append(ts.b, methods.b...)
	ts.b = append(ts.b, params.b...)
	ts.b = append(ts.b, attrs.b...)
	ts.b = append(ts.b, sas.b...)
	ts.b = append(ts.b, assembly.b...)

	version := []byte("v4.0.30319\x00\x00")

	type streamDesc struct {
		name string
		body []byte
	}
	streams := []streamDesc{
		{"#~", ts.b},
		{"#Strings", h.strings},
		{"#Blob", h.blob},
		{"#GUID", h.guid},
	}

	headerSize := 16 + len(version) + 4
	for _, s := range streams {
		n := len(s.name) + 1
		headerSize += 8 + (n+3)/4*4
	}

	var out rowBytes
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

// buildTestAssembly wraps the synthetic metadata in a one-section PE32
// image with the Add and Mul method bodies in place.
func buildTestAssembly() []byte {
	return buildAssemblyImage(false)
}

func buildAssemblyImage(withAssemblyAttr bool) []byte {
	md := buildMetadataImage(withAssemblyAttr)

	const (
		peOffset   = 0x40
		sectionRVA = 0x2000
		sectionRaw = 0x200
		mdRVA      = 0x2100
	)

	mdFileOff := sectionRaw + (mdRVA - sectionRVA)
	img := make([]byte, mdFileOff+len(md))

	binary.LittleEndian.PutUint16(img[0:], 0x5A4D)
	binary.LittleEndian.PutUint32(img[0x3C:], peOffset)

	binary.LittleEndian.PutUint32(img[peOffset:], 0x00004550)
	coff := peOffset + 4
	binary.LittleEndian.PutUint16(img[coff:], 0x014C)
	binary.LittleEndian.PutUint16(img[coff+2:], 1)
	binary.LittleEndian.PutUint16(img[coff+16:], 224)
	binary.LittleEndian.PutUint16(img[coff+18:], 0x0102)

	opt := coff + 20
	binary.LittleEndian.PutUint16(img[opt:], 0x10B)
	binary.LittleEndian.PutUint32(img[opt+92:], 16)
	comDir := opt + 96 + 14*8
	binary.LittleEndian.PutUint32(img[comDir:], sectionRVA)
	binary.LittleEndian.PutUint32(img[comDir+4:], 72)

	sect := opt + 224
	copy(img[sect:], ".text\x00\x00\x00")
	binary.LittleEndian.PutUint32(img[sect+8:], 0x1000)
	binary.LittleEndian.PutUint32(img[sect+12:], sectionRVA)
	binary.LittleEndian.PutUint32(img[sect+16:], uint32(len(img)-sectionRaw))
	binary.LittleEndian.PutUint32(img[sect+20:], sectionRaw)

	// COR20 header
	cor := sectionRaw
	binary.LittleEndian.PutUint32(img[cor:], 72)
	binary.LittleEndian.PutUint16(img[cor+4:], 2)
	binary.LittleEndian.PutUint16(img[cor+6:], 5)
	binary.LittleEndian.PutUint32(img[cor+8:], mdRVA)
	binary.LittleEndian.PutUint32(img[cor+12:], uint32(len(md)))
	binary.LittleEndian.PutUint32(img[cor+16:], 1)
	binary.LittleEndian.PutUint32(img[cor+20:], tokAdd)

	// Add: tiny body, 4 bytes of IL
	add := sectionRaw + 0x50
	img[add] = 4<<2 | 0x02
	copy(img[add+1:], []byte{0x02, 0x03, 0x58, 0x2A})

	// Mul: fat body, two locals
	mul := sectionRaw + 0x60
	binary.LittleEndian.PutUint16(img[mul:], 0x3003)
	binary.LittleEndian.PutUint16(img[mul+2:], 2)
	binary.LittleEndian.PutUint32(img[mul+4:], 3)
	binary.LittleEndian.PutUint32(img[mul+8:], 0x11000001)
	copy(img[mul+12:], []byte{0x16, 0x0A, 0x2A})

	copy(img[mdFileOff:], md)
	return img
}

func openTestAssembly(t *testing.T) *File {
	t.Helper()
	img := buildTestAssembly()
	f, err := OpenReader(bytes.NewReader(img), int64(len(img)))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	return f
}
