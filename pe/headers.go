// Package pe provides read-only access to Portable Executable images,
// just enough surface to locate and extract the CLI metadata of a managed
// assembly.
package pe

import (
	"errors"

	"github.com/modtool/cil-go/internal/stream"
)

// Header magic values
const (
	dosMagic    uint16 = 0x5A4D     // "MZ"
	peSignature uint32 = 0x00004550 // "PE\0\0"

	optMagicPE32     uint16 = 0x10B
	optMagicPE32Plus uint16 = 0x20B
)

// dosLfanewOffset is the file offset of the e_lfanew field pointing at the
// PE signature.
const dosLfanewOffset = 0x3C

// coffHeaderSize is the size of the COFF file header in bytes.
const coffHeaderSize = 20

// sectionHeaderSize is the size of one section table entry in bytes.
const sectionHeaderSize = 40

// comDirectoryIndex is the data-directory slot of the CLI (COM descriptor)
// header.
const comDirectoryIndex = 14

// Errors returned during header parsing
var (
	ErrNotPE            = errors.New("pe: not a valid PE image")
	ErrTruncatedFile    = errors.New("pe: file is truncated")
	ErrNoOptionalHeader = errors.New("pe: missing optional header")
	ErrNotManaged       = errors.New("pe: image has no CLI header")
	ErrBadRVA           = errors.New("pe: virtual address outside any section")
)

// FileHeader is the COFF file header following the PE signature.
type FileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

// DataDirectory locates a table inside the image by virtual address.
type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

// SectionHeader is one entry of the section table.
type SectionHeader struct {
	Name             string
	VirtualSize      uint32
	VirtualAddress   uint32
	SizeOfRawData    uint32
	PointerToRawData uint32
}

// Contains reports whether the given RVA falls inside this section.
func (s *SectionHeader) Contains(rva uint32) bool {
	limit := s.VirtualSize
	if s.SizeOfRawData > limit {
		limit = s.SizeOfRawData
	}
	return rva >= s.VirtualAddress && rva < s.VirtualAddress+limit
}

// CLIHeader is the COR20 runtime header of a managed image.
type CLIHeader struct {
	Size                uint32
	MajorRuntimeVersion uint16
	MinorRuntimeVersion uint16
	Metadata            DataDirectory
	Flags               uint32
	EntryPointToken     uint32
}

// readFileHeader parses the COFF file header.
func readFileHeader(r *stream.Reader) (*FileHeader, error) {
	var fh FileHeader
	var err error

	if fh.Machine, err = r.ReadU16(); err != nil {
		return nil, ErrTruncatedFile
	}
	if fh.NumberOfSections, err = r.ReadU16(); err != nil {
		return nil, ErrTruncatedFile
	}
	if fh.TimeDateStamp, err = r.ReadU32(); err != nil {
		return nil, ErrTruncatedFile
	}
	if fh.PointerToSymbolTable, err = r.ReadU32(); err != nil {
		return nil, ErrTruncatedFile
	}
	if fh.NumberOfSymbols, err = r.ReadU32(); err != nil {
		return nil, ErrTruncatedFile
	}
	if fh.SizeOfOptionalHeader, err = r.ReadU16(); err != nil {
		return nil, ErrTruncatedFile
	}
	if fh.Characteristics, err = r.ReadU16(); err != nil {
		return nil, ErrTruncatedFile
	}

	return &fh, nil
}

// readSectionHeader parses one section table entry.
func readSectionHeader(r *stream.Reader) (*SectionHeader, error) {
	name, err := r.ReadFixedString(8)
	if err != nil {
		return nil, ErrTruncatedFile
	}

	var sh SectionHeader
	sh.Name = name

	if sh.VirtualSize, err = r.ReadU32(); err != nil {
		return nil, ErrTruncatedFile
	}
	if sh.VirtualAddress, err = r.ReadU32(); err != nil {
		return nil, ErrTruncatedFile
	}
	if sh.SizeOfRawData, err = r.ReadU32(); err != nil {
		return nil, ErrTruncatedFile
	}
	if sh.PointerToRawData, err = r.ReadU32(); err != nil {
		return nil, ErrTruncatedFile
	}

	// Relocations, line numbers, characteristics: not needed here
	if err = r.Skip(16); err != nil {
		return nil, ErrTruncatedFile
	}

	return &sh, nil
}

// readCLIHeader parses the COR20 header from raw bytes.
func readCLIHeader(data []byte) (*CLIHeader, error) {
	r := stream.NewReader(data)

	var h CLIHeader
	var err error

	if h.Size, err = r.ReadU32(); err != nil {
		return nil, ErrTruncatedFile
	}
	if h.MajorRuntimeVersion, err = r.ReadU16(); err != nil {
		return nil, ErrTruncatedFile
	}
	if h.MinorRuntimeVersion, err = r.ReadU16(); err != nil {
		return nil, ErrTruncatedFile
	}
	if h.Metadata.VirtualAddress, err = r.ReadU32(); err != nil {
		return nil, ErrTruncatedFile
	}
	if h.Metadata.Size, err = r.ReadU32(); err != nil {
		return nil, ErrTruncatedFile
	}
	if h.Flags, err = r.ReadU32(); err != nil {
		return nil, ErrTruncatedFile
	}
	if h.EntryPointToken, err = r.ReadU32(); err != nil {
		return nil, ErrTruncatedFile
	}

	return &h, nil
}
