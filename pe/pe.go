package pe

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/modtool/cil-go/internal/stream"
)

// File represents an opened PE image.
// It is safe for concurrent read access after opening.
type File struct {
	data   io.ReaderAt
	closer io.Closer // may be nil if data doesn't need closing
	size   int64

	fileHeader *FileHeader
	optMagic   uint16
	comDir     DataDirectory
	sections   []SectionHeader

	// Lazy loading synchronization
	cliOnce   sync.Once
	cliHeader *CLIHeader
	cliErr    error
}

// Open opens a PE image from the given path. The file is opened read-only
// with shared access; concurrent analyses should each open their own handle.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pe: failed to open file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pe: failed to stat file: %w", err)
	}

	pf, err := NewFile(f, stat.Size())
	if err != nil {
		f.Close()
		return nil, err
	}

	pf.closer = f
	return pf, nil
}

// NewFile creates a PE image from an io.ReaderAt.
// This allows reading from arbitrary sources (embedded, in-memory, etc.)
// The caller is responsible for closing the underlying reader if needed.
func NewFile(r io.ReaderAt, size int64) (*File, error) {
	f := &File{data: r, size: size}
	if err := f.parseHeaders(); err != nil {
		return nil, err
	}
	return f, nil
}

// Close releases resources associated with the image.
func (f *File) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

// Machine returns the COFF machine type of the image.
func (f *File) Machine() uint16 {
	return f.fileHeader.Machine
}

// Is64 reports whether the image uses the PE32+ optional header.
func (f *File) Is64() bool {
	return f.optMagic == optMagicPE32Plus
}

// Sections returns the section table.
func (f *File) Sections() []SectionHeader {
	return f.sections
}

// Size returns the total file size in bytes.
func (f *File) Size() int64 {
	return f.size
}

// CLIHeader returns the COR20 runtime header. It fails with ErrNotManaged
// for native images. The header is lazily loaded on first access.
func (f *File) CLIHeader() (*CLIHeader, error) {
	f.cliOnce.Do(func() {
		if f.comDir.VirtualAddress == 0 || f.comDir.Size == 0 {
			f.cliErr = ErrNotManaged
			return
		}

		raw, err := f.ReadVirtual(f.comDir.VirtualAddress, f.comDir.Size)
		if err != nil {
			f.cliErr = fmt.Errorf("pe: failed to read CLI header: %w", err)
			return
		}

		f.cliHeader, f.cliErr = readCLIHeader(raw)
	})

	if f.cliErr != nil {
		return nil, f.cliErr
	}
	return f.cliHeader, nil
}

// MetadataBytes reads the raw CLI metadata root pointed to by the COR20
// header.
func (f *File) MetadataBytes() ([]byte, error) {
	hdr, err := f.CLIHeader()
	if err != nil {
		return nil, err
	}
	if hdr.Metadata.VirtualAddress == 0 || hdr.Metadata.Size == 0 {
		return nil, ErrNotManaged
	}
	return f.ReadVirtual(hdr.Metadata.VirtualAddress, hdr.Metadata.Size)
}

// FileOffset translates an RVA into a raw file offset.
func (f *File) FileOffset(rva uint32) (int64, error) {
	for i := range f.sections {
		s := &f.sections[i]
		if !s.Contains(rva) {
			continue
		}
		return int64(s.PointerToRawData) + int64(rva-s.VirtualAddress), nil
	}
	return 0, fmt.Errorf("%w: 0x%x", ErrBadRVA, rva)
}

// ReadVirtual reads size bytes starting at the given RVA, translating
// through the section table. Reads never cross a section boundary; managed
// metadata and method bodies are always section-local.
func (f *File) ReadVirtual(rva, size uint32) ([]byte, error) {
	off, err := f.FileOffset(rva)
	if err != nil {
		return nil, err
	}

	if off+int64(size) > f.size {
		return nil, ErrTruncatedFile
	}

	buf := make([]byte, size)
	if _, err := f.data.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("pe: failed to read 0x%x bytes at rva 0x%x: %w", size, rva, err)
	}
	return buf, nil
}

// parseHeaders reads and validates the DOS stub pointer, PE signature,
// COFF header, optional header data directories and the section table.
func (f *File) parseHeaders() error {
	// e_lfanew lives at 0x3C inside the DOS header
	var lfanewBuf [4]byte
	if _, err := f.data.ReadAt(lfanewBuf[:], dosLfanewOffset); err != nil {
		return ErrTruncatedFile
	}

	var magicBuf [2]byte
	if _, err := f.data.ReadAt(magicBuf[:], 0); err != nil {
		return ErrTruncatedFile
	}
	if uint16(magicBuf[0])|uint16(magicBuf[1])<<8 != dosMagic {
		return ErrNotPE
	}

	peOff := int64(uint32(lfanewBuf[0]) | uint32(lfanewBuf[1])<<8 |
		uint32(lfanewBuf[2])<<16 | uint32(lfanewBuf[3])<<24)
	if peOff <= 0 || peOff >= f.size {
		return ErrNotPE
	}

	// Signature + COFF header + optional header + section table are read
	// in one pass. The optional header size bounds how far we may read.
	headBuf := make([]byte, 4+coffHeaderSize)
	if _, err := f.data.ReadAt(headBuf, peOff); err != nil {
		return ErrTruncatedFile
	}

	r := stream.NewReader(headBuf)
	sig, _ := r.ReadU32()
	if sig != peSignature {
		return ErrNotPE
	}

	fh, err := readFileHeader(r)
	if err != nil {
		return err
	}
	f.fileHeader = fh

	if fh.SizeOfOptionalHeader == 0 {
		return ErrNoOptionalHeader
	}

	optOff := peOff + 4 + coffHeaderSize
	optBuf := make([]byte, fh.SizeOfOptionalHeader)
	if _, err := f.data.ReadAt(optBuf, optOff); err != nil {
		return ErrTruncatedFile
	}

	if err := f.parseOptionalHeader(optBuf); err != nil {
		return err
	}

	sectOff := optOff + int64(fh.SizeOfOptionalHeader)
	sectBuf := make([]byte, int(fh.NumberOfSections)*sectionHeaderSize)
	if _, err := f.data.ReadAt(sectBuf, sectOff); err != nil {
		return ErrTruncatedFile
	}

	sr := stream.NewReader(sectBuf)
	f.sections = make([]SectionHeader, 0, fh.NumberOfSections)
	for i := 0; i < int(fh.NumberOfSections); i++ {
		sh, err := readSectionHeader(sr)
		if err != nil {
			return err
		}
		f.sections = append(f.sections, *sh)
	}

	return nil
}

// parseOptionalHeader extracts the format magic and the CLI data directory.
// Only the directory array matters here; the rest of the optional header is
// loader detail this package has no use for.
func (f *File) parseOptionalHeader(data []byte) error {
	r := stream.NewReader(data)

	magic, err := r.ReadU16()
	if err != nil {
		return ErrTruncatedFile
	}

	var dirCountOffset int
	switch magic {
	case optMagicPE32:
		dirCountOffset = 92
	case optMagicPE32Plus:
		dirCountOffset = 108
	default:
		return ErrNoOptionalHeader
	}
	f.optMagic = magic

	if err := r.SetOffset(dirCountOffset); err != nil {
		return ErrTruncatedFile
	}
	dirCount, err := r.ReadU32()
	if err != nil {
		return ErrTruncatedFile
	}

	if uint32(comDirectoryIndex) >= dirCount {
		// Managed images always carry at least 15 directories; anything
		// shorter is a native image.
		return nil
	}

	if err := r.Skip(comDirectoryIndex * 8); err != nil {
		return ErrTruncatedFile
	}
	if f.comDir.VirtualAddress, err = r.ReadU32(); err != nil {
		return ErrTruncatedFile
	}
	if f.comDir.Size, err = r.ReadU32(); err != nil {
		return ErrTruncatedFile
	}

	return nil
}
