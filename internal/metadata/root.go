package metadata

import (
	"errors"
	"fmt"

	"github.com/modtool/cil-go/internal/stream"
)

// rootSignature is the "BSJB" magic of the metadata root.
const rootSignature uint32 = 0x424A5342

// Errors returned during metadata parsing
var (
	ErrInvalidRoot     = errors.New("metadata: invalid metadata root signature")
	ErrTruncatedRoot   = errors.New("metadata: truncated metadata root")
	ErrNoTablesStream  = errors.New("metadata: missing #~ tables stream")
	ErrRowOutOfRange   = errors.New("metadata: row index out of range")
	ErrBadHeapOffset   = errors.New("metadata: heap offset out of range")
	ErrUnsupportedCode = errors.New("metadata: unsupported coded index value")
)

// Root is the parsed metadata of one image: the version string, the heap
// streams and the decoded tables stream. All fields are immutable after
// Parse returns, so a Root may be shared across goroutines.
type Root struct {
	// Version is the runtime version string from the metadata root,
	// e.g. "v4.0.30319".
	Version string

	// Tables is the decoded #~ stream.
	Tables *Tables

	strings []byte
	blob    []byte
	guid    []byte
	us      []byte
}

// Parse decodes a raw metadata root (the bytes located by the COR20
// header's metadata directory).
func Parse(data []byte) (*Root, error) {
	r := stream.NewReader(data)

	sig, err := r.ReadU32()
	if err != nil {
		return nil, ErrTruncatedRoot
	}
	if sig != rootSignature {
		return nil, ErrInvalidRoot
	}

	// MajorVersion, MinorVersion, Reserved
	if err := r.Skip(8); err != nil {
		return nil, ErrTruncatedRoot
	}

	verLen, err := r.ReadU32()
	if err != nil {
		return nil, ErrTruncatedRoot
	}
	version, err := r.ReadFixedString(int(verLen))
	if err != nil {
		return nil, ErrTruncatedRoot
	}

	// Flags
	if err := r.Skip(2); err != nil {
		return nil, ErrTruncatedRoot
	}
	streamCount, err := r.ReadU16()
	if err != nil {
		return nil, ErrTruncatedRoot
	}

	root := &Root{Version: version}

	var tablesData []byte
	for i := 0; i < int(streamCount); i++ {
		off, err := r.ReadU32()
		if err != nil {
			return nil, ErrTruncatedRoot
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, ErrTruncatedRoot
		}
		name, err := r.ReadCString()
		if err != nil {
			return nil, ErrTruncatedRoot
		}
		// Stream names are padded to a 4-byte boundary
		r.Align(4)

		if int(off)+int(size) > len(data) {
			return nil, fmt.Errorf("metadata: stream %q extends past metadata root", name)
		}
		body := data[off : off+size]

		switch name {
		case "#~", "#-":
			tablesData = body
		case "#Strings":
			root.strings = body
		case "#Blob":
			root.blob = body
		case "#GUID":
			root.guid = body
		case "#US":
			root.us = body
		}
	}

	if tablesData == nil {
		return nil, ErrNoTablesStream
	}

	tables, err := parseTables(tablesData, root)
	if err != nil {
		return nil, err
	}
	root.Tables = tables

	return root, nil
}

// String resolves an offset into the #Strings heap.
func (root *Root) String(offset uint32) (string, error) {
	if offset >= uint32(len(root.strings)) {
		return "", fmt.Errorf("%w: #Strings offset 0x%x", ErrBadHeapOffset, offset)
	}
	end := offset
	for end < uint32(len(root.strings)) && root.strings[end] != 0 {
		end++
	}
	return string(root.strings[offset:end]), nil
}

// Blob resolves an offset into the #Blob heap, returning the blob contents
// without the compressed length prefix.
func (root *Root) Blob(offset uint32) ([]byte, error) {
	if offset >= uint32(len(root.blob)) {
		return nil, fmt.Errorf("%w: #Blob offset 0x%x", ErrBadHeapOffset, offset)
	}
	r := stream.NewReader(root.blob)
	if err := r.SetOffset(int(offset)); err != nil {
		return nil, err
	}
	n, err := r.ReadCompressedUint()
	if err != nil {
		return nil, fmt.Errorf("metadata: bad blob length at 0x%x: %w", offset, err)
	}
	return r.ReadBytesRef(int(n))
}

// GUID resolves a 1-based index into the #GUID heap.
func (root *Root) GUID(index uint32) ([16]byte, error) {
	var g [16]byte
	if index == 0 {
		return g, nil
	}
	off := (index - 1) * 16
	if int(off)+16 > len(root.guid) {
		return g, fmt.Errorf("%w: #GUID index %d", ErrBadHeapOffset, index)
	}
	copy(g[:], root.guid[off:off+16])
	return g, nil
}
