// Package stream provides binary reading utilities for CLI metadata parsing.
package stream

import (
	"encoding/binary"
	"errors"
	"io"
	"unicode/utf8"
)

// Errors returned by Reader
var (
	ErrUnexpectedEOF     = errors.New("stream: unexpected end of data")
	ErrNegativeOffset    = errors.New("stream: negative offset")
	ErrInvalidCompressed = errors.New("stream: invalid compressed integer")
	ErrInvalidString     = errors.New("stream: invalid string encoding")
)

// Reader provides methods for reading binary data from metadata streams
// and signature blobs. All multi-byte values are read in little-endian order.
type Reader struct {
	data   []byte
	offset int
}

// NewReader creates a Reader from a byte slice.
func NewReader(data []byte) *Reader {
	return &Reader{data: data, offset: 0}
}

// Offset returns the current read position.
func (r *Reader) Offset() int {
	return r.offset
}

// SetOffset sets the read position.
func (r *Reader) SetOffset(offset int) error {
	if offset < 0 {
		return ErrNegativeOffset
	}
	r.offset = offset
	return nil
}

// Remaining returns the number of bytes remaining.
func (r *Reader) Remaining() int {
	if r.offset >= len(r.data) {
		return 0
	}
	return len(r.data) - r.offset
}

// Skip advances the read position by n bytes.
func (r *Reader) Skip(n int) error {
	if r.offset+n > len(r.data) {
		return ErrUnexpectedEOF
	}
	r.offset += n
	return nil
}

// Align aligns the read position to the given boundary.
func (r *Reader) Align(alignment int) {
	if alignment <= 1 {
		return
	}
	mod := r.offset % alignment
	if mod != 0 {
		r.offset += alignment - mod
	}
}

// ReadU8 reads an unsigned 8-bit integer.
func (r *Reader) ReadU8() (uint8, error) {
	if r.offset >= len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := r.data[r.offset]
	r.offset++
	return v, nil
}

// ReadU16 reads an unsigned 16-bit integer.
func (r *Reader) ReadU16() (uint16, error) {
	if r.offset+2 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint16(r.data[r.offset:])
	r.offset += 2
	return v, nil
}

// ReadU32 reads an unsigned 32-bit integer.
func (r *Reader) ReadU32() (uint32, error) {
	if r.offset+4 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v, nil
}

// ReadU64 reads an unsigned 64-bit integer.
func (r *Reader) ReadU64() (uint64, error) {
	if r.offset+8 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint64(r.data[r.offset:])
	r.offset += 8
	return v, nil
}

// ReadI32 reads a signed 32-bit integer.
func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

// ReadBytes reads n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return nil, ErrUnexpectedEOF
	}
	v := make([]byte, n)
	copy(v, r.data[r.offset:r.offset+n])
	r.offset += n
	return v, nil
}

// ReadBytesRef returns a reference to n bytes without copying.
// The returned slice is only valid as long as the underlying data.
func (r *Reader) ReadBytesRef(n int) ([]byte, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return nil, ErrUnexpectedEOF
	}
	v := r.data[r.offset : r.offset+n]
	r.offset += n
	return v, nil
}

// ReadCString reads a null-terminated string.
func (r *Reader) ReadCString() (string, error) {
	start := r.offset
	for r.offset < len(r.data) {
		if r.data[r.offset] == 0 {
			s := string(r.data[start:r.offset])
			r.offset++ // Skip null terminator
			return s, nil
		}
		r.offset++
	}
	return "", ErrUnexpectedEOF
}

// ReadFixedString reads a fixed-length string, trimming any null padding.
func (r *Reader) ReadFixedString(n int) (string, error) {
	if r.offset+n > len(r.data) {
		return "", ErrUnexpectedEOF
	}
	data := r.data[r.offset : r.offset+n]
	r.offset += n

	end := len(data)
	for end > 0 && data[end-1] == 0 {
		end--
	}
	return string(data[:end]), nil
}

// ReadCompressedUint reads an ECMA-335 compressed unsigned integer
// (II.23.2). The high bits of the first byte select a 1-, 2- or 4-byte
// encoding: 0xxxxxxx, 10xxxxxx xxxxxxxx, or 110xxxxx followed by 3 bytes.
func (r *Reader) ReadCompressedUint() (uint32, error) {
	b0, err := r.ReadU8()
	if err != nil {
		return 0, err
	}

	switch {
	case b0&0x80 == 0:
		return uint32(b0), nil
	case b0&0xC0 == 0x80:
		b1, err := r.ReadU8()
		if err != nil {
			return 0, err
		}
		return uint32(b0&0x3F)<<8 | uint32(b1), nil
	case b0&0xE0 == 0xC0:
		rest, err := r.ReadBytesRef(3)
		if err != nil {
			return 0, err
		}
		return uint32(b0&0x1F)<<24 | uint32(rest[0])<<16 | uint32(rest[1])<<8 | uint32(rest[2]), nil
	default:
		return 0, ErrInvalidCompressed
	}
}

// ReadSerString reads a serialized string: a compressed length followed by
// that many UTF-8 bytes. The single byte 0xFF encodes a null string, which
// is returned as "".
func (r *Reader) ReadSerString() (string, error) {
	b, err := r.PeekU8()
	if err != nil {
		return "", err
	}
	if b == 0xFF {
		r.offset++
		return "", nil
	}

	n, err := r.ReadCompressedUint()
	if err != nil {
		return "", err
	}
	data, err := r.ReadBytesRef(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", ErrInvalidString
	}
	return string(data), nil
}

// PeekU8 returns the next byte without advancing the position.
func (r *Reader) PeekU8() (uint8, error) {
	if r.offset >= len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	return r.data[r.offset], nil
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (n int, err error) {
	if r.offset >= len(r.data) {
		return 0, io.EOF
	}
	n = copy(p, r.data[r.offset:])
	r.offset += n
	return n, nil
}

// SubReader returns a new Reader starting at the current position with the
// given length, advancing this reader past the sub-range.
func (r *Reader) SubReader(length int) (*Reader, error) {
	if length < 0 || r.offset+length > len(r.data) {
		return nil, ErrUnexpectedEOF
	}
	sub := NewReader(r.data[r.offset : r.offset+length])
	r.offset += length
	return sub, nil
}

// RemainingData returns the remaining unread data.
func (r *Reader) RemainingData() []byte {
	if r.offset >= len(r.data) {
		return nil
	}
	return r.data[r.offset:]
}
