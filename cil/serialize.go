package cil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/modtool/cil-go/internal/stream"
)

// Artifact container identity
const (
	// ContainerMagic is the 4-byte signature of the artifact container.
	ContainerMagic = "MODT"

	// ContainerVersion is the current container format version.
	ContainerVersion uint16 = 2
)

// unixEpochTicks is the tick count (100ns units since 0001-01-01 UTC) of
// the Unix epoch, used to convert container timestamps.
const unixEpochTicks int64 = 621355968000000000

// timeToTicks converts a time to container ticks.
func timeToTicks(t time.Time) int64 {
	return t.UTC().UnixNano()/100 + unixEpochTicks
}

// ticksToTime converts container ticks back to a UTC time.
func ticksToTime(ticks int64) time.Time {
	return time.Unix(0, (ticks-unixEpochTicks)*100).UTC()
}

// EncodeArtifact serializes an artifact into the versioned binary
// container. It is a pure function of the artifact; the artifact is never
// mutated. The only failure mode is a method name whose UTF-8 encoding
// exceeds the format's signed 16-bit length field.
func EncodeArtifact(a *MethodArtifact) ([]byte, error) {
	name := []byte(a.Name)
	if len(name) > math.MaxInt16 {
		return nil, fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(name))
	}

	var buf bytes.Buffer

	// Header
	buf.WriteString(ContainerMagic)
	binary.Write(&buf, binary.LittleEndian, ContainerVersion)
	binary.Write(&buf, binary.LittleEndian, timeToTicks(a.CreatedAt))

	// Method table: always exactly one method per container
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, a.Token)
	binary.Write(&buf, binary.LittleEndian, uint16(len(name)))
	buf.Write(name)
	binary.Write(&buf, binary.LittleEndian, uint32(len(a.Bytecode)))
	buf.Write(a.Bytecode)

	// Source map
	binary.Write(&buf, binary.LittleEndian, uint32(len(a.SourceMap)))
	for _, e := range a.SourceMap {
		binary.Write(&buf, binary.LittleEndian, e.Line)
		binary.Write(&buf, binary.LittleEndian, e.Offset)
		binary.Write(&buf, binary.LittleEndian, e.InstCount)
	}

	// Variable table
	binary.Write(&buf, binary.LittleEndian, uint32(len(a.Variables)))
	for _, v := range a.Variables {
		if err := writeString16(&buf, v.Name); err != nil {
			return nil, err
		}
		if err := writeString16(&buf, v.Type); err != nil {
			return nil, err
		}
		if v.IsLocal {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		binary.Write(&buf, binary.LittleEndian, v.Index)
	}

	return buf.Bytes(), nil
}

// DecodeArtifact reads a binary container back into an artifact. Source
// code and the privacy decision are not part of the container and come
// back zero-valued.
func DecodeArtifact(data []byte) (*MethodArtifact, error) {
	r := stream.NewReader(data)

	magic, err := r.ReadFixedString(4)
	if err != nil || magic != ContainerMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadContainer)
	}
	version, err := r.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrBadContainer)
	}
	if version != ContainerVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadContainer, version)
	}

	ticks, err := r.ReadU64()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrBadContainer)
	}

	count, err := r.ReadU32()
	if err != nil || count != 1 {
		return nil, fmt.Errorf("%w: bad method count", ErrBadContainer)
	}

	a := &MethodArtifact{CreatedAt: ticksToTime(int64(ticks))}

	if a.Token, err = r.ReadU32(); err != nil {
		return nil, fmt.Errorf("%w: truncated method table", ErrBadContainer)
	}
	nameLen, err := r.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated method table", ErrBadContainer)
	}
	nameBytes, err := r.ReadBytes(int(nameLen))
	if err != nil {
		return nil, fmt.Errorf("%w: truncated method name", ErrBadContainer)
	}
	a.Name = string(nameBytes)

	codeLen, err := r.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated method table", ErrBadContainer)
	}
	if a.Bytecode, err = r.ReadBytes(int(codeLen)); err != nil {
		return nil, fmt.Errorf("%w: truncated bytecode", ErrBadContainer)
	}

	mapCount, err := r.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated source map", ErrBadContainer)
	}
	a.SourceMap = make([]SourceMapEntry, 0, mapCount)
	for i := uint32(0); i < mapCount; i++ {
		var e SourceMapEntry
		if e.Line, err = r.ReadI32(); err != nil {
			return nil, fmt.Errorf("%w: truncated source map", ErrBadContainer)
		}
		if e.Offset, err = r.ReadI32(); err != nil {
			return nil, fmt.Errorf("%w: truncated source map", ErrBadContainer)
		}
		if e.InstCount, err = r.ReadU16(); err != nil {
			return nil, fmt.Errorf("%w: truncated source map", ErrBadContainer)
		}
		a.SourceMap = append(a.SourceMap, e)
	}

	varCount, err := r.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated variable table", ErrBadContainer)
	}
	a.Variables = make([]VariableEntry, 0, varCount)
	for i := uint32(0); i < varCount; i++ {
		var v VariableEntry
		if v.Name, err = readString16(r); err != nil {
			return nil, fmt.Errorf("%w: truncated variable table", ErrBadContainer)
		}
		if v.Type, err = readString16(r); err != nil {
			return nil, fmt.Errorf("%w: truncated variable table", ErrBadContainer)
		}
		b, err := r.ReadU8()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated variable table", ErrBadContainer)
		}
		v.IsLocal = b != 0
		if v.Index, err = r.ReadI32(); err != nil {
			return nil, fmt.Errorf("%w: truncated variable table", ErrBadContainer)
		}
		a.Variables = append(a.Variables, v)
	}

	return a, nil
}

// EncodeTextMap renders the plain line-oriented map: a literal header line
// followed by one "<line>=<offset>" line per source-map entry.
func EncodeTextMap(a *MethodArtifact) string {
	var sb strings.Builder
	sb.WriteString("LineNumber=ILOffset\n")
	for _, e := range a.SourceMap {
		fmt.Fprintf(&sb, "%d=%d\n", e.Line, e.Offset)
	}
	return sb.String()
}

// WriteArtifactFile encodes the artifact and writes it to path atomically:
// the container is staged in a same-directory temp file and renamed into
// place, so a crash mid-write never leaves a truncated container behind.
func WriteArtifactFile(path string, a *MethodArtifact) error {
	data, err := EncodeArtifact(a)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("cil: failed to create temp container: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("cil: failed to write container: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cil: failed to close container: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cil: failed to publish container: %w", err)
	}
	return nil
}

// ReadArtifactFile reads and decodes a container from disk.
func ReadArtifactFile(path string) (*MethodArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cil: failed to read container: %w", err)
	}
	return DecodeArtifact(data)
}

// writeString16 writes a 16-bit length-prefixed UTF-8 string.
func writeString16(buf *bytes.Buffer, s string) error {
	b := []byte(s)
	if len(b) > math.MaxInt16 {
		return fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(b))
	}
	binary.Write(buf, binary.LittleEndian, uint16(len(b)))
	buf.Write(b)
	return nil
}

// readString16 reads a 16-bit length-prefixed UTF-8 string.
func readString16(r *stream.Reader) (string, error) {
	n, err := r.ReadU16()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
