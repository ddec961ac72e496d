package cil

import (
	"fmt"
	"io"
	"iter"
	"sync"

	"github.com/modtool/cil-go/internal/metadata"
	"github.com/modtool/cil-go/pe"
)

// File represents an opened managed assembly.
// It is safe for concurrent read access after opening.
type File struct {
	pe   *pe.File
	path string

	// Lazy-loaded metadata
	mdOnce sync.Once
	md     *metadata.Root
	mdErr  error
}

// Info contains identity metadata about an assembly.
type Info struct {
	AssemblyName    string
	AssemblyVersion string
	ModuleName      string
	RuntimeVersion  string
	EntryPointToken uint32
	TypeCount       uint32
	MethodCount     uint32
}

// MethodInfo is a summary row for method enumeration.
type MethodInfo struct {
	Token     uint32
	Name      string
	TypeName  string
	Signature string
	HasBody   bool
}

// Open opens an assembly from the given path. The handle is read-only;
// concurrent analyses should each open their own File.
func Open(path string) (*File, error) {
	pf, err := pe.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cil: failed to open assembly: %w", err)
	}
	return &File{pe: pf, path: path}, nil
}

// OpenReader opens an assembly from an io.ReaderAt.
// The caller is responsible for closing the underlying reader if needed.
func OpenReader(r io.ReaderAt, size int64) (*File, error) {
	pf, err := pe.NewFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("cil: failed to open assembly: %w", err)
	}
	return &File{pe: pf}, nil
}

// Close releases resources associated with the assembly.
func (f *File) Close() error {
	return f.pe.Close()
}

// Path returns the path the assembly was opened from, if any.
func (f *File) Path() string {
	return f.path
}

// Metadata returns the parsed CLI metadata. It is lazily loaded on first
// access and immutable afterwards.
func (f *File) Metadata() (*metadata.Root, error) {
	f.mdOnce.Do(func() {
		raw, err := f.pe.MetadataBytes()
		if err != nil {
			f.mdErr = fmt.Errorf("%w: %v", ErrNotAssembly, err)
			return
		}
		f.md, f.mdErr = metadata.Parse(raw)
	})

	if f.mdErr != nil {
		return nil, f.mdErr
	}
	return f.md, nil
}

// Info returns identity metadata about the assembly.
func (f *File) Info() (*Info, error) {
	md, err := f.Metadata()
	if err != nil {
		return nil, err
	}

	info := &Info{
		RuntimeVersion: md.Version,
		TypeCount:      md.Tables.RowCount(metadata.TableTypeDef),
		MethodCount:    md.Tables.RowCount(metadata.TableMethodDef),
	}

	if name, err := md.Tables.ModuleName(); err == nil {
		info.ModuleName = name
	}

	asm, err := md.Tables.Assembly()
	if err == nil && asm != nil {
		info.AssemblyName = asm.Name
		info.AssemblyVersion = asm.Version()
	}

	if hdr, err := f.pe.CLIHeader(); err == nil {
		info.EntryPointToken = hdr.EntryPointToken
	}

	return info, nil
}

// Methods returns an iterator over all method definitions in the assembly.
// Rows that fail to decode are skipped.
func (f *File) Methods() iter.Seq[MethodInfo] {
	return func(yield func(MethodInfo) bool) {
		md, err := f.Metadata()
		if err != nil {
			return
		}

		n := md.Tables.RowCount(metadata.TableMethodDef)
		for rid := uint32(1); rid <= n; rid++ {
			token := uint32(metadata.NewToken(metadata.TableMethodDef, rid))
			ctx, err := f.resolveMethod(token)
			if err != nil {
				continue
			}

			if !yield(MethodInfo{
				Token:     token,
				Name:      ctx.row.Name,
				TypeName:  ctx.typeRow.FullName(),
				Signature: ctx.signatureString(),
				HasBody:   ctx.row.RVA != 0,
			}) {
				return
			}
		}
	}
}
