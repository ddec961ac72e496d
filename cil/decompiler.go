package cil

// LineRange annotates one decompiled source line with the IL interval it
// was reconstructed from, plus the resolved type of the line's dominant
// expression when the engine knows it.
type LineRange struct {
	Line     int32
	ILStart  int32
	ILEnd    int32
	TypeName string
}

// DecompileRequest carries everything the external engine needs for one
// method.
type DecompileRequest struct {
	AssemblyPath string
	Token        uint32
	MethodName   string
	Signature    string
	Bytecode     []byte
}

// DecompileResult is the collaborator's output: reconstructed source text
// and per-line IL-range annotations.
type DecompileResult struct {
	SourceCode string
	Lines      []LineRange
}

// Decompiler is the external source-reconstruction engine. Implementations
// must be safe for concurrent use; the harness calls Decompile once per
// analyzed method.
type Decompiler interface {
	Decompile(req *DecompileRequest) (*DecompileResult, error)
}

// NopDecompiler satisfies Decompiler without producing source text. It is
// used for metadata-only analyses and in tests.
type NopDecompiler struct{}

// Decompile returns an empty result.
func (NopDecompiler) Decompile(*DecompileRequest) (*DecompileResult, error) {
	return &DecompileResult{}, nil
}
