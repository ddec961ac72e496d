package cil

import (
	"errors"
	"sort"
	"time"

	"github.com/modtool/cil-go/il"
)

// DecompileMethod opens the assembly at the given path, analyzes the
// method identified by token, runs the external decompiler engine, and
// returns the reconstructed source plus the text line map. It fails with
// ErrInvalidToken when the token does not resolve to a method definition.
func DecompileMethod(assemblyPath string, token uint32, dec Decompiler) (sourceCode, textMap string, err error) {
	f, err := Open(assemblyPath)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	artifact, err := f.DecompileMethod(token, dec)
	if err != nil {
		return "", "", err
	}
	return artifact.SourceCode, EncodeTextMap(artifact), nil
}

// CheckPrivacy opens the assembly at the given path and resolves the
// access-policy decision for the method identified by token. It never
// touches the decompiler engine, so it is cheap to run ahead of
// decompilation. The decision is computed fresh from on-disk metadata on
// every call.
func CheckPrivacy(assemblyPath string, token uint32) (*PrivacyCheckResult, error) {
	f, err := Open(assemblyPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return f.CheckPrivacy(token)
}

// DecompileMethod analyzes one method and assembles the canonical
// artifact: decompiled source, source map, variable table, raw bytecode
// and the privacy decision.
func (f *File) DecompileMethod(token uint32, dec Decompiler) (*MethodArtifact, error) {
	ctx, err := f.resolveMethod(token)
	if err != nil {
		return nil, err
	}

	signature := ctx.signatureString()

	analysis := ctx.analyzeIL()

	result, err := dec.Decompile(&DecompileRequest{
		AssemblyPath: f.path,
		Token:        token,
		MethodName:   ctx.row.Name,
		Signature:    signature,
		Bytecode:     analysis.Bytecode,
	})
	if err != nil {
		return nil, err
	}

	return &MethodArtifact{
		Token:      token,
		Name:       ctx.row.Name,
		Signature:  signature,
		SourceCode: result.SourceCode,
		SourceMap:  buildSourceMap(result.Lines, analysis.Offsets),
		Variables:  analysis.Variables,
		Bytecode:   analysis.Bytecode,
		CreatedAt:  time.Now().UTC(),
		Privacy:    ctx.resolvePrivacy(),
	}, nil
}

// CheckPrivacy resolves the access-policy decision for one method without
// running any decompilation.
func (f *File) CheckPrivacy(token uint32) (*PrivacyCheckResult, error) {
	ctx, err := f.resolveMethod(token)
	if err != nil {
		return nil, err
	}

	return &PrivacyCheckResult{
		PrivacyDecision: ctx.resolvePrivacy(),
		MethodName:      ctx.row.Name,
		MethodSignature: ctx.signatureString(),
	}, nil
}

// analyzeIL extracts the method body, scans instruction boundaries and
// builds the variable table. A missing body (abstract or extern method)
// degrades to empty bytecode with the placeholder variable entries; it is
// never an analysis failure.
func (c *methodContext) analyzeIL() *ILAnalysisResult {
	body, err := c.body()
	if err != nil && !errors.Is(err, ErrNoMethodBody) {
		// A corrupt body degrades the same way a missing one does.
		body = nil
	}

	res := &ILAnalysisResult{Variables: c.buildVariables(body)}
	if body != nil {
		res.Bytecode = body.Code
		res.Offsets = il.Scan(body.Code)
	}
	return res
}

// buildSourceMap links each decompiled line to the smallest instruction
// boundary at or after the line's IL start. The instruction-count hint is
// a coarse signal: 1 when such a boundary exists, 0 otherwise. Lines past
// the last boundary clamp to it so every emitted offset is a real
// boundary.
func buildSourceMap(lines []LineRange, offsets []int) []SourceMapEntry {
	entries := make([]SourceMapEntry, 0, len(lines))

	for _, line := range lines {
		target := int(line.ILStart)
		if target < 0 {
			target = 0
		}

		idx := sort.SearchInts(offsets, target)

		var entry SourceMapEntry
		entry.Line = line.Line
		switch {
		case idx < len(offsets):
			entry.Offset = int32(offsets[idx])
			entry.InstCount = 1
		case len(offsets) > 0:
			entry.Offset = int32(offsets[len(offsets)-1])
			entry.InstCount = 0
		default:
			entry.Offset = 0
			entry.InstCount = 0
		}

		entries = append(entries, entry)
	}

	return entries
}
