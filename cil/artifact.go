package cil

import "time"

// PrivacyLevel is the access-policy decision for a method.
type PrivacyLevel uint8

const (
	// PrivacyPublic allows decompilation and display.
	PrivacyPublic PrivacyLevel = iota

	// PrivacyObfuscated allows decompilation with obfuscated output.
	PrivacyObfuscated

	// PrivacyPrivate disallows decompilation.
	PrivacyPrivate
)

func (l PrivacyLevel) String() string {
	switch l {
	case PrivacyPublic:
		return "public"
	case PrivacyObfuscated:
		return "obfuscated"
	case PrivacyPrivate:
		return "private"
	default:
		return "unknown"
	}
}

// PrivacyDecision is a resolved access level plus the reason recorded in
// the policy attribute, if any. Decisions are computed fresh on every check
// and never cached; policy must reflect the current on-disk metadata.
type PrivacyDecision struct {
	Level  PrivacyLevel
	Reason string
}

// PrivacyCheckResult is a PrivacyDecision enriched with the resolved method
// identity for diagnostic display.
type PrivacyCheckResult struct {
	PrivacyDecision

	MethodName      string
	MethodSignature string
}

// SourceMapEntry links one decompiled source line to the IL instruction
// boundary it begins at. Offset always references an instruction-boundary
// offset produced by the scanner.
type SourceMapEntry struct {
	Line      int32
	Offset    int32
	InstCount uint16 // coarse hint: 1 if any instruction starts at or after Offset, else 0
}

// VariableEntry is one row of a method's variable table. Entries keep the
// order in which they were built: parameters in signature order, then
// instance fields, then locals in signature order. The table is never
// re-sorted.
type VariableEntry struct {
	Name    string
	Type    string
	IsLocal bool

	// Index is the parameter or local index; -1 for fields and for
	// unresolved placeholder entries.
	Index int32
}

// ILAnalysisResult is the short-lived intermediate output of body analysis,
// consumed immediately by artifact assembly.
type ILAnalysisResult struct {
	Bytecode  []byte
	Offsets   []int
	Variables []VariableEntry
}

// MethodArtifact is the canonical output of analyzing one method. An
// artifact is assembled exactly once per (assembly, token) analysis and is
// immutable afterwards.
type MethodArtifact struct {
	Token     uint32
	Name      string
	Signature string

	// SourceCode is the decompiled source text supplied by the external
	// decompiler engine.
	SourceCode string

	SourceMap []SourceMapEntry
	Variables []VariableEntry
	Bytecode  []byte

	CreatedAt time.Time // always UTC
	Privacy   PrivacyDecision
}
