// Package cil analyzes methods inside managed (ECMA-335) assembly images:
// exact IL instruction boundaries, a best-effort variable table, an
// attribute-driven access-policy decision, and a versioned binary artifact
// container with a plain text line map.
package cil

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrNotAssembly indicates the file is not a managed assembly image.
	ErrNotAssembly = errors.New("cil: not a managed assembly")

	// ErrInvalidToken indicates a token that does not resolve to a method
	// definition in the target assembly.
	ErrInvalidToken = errors.New("cil: token does not resolve to a method definition")

	// ErrNoMethodBody indicates a method without IL (abstract, extern).
	ErrNoMethodBody = errors.New("cil: method has no body")

	// ErrNameTooLong indicates a method name whose UTF-8 encoding exceeds
	// the container format's 16-bit length field.
	ErrNameTooLong = errors.New("cil: method name exceeds container name-length limit")

	// ErrBadContainer indicates a corrupted or unsupported artifact
	// container.
	ErrBadContainer = errors.New("cil: invalid artifact container")
)

// ParseError provides detailed information about parsing failures.
type ParseError struct {
	Section string // Image section or stream where the error occurred
	Offset  int64  // Byte offset within that section
	Message string // Description of the error
	Err     error  // Underlying error, if any
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cil: parse error in %s at offset 0x%x: %s: %v",
			e.Section, e.Offset, e.Message, e.Err)
	}
	return fmt.Sprintf("cil: parse error in %s at offset 0x%x: %s",
		e.Section, e.Offset, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Err }
