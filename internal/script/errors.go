package script

import (
	"errors"
	"fmt"
)

// Sentinel errors for script compilation.
var (
	// ErrMissingEvent is returned for an annotation without an event.
	ErrMissingEvent = errors.New("handler annotation has no event")

	// ErrBadAnnotation is returned for an annotation that is not a valid
	// attribute mapping.
	ErrBadAnnotation = errors.New("invalid handler annotation")

	// ErrNoFunction is returned when an annotation is not followed by a
	// global function definition.
	ErrNoFunction = errors.New("handler annotation not followed by a function")

	// ErrDuplicateFunction is returned when one file annotates the same
	// function twice.
	ErrDuplicateFunction = errors.New("duplicate handler function")

	// ErrFunctionNotFound is returned when an annotated function is not
	// defined by the compiled unit.
	ErrFunctionNotFound = errors.New("handler function not defined")
)

// CompileError reports a script that failed to parse or compile. The file
// contributes no handlers.
type CompileError struct {
	Path string
	// Line is the 1-based line of the offending annotation, or zero.
	Line int
	Err  error
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("compile %s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("compile %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *CompileError) Unwrap() error {
	return e.Err
}
