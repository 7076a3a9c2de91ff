package lua

import (
	"errors"
	"fmt"
)

// Errors for Lua runtime operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrRuntimeClosed is returned by Invoke after Close.
	ErrRuntimeClosed = errors.New("lua runtime is closed")

	// ErrExecutionTimeout is returned when a call exceeds its deadline.
	ErrExecutionTimeout = errors.New("lua execution timeout")

	// ErrForeignUnit is returned when Invoke is given a unit compiled by
	// another runtime.
	ErrForeignUnit = errors.New("unit was not compiled by the lua runtime")

	// ErrFunctionNotFound is returned when the handler function is not
	// defined after the unit's top-level statements run.
	ErrFunctionNotFound = errors.New("lua function not found")

	// ErrBadReturn is returned when a handler returns neither nil nor a table.
	ErrBadReturn = errors.New("handler must return an event table or nil")
)

// ScriptError is an error raised by Lua code.
type ScriptError struct {
	// Unit is the name the unit was compiled under.
	Unit string

	// Function is the handler function that was running.
	Function string

	// Message is the error value raised by the script.
	Message string

	// Traceback is the Lua stack at the point of the error, when known.
	Traceback string
}

// Error implements the error interface.
func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Unit, e.Function, e.Message)
}
