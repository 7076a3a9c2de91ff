package event

import (
	"fmt"
	"time"
)

// Type identifies the kind of lifecycle event being routed.
// The set is closed; user-defined events all share the Custom type and are
// told apart by the event identifier.
type Type string

const (
	// ToolBefore fires before a tool executes. Payload is the raw argument map.
	ToolBefore Type = "tool:before"

	// ToolAfter fires after a tool completes successfully.
	ToolAfter Type = "tool:after"

	// ToolError fires when a tool fails.
	ToolError Type = "tool:error"

	// ToolDiscovered fires when a tool becomes known to the host.
	ToolDiscovered Type = "tool:discovered"

	// NoteParsed fires when a document has been parsed.
	NoteParsed Type = "note:parsed"

	// NoteCreated fires when a document is created.
	NoteCreated Type = "note:created"

	// NoteModified fires when a document changes on disk.
	NoteModified Type = "note:modified"

	// McpAttached fires when an external protocol server is attached.
	McpAttached Type = "mcp:attached"

	// Custom is the type of every user-defined event.
	Custom Type = "custom"
)

// Types lists every built-in event type in declaration order.
var Types = []Type{
	ToolBefore,
	ToolAfter,
	ToolError,
	ToolDiscovered,
	NoteParsed,
	NoteCreated,
	NoteModified,
	McpAttached,
	Custom,
}

// ParseType converts a tag such as "tool:before" into a Type.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
}

// String returns the type tag.
func (t Type) String() string {
	return string(t)
}

// IsValid returns true if t is one of the built-in types.
func (t Type) IsValid() bool {
	_, err := ParseType(string(t))
	return err == nil
}

// Cancellable reports whether a handler may stop the chain for this type by
// returning a cancelled event. Other types ignore the flag.
func (t Type) Cancellable() bool {
	switch t {
	case ToolBefore, ToolDiscovered, Custom:
		return true
	default:
		return false
	}
}

// DefaultPriority is the priority assigned to handlers that don't declare one.
// Lower values run first.
const DefaultPriority int64 = 100

// Stats contains event bus statistics.
type Stats struct {
	// Emissions is the number of completed Emit calls, including those
	// started by EmitRecursive.
	Emissions uint64

	// HandlersExecuted is the total number of handler invocations.
	HandlersExecuted uint64

	// HandlerErrors is the number of invocations that reported an error,
	// panics and timeouts included.
	HandlerErrors uint64

	// HandlerPanics is the number of invocations that panicked.
	HandlerPanics uint64

	// HandlerTimeouts is the number of invocations cut off by the handler
	// timeout.
	HandlerTimeouts uint64

	// HandlerTime is the total time spent inside handlers.
	HandlerTime time.Duration

	// Cancelled is the number of emissions stopped by a cancelling handler.
	Cancelled uint64

	// RecursionLimited is the number of EmitRecursive calls that hit the bound.
	RecursionLimited uint64

	// Handlers is the number of registered handlers.
	Handlers int
}
