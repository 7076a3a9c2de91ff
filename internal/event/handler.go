package event

import (
	"context"
	"fmt"
)

// Action is the processing capability every handler provides.
//
// Process receives the current event and returns the event the chain should
// continue with. Returning an error leaves the event as it was before the
// handler ran; wrap the error with Fatal to stop the rest of the chain.
type Action interface {
	Process(ctx context.Context, ec *Context, e Event) (Event, error)
}

// ActionFunc is a function adapter for Action.
type ActionFunc func(ctx context.Context, ec *Context, e Event) (Event, error)

// Process implements the Action interface.
func (f ActionFunc) Process(ctx context.Context, ec *Context, e Event) (Event, error) {
	return f(ctx, ec, e)
}

// Handler is a named, prioritized, pattern-filtered unit of event processing.
type Handler struct {
	// Name is unique within a Bus. Registering a name again replaces it.
	Name string

	// Type is the event type the handler receives.
	Type Type

	// Pattern is a glob matched against Event.Identifier. Empty means "*".
	Pattern string

	// Priority orders execution; lower values run first.
	Priority int64

	// Enabled handlers are the only ones dispatched to.
	Enabled bool

	// Description is free-form documentation.
	Description string

	// Source records where the handler came from (a script path, or empty
	// for handlers compiled into the host).
	Source string

	// Action does the work.
	Action Action
}

// NewHandler creates an enabled handler with the default pattern and priority.
func NewHandler(name string, typ Type, action Action) Handler {
	return Handler{
		Name:     name,
		Type:     typ,
		Pattern:  "*",
		Priority: DefaultPriority,
		Enabled:  true,
		Action:   action,
	}
}

// NewHandlerFunc is NewHandler for a plain function.
func NewHandlerFunc(name string, typ Type, fn ActionFunc) Handler {
	return NewHandler(name, typ, fn)
}

// WithPattern returns a copy of the handler with the pattern set.
func (h Handler) WithPattern(pattern string) Handler {
	h.Pattern = pattern
	return h
}

// WithPriority returns a copy of the handler with the priority set.
func (h Handler) WithPriority(priority int64) Handler {
	h.Priority = priority
	return h
}

// WithEnabled returns a copy of the handler with the enabled flag set.
func (h Handler) WithEnabled(enabled bool) Handler {
	h.Enabled = enabled
	return h
}

// Validate checks that the handler can be registered.
func (h Handler) Validate() error {
	if h.Name == "" {
		return ErrEmptyName
	}
	if h.Action == nil {
		return fmt.Errorf("handler %q: %w", h.Name, ErrNilAction)
	}
	if !h.Type.IsValid() {
		return fmt.Errorf("handler %q: %w: %q", h.Name, ErrInvalidType, h.Type)
	}
	return nil
}
