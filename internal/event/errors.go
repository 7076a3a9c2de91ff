package event

import (
	"errors"
	"fmt"
)

// Sentinel errors for the event bus.
var (
	// ErrEmptyName is returned when registering a handler without a name.
	ErrEmptyName = errors.New("handler name cannot be empty")

	// ErrNilAction is returned when registering a handler without an action.
	ErrNilAction = errors.New("handler action cannot be nil")

	// ErrInvalidType is returned for an unknown event type.
	ErrInvalidType = errors.New("invalid event type")

	// ErrHandlerPanic is wrapped by errors from handlers that panicked.
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrHandlerTimeout is wrapped by errors from handlers that exceeded
	// the configured per-handler timeout.
	ErrHandlerTimeout = errors.New("handler timeout exceeded")

	// ErrRecursionLimit is reported when EmitRecursive stops draining
	// queued events because the event or depth bound was reached.
	ErrRecursionLimit = errors.New("recursive emission limit reached")
)

// HandlerError is an error reported by one handler during one emission.
type HandlerError struct {
	// Handler is the name of the failing handler. Empty for errors raised
	// by the bus itself, such as ErrRecursionLimit.
	Handler string

	// Type and Identifier describe the event being processed.
	Type       Type
	Identifier string

	// Fatal errors stop the remaining chain for this emission.
	Fatal bool

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	kind := "handler error"
	if e.Fatal {
		kind = "fatal handler error"
	}
	if e.Handler == "" {
		return fmt.Sprintf("%s on %s %q: %v", kind, e.Type, e.Identifier, e.Err)
	}
	return fmt.Sprintf("%s in %q on %s %q: %v", kind, e.Handler, e.Type, e.Identifier, e.Err)
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Fatal marks err as fatal. A handler returning it stops the chain.
// Fatal(nil) returns nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &HandlerError{Fatal: true, Err: err}
}

// Fatalf is Fatal(fmt.Errorf(format, args...)).
func Fatalf(format string, args ...any) error {
	return Fatal(fmt.Errorf(format, args...))
}

// IsFatal reports whether err, or any error it wraps, is a fatal HandlerError.
func IsFatal(err error) bool {
	var he *HandlerError
	return errors.As(err, &he) && he.Fatal
}

// asHandlerError normalises an error returned by a handler.
func asHandlerError(h *Handler, e Event, err error) *HandlerError {
	he := &HandlerError{
		Handler:    h.Name,
		Type:       e.Type,
		Identifier: e.Identifier,
		Err:        err,
	}
	if marker, ok := err.(*HandlerError); ok && marker.Handler == "" {
		// Unwrap the marker added by Fatal so messages don't nest.
		he.Fatal = marker.Fatal
		he.Err = marker.Err
		return he
	}
	he.Fatal = IsFatal(err)
	return he
}
