package event

import (
	"time"

	"github.com/google/uuid"
)

// Event describes something that happened and is routed through the Bus.
//
// Only Payload and Cancelled may change while an event travels through a
// handler chain, and only through the value a handler returns. The bus
// restores every other field from the original before adopting a result.
type Event struct {
	// ID uniquely identifies this event instance.
	ID string

	// Type is the lifecycle event type.
	Type Type

	// Identifier is the subject handlers match their pattern against:
	// a tool name, a file path, or a custom event name.
	Identifier string

	// Payload is a semi-structured value tree (maps, slices, scalars).
	Payload any

	// TimestampMS is the creation time in Unix milliseconds.
	TimestampMS uint64

	// Cancelled requests that the chain stop. Honoured only when
	// Type.Cancellable() is true.
	Cancelled bool

	// Source names the component that produced the event. Empty when unknown.
	Source string
}

// New creates an event of the given type stamped with the current time.
func New(typ Type, identifier string, payload any) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        typ,
		Identifier:  identifier,
		Payload:     payload,
		TimestampMS: uint64(time.Now().UnixMilli()),
	}
}

// NewCustom creates a user-defined event. The name becomes the identifier.
func NewCustom(name string, payload any) Event {
	return New(Custom, name, payload)
}

// WithSource returns a copy of the event with the source set.
func (e Event) WithSource(source string) Event {
	e.Source = source
	return e
}

// WithPayload returns a copy of the event carrying payload.
func (e Event) WithPayload(payload any) Event {
	e.Payload = payload
	return e
}

// Cancel returns a cancelled copy of the event.
func (e Event) Cancel() Event {
	e.Cancelled = true
	return e
}

// Time returns the event timestamp.
func (e Event) Time() time.Time {
	return time.UnixMilli(int64(e.TimestampMS))
}

// PayloadMap returns the payload as a map, or nil if it is not one.
func (e Event) PayloadMap() map[string]any {
	m, _ := e.Payload.(map[string]any)
	return m
}

// clone returns a copy whose payload shares no mutable state with e.
func (e Event) clone() Event {
	e.Payload = ClonePayload(e.Payload)
	return e
}

// adopt takes the mutable fields from next and everything else from e.
func (e Event) adopt(next Event) Event {
	e.Payload = next.Payload
	e.Cancelled = next.Cancelled
	return e
}
