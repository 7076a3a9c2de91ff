package script

import (
	"context"

	"github.com/dshills/ember/internal/event"
)

// Action is the script-backed event.Action. It owns a compiled unit and
// the runtime that invokes it, so the bus never distinguishes script
// handlers from Go ones.
type Action struct {
	runtime  Runtime
	unit     Unit
	function string
}

// NewAction binds fn in unit to rt.
func NewAction(rt Runtime, unit Unit, fn string) *Action {
	return &Action{runtime: rt, unit: unit, function: fn}
}

// Process implements event.Action.
func (a *Action) Process(ctx context.Context, ec *event.Context, e event.Event) (event.Event, error) {
	return a.runtime.Invoke(ctx, a.unit, a.function, ec, e)
}

// Function returns the script function name.
func (a *Action) Function() string {
	return a.function
}

// Unit returns the compiled unit.
func (a *Action) Unit() Unit {
	return a.unit
}
