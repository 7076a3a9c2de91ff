// Package event provides the event bus that routes lifecycle events through
// ordered chains of handlers.
//
// # Events
//
// An Event carries a Type (tool:before, note:parsed, custom, ...), an
// Identifier that handlers match against (a tool name, a file path, or a
// custom event name), and a semi-structured Payload. Handlers may change
// only the payload and the cancelled flag, and only through the event they
// return.
//
// # Handlers
//
// A Handler is named, prioritized, and filtered by a glob pattern over the
// identifier. Its Action is either a Go function (ActionFunc) or a compiled
// script; the bus treats both the same way:
//
//	bus := event.NewBus()
//	bus.Register(event.NewHandlerFunc("audit", event.ToolBefore,
//	    func(ctx context.Context, ec *event.Context, e event.Event) (event.Event, error) {
//	        ec.Set("audited", true)
//	        return e, nil
//	    }).WithPattern("just_*").WithPriority(10))
//
// Registering a name again replaces the previous handler. This is how
// scripts are reloaded.
//
// # Dispatch
//
//	res := bus.Emit(ctx, event.New(event.ToolBefore, "just_test", args))
//	for _, err := range res.Errors {
//	    log.Warn("hook failed", "error", err)
//	}
//
// Handlers run sequentially, lowest priority first, ties in registration
// order. Errors are fail-open: a failing handler leaves the event as it was
// and the chain continues, unless the error was wrapped with Fatal, which
// stops that one chain. Panics and per-handler timeouts are reported as
// non-fatal errors.
//
// For cancellable types a handler may return a cancelled event to stop the
// chain early.
//
// # Follow-up events
//
// Handlers queue further events on the emission Context. EmitRecursive
// processes them breadth-first after the chain finishes, bounded by
// WithMaxEvents and WithMaxDepth so self-emitting handlers terminate.
package event
