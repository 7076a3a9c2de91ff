package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dshills/ember/internal/event/dispatch"
	"github.com/dshills/ember/internal/pattern"
)

// Bus owns the handler table and routes events through it.
//
// Handlers of one emission run one at a time, in priority order, on the
// calling goroutine. Independent emissions may run concurrently. Register
// and Unregister swap in a new immutable handler table, so an emission in
// flight keeps seeing the table it started with.
type Bus struct {
	// mu serialises writers. Readers load the table without locking.
	mu    sync.Mutex
	table atomic.Pointer[table]
	seq   uint64

	dispatcher *dispatch.SyncDispatcher
	config     busConfig

	// Stats; per-handler outcomes are counted by the dispatcher.
	emissions        atomic.Uint64
	cancelled        atomic.Uint64
	recursionLimited atomic.Uint64
}

// Result is the outcome of Emit or EmitRecursive.
type Result struct {
	// Event is the root event as it left its handler chain.
	Event Event

	// Context is the root emission's context. After EmitRecursive its
	// queue has been drained.
	Context *Context

	// Errors lists every error reported, in the order they occurred.
	Errors []*HandlerError

	// Processed holds the final form of every event emitted, root first.
	// For Emit it holds only the root event.
	Processed []Event
}

// Err joins all reported errors, or returns nil.
func (r Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// HasFatal returns true if any reported error was fatal.
func (r Result) HasFatal() bool {
	for _, e := range r.Errors {
		if e.Fatal {
			return true
		}
	}
	return false
}

// NewBus creates a new event bus with the given options.
func NewBus(opts ...BusOption) *Bus {
	config := defaultBusConfig()
	for _, opt := range opts {
		opt(&config)
	}

	b := &Bus{config: config}
	b.table.Store(emptyTable)
	b.dispatcher = dispatch.NewSyncDispatcher(
		dispatch.WithTimeout(config.handlerTimeout),
		dispatch.WithPanicHandler(func(v any, stack []byte) {
			b.config.logger.Error("handler panicked", "panic", v, "stack", string(stack))
		}),
	)
	return b
}

// Register adds h, replacing any handler with the same name. A replaced
// handler's position among equal priorities is kept.
// This method is safe to call concurrently with emissions.
func (b *Bus) Register(h Handler) error {
	return b.Replace(nil, []Handler{h})
}

// Replace unregisters the named handlers and registers add as one change:
// an emission sees either none of it or all of it. Handlers in add replace
// those of the same name and keep their position among equal priorities.
// If any handler in add is invalid nothing changes.
func (b *Bus) Replace(remove []string, add []Handler) error {
	entries := make([]*entry, 0, len(add))
	for _, h := range add {
		if err := h.Validate(); err != nil {
			return err
		}
		if h.Pattern == "" {
			h.Pattern = pattern.Any
		}
		entries = append(entries, &entry{
			handler: h,
			pattern: pattern.Compile(h.Pattern),
		})
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.table.Load()
	for _, e := range entries {
		if old, ok := current.byName[e.handler.Name]; ok {
			e.seq = old.seq
			continue
		}
		b.seq++
		e.seq = b.seq
	}
	b.table.Store(current.replace(remove, entries))
	return nil
}

// Unregister removes the named handler. It returns false if no handler had
// that name.
func (b *Bus) Unregister(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.table.Load()
	if _, ok := current.byName[name]; !ok {
		return false
	}
	b.table.Store(current.without(name))
	return true
}

// SetEnabled toggles the named handler without changing its position.
// It returns false if no handler had that name.
func (b *Bus) SetEnabled(name string, enabled bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.table.Load()
	old, ok := current.byName[name]
	if !ok {
		return false
	}
	e := *old
	e.handler.Enabled = enabled
	b.table.Store(current.with(&e))
	return true
}

// Clear removes every handler.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.table.Store(emptyTable)
}

// GetHandler returns the named handler.
func (b *Bus) GetHandler(name string) (Handler, bool) {
	e, ok := b.table.Load().byName[name]
	if !ok {
		return Handler{}, false
	}
	return e.handler, true
}

// CountHandlers returns the number of handlers registered for typ,
// enabled or not.
func (b *Bus) CountHandlers(typ Type) int {
	return len(b.table.Load().byType[typ])
}

// Len returns the total number of registered handlers.
func (b *Bus) Len() int {
	return len(b.table.Load().byName)
}

// Handlers returns all registered handlers grouped by type, each group in
// dispatch order.
func (b *Bus) Handlers() []Handler {
	entries := b.table.Load().all()
	out := make([]Handler, len(entries))
	for i, e := range entries {
		out[i] = e.handler
	}
	return out
}

// Emit routes e through every enabled handler of its type whose pattern
// matches e.Identifier, lowest priority first.
//
// A handler's returned event replaces the current one. A non-fatal error
// keeps the event as it was before that handler and the chain continues; a
// fatal error stops the chain. A cancelled event stops the chain when its
// type is cancellable. Events queued on the context are left there; use
// EmitRecursive to process them.
func (b *Bus) Emit(ctx context.Context, e Event) Result {
	r := b.emit(ctx, e)
	r.Processed = []Event{r.Event}
	return r
}

// EmitRecursive emits e and then drains the events handlers queued,
// breadth-first, each as a fresh emission. Draining stops once the
// configured number of emissions or queue depth is reached; the remaining
// events are dropped and a non-fatal error wrapping ErrRecursionLimit is
// reported.
func (b *Bus) EmitRecursive(ctx context.Context, e Event) Result {
	root := b.emit(ctx, e)
	root.Processed = []Event{root.Event}

	type queued struct {
		event Event
		depth int
	}

	var queue []queued
	for _, q := range root.Context.take() {
		queue = append(queue, queued{event: q, depth: 1})
	}

	count := 1
	for len(queue) > 0 {
		next := queue[0]
		if count >= b.config.maxEvents || next.depth > b.config.maxDepth {
			err := fmt.Errorf("%w: %d events processed, depth %d, %d queued events dropped",
				ErrRecursionLimit, count, next.depth, len(queue))
			root.Errors = append(root.Errors, &HandlerError{
				Type:       next.event.Type,
				Identifier: next.event.Identifier,
				Err:        err,
			})
			b.recursionLimited.Add(1)
			b.config.logger.Warn("recursive emission bounded",
				"root_type", e.Type,
				"root_identifier", e.Identifier,
				"error", err)
			break
		}
		queue = queue[1:]

		r := b.emit(ctx, next.event)
		count++
		root.Processed = append(root.Processed, r.Event)
		root.Errors = append(root.Errors, r.Errors...)
		for _, q := range r.Context.take() {
			queue = append(queue, queued{event: q, depth: next.depth + 1})
		}
	}

	return root
}

// emit runs one handler chain against a single table snapshot.
func (b *Bus) emit(ctx context.Context, e Event) Result {
	defer b.emissions.Add(1)

	entries := b.table.Load().match(e)
	ec := NewContext()
	current := e

	var errs []*HandlerError
	for _, en := range entries {
		h := &en.handler
		input := current.clone()

		var out Event
		res := b.dispatcher.Dispatch(ctx, func(ctx context.Context) error {
			var err error
			out, err = h.Action.Process(ctx, ec, input)
			return err
		})

		if res.Skipped {
			// The caller's context is done; nothing further can run.
			errs = append(errs, &HandlerError{
				Handler:    h.Name,
				Type:       current.Type,
				Identifier: current.Identifier,
				Err:        res.Error,
			})
			break
		}

		if res.Error != nil {
			he := b.handlerError(h, current, res)
			errs = append(errs, he)
			b.config.logger.Debug("handler reported error",
				"handler", h.Name,
				"type", current.Type,
				"identifier", current.Identifier,
				"fatal", he.Fatal,
				"error", he.Err)
			if he.Fatal {
				break
			}
			continue
		}

		current = current.adopt(out)
		if current.Cancelled {
			if current.Type.Cancellable() {
				b.cancelled.Add(1)
				break
			}
			current.Cancelled = false
		}
	}

	return Result{Event: current, Context: ec, Errors: errs}
}

// handlerError converts a failed dispatch result into a HandlerError.
// Panics and timeouts are never fatal.
func (b *Bus) handlerError(h *Handler, e Event, res dispatch.Result) *HandlerError {
	switch {
	case res.Panicked:
		return &HandlerError{
			Handler:    h.Name,
			Type:       e.Type,
			Identifier: e.Identifier,
			Err:        fmt.Errorf("%w: %v", ErrHandlerPanic, res.PanicValue),
		}
	case res.TimedOut:
		return &HandlerError{
			Handler:    h.Name,
			Type:       e.Type,
			Identifier: e.Identifier,
			Err:        fmt.Errorf("%w: %w", ErrHandlerTimeout, res.Error),
		}
	default:
		return asHandlerError(h, e, res.Error)
	}
}

// Stats returns current bus statistics.
func (b *Bus) Stats() Stats {
	d := b.dispatcher.Stats()
	return Stats{
		Emissions:        b.emissions.Load(),
		HandlersExecuted: d.Dispatched - d.Skipped,
		HandlerErrors:    d.Failed + d.Panicked + d.TimedOut,
		HandlerPanics:    d.Panicked,
		HandlerTimeouts:  d.TimedOut,
		HandlerTime:      d.TotalDuration,
		Cancelled:        b.cancelled.Load(),
		RecursionLimited: b.recursionLimited.Load(),
		Handlers:         b.Len(),
	}
}

// Logger returns the bus logger.
func (b *Bus) Logger() *slog.Logger {
	return b.config.logger
}
