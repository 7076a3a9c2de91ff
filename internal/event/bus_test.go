package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// appendMarker returns a handler that appends marker to payload["trail"].
func appendMarker(marker string) ActionFunc {
	return func(ctx context.Context, ec *Context, e Event) (Event, error) {
		m := e.PayloadMap()
		trail, _ := m["trail"].([]any)
		m["trail"] = append(trail, marker)
		return e, nil
	}
}

func trailOf(t *testing.T, e Event) []any {
	t.Helper()
	trail, _ := e.PayloadMap()["trail"].([]any)
	return trail
}

func newPayload() map[string]any {
	return map[string]any{"trail": []any{}}
}

func TestBus_PriorityOrder(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Register(NewHandler("late", ToolBefore, appendMarker("late")).WithPriority(20)))
	require.NoError(t, bus.Register(NewHandler("early", ToolBefore, appendMarker("early")).WithPriority(10)))

	res := bus.Emit(context.Background(), New(ToolBefore, "just_test", newPayload()))

	require.Empty(t, res.Errors)
	assert.Equal(t, []any{"early", "late"}, trailOf(t, res.Event))
}

func TestBus_TiesKeepRegistrationOrder(t *testing.T) {
	bus := NewBus()
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, bus.Register(NewHandler(name, ToolAfter, appendMarker(name))))
	}

	res := bus.Emit(context.Background(), New(ToolAfter, "tool", newPayload()))
	assert.Equal(t, []any{"a", "b", "c"}, trailOf(t, res.Event))
}

func TestBus_PatternFiltering(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Register(NewHandler("just", ToolBefore, appendMarker("just")).WithPattern("just_*")))
	require.NoError(t, bus.Register(NewHandler("all", ToolBefore, appendMarker("all")).WithPriority(200)))

	res := bus.Emit(context.Background(), New(ToolBefore, "test_just", newPayload()))
	assert.Equal(t, []any{"all"}, trailOf(t, res.Event))

	res = bus.Emit(context.Background(), New(ToolBefore, "just_build", newPayload()))
	assert.Equal(t, []any{"just", "all"}, trailOf(t, res.Event))
}

func TestBus_TypeFiltering(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Register(NewHandler("after", ToolAfter, appendMarker("after"))))

	res := bus.Emit(context.Background(), New(ToolBefore, "x", newPayload()))
	assert.Empty(t, trailOf(t, res.Event))
}

func TestBus_CustomEventsMatchByIdentifier(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Register(NewHandler("deploy", Custom, appendMarker("deploy")).WithPattern("deploy:*")))

	res := bus.Emit(context.Background(), NewCustom("deploy:prod", newPayload()))
	assert.Equal(t, []any{"deploy"}, trailOf(t, res.Event))

	res = bus.Emit(context.Background(), NewCustom("build", newPayload()))
	assert.Empty(t, trailOf(t, res.Event))
}

func TestBus_DisabledHandlersSkipped(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Register(NewHandler("off", ToolBefore, appendMarker("off")).WithEnabled(false)))

	res := bus.Emit(context.Background(), New(ToolBefore, "x", newPayload()))
	assert.Empty(t, trailOf(t, res.Event))
	assert.Equal(t, 1, bus.CountHandlers(ToolBefore))

	require.True(t, bus.SetEnabled("off", true))
	res = bus.Emit(context.Background(), New(ToolBefore, "x", newPayload()))
	assert.Equal(t, []any{"off"}, trailOf(t, res.Event))
}

func TestBus_CancelStopsChain(t *testing.T) {
	bus := NewBus()
	called := false

	require.NoError(t, bus.Register(NewHandlerFunc("canceller", ToolBefore,
		func(ctx context.Context, ec *Context, e Event) (Event, error) {
			return e.Cancel(), nil
		}).WithPriority(10)))
	require.NoError(t, bus.Register(NewHandlerFunc("recorder", ToolBefore,
		func(ctx context.Context, ec *Context, e Event) (Event, error) {
			called = true
			return e, nil
		}).WithPriority(20)))

	res := bus.Emit(context.Background(), New(ToolBefore, "rm_rf", nil))

	assert.False(t, called, "handler after the cancelling one must not run")
	assert.True(t, res.Event.Cancelled)
	assert.Empty(t, res.Errors)
	assert.Equal(t, uint64(1), bus.Stats().Cancelled)
}

func TestBus_CancelIgnoredForNonCancellableTypes(t *testing.T) {
	bus := NewBus()
	called := false

	require.NoError(t, bus.Register(NewHandlerFunc("canceller", NoteParsed,
		func(ctx context.Context, ec *Context, e Event) (Event, error) {
			return e.Cancel(), nil
		}).WithPriority(10)))
	require.NoError(t, bus.Register(NewHandlerFunc("recorder", NoteParsed,
		func(ctx context.Context, ec *Context, e Event) (Event, error) {
			called = true
			return e, nil
		}).WithPriority(20)))

	res := bus.Emit(context.Background(), New(NoteParsed, "notes/a.md", nil))

	assert.True(t, called)
	assert.False(t, res.Event.Cancelled)
}

func TestBus_FailOpen(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Register(NewHandler("first", ToolBefore, appendMarker("first")).WithPriority(10)))
	require.NoError(t, bus.Register(NewHandlerFunc("broken", ToolBefore,
		func(ctx context.Context, ec *Context, e Event) (Event, error) {
			// Mutate before failing; the mutation must not leak.
			e.PayloadMap()["trail"] = []any{"garbage"}
			e.PayloadMap()["poison"] = true
			return e, errors.New("boom")
		}).WithPriority(20)))
	require.NoError(t, bus.Register(NewHandler("last", ToolBefore, appendMarker("last")).WithPriority(30)))

	res := bus.Emit(context.Background(), New(ToolBefore, "x", newPayload()))

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "broken", res.Errors[0].Handler)
	assert.False(t, res.Errors[0].Fatal)
	assert.Equal(t, []any{"first", "last"}, trailOf(t, res.Event))
	assert.NotContains(t, res.Event.PayloadMap(), "poison")
}

func TestBus_FatalStopsChain(t *testing.T) {
	bus := NewBus()
	called := false

	require.NoError(t, bus.Register(NewHandlerFunc("fatal", ToolAfter,
		func(ctx context.Context, ec *Context, e Event) (Event, error) {
			return e, Fatalf("cannot continue")
		}).WithPriority(10)))
	require.NoError(t, bus.Register(NewHandlerFunc("next", ToolAfter,
		func(ctx context.Context, ec *Context, e Event) (Event, error) {
			called = true
			return e, nil
		}).WithPriority(20)))

	res := bus.Emit(context.Background(), New(ToolAfter, "x", nil))

	assert.False(t, called)
	require.Len(t, res.Errors, 1)
	assert.True(t, res.Errors[0].Fatal)
	assert.Equal(t, "fatal", res.Errors[0].Handler)
	assert.EqualError(t, res.Errors[0].Err, "cannot continue")
	assert.True(t, res.HasFatal())
}

func TestBus_WrappedFatal(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Register(NewHandlerFunc("wrapped", ToolAfter,
		func(ctx context.Context, ec *Context, e Event) (Event, error) {
			return e, fmt.Errorf("context: %w", Fatal(errors.New("inner")))
		})))

	res := bus.Emit(context.Background(), New(ToolAfter, "x", nil))
	require.Len(t, res.Errors, 1)
	assert.True(t, res.Errors[0].Fatal)
}

func TestBus_PanicIsNonFatal(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Register(NewHandlerFunc("panics", ToolBefore,
		func(ctx context.Context, ec *Context, e Event) (Event, error) {
			panic("kaboom")
		}).WithPriority(1)))
	require.NoError(t, bus.Register(NewHandler("after", ToolBefore, appendMarker("after")).WithPriority(2)))

	res := bus.Emit(context.Background(), New(ToolBefore, "x", newPayload()))

	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], ErrHandlerPanic)
	assert.False(t, res.Errors[0].Fatal)
	assert.Equal(t, []any{"after"}, trailOf(t, res.Event))
	stats := bus.Stats()
	assert.Equal(t, uint64(1), stats.HandlerPanics)
	assert.Equal(t, uint64(1), stats.HandlerErrors)
	assert.Equal(t, uint64(2), stats.HandlersExecuted)
}

func TestBus_HandlerTimeout(t *testing.T) {
	bus := NewBus(WithHandlerTimeout(20 * time.Millisecond))
	require.NoError(t, bus.Register(NewHandlerFunc("slow", ToolBefore,
		func(ctx context.Context, ec *Context, e Event) (Event, error) {
			<-ctx.Done()
			return e, ctx.Err()
		})))

	res := bus.Emit(context.Background(), New(ToolBefore, "x", nil))

	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], ErrHandlerTimeout)
	assert.False(t, res.Errors[0].Fatal)

	stats := bus.Stats()
	assert.Equal(t, uint64(1), stats.HandlerTimeouts)
	assert.Equal(t, uint64(1), stats.HandlerErrors)
	assert.Positive(t, stats.HandlerTime)
}

func TestBus_OverrideByName(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Register(NewHandler("x", ToolBefore, appendMarker("first"))))
	require.NoError(t, bus.Register(NewHandler("x", ToolBefore, appendMarker("second"))))

	assert.Equal(t, 1, bus.CountHandlers(ToolBefore))
	res := bus.Emit(context.Background(), New(ToolBefore, "t", newPayload()))
	assert.Equal(t, []any{"second"}, trailOf(t, res.Event))
}

func TestBus_OverrideKeepsTiePosition(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Register(NewHandler("a", ToolBefore, appendMarker("a"))))
	require.NoError(t, bus.Register(NewHandler("b", ToolBefore, appendMarker("b"))))
	require.NoError(t, bus.Register(NewHandler("a", ToolBefore, appendMarker("a2"))))

	res := bus.Emit(context.Background(), New(ToolBefore, "t", newPayload()))
	assert.Equal(t, []any{"a2", "b"}, trailOf(t, res.Event))
}

func TestBus_Replace(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Register(NewHandler("a", ToolBefore, appendMarker("a"))))
	require.NoError(t, bus.Register(NewHandler("b", ToolBefore, appendMarker("b"))))
	require.NoError(t, bus.Register(NewHandler("c", ToolBefore, appendMarker("c"))))

	err := bus.Replace([]string{"a", "missing"}, []Handler{
		NewHandler("c", ToolBefore, appendMarker("c2")),
		NewHandler("d", ToolBefore, appendMarker("d")).WithPriority(1),
	})
	require.NoError(t, err)

	res := bus.Emit(context.Background(), New(ToolBefore, "t", newPayload()))
	assert.Equal(t, []any{"d", "b", "c2"}, trailOf(t, res.Event))

	// An invalid handler rejects the whole change.
	err = bus.Replace([]string{"b"}, []Handler{
		NewHandler("e", ToolBefore, appendMarker("e")),
		NewHandler("", ToolBefore, appendMarker("bad")),
	})
	require.Error(t, err)
	assert.Equal(t, 3, bus.Len())
	_, ok := bus.GetHandler("e")
	assert.False(t, ok)
}

func TestBus_OverrideCanChangeType(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Register(NewHandler("x", ToolBefore, appendMarker("a"))))
	require.NoError(t, bus.Register(NewHandler("x", ToolAfter, appendMarker("b"))))

	assert.Equal(t, 0, bus.CountHandlers(ToolBefore))
	assert.Equal(t, 1, bus.CountHandlers(ToolAfter))
	h, ok := bus.GetHandler("x")
	require.True(t, ok)
	assert.Equal(t, ToolAfter, h.Type)
}

func TestBus_UnregisterAbsentIsNoop(t *testing.T) {
	bus := NewBus()
	assert.False(t, bus.Unregister("missing"))

	require.NoError(t, bus.Register(NewHandler("x", ToolBefore, appendMarker("x"))))
	assert.True(t, bus.Unregister("x"))
	assert.Equal(t, 0, bus.CountHandlers(ToolBefore))
	_, ok := bus.GetHandler("x")
	assert.False(t, ok)
}

func TestBus_RegisterValidation(t *testing.T) {
	bus := NewBus()
	noop := appendMarker("x")

	assert.ErrorIs(t, bus.Register(NewHandler("", ToolBefore, noop)), ErrEmptyName)
	assert.ErrorIs(t, bus.Register(NewHandler("n", ToolBefore, nil)), ErrNilAction)
	assert.ErrorIs(t, bus.Register(NewHandler("n", Type("bogus"), noop)), ErrInvalidType)
}

func TestBus_ContextSharedWithinEmission(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Register(NewHandlerFunc("writer", ToolBefore,
		func(ctx context.Context, ec *Context, e Event) (Event, error) {
			ec.Set("seen_by_writer", e.Identifier)
			return e, nil
		}).WithPriority(1)))

	var got any
	require.NoError(t, bus.Register(NewHandlerFunc("reader", ToolBefore,
		func(ctx context.Context, ec *Context, e Event) (Event, error) {
			got, _ = ec.Get("seen_by_writer")
			return e, nil
		}).WithPriority(2)))

	res := bus.Emit(context.Background(), New(ToolBefore, "tool_x", nil))
	assert.Equal(t, "tool_x", got)
	assert.True(t, res.Context.Contains("seen_by_writer"))

	// A fresh emission gets a fresh context.
	res = bus.Emit(context.Background(), New(ToolAfter, "tool_x", nil))
	assert.False(t, res.Context.Contains("seen_by_writer"))
}

func TestBus_ImmutableFieldsRestored(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Register(NewHandlerFunc("rewriter", ToolBefore,
		func(ctx context.Context, ec *Context, e Event) (Event, error) {
			e.Identifier = "hijacked"
			e.Type = ToolAfter
			e.Payload = "changed"
			return e, nil
		})))

	in := New(ToolBefore, "original", nil).WithSource("test")
	res := bus.Emit(context.Background(), in)

	assert.Equal(t, "original", res.Event.Identifier)
	assert.Equal(t, ToolBefore, res.Event.Type)
	assert.Equal(t, in.ID, res.Event.ID)
	assert.Equal(t, "test", res.Event.Source)
	assert.Equal(t, "changed", res.Event.Payload)
}

func TestBus_EmitLeavesQueuedEvents(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Register(NewHandlerFunc("emitter", ToolAfter,
		func(ctx context.Context, ec *Context, e Event) (Event, error) {
			ec.EmitCustom("followup", nil)
			return e, nil
		})))

	res := bus.Emit(context.Background(), New(ToolAfter, "x", nil))
	require.Len(t, res.Context.Pending(), 1)
	assert.Equal(t, "followup", res.Context.Pending()[0].Identifier)
	assert.Len(t, res.Processed, 1)
}

func TestBus_EmitRecursiveDrains(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Register(NewHandlerFunc("emitter", ToolAfter,
		func(ctx context.Context, ec *Context, e Event) (Event, error) {
			ec.EmitCustom("notify", map[string]any{"tool": e.Identifier})
			return e, nil
		})))

	var seen []string
	require.NoError(t, bus.Register(NewHandlerFunc("notify", Custom,
		func(ctx context.Context, ec *Context, e Event) (Event, error) {
			seen = append(seen, e.PayloadMap()["tool"].(string))
			return e, nil
		}).WithPattern("notify")))

	res := bus.EmitRecursive(context.Background(), New(ToolAfter, "just_test", nil))

	require.Empty(t, res.Errors)
	require.Len(t, res.Processed, 2)
	assert.Equal(t, ToolAfter, res.Processed[0].Type)
	assert.Equal(t, "notify", res.Processed[1].Identifier)
	assert.Equal(t, []string{"just_test"}, seen)
	assert.Empty(t, res.Context.Pending())
}

func TestBus_EmitRecursiveBreadthFirst(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Register(NewHandlerFunc("root", Custom,
		func(ctx context.Context, ec *Context, e Event) (Event, error) {
			ec.EmitCustom("a", nil)
			ec.EmitCustom("b", nil)
			return e, nil
		}).WithPattern("root")))
	require.NoError(t, bus.Register(NewHandlerFunc("a", Custom,
		func(ctx context.Context, ec *Context, e Event) (Event, error) {
			ec.EmitCustom("a.child", nil)
			return e, nil
		}).WithPattern("a")))

	res := bus.EmitRecursive(context.Background(), NewCustom("root", nil))

	var order []string
	for _, e := range res.Processed {
		order = append(order, e.Identifier)
	}
	assert.Equal(t, []string{"root", "a", "b", "a.child"}, order)
}

func TestBus_EmitRecursiveBoundedByEvents(t *testing.T) {
	bus := NewBus(WithMaxEvents(5), WithMaxDepth(1000))
	require.NoError(t, bus.Register(NewHandlerFunc("loop", Custom,
		func(ctx context.Context, ec *Context, e Event) (Event, error) {
			ec.EmitCustom("loop", nil)
			return e, nil
		}).WithPattern("loop")))

	done := make(chan Result, 1)
	go func() { done <- bus.EmitRecursive(context.Background(), NewCustom("loop", nil)) }()

	select {
	case res := <-done:
		assert.Len(t, res.Processed, 5)
		require.Len(t, res.Errors, 1)
		assert.ErrorIs(t, res.Errors[0], ErrRecursionLimit)
		assert.False(t, res.Errors[0].Fatal)
		assert.Equal(t, uint64(1), bus.Stats().RecursionLimited)
	case <-time.After(5 * time.Second):
		t.Fatal("EmitRecursive did not terminate")
	}
}

func TestBus_EmitRecursiveBoundedByDepth(t *testing.T) {
	bus := NewBus(WithMaxEvents(1000), WithMaxDepth(3))
	require.NoError(t, bus.Register(NewHandlerFunc("loop", Custom,
		func(ctx context.Context, ec *Context, e Event) (Event, error) {
			ec.EmitCustom("loop", nil)
			return e, nil
		}).WithPattern("loop")))

	res := bus.EmitRecursive(context.Background(), NewCustom("loop", nil))

	// Root plus depths 1..3.
	assert.Len(t, res.Processed, 4)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], ErrRecursionLimit)
}

func TestBus_CallerContextCancelled(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Register(NewHandler("x", ToolBefore, appendMarker("x"))))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := bus.Emit(ctx, New(ToolBefore, "t", newPayload()))
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], context.Canceled)
	assert.Empty(t, trailOf(t, res.Event))
}

func TestBus_Handlers(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Register(NewHandler("after", ToolAfter, appendMarker("a"))))
	require.NoError(t, bus.Register(NewHandler("before-late", ToolBefore, appendMarker("b")).WithPriority(50)))
	require.NoError(t, bus.Register(NewHandler("before-early", ToolBefore, appendMarker("c")).WithPriority(5)))

	var names []string
	for _, h := range bus.Handlers() {
		names = append(names, h.Name)
	}
	assert.Equal(t, []string{"before-early", "before-late", "after"}, names)
	assert.Equal(t, 3, bus.Len())

	bus.Clear()
	assert.Equal(t, 0, bus.Len())
}

func TestBus_ConcurrentEmitAndRegister(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Register(NewHandler("base", ToolBefore, appendMarker("base"))))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			name := fmt.Sprintf("dyn-%d", i%4)
			_ = bus.Register(NewHandler(name, ToolBefore, appendMarker(name)))
			bus.Unregister(fmt.Sprintf("dyn-%d", (i+2)%4))
		}
	}()

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				res := bus.Emit(context.Background(), New(ToolBefore, "t", newPayload()))
				trail := trailOf(t, res.Event)
				if len(trail) == 0 || trail[0] != "base" {
					t.Errorf("base handler missing from trail %v", trail)
					return
				}
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
}
