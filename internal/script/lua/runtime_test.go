package lua

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/ember/internal/event"
	"github.com/dshills/ember/internal/script"
)

func newTestRuntime(t *testing.T, opts ...RuntimeOption) *Runtime {
	t.Helper()
	rt := NewRuntime(opts...)
	t.Cleanup(func() { rt.Close() })
	return rt
}

// compileHandlers compiles src and registers its handlers on a new bus.
func compileHandlers(t *testing.T, rt *Runtime, src string, busOpts ...event.BusOption) *event.Bus {
	t.Helper()
	handlers, err := script.CompileFile(rt, "test.lua", []byte(src))
	require.NoError(t, err)

	bus := event.NewBus(busOpts...)
	for _, h := range handlers {
		require.NoError(t, bus.Register(h))
	}
	return bus
}

func TestRuntime_Compile(t *testing.T) {
	rt := newTestRuntime(t)

	unit, err := rt.Compile("a.lua", []byte(`
local function private() end
function one(ctx, e) return e end
two = function(ctx, e) return e end
function M.method() end
function obj:method() end
`))
	require.NoError(t, err)
	assert.Equal(t, "a.lua", unit.Name())
	assert.Equal(t, []string{"one", "two"}, unit.Functions())

	_, err = rt.Compile("bad.lua", []byte(`function broken(`))
	assert.Error(t, err)
}

func TestRuntime_CompileFileSyntaxError(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := script.CompileFile(rt, "bad.lua", []byte("-- @handler {event: custom}\nfunction f(ctx, e\n"))

	var ce *script.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "bad.lua", ce.Path)
}

func TestRuntime_MutatesPayload(t *testing.T) {
	rt := newTestRuntime(t)
	bus := compileHandlers(t, rt, `
-- @handler {event: "tool:before", pattern: "just_*", priority: 10}
function add_flag(ctx, event)
  event.payload.verbose = true
  event.payload.count = (event.payload.count or 0) + 1
  return event
end

-- @handler {event: "tool:before", priority: 20}
function record(ctx, event)
  ctx:set("seen", event.identifier)
  return nil
end
`)

	res := bus.Emit(context.Background(), event.New(event.ToolBefore, "just_test", map[string]any{"count": 1}))

	require.Empty(t, res.Errors)
	m := res.Event.PayloadMap()
	assert.Equal(t, true, m["verbose"])
	assert.Equal(t, int64(2), m["count"])
	seen, _ := res.Context.Get("seen")
	assert.Equal(t, "just_test", seen)
}

func TestRuntime_PassThroughKeepsEmptyLists(t *testing.T) {
	rt := newTestRuntime(t)
	bus := compileHandlers(t, rt, `
-- @handler {event: "tool:before"}
function pass(ctx, event)
  event.payload.fresh = {}
  return event
end
`)

	res := bus.Emit(context.Background(), event.New(event.ToolBefore, "t", map[string]any{
		"tags":  []any{},
		"n":     5,
		"names": []string{"a"},
	}))
	require.NoError(t, res.Err())

	p := res.Event.PayloadMap()
	assert.Equal(t, []any{}, p["tags"])
	assert.Equal(t, []any{"a"}, p["names"])
	assert.Equal(t, int64(5), p["n"])
	// A table made in Lua has no Go origin and stays an object.
	assert.Equal(t, map[string]any{}, p["fresh"])
}

func TestRuntime_Cancel(t *testing.T) {
	rt := newTestRuntime(t)
	bus := compileHandlers(t, rt, `
-- @handler {event: "tool:before", priority: 1}
function block(ctx, event)
  if event.payload.target == "prod" then
    return ember.cancel(event)
  end
  return event
end

-- @handler {event: "tool:before", priority: 2}
function after_block(ctx, event)
  ctx:set("reached", true)
  return event
end
`)

	res := bus.Emit(context.Background(), event.New(event.ToolBefore, "deploy", map[string]any{"target": "prod"}))
	assert.True(t, res.Event.Cancelled)
	assert.False(t, res.Context.Contains("reached"))

	res = bus.Emit(context.Background(), event.New(event.ToolBefore, "deploy", map[string]any{"target": "dev"}))
	assert.False(t, res.Event.Cancelled)
	assert.True(t, res.Context.Contains("reached"))
}

func TestRuntime_ErrorIsFailOpen(t *testing.T) {
	rt := newTestRuntime(t)
	bus := compileHandlers(t, rt, `
-- @handler {event: "tool:after", priority: 1}
function broken(ctx, event)
  event.payload.poison = true
  error("something went wrong")
end

-- @handler {event: "tool:after", priority: 2}
function fine(ctx, event)
  event.payload.fine = true
  return event
end
`)

	res := bus.Emit(context.Background(), event.New(event.ToolAfter, "t", map[string]any{}))

	require.Len(t, res.Errors, 1)
	he := res.Errors[0]
	assert.Equal(t, "broken", he.Handler)
	assert.False(t, he.Fatal)
	assert.Contains(t, he.Error(), "something went wrong")

	var se *ScriptError
	require.ErrorAs(t, he, &se)
	assert.Equal(t, "broken", se.Function)

	m := res.Event.PayloadMap()
	assert.NotContains(t, m, "poison")
	assert.Equal(t, true, m["fine"])
}

func TestRuntime_Fatal(t *testing.T) {
	for _, body := range []string{
		`ember.fatal("stop here")`,
		`error({fatal = true, message = "stop here"})`,
	} {
		t.Run(body, func(t *testing.T) {
			rt := newTestRuntime(t)
			bus := compileHandlers(t, rt, fmt.Sprintf(`
-- @handler {event: custom, priority: 1}
function stopper(ctx, event)
  %s
end

-- @handler {event: custom, priority: 2}
function never(ctx, event)
  ctx:set("ran", true)
  return event
end
`, body))

			res := bus.Emit(context.Background(), event.NewCustom("x", nil))
			require.Len(t, res.Errors, 1)
			assert.True(t, res.Errors[0].Fatal)
			assert.Contains(t, res.Errors[0].Error(), "stop here")
			assert.False(t, res.Context.Contains("ran"))
		})
	}
}

func TestRuntime_NonFatalTableError(t *testing.T) {
	rt := newTestRuntime(t)
	bus := compileHandlers(t, rt, `
-- @handler {event: custom}
function soft(ctx, event)
  error({message = "soft failure"})
end
`)
	res := bus.Emit(context.Background(), event.NewCustom("x", nil))
	require.Len(t, res.Errors, 1)
	assert.False(t, res.Errors[0].Fatal)
	assert.Contains(t, res.Errors[0].Error(), "soft failure")
}

func TestRuntime_BadReturn(t *testing.T) {
	rt := newTestRuntime(t)
	bus := compileHandlers(t, rt, `
-- @handler {event: custom}
function wrong(ctx, event)
  return 42
end
`)
	res := bus.Emit(context.Background(), event.NewCustom("x", nil))
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], ErrBadReturn)
}

func TestRuntime_EmitRecursive(t *testing.T) {
	rt := newTestRuntime(t)
	bus := compileHandlers(t, rt, `
-- @handler {event: "tool:after"}
function announce(ctx, event)
  ctx:emit_custom("tool_finished", {tool = event.identifier})
  ctx:emit({type = "note:modified", identifier = "log.md"})
  return event
end

-- @handler {event: custom, pattern: "tool_finished"}
function on_finished(ctx, event)
  ctx:set("tool", event.payload.tool)
  return event
end
`)

	res := bus.EmitRecursive(context.Background(), event.New(event.ToolAfter, "just_test", nil))

	require.Empty(t, res.Errors)
	require.Len(t, res.Processed, 3)
	assert.Equal(t, "tool_finished", res.Processed[1].Identifier)
	assert.Equal(t, map[string]any{"tool": "just_test"}, res.Processed[1].Payload)
	assert.Equal(t, event.NoteModified, res.Processed[2].Type)
}

func TestRuntime_SelfEmitIsBounded(t *testing.T) {
	rt := newTestRuntime(t)
	bus := compileHandlers(t, rt, `
-- @handler {event: custom, pattern: "loop"}
function loop(ctx, event)
  ctx:emit_custom("loop", nil)
  return event
end
`, event.WithMaxEvents(20))

	res := bus.EmitRecursive(context.Background(), event.NewCustom("loop", nil))
	assert.Len(t, res.Processed, 20)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], event.ErrRecursionLimit)
}

func TestRuntime_EmitBadType(t *testing.T) {
	rt := newTestRuntime(t)
	bus := compileHandlers(t, rt, `
-- @handler {event: custom}
function bad_emit(ctx, event)
  ctx:emit({type = "nope"})
  return event
end
`)
	res := bus.Emit(context.Background(), event.NewCustom("x", nil))
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error(), "invalid event type")
	assert.Empty(t, res.Context.Pending())
}

func TestRuntime_ContextMethods(t *testing.T) {
	rt := newTestRuntime(t)
	bus := compileHandlers(t, rt, `
-- @handler {event: custom}
function methods(ctx, event)
  ctx:set("a", {1, 2, 3})
  ctx:set("b", "x")
  assert(ctx:contains("a"))
  assert(ctx:get("b") == "x")
  assert(ctx:remove("b") == "x")
  assert(ctx:get("b") == nil)
  assert(#ctx:keys() == 1)
  return event
end
`)
	res := bus.Emit(context.Background(), event.NewCustom("x", nil))
	require.Empty(t, res.Errors)
	a, _ := res.Context.Get("a")
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, a)
}

func TestRuntime_Timeout(t *testing.T) {
	rt := newTestRuntime(t, WithCallTimeout(50*time.Millisecond))
	bus := compileHandlers(t, rt, `
-- @handler {event: custom}
function spin(ctx, event)
  while true do end
end
`)

	done := make(chan event.Result, 1)
	go func() { done <- bus.Emit(context.Background(), event.NewCustom("x", nil)) }()

	select {
	case res := <-done:
		require.Len(t, res.Errors, 1)
		assert.ErrorIs(t, res.Errors[0], ErrExecutionTimeout)
		assert.False(t, res.Errors[0].Fatal)
	case <-time.After(5 * time.Second):
		t.Fatal("runaway handler was not interrupted")
	}

	// The interrupted state is discarded, not returned to the pool.
	live, idle := rt.Stats()
	assert.Equal(t, 0, live)
	assert.Equal(t, 0, idle)
}

func TestRuntime_GlobalsDoNotLeak(t *testing.T) {
	rt := newTestRuntime(t, WithPoolSize(1))
	bus := compileHandlers(t, rt, `
counter = counter or 0

-- @handler {event: custom}
function count(ctx, event)
  counter = counter + 1
  ctx:set("counter", counter)
  leaked = true
  return event
end
`)

	for i := 0; i < 3; i++ {
		res := bus.Emit(context.Background(), event.NewCustom("x", nil))
		require.Empty(t, res.Errors)
		v, _ := res.Context.Get("counter")
		assert.Equal(t, int64(1), v)
	}
}

func TestRuntime_Log(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rt := newTestRuntime(t, WithLogger(logger))
	bus := compileHandlers(t, rt, `
-- @handler {event: custom}
function talk(ctx, event)
  ember.log("warn", "careful", {tool = "x"})
  print("hello", 1)
  return event
end
`)

	res := bus.Emit(context.Background(), event.NewCustom("x", nil))
	require.Empty(t, res.Errors)
	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "careful")
	assert.Contains(t, out, "tool=x")
	assert.Contains(t, out, "handler=test.lua:talk")
	assert.Contains(t, out, "hello\\t1")
}

func TestRuntime_Concurrent(t *testing.T) {
	rt := newTestRuntime(t, WithPoolSize(2))
	bus := compileHandlers(t, rt, `
-- @handler {event: "tool:before"}
function double(ctx, event)
  event.payload.n = event.payload.n * 2
  return event
end
`)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				res := bus.Emit(context.Background(), event.New(event.ToolBefore, "t", map[string]any{"n": n}))
				if len(res.Errors) > 0 {
					t.Errorf("emit: %v", res.Err())
					return
				}
				if got := res.Event.PayloadMap()["n"]; got != int64(n*2) {
					t.Errorf("n = %v, want %d", got, n*2)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	live, _ := rt.Stats()
	assert.LessOrEqual(t, live, 2)
}

func TestRuntime_Closed(t *testing.T) {
	rt := NewRuntime()
	unit, err := rt.Compile("a.lua", []byte(`function f(ctx, e) return e end`))
	require.NoError(t, err)
	require.NoError(t, rt.Close())

	_, err = rt.Invoke(context.Background(), unit, "f", event.NewContext(), event.NewCustom("x", nil))
	assert.ErrorIs(t, err, ErrRuntimeClosed)
}

func TestRuntime_ForeignUnit(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.Invoke(context.Background(), fakeUnit{}, "f", event.NewContext(), event.NewCustom("x", nil))
	assert.ErrorIs(t, err, ErrForeignUnit)
}

type fakeUnit struct{}

func (fakeUnit) Name() string        { return "fake" }
func (fakeUnit) Functions() []string { return nil }
