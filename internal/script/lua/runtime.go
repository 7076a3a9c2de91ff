package lua

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"

	"github.com/dshills/ember/internal/event"
	"github.com/dshills/ember/internal/log"
	"github.com/dshills/ember/internal/script"
)

// DefaultCallTimeout bounds a single handler invocation.
const DefaultCallTimeout = 5 * time.Second

// Unit is a compiled Lua file.
type Unit struct {
	name      string
	proto     *lua.FunctionProto
	functions []string
}

// Name implements script.Unit.
func (u *Unit) Name() string { return u.name }

// Functions implements script.Unit.
func (u *Unit) Functions() []string { return u.functions }

// Runtime implements script.Runtime with a pool of sandboxed states.
type Runtime struct {
	poolSize    int
	callTimeout time.Duration
	logger      *slog.Logger
	stateOpts   []StateOption

	idle      chan *State
	created   atomic.Int64
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

var _ script.Runtime = (*Runtime)(nil)

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithPoolSize sets the maximum number of Lua states, which bounds how many
// handlers run at once. Defaults to GOMAXPROCS.
func WithPoolSize(n int) RuntimeOption {
	return func(r *Runtime) {
		if n > 0 {
			r.poolSize = n
		}
	}
}

// WithCallTimeout bounds each invocation. Zero disables the bound.
func WithCallTimeout(d time.Duration) RuntimeOption {
	return func(r *Runtime) {
		r.callTimeout = d
	}
}

// WithLogger sets the logger for print and ember.log.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithStateOptions passes options to every state the pool creates.
func WithStateOptions(opts ...StateOption) RuntimeOption {
	return func(r *Runtime) {
		r.stateOpts = append(r.stateOpts, opts...)
	}
}

// NewRuntime creates a runtime. States are created on demand.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		poolSize:    runtime.GOMAXPROCS(0),
		callTimeout: DefaultCallTimeout,
		logger:      log.WithComponent("lua"),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.idle = make(chan *State, r.poolSize)
	return r
}

// Extensions implements script.Runtime.
func (r *Runtime) Extensions() []string {
	return []string{".lua"}
}

// Compile parses src into a function prototype. Top-level statements are
// not run until Invoke.
func (r *Runtime) Compile(name string, src []byte) (script.Unit, error) {
	chunk, err := parse.Parse(bytes.NewReader(src), name)
	if err != nil {
		return nil, err
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, err
	}
	return &Unit{
		name:      name,
		proto:     proto,
		functions: globalFunctions(chunk),
	}, nil
}

// globalFunctions lists the global functions defined at the top level of a
// chunk, either as `function name()` or `name = function()`.
func globalFunctions(chunk []ast.Stmt) []string {
	var names []string
	for _, stmt := range chunk {
		switch st := stmt.(type) {
		case *ast.FuncDefStmt:
			if st.Name == nil || st.Name.Receiver != nil {
				continue
			}
			if id, ok := st.Name.Func.(*ast.IdentExpr); ok {
				names = append(names, id.Value)
			}
		case *ast.AssignStmt:
			for i, lhs := range st.Lhs {
				id, ok := lhs.(*ast.IdentExpr)
				if !ok || i >= len(st.Rhs) {
					continue
				}
				if _, ok := st.Rhs[i].(*ast.FunctionExpr); ok {
					names = append(names, id.Value)
				}
			}
		}
	}
	return names
}

// Invoke implements script.Runtime.
func (r *Runtime) Invoke(ctx context.Context, unit script.Unit, fn string, ec *event.Context, e event.Event) (event.Event, error) {
	u, ok := unit.(*Unit)
	if !ok {
		return e, ErrForeignUnit
	}

	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}

	s, err := r.acquire(ctx)
	if err != nil {
		return e, err
	}

	out, err := s.invoke(ctx, u, fn, ec, e)
	// A state interrupted by its context may be mid-call; don't reuse it.
	r.release(s, ctx.Err() != nil)
	return out, err
}

// Close releases idle states. States in use are closed when released.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
		for {
			select {
			case s := <-r.idle:
				_ = s.Close()
				r.created.Add(-1)
			default:
				return
			}
		}
	})
	return nil
}

// Stats returns the number of live and idle states.
func (r *Runtime) Stats() (live, idle int) {
	return int(r.created.Load()), len(r.idle)
}

func (r *Runtime) acquire(ctx context.Context) (*State, error) {
	if r.closed.Load() {
		return nil, ErrRuntimeClosed
	}

	select {
	case s := <-r.idle:
		return s, nil
	default:
	}

	if r.created.Add(1) <= int64(r.poolSize) {
		s, err := r.newState()
		if err != nil {
			r.created.Add(-1)
			return nil, err
		}
		return s, nil
	}
	r.created.Add(-1)

	select {
	case s := <-r.idle:
		return s, nil
	case <-ctx.Done():
		return nil, contextError(ctx, "")
	case <-r.done:
		return nil, ErrRuntimeClosed
	}
}

func (r *Runtime) release(s *State, discard bool) {
	if discard || r.closed.Load() || s.Reset() != nil {
		_ = s.Close()
		r.created.Add(-1)
		return
	}
	select {
	case r.idle <- s:
	default:
		_ = s.Close()
		r.created.Add(-1)
	}
}

func (r *Runtime) newState() (*State, error) {
	opts := append([]StateOption{WithStateLogger(r.logger)}, r.stateOpts...)
	return NewState(opts...)
}

// contextError converts a done context into the error Invoke returns.
func contextError(ctx context.Context, fn string) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		if fn == "" {
			return fmt.Errorf("%w: waiting for a free state: %w", ErrExecutionTimeout, err)
		}
		return fmt.Errorf("%w in %s: %w", ErrExecutionTimeout, fn, err)
	}
	return err
}

// invoke runs fn from u on this state.
func (s *State) invoke(ctx context.Context, u *Unit, fn string, ec *event.Context, e event.Event) (out event.Event, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return e, ErrStateClosed
	}

	L := s.L
	L.SetContext(ctx)
	defer L.RemoveContext()
	s.current = u.name + ":" + fn

	defer func() {
		if r := recover(); r != nil {
			out, err = e, &ScriptError{Unit: u.name, Function: fn, Message: fmt.Sprintf("lua panic: %v", r)}
		}
	}()

	L.Push(L.NewFunctionFromProto(u.proto))
	if err := L.PCall(0, 0, nil); err != nil {
		return e, s.scriptError(ctx, u, fn, err)
	}

	handler, ok := L.GetGlobal(fn).(*lua.LFunction)
	if !ok {
		return e, fmt.Errorf("%w: %s in %s", ErrFunctionNotFound, fn, u.name)
	}

	ud := newContext(L, ec)
	// Detach so a ctx kept by the script fails instead of touching a
	// finished emission.
	defer func() { ud.Value = nil }()

	L.Push(handler)
	L.Push(ud)
	L.Push(s.bridge.EventToTable(e))
	if err := L.PCall(2, 1, nil); err != nil {
		return e, s.scriptError(ctx, u, fn, err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	switch v := ret.(type) {
	case *lua.LTable:
		return s.bridge.ApplyTable(e, v), nil
	default:
		if ret == lua.LNil {
			return e, nil
		}
		return e, fmt.Errorf("%w: %s returned %s", ErrBadReturn, fn, ret.Type())
	}
}

// scriptError converts a PCall error. A raised table with fatal = true
// becomes a fatal handler error.
func (s *State) scriptError(ctx context.Context, u *Unit, fn string, err error) error {
	if ctx.Err() != nil {
		return contextError(ctx, fn)
	}

	se := &ScriptError{Unit: u.name, Function: fn, Message: err.Error()}

	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return se
	}
	se.Traceback = apiErr.StackTrace

	if t, ok := apiErr.Object.(*lua.LTable); ok {
		se.Message = lua.LVAsString(t.RawGetString("message"))
		if se.Message == "" {
			se.Message = "script error"
		}
		if lua.LVAsBool(t.RawGetString("fatal")) {
			return event.Fatal(se)
		}
		return se
	}
	if apiErr.Object != nil {
		se.Message = apiErr.Object.String()
	}
	return se
}
