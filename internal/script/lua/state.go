package lua

import (
	"log/slog"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Default limits for Lua states.
const (
	DefaultCallStackSize = 256
	DefaultRegistrySize  = 1024 * 20
)

// State wraps gopher-lua with the sandbox, the bridge and the host API
// installed.
//
// gopher-lua's LState is not goroutine-safe. The mutex serialises Go
// callers; the Runtime pool additionally gives each invocation exclusive
// use of a state.
type State struct {
	L *lua.LState

	mu sync.Mutex

	callStackSize int
	registrySize  int
	logger        *slog.Logger

	sandbox *Sandbox
	bridge  *Bridge

	// baseline holds the globals present after setup and libs the contents
	// of the tables among them. Reset restores both.
	baseline map[string]lua.LValue
	libs     map[*lua.LTable]tableSnapshot
	globalMT lua.LValue

	// current names the unit and function being invoked, for logging.
	current string

	closed bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithCallStackSize sets the maximum Lua call depth.
func WithCallStackSize(n int) StateOption {
	return func(s *State) {
		s.callStackSize = n
	}
}

// WithRegistrySize sets the initial size of the Lua registry.
func WithRegistrySize(n int) StateOption {
	return func(s *State) {
		s.registrySize = n
	}
}

// WithStateLogger sets the logger used by print and ember.log.
func WithStateLogger(l *slog.Logger) StateOption {
	return func(s *State) {
		s.logger = l
	}
}

// NewState creates a new sandboxed Lua state.
func NewState(opts ...StateOption) (*State, error) {
	state := &State{
		callStackSize: DefaultCallStackSize,
		registrySize:  DefaultRegistrySize,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(state)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: state.callStackSize,
		RegistrySize:  state.registrySize,
	})
	state.L = L

	openSafeLibraries(L)

	state.sandbox = NewSandbox(L, state.logPrint)
	state.sandbox.Install()
	state.bridge = NewBridge(L)

	registerContextType(L, state.bridge)
	registerEmberModule(L, state)

	state.baseline = make(map[string]lua.LValue)
	state.libs = make(map[*lua.LTable]tableSnapshot)
	state.globalMT = L.GetMetatable(L.G.Global)
	L.G.Global.ForEach(func(k, v lua.LValue) {
		ks, ok := k.(lua.LString)
		if !ok {
			return
		}
		state.baseline[string(ks)] = v
		if t, ok := v.(*lua.LTable); ok && t != L.G.Global {
			state.libs[t] = snapshotTable(L, t)
		}
	})
	// Shared by every string value through the : operator.
	if mt, ok := L.GetMetatable(lua.LString("")).(*lua.LTable); ok {
		state.libs[mt] = snapshotTable(L, mt)
	}

	return state, nil
}

// tableSnapshot is the fields and metatable of a table at setup.
type tableSnapshot struct {
	fields map[lua.LValue]lua.LValue
	meta   lua.LValue
}

func snapshotTable(L *lua.LState, t *lua.LTable) tableSnapshot {
	snap := tableSnapshot{
		fields: make(map[lua.LValue]lua.LValue),
		meta:   L.GetMetatable(t),
	}
	t.ForEach(func(k, v lua.LValue) {
		snap.fields[k] = v
	})
	return snap
}

// restore puts t back to the snapshot.
func (snap tableSnapshot) restore(L *lua.LState, t *lua.LTable) {
	var stale []lua.LValue
	t.ForEach(func(k, _ lua.LValue) {
		if _, ok := snap.fields[k]; !ok {
			stale = append(stale, k)
		}
	})
	for _, k := range stale {
		t.RawSet(k, lua.LNil)
	}
	for k, v := range snap.fields {
		if t.RawGet(k) != v {
			t.RawSet(k, v)
		}
	}
	if L.GetMetatable(t) != snap.meta {
		L.SetMetatable(t, snap.meta)
	}
}

// openSafeLibraries opens only safe Lua standard libraries.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Not opened: io, os, debug, package, channel, coroutine.
}

// Close releases all resources associated with the Lua state.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}

// Reset removes every global defined since setup and restores any
// baseline global a script overwrote. The library tables (string, table,
// math, ember) and the string metatable get their setup fields back.
func (s *State) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	globals := s.L.G.Global
	var stale []string
	globals.ForEach(func(k, _ lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			if _, keep := s.baseline[string(ks)]; !keep {
				stale = append(stale, string(ks))
			}
		}
	})
	for _, k := range stale {
		globals.RawSetString(k, lua.LNil)
	}
	for k, v := range s.baseline {
		if globals.RawGetString(k) != v {
			globals.RawSetString(k, v)
		}
	}
	if s.L.GetMetatable(globals) != s.globalMT {
		s.L.SetMetatable(globals, s.globalMT)
	}
	for t, snap := range s.libs {
		snap.restore(s.L, t)
	}

	s.L.SetTop(0)
	s.current = ""
	return nil
}

// logPrint routes print output to the logger.
func (s *State) logPrint(msg string) {
	s.logger.Debug("script print", "handler", s.current, "message", msg)
}
