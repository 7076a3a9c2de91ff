package lua

import (
	"context"
	"log/slog"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// registerEmberModule installs the global ember table.
func registerEmberModule(L *lua.LState, s *State) {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		// ember.log(level, message [, fields])
		"log": func(L *lua.LState) int {
			level := parseLevel(L.CheckString(1))
			msg := L.CheckString(2)
			attrs := []any{"handler", s.current}
			if fields, ok := L.Get(3).(*lua.LTable); ok {
				fields.ForEach(func(k, v lua.LValue) {
					attrs = append(attrs, k.String(), s.bridge.ToGoValue(v))
				})
			}
			s.logger.Log(context.Background(), level, msg, attrs...)
			return 0
		},
		// ember.fatal(message) stops the handler chain.
		"fatal": func(L *lua.LState) int {
			t := L.NewTable()
			t.RawSetString("fatal", lua.LTrue)
			t.RawSetString("message", lua.LString(L.CheckString(1)))
			L.Error(t, 1)
			return 0
		},
		// ember.cancel(event) marks the event cancelled and returns it.
		"cancel": func(L *lua.LState) int {
			t := L.CheckTable(1)
			t.RawSetString("cancelled", lua.LTrue)
			L.Push(t)
			return 1
		},
	})
	L.SetGlobal("ember", mod)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
