// Package lua runs script handlers on gopher-lua.
//
// This package provides:
//   - Sandboxed Lua states (no io, os, debug or dynamic loading)
//   - A pool of states shared by concurrent emissions
//   - Go-Lua conversion of events and payloads
//   - The ctx object and the ember module handlers call into
//
// # Runtime
//
// Runtime implements script.Runtime:
//
//	rt := lua.NewRuntime(lua.WithPoolSize(4), lua.WithCallTimeout(time.Second))
//	defer rt.Close()
//
//	handlers, err := script.CompileFile(rt, path, src)
//
// Compile parses a file once into a function prototype. Every Invoke loads
// that prototype into a pooled state, runs its top-level statements, calls
// the handler function and resets the state's globals.
//
// # Handler API
//
// A handler receives the emission context and the event as a table:
//
//	-- @handler {event: "tool:after", pattern: "just_*"}
//	function notify(ctx, event)
//	  if not ctx:contains("notified") then
//	    ctx:set("notified", true)
//	    ctx:emit_custom("tool_finished", {tool = event.identifier})
//	  end
//	  return event
//	end
//
// Returning nil keeps the event unchanged. Only event.payload and
// event.cancelled are taken from the returned table.
//
// The context methods are get, set, remove, contains, keys, emit and
// emit_custom. The ember module provides log, fatal and cancel.
//
// # Errors
//
// error("message") reports a non-fatal error; the event is left as it was
// and the chain continues. ember.fatal("message"), or raising a table with
// fatal = true, stops the chain.
package lua
