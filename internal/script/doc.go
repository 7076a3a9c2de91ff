// Package script turns externally authored script files into event handlers.
//
// A script file exports global functions. Each handler function is preceded
// by an annotation comment carrying its attributes as a YAML flow mapping:
//
//	-- @handler {event: "tool:before", pattern: "just_*", priority: 50}
//	function guard_just(ctx, event)
//	  if event.payload.target == "deploy" then
//	    event.cancelled = true
//	  end
//	  return event
//	end
//
// Recognised attributes are event (required), pattern (default "*"),
// priority (default 100), description and enabled (default true). The
// handler is named after its function.
//
// The language itself lives behind the Runtime interface; package
// script/lua provides the implementation used by the application.
package script
