// Package events defines the payload contracts between event producers and
// the handlers that consume them.
//
// The bus never inspects a payload; it only forwards it. These constructors
// exist so every producer builds the same shape for the same event type.
// Payloads are plain value trees (map[string]any, []any, scalars) so script
// handlers see ordinary tables:
//
//	tool:before      the tool's raw argument map
//	tool:after       {result, duration_ms, upstream?}
//	tool:error       {error, duration_ms, upstream?}
//	tool:discovered  {name, original_name, description, input_schema, upstream?}
//	note:*           {path, title, frontmatter, tags, links, blocks, metadata, hashes}
//	mcp:attached     {server, transport, tools, upstream?}
//
// # Usage
//
//	res := bus.Emit(ctx, events.ToolBefore("just_test", args).WithSource("tools"))
//	if res.Event.Cancelled {
//	    return errBlocked
//	}
package events
