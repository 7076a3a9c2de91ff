package events

import "github.com/dshills/ember/internal/event"

// MCPAttachment describes an external tool server that has been attached.
type MCPAttachment struct {
	// Transport is how the server is reached, e.g. "stdio" or "http".
	Transport string

	// Tools lists the tool names the server advertised.
	Tools []string

	// Upstream is the server this one was reached through, if any.
	Upstream string
}

// McpAttached creates an mcp:attached event. The server name is the
// identifier handlers match against.
func McpAttached(server string, a MCPAttachment) event.Event {
	tools := make([]any, len(a.Tools))
	for i, t := range a.Tools {
		tools[i] = t
	}
	payload := map[string]any{
		"server":    server,
		"transport": a.Transport,
		"tools":     tools,
	}
	setUpstream(payload, a.Upstream)
	return event.New(event.McpAttached, server, payload)
}
