package events

import (
	"time"

	"github.com/dshills/ember/internal/event"
)

// Payload keys shared by the tool events.
const (
	KeyResult       = "result"
	KeyError        = "error"
	KeyDurationMS   = "duration_ms"
	KeyUpstream     = "upstream"
	KeyName         = "name"
	KeyOriginalName = "original_name"
	KeyDescription  = "description"
	KeyInputSchema  = "input_schema"
)

// ToolBefore creates a tool:before event. The payload is args itself, so
// handlers may rewrite the arguments the tool will receive.
func ToolBefore(tool string, args map[string]any) event.Event {
	if args == nil {
		args = map[string]any{}
	}
	return event.New(event.ToolBefore, tool, args)
}

// ToolAfter creates a tool:after event for a successful call.
// upstream names the server the tool was proxied from; empty for local tools.
func ToolAfter(tool string, result any, dur time.Duration, upstream string) event.Event {
	payload := map[string]any{
		KeyResult:     result,
		KeyDurationMS: dur.Milliseconds(),
	}
	setUpstream(payload, upstream)
	return event.New(event.ToolAfter, tool, payload)
}

// ToolError creates a tool:error event for a failed call.
func ToolError(tool string, err error, dur time.Duration, upstream string) event.Event {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	payload := map[string]any{
		KeyError:      msg,
		KeyDurationMS: dur.Milliseconds(),
	}
	setUpstream(payload, upstream)
	return event.New(event.ToolError, tool, payload)
}

// ToolInfo describes a tool as it becomes known to the host.
type ToolInfo struct {
	// Name is the name the tool is exposed under.
	Name string

	// OriginalName is the name the upstream server uses. Defaults to Name.
	OriginalName string

	Description string

	// InputSchema is the JSON schema of the tool's arguments, decoded.
	InputSchema map[string]any

	Upstream string
}

// ToolDiscovered creates a tool:discovered event. Handlers may rewrite the
// payload to rename or describe the tool, or cancel it to hide the tool.
func ToolDiscovered(info ToolInfo) event.Event {
	original := info.OriginalName
	if original == "" {
		original = info.Name
	}
	schema := info.InputSchema
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	payload := map[string]any{
		KeyName:         info.Name,
		KeyOriginalName: original,
		KeyDescription:  info.Description,
		KeyInputSchema:  schema,
	}
	setUpstream(payload, info.Upstream)
	return event.New(event.ToolDiscovered, info.Name, payload)
}

// ToolInfoFrom reads a tool:discovered payload back into a ToolInfo,
// typically after handlers have had a chance to rewrite it.
func ToolInfoFrom(e event.Event) (ToolInfo, bool) {
	m := e.PayloadMap()
	if m == nil {
		return ToolInfo{}, false
	}
	info := ToolInfo{
		Name:         stringValue(m[KeyName]),
		OriginalName: stringValue(m[KeyOriginalName]),
		Description:  stringValue(m[KeyDescription]),
		Upstream:     stringValue(m[KeyUpstream]),
	}
	info.InputSchema, _ = m[KeyInputSchema].(map[string]any)
	return info, info.Name != ""
}

func setUpstream(payload map[string]any, upstream string) {
	if upstream != "" {
		payload[KeyUpstream] = upstream
	}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
