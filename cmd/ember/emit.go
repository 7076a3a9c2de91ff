package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/dshills/ember/internal/event"
)

type eventView struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
	Payload    any    `json:"payload"`
	Cancelled  bool   `json:"cancelled"`
	Timestamp  uint64 `json:"timestamp_ms"`
	Source     string `json:"source,omitempty"`
}

type errorView struct {
	Handler string `json:"handler,omitempty"`
	Fatal   bool   `json:"fatal"`
	Message string `json:"message"`
}

type emitView struct {
	Event     eventView   `json:"event"`
	Processed []eventView `json:"processed"`
	Errors    []errorView `json:"errors"`
	Pending   int         `json:"pending"`
}

var emitFlags struct {
	typ       string
	id        string
	payload   string
	recursive bool
	query     string
}

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Emit one event through the discovered handlers",
	Long: `Builds an event, runs it through every matching handler and prints the
result as JSON. Custom events also load the handlers namespaced under the
event name. --payload takes JSON, or "-" to read it from stdin. --query
selects part of the result with a gjson path.

Exits with status 2 when a handler reported a fatal error.`,
	Example: `  ember emit --type tool:before --id search_notes --payload '{"query":"go"}'
  ember emit --id deploy --recursive --query 'processed.#.identifier'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, err := event.ParseType(emitFlags.typ)
		if err != nil {
			return err
		}
		payload, err := readPayload(emitFlags.payload, cmd.InOrStdin())
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		if typ == event.Custom && emitFlags.id != "" {
			if _, err := a.Registry().DiscoverCustom(cmd.Context(), emitFlags.id); err != nil {
				return err
			}
		}

		e := event.New(typ, emitFlags.id, payload).WithSource("cli")
		res, err := a.Emit(cmd.Context(), e, emitFlags.recursive)
		if err != nil {
			return err
		}

		if err := writeResult(cmd.OutOrStdout(), newEmitView(res), emitFlags.query); err != nil {
			return err
		}
		if res.HasFatal() {
			return errFatal
		}
		return nil
	},
}

func readPayload(arg string, stdin io.Reader) (any, error) {
	var data []byte
	switch arg {
	case "":
		return map[string]any{}, nil
	case "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading payload: %w", err)
		}
		data = b
	default:
		data = []byte(arg)
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return normalizeNumbers(v), nil
}

// normalizeNumbers turns json.Number into int64 when integral and float64
// otherwise.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeNumbers(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalizeNumbers(val)
		}
		return t
	default:
		return v
	}
}

func newEmitView(res event.Result) emitView {
	view := emitView{
		Event:     toEventView(res.Event),
		Processed: make([]eventView, 0, len(res.Processed)),
		Errors:    make([]errorView, 0, len(res.Errors)),
	}
	for _, e := range res.Processed {
		view.Processed = append(view.Processed, toEventView(e))
	}
	for _, he := range res.Errors {
		view.Errors = append(view.Errors, errorView{Handler: he.Handler, Fatal: he.Fatal, Message: he.Error()})
	}
	if res.Context != nil {
		view.Pending = len(res.Context.Pending())
	}
	return view
}

func toEventView(e event.Event) eventView {
	return eventView{
		ID:         e.ID,
		Type:       string(e.Type),
		Identifier: e.Identifier,
		Payload:    e.Payload,
		Cancelled:  e.Cancelled,
		Timestamp:  e.TimestampMS,
		Source:     e.Source,
	}
}

func writeResult(w io.Writer, view emitView, query string) error {
	if query == "" {
		return printJSON(w, view)
	}
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	r := gjson.GetBytes(data, query)
	if !r.Exists() {
		return fmt.Errorf("query %q matched nothing", query)
	}
	if r.Type == gjson.String {
		_, err = fmt.Fprintln(w, r.String())
	} else {
		_, err = fmt.Fprintln(w, r.Raw)
	}
	return err
}

func init() {
	emitCmd.Flags().StringVarP(&emitFlags.typ, "type", "t", string(event.Custom), "event type")
	emitCmd.Flags().StringVarP(&emitFlags.id, "id", "i", "", "event identifier (tool name, note path or custom event name)")
	emitCmd.Flags().StringVarP(&emitFlags.payload, "payload", "p", "", `JSON payload, or "-" for stdin`)
	emitCmd.Flags().BoolVarP(&emitFlags.recursive, "recursive", "r", false, "also process events queued by handlers")
	emitCmd.Flags().StringVarP(&emitFlags.query, "query", "q", "", "gjson path selecting part of the result")
	rootCmd.AddCommand(emitCmd)
}
