package script

import (
	"fmt"
	"slices"

	"github.com/dshills/ember/internal/event"
)

// CompileOption configures CompileFile.
type CompileOption func(*compileConfig)

type compileConfig struct {
	defaultPattern string
}

// WithDefaultPattern sets the pattern used by custom-event handlers that
// don't declare one. Handlers namespaced under a custom event's directory
// use the event name.
func WithDefaultPattern(pattern string) CompileOption {
	return func(c *compileConfig) {
		c.defaultPattern = pattern
	}
}

// CompileFile parses the annotations in src, compiles it with rt and
// returns one handler per annotated function, in file order. The handlers
// record path as their Source. Any failure is returned as a *CompileError
// and no handlers are produced.
//
// A file without annotations compiles to no handlers.
func CompileFile(rt Runtime, path string, src []byte, opts ...CompileOption) ([]event.Handler, error) {
	var cfg compileConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	defs, err := ParseAttributes(src)
	if err != nil {
		return nil, asCompileError(path, err)
	}
	if len(defs) == 0 {
		return nil, nil
	}

	unit, err := rt.Compile(path, src)
	if err != nil {
		return nil, asCompileError(path, err)
	}

	defined := unit.Functions()
	handlers := make([]event.Handler, 0, len(defs))
	for _, d := range defs {
		if !slices.Contains(defined, d.Function) {
			return nil, &CompileError{
				Path: path,
				Line: d.Line,
				Err:  fmt.Errorf("%w: %s", ErrFunctionNotFound, d.Function),
			}
		}

		pattern := d.Pattern
		if pattern == "" {
			pattern = "*"
			if d.Event == event.Custom && cfg.defaultPattern != "" {
				pattern = cfg.defaultPattern
			}
		}

		h := event.NewHandler(d.Function, d.Event, NewAction(rt, unit, d.Function)).
			WithPattern(pattern).
			WithPriority(d.Priority).
			WithEnabled(d.Enabled)
		h.Description = d.Description
		h.Source = path
		handlers = append(handlers, h)
	}
	return handlers, nil
}
