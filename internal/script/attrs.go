package script

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/ember/internal/event"
)

var (
	annotationRe = regexp.MustCompile(`^\s*--\s*@handler\b(.*)$`)
	functionRe   = regexp.MustCompile(`^\s*function\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	assignFuncRe = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=\s*function\s*\(`)
	commentRe    = regexp.MustCompile(`^\s*--`)
)

// Attributes are the handler settings declared by an annotation.
type Attributes struct {
	Event event.Type

	// Pattern is empty when the annotation doesn't declare one, which
	// matches every identifier.
	Pattern     string
	Priority    int64
	Description string
	Enabled     bool
}

// Definition is one annotated handler function.
type Definition struct {
	Function string

	// Line is the 1-based line of the annotation.
	Line int
	Attributes
}

// rawAttributes uses pointers to tell absent keys from zero values.
type rawAttributes struct {
	Event       *string `yaml:"event"`
	Pattern     *string `yaml:"pattern"`
	Priority    *int64  `yaml:"priority"`
	Description string  `yaml:"description"`
	Enabled     *bool   `yaml:"enabled"`
}

// ParseAttributes scans src for handler annotations and the functions they
// annotate. Blank lines and other comments may separate an annotation from
// its function. The returned error, if any, is a *CompileError without a
// path.
func ParseAttributes(src []byte) ([]Definition, error) {
	var (
		defs    []Definition
		pending *Definition
		seen    = make(map[string]int)
		lineNo  int
	)

	scanner := bufio.NewScanner(bytes.NewReader(src))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if m := annotationRe.FindStringSubmatch(line); m != nil {
			if pending != nil {
				return nil, &CompileError{Line: pending.Line, Err: ErrNoFunction}
			}
			attrs, err := parseAnnotation(m[1])
			if err != nil {
				return nil, &CompileError{Line: lineNo, Err: err}
			}
			pending = &Definition{Line: lineNo, Attributes: attrs}
			continue
		}

		if pending == nil {
			continue
		}
		if strings.TrimSpace(line) == "" || commentRe.MatchString(line) {
			continue
		}

		name := functionName(line)
		if name == "" {
			return nil, &CompileError{Line: pending.Line, Err: ErrNoFunction}
		}
		if first, dup := seen[name]; dup {
			return nil, &CompileError{
				Line: pending.Line,
				Err:  fmt.Errorf("%w: %s (first annotated on line %d)", ErrDuplicateFunction, name, first),
			}
		}
		seen[name] = pending.Line
		pending.Function = name
		defs = append(defs, *pending)
		pending = nil
	}
	if err := scanner.Err(); err != nil {
		return nil, &CompileError{Err: err}
	}
	if pending != nil {
		return nil, &CompileError{Line: pending.Line, Err: ErrNoFunction}
	}
	return defs, nil
}

func functionName(line string) string {
	if m := functionRe.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	if m := assignFuncRe.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	return ""
}

// parseAnnotation decodes the text after @handler.
func parseAnnotation(text string) (Attributes, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Attributes{}, ErrMissingEvent
	}

	var raw rawAttributes
	dec := yaml.NewDecoder(strings.NewReader(text))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return Attributes{}, fmt.Errorf("%w: %v", ErrBadAnnotation, err)
	}

	if raw.Event == nil || *raw.Event == "" {
		return Attributes{}, ErrMissingEvent
	}
	typ, err := event.ParseType(*raw.Event)
	if err != nil {
		return Attributes{}, err
	}

	attrs := Attributes{
		Event:       typ,
		Priority:    event.DefaultPriority,
		Description: raw.Description,
		Enabled:     true,
	}
	if raw.Pattern != nil {
		attrs.Pattern = *raw.Pattern
	}
	if raw.Priority != nil {
		attrs.Priority = *raw.Priority
	}
	if raw.Enabled != nil {
		attrs.Enabled = *raw.Enabled
	}
	return attrs, nil
}

// asCompileError attaches path to err.
func asCompileError(path string, err error) *CompileError {
	var ce *CompileError
	if errors.As(err, &ce) {
		out := *ce
		out.Path = path
		return &out
	}
	return &CompileError{Path: path, Err: err}
}
