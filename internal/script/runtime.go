package script

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/dshills/ember/internal/event"
)

// Unit is a compiled script file held by a Runtime.
type Unit interface {
	// Name is the name the unit was compiled under, usually its path.
	Name() string

	// Functions lists the global functions the unit defines.
	Functions() []string
}

// Runtime compiles and invokes script handlers.
//
// Implementations must allow Invoke to be called concurrently; emissions on
// different goroutines share one Runtime.
type Runtime interface {
	// Compile parses and compiles src. It does not run the script.
	Compile(name string, src []byte) (Unit, error)

	// Invoke calls fn from unit with the emission context and event, and
	// returns the event the chain continues with. Errors the script marks
	// fatal satisfy event.IsFatal.
	Invoke(ctx context.Context, unit Unit, fn string, ec *event.Context, e event.Event) (event.Event, error)

	// Extensions lists the file extensions the runtime accepts, with dots.
	Extensions() []string

	// Close releases the runtime. Invoke fails afterwards.
	Close() error
}

// IsScript reports whether path has one of rt's extensions.
func IsScript(rt Runtime, path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	ext := filepath.Ext(path)
	for _, e := range rt.Extensions() {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}
