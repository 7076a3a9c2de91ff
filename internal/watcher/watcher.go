// Package watcher turns file system changes into handler reloads.
//
// A Source reports changes under a set of directories. FSWatcher is the
// fsnotify-backed Source; Debouncer wraps any Source and coalesces bursts
// of changes to one path. Reloader consumes a Source and feeds script
// changes to a Target, normally the handler registry.
package watcher

import (
	"errors"
	"strings"
	"time"
)

// Common errors returned by watcher operations.
var (
	ErrClosed       = errors.New("watcher is closed")
	ErrPathNotExist = errors.New("path does not exist")
	ErrEventDropped = errors.New("event buffer full, event dropped")
)

// defaultBufferSize is the capacity of the event and error channels.
const defaultBufferSize = 100

// Op is a set of file system operations.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

var opNames = []struct {
	op   Op
	name string
}{
	{OpCreate, "CREATE"},
	{OpWrite, "WRITE"},
	{OpRemove, "REMOVE"},
	{OpRename, "RENAME"},
	{OpChmod, "CHMOD"},
}

// String returns the operations joined by "|".
func (op Op) String() string {
	var parts []string
	for _, n := range opNames {
		if op.Has(n.op) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "UNKNOWN"
	}
	return strings.Join(parts, "|")
}

// Has returns true if op includes o.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// Gone reports whether the path may no longer exist at its old name.
func (op Op) Gone() bool {
	return op&(OpRemove|OpRename) != 0
}

// Event is one change to one path.
type Event struct {
	Path string
	Op   Op
	Time time.Time
}

// Source reports file system changes.
type Source interface {
	// Add watches dir and everything below it.
	Add(dir string) error

	// Events is closed when the source is closed.
	Events() <-chan Event

	// Errors is closed when the source is closed.
	Errors() <-chan error

	Close() error
}
