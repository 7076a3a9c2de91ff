package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSWatcher is a recursive Source backed by fsnotify. Directories created
// under a watched directory are watched as well, and the files already in
// them are reported as created.
type FSWatcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	dirs    map[string]bool
	closed  bool

	events chan Event
	errors chan error

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// FSOption configures an FSWatcher.
type FSOption func(*fsConfig)

type fsConfig struct {
	bufferSize int
}

// WithBufferSize sets the event and error channel capacity.
func WithBufferSize(n int) FSOption {
	return func(c *fsConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// NewFSWatcher starts an fsnotify watcher with nothing watched yet.
func NewFSWatcher(opts ...FSOption) (*FSWatcher, error) {
	cfg := fsConfig{bufferSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &FSWatcher{
		watcher: fsw,
		dirs:    make(map[string]bool),
		events:  make(chan Event, cfg.bufferSize),
		errors:  make(chan error, cfg.bufferSize),
		closeCh: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Add watches dir recursively.
func (w *FSWatcher) Add(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrPathNotExist
		}
		return err
	}
	if !info.IsDir() {
		return &fs.PathError{Op: "watch", Path: abs, Err: errors.New("not a directory")}
	}
	return w.addTree(abs, false)
}

// Events returns the event channel.
func (w *FSWatcher) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel.
func (w *FSWatcher) Errors() <-chan error {
	return w.errors
}

// Dirs returns the number of watched directories.
func (w *FSWatcher) Dirs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

// Close stops the watcher and closes its channels.
func (w *FSWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return err
}

// addTree watches root and its subdirectories. With announce set, files
// found on the way are reported as created.
func (w *FSWatcher) addTree(root string, announce bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			w.sendError(err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if announce {
				w.sendEvent(Event{Path: path, Op: OpCreate, Time: time.Now()})
			}
			return nil
		}
		return w.addDir(path)
	})
}

func (w *FSWatcher) addDir(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.dirs[dir] {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = true
	return nil
}

func (w *FSWatcher) forgetDir(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for d := range w.dirs {
		if d == dir || within(dir, d) {
			delete(w.dirs, d)
		}
	}
}

func (w *FSWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

func (w *FSWatcher) handle(fe fsnotify.Event) {
	op := convertOp(fe.Op)
	if op == 0 {
		return
	}
	path := filepath.Clean(fe.Name)

	if op.Has(OpCreate) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addTree(path, true); err != nil {
				w.sendError(err)
			}
			return
		}
	}
	if op.Gone() {
		w.forgetDir(path)
	}
	w.sendEvent(Event{Path: path, Op: op, Time: time.Now()})
}

func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	if fsOp.Has(fsnotify.Chmod) {
		op |= OpChmod
	}
	return op
}

// sendEvent and sendError never block; when the buffer is full the event
// is dropped and reported.
func (w *FSWatcher) sendEvent(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.events <- ev:
	default:
		w.sendErrorLocked(fmt.Errorf("%w: %s", ErrEventDropped, ev.Path))
	}
}

func (w *FSWatcher) sendError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.sendErrorLocked(err)
	}
}

func (w *FSWatcher) sendErrorLocked(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

// within reports whether path lies below dir.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel)
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}

var _ Source = (*FSWatcher)(nil)
