package watcher

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
)

// fakeSource is a Source driven by the test.
type fakeSource struct {
	mu     sync.Mutex
	dirs   []string
	events chan Event
	errors chan error
	closed bool
	addErr map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events: make(chan Event, 16),
		errors: make(chan error, 16),
		addErr: make(map[string]error),
	}
}

func (f *fakeSource) Add(dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.addErr[dir]; err != nil {
		return err
	}
	f.dirs = append(f.dirs, dir)
	return nil
}

func (f *fakeSource) Events() <-chan Event { return f.events }
func (f *fakeSource) Errors() <-chan error { return f.errors }

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
		close(f.errors)
	}
	return nil
}

// fakeTarget records calls and treats *.lua as scripts.
type fakeTarget struct {
	mu       sync.Mutex
	files    map[string]bool
	reloaded []string
	removed  []string
	fail     map[string]error
}

func newFakeTarget(files ...string) *fakeTarget {
	t := &fakeTarget{files: make(map[string]bool), fail: make(map[string]error)}
	for _, f := range files {
		t.files[f] = true
	}
	return t
}

func (t *fakeTarget) IsScript(path string) bool {
	return filepath.Ext(path) == ".lua"
}

func (t *fakeTarget) ReloadFile(_ context.Context, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reloaded = append(t.reloaded, path)
	if err := t.fail[path]; err != nil {
		return err
	}
	t.files[path] = true
	return nil
}

func (t *fakeTarget) RemoveFile(path string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.files[path] {
		return 0
	}
	delete(t.files, path)
	t.removed = append(t.removed, path)
	return 1
}

func (t *fakeTarget) Files() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.files))
	for f := range t.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (t *fakeTarget) calls() (reloaded, removed []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.reloaded...), append([]string(nil), t.removed...)
}
