package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/dshills/ember/internal/discovery"
	"github.com/dshills/ember/internal/event"
	"github.com/dshills/ember/internal/log"
	"github.com/dshills/ember/internal/script"
)

// Registry turns script files into handlers on a Bus and tracks which file
// produced which handler.
type Registry struct {
	bus     *event.Bus
	runtime script.Runtime
	paths   *discovery.Paths
	logger  *slog.Logger

	mu       sync.Mutex
	seq      uint64
	files    map[string]*fileRecord
	names    map[string]*nameState
	problems map[string][]error
}

// fileRecord is the last successfully compiled state of one file.
type fileRecord struct {
	path   string
	source discovery.Source
	// scope is the custom event a file below a top-level subdirectory
	// belongs to, empty otherwise.
	scope    string
	hash     [32]byte
	seq      uint64
	handlers []event.Handler
}

type candidate struct {
	file    *fileRecord
	handler event.Handler
}

// nameState holds every definition of one handler name.
type nameState struct {
	native     *event.Handler
	candidates []*candidate
	active     *candidate
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a registry that loads scripts found under paths with rt and
// registers them on bus.
func New(bus *event.Bus, rt script.Runtime, paths *discovery.Paths, opts ...Option) *Registry {
	r := &Registry{
		bus:      bus,
		runtime:  rt,
		paths:    paths,
		logger:   log.WithComponent("registry"),
		files:    make(map[string]*fileRecord),
		names:    make(map[string]*nameState),
		problems: make(map[string][]error),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Paths returns the discovery paths.
func (r *Registry) Paths() *discovery.Paths {
	return r.paths
}

// IsScript reports whether the runtime handles path.
func (r *Registry) IsScript(path string) bool {
	return script.IsScript(r.runtime, path)
}

// Discover loads every script under the existing discovery paths and
// returns the number of handlers they define. A file below a top-level
// subdirectory belongs to the custom event of that name: its custom-event
// handlers without a pattern match only that event. Files that fail to
// compile and unreadable directories are logged and skipped; see
// Problems. Files loaded earlier that are gone now are removed.
//
// The only error returned is ctx's.
func (r *Registry) Discover(ctx context.Context) (int, error) {
	return r.discover(ctx, "", r.paths)
}

// DiscoverCustom loads only the scripts namespaced under a custom event's
// name, i.e. Subdir(name) of every discovery path.
func (r *Registry) DiscoverCustom(ctx context.Context, name string) (int, error) {
	return r.discover(ctx, name, r.paths.Subdir(name))
}

// discover loads the files under paths. An empty scope means the whole
// tree; otherwise only files of that scope are reconciled.
func (r *Registry) discover(ctx context.Context, scope string, paths *discovery.Paths) (int, error) {
	files, pathErrs := paths.Files(r.IsScript)

	problems := make(map[string][]error)
	for _, err := range pathErrs {
		r.logger.Warn("discovery path skipped", "type", paths.ResourceType(), "error", err)
		problems[scope] = append(problems[scope], err)
	}

	seen := make(map[string]bool, len(files))
	count := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		source, fileScope, ok := r.classify(f.Path)
		if !ok {
			source, fileScope = f.Source, scope
		}
		seen[f.Path] = true

		n, _, err := r.load(f.Path, source, fileScope)
		if err != nil {
			r.logger.Warn("script skipped", "path", f.Path, "error", err)
			problems[fileScope] = append(problems[fileScope], err)
			continue
		}
		count += n
	}

	r.mu.Lock()
	for path, rec := range r.files {
		if (scope == "" || rec.scope == scope) && !seen[path] {
			r.removeLocked(path)
		}
	}
	if scope == "" {
		r.problems = problems
	} else {
		r.problems[scope] = problems[scope]
	}
	r.mu.Unlock()

	skipped := 0
	for _, errs := range problems {
		skipped += len(errs)
	}
	r.logger.Info("discovery complete",
		"type", paths.ResourceType(),
		"files", len(seen),
		"handlers", count,
		"skipped", skipped)
	return count, nil
}

// ReloadFile recompiles path and swaps its handlers in: names the file no
// longer defines are released, the rest replace their previous versions.
// A deleted file is removed. A file that fails to compile keeps its
// previous handlers and the *script.CompileError is returned.
func (r *Registry) ReloadFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path = absPath(path)
	if !r.IsScript(path) {
		return fmt.Errorf("%w: %s", ErrNotScript, path)
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if n := r.RemoveFile(path); n > 0 {
			r.logger.Info("script removed", "path", path, "handlers", n)
		}
		return nil
	}

	source, scope, ok := r.locate(path)
	if !ok {
		return fmt.Errorf("%w: %s", ErrOutsidePaths, path)
	}

	n, changed, err := r.load(path, source, scope)
	if err != nil {
		r.logger.Warn("reload failed, keeping previous handlers", "path", path, "error", err)
		return err
	}
	if !changed {
		r.logger.Debug("script unchanged", "path", path)
		return nil
	}
	r.logger.Info("script reloaded", "path", path, "handlers", n)
	return nil
}

// RemoveFile unregisters every handler path produced and returns how many
// there were. Shadowed candidates from other files take their place.
func (r *Registry) RemoveFile(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(absPath(path))
}

// absPath makes path absolute so it compares equal to discovered paths.
func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Provenance maps each loaded file to the handler names it defines,
// whether or not they are currently active.
func (r *Registry) Provenance() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string][]string, len(r.files))
	for path, rec := range r.files {
		names := make([]string, len(rec.handlers))
		for i, h := range rec.handlers {
			names[i] = h.Name
		}
		sort.Strings(names)
		out[path] = names
	}
	return out
}

// Files returns the loaded files in sorted order.
func (r *Registry) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.files))
	for path := range r.files {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Owner returns the file whose definition of name is registered.
func (r *Registry) Owner(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ns, ok := r.names[name]
	if !ok || ns.active == nil {
		return "", false
	}
	return ns.active.file.path, true
}

// Shadowed maps handler names defined by more than one file to the files
// whose definitions are not registered, in precedence order.
func (r *Registry) Shadowed() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string][]string)
	for name, ns := range r.names {
		for _, c := range ns.candidates {
			if c != ns.active {
				out[name] = append(out[name], c.file.path)
			}
		}
	}
	return out
}

// Problems returns the errors recorded by the most recent discovery of
// each scope.
func (r *Registry) Problems() []error {
	r.mu.Lock()
	defer r.mu.Unlock()

	scopes := make([]string, 0, len(r.problems))
	for s := range r.problems {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)

	var out []error
	for _, s := range scopes {
		out = append(out, r.problems[s]...)
	}
	return out
}

// load compiles path and applies it unless its content is unchanged.
// It returns the file's handler count and whether anything changed.
func (r *Registry) load(path string, source discovery.Source, scope string) (int, bool, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return 0, false, err
	}
	sum := blake3.Sum256(src)

	r.mu.Lock()
	if old, ok := r.files[path]; ok && old.hash == sum && old.scope == scope {
		n := len(old.handlers)
		r.mu.Unlock()
		return n, false, nil
	}
	r.mu.Unlock()

	var opts []script.CompileOption
	if scope != "" {
		opts = append(opts, script.WithDefaultPattern(scope))
	}
	// Compile outside the lock; only the swap below holds it.
	handlers, err := script.CompileFile(r.runtime, path, src, opts...)
	if err != nil {
		return 0, false, err
	}

	rec := &fileRecord{
		path:     path,
		source:   source,
		scope:    scope,
		hash:     sum,
		handlers: handlers,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.files[path]; ok {
		rec.seq = old.seq
	} else {
		r.seq++
		rec.seq = r.seq
	}
	r.applyLocked(rec)
	return len(handlers), true, nil
}

// locate finds the source and scope for path.
func (r *Registry) locate(path string) (discovery.Source, string, bool) {
	r.mu.Lock()
	rec, ok := r.files[path]
	r.mu.Unlock()
	if ok {
		return rec.source, rec.scope, true
	}
	return r.classify(path)
}

// classify returns the discovery source holding path and the custom event
// scope it belongs to: the first directory below the source, or "" for a
// file at the source's top level.
func (r *Registry) classify(path string) (discovery.Source, string, bool) {
	src, ok := r.paths.SourceOf(path)
	if !ok {
		return discovery.Source{}, "", false
	}
	rel, err := filepath.Rel(src.Path, path)
	if err != nil {
		return src, "", true
	}
	dir, _, nested := strings.Cut(filepath.ToSlash(rel), "/")
	if !nested {
		return src, "", true
	}
	return src, dir, true
}

// applyLocked replaces the file's candidates with rec's handlers.
func (r *Registry) applyLocked(rec *fileRecord) {
	affected := make(map[string]bool)
	if old, ok := r.files[rec.path]; ok {
		for _, h := range old.handlers {
			r.dropCandidateLocked(h.Name, rec.path)
			affected[h.Name] = true
		}
	}
	r.files[rec.path] = rec

	for _, h := range rec.handlers {
		ns, ok := r.names[h.Name]
		if !ok {
			ns = &nameState{}
			if native, exists := r.bus.GetHandler(h.Name); exists {
				ns.native = &native
			}
			r.names[h.Name] = ns
		}
		ns.candidates = append(ns.candidates, &candidate{file: rec, handler: h})
		affected[h.Name] = true
	}

	r.resolveAllLocked(affected)
}

// removeLocked forgets path and releases its names.
func (r *Registry) removeLocked(path string) int {
	rec, ok := r.files[path]
	if !ok {
		return 0
	}
	delete(r.files, path)

	affected := make(map[string]bool, len(rec.handlers))
	for _, h := range rec.handlers {
		r.dropCandidateLocked(h.Name, path)
		affected[h.Name] = true
	}
	r.resolveAllLocked(affected)
	return len(rec.handlers)
}

func (r *Registry) dropCandidateLocked(name, path string) {
	ns, ok := r.names[name]
	if !ok {
		return
	}
	kept := ns.candidates[:0]
	for _, c := range ns.candidates {
		if c.file.path != path {
			kept = append(kept, c)
		}
	}
	ns.candidates = kept
}

// resolveAllLocked settles the winner of every affected name and applies
// the result to the bus in a single swap.
func (r *Registry) resolveAllLocked(names map[string]bool) {
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	var (
		remove  []string
		add     []event.Handler
		winners = make(map[string]*candidate)
	)
	for _, name := range sorted {
		ns, ok := r.names[name]
		if !ok {
			continue
		}
		if len(ns.candidates) == 0 {
			// Restore the Go handler the scripts displaced, if any.
			if ns.native != nil {
				add = append(add, *ns.native)
			} else {
				remove = append(remove, name)
			}
			delete(r.names, name)
			continue
		}
		if winner := pickWinner(ns); winner != nil {
			if err := winner.handler.Validate(); err != nil {
				r.logger.Error("registering handler failed", "handler", name, "path", winner.file.path, "error", err)
				continue
			}
			add = append(add, winner.handler)
			winners[name] = winner
		}
	}
	if len(remove) == 0 && len(add) == 0 {
		return
	}

	if err := r.bus.Replace(remove, add); err != nil {
		r.logger.Error("swapping handlers failed", "handlers", sorted, "error", err)
		return
	}
	for _, name := range sorted {
		winner, ok := winners[name]
		if !ok {
			continue
		}
		ns := r.names[name]
		ns.active = winner
		for _, c := range ns.candidates[1:] {
			r.logger.Warn("handler shadowed",
				"handler", name,
				"path", c.file.path,
				"origin", c.file.source.Origin,
				"active", winner.file.path)
		}
	}
}

// pickWinner ranks the candidates of ns and returns the winner when it
// differs from the registered one.
func pickWinner(ns *nameState) *candidate {
	sort.SliceStable(ns.candidates, func(i, j int) bool {
		a, b := ns.candidates[i].file, ns.candidates[j].file
		if a.source.Origin != b.source.Origin {
			return a.source.Origin.Rank() > b.source.Origin.Rank()
		}
		return a.seq < b.seq
	})

	winner := ns.candidates[0]
	if winner == ns.active {
		return nil
	}
	return winner
}
