package discovery

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// AppName is the directory name used under the user config dir.
	AppName = "ember"

	// KilnDirName is the directory inside a kiln holding its resources.
	KilnDirName = ".ember"
)

// Origin records which layer of the search path a directory belongs to.
type Origin int

const (
	OriginGlobal Origin = iota
	OriginKiln
	OriginAdditional
)

// String returns the origin name.
func (o Origin) String() string {
	switch o {
	case OriginGlobal:
		return "global"
	case OriginKiln:
		return "kiln"
	case OriginAdditional:
		return "additional"
	default:
		return "unknown"
	}
}

// Rank orders origins for name collisions: a higher rank wins.
// Additional beats kiln beats global.
func (o Origin) Rank() int {
	return int(o)
}

// Source is one directory of the search path.
type Source struct {
	Path   string
	Origin Origin
}

// Config is the per-resource-type configuration record.
type Config struct {
	// AdditionalPaths are searched before the defaults.
	AdditionalPaths []string `toml:"additional_paths" yaml:"additional_paths"`

	// UseDefaults toggles the global and kiln directories.
	// Nil leaves the current setting.
	UseDefaults *bool `toml:"use_defaults" yaml:"use_defaults"`
}

// Paths is the search path for one resource type.
//
// Paths values are immutable; the With* methods return modified copies.
type Paths struct {
	resourceType string
	global       string
	kiln         string
	additional   []string
	useDefaults  bool
}

// Option configures New.
type Option func(*options)

type options struct {
	globalRoot string
	noGlobal   bool
}

// WithGlobalRoot sets the directory holding the per-type global
// directories, replacing <user config dir>/ember.
func WithGlobalRoot(dir string) Option {
	return func(o *options) {
		o.globalRoot = dir
	}
}

// DefaultGlobalRoot returns <user config dir>/ember, or "" when the user
// config directory cannot be determined.
func DefaultGlobalRoot() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, AppName)
}

// New creates the search path for resourceType. The kiln directory is
// included only when kilnPath is not empty. Defaults are enabled.
// Relative directories are resolved against the working directory.
func New(resourceType, kilnPath string, opts ...Option) *Paths {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	root := o.globalRoot
	if root == "" {
		root = DefaultGlobalRoot()
	}

	p := &Paths{
		resourceType: resourceType,
		useDefaults:  true,
	}
	if root != "" {
		p.global = filepath.Join(absPath(root), resourceType)
	}
	if kilnPath != "" {
		p.kiln = filepath.Join(absPath(kilnPath), KilnDirName, resourceType)
	}
	return p
}

// ResourceType returns the resource type the paths were built for.
func (p *Paths) ResourceType() string {
	return p.resourceType
}

// WithPath returns a copy with path appended to the additional paths.
func (p *Paths) WithPath(path string) *Paths {
	return p.WithAdditional(path)
}

// WithAdditional returns a copy with paths appended to the additional paths.
func (p *Paths) WithAdditional(paths ...string) *Paths {
	next := p.clone()
	for _, path := range paths {
		if path == "" {
			continue
		}
		next.additional = append(next.additional, absPath(path))
	}
	return next
}

// WithoutDefaults returns a copy that ignores the global and kiln directories.
func (p *Paths) WithoutDefaults() *Paths {
	next := p.clone()
	next.useDefaults = false
	return next
}

// WithDefaults returns a copy that includes the global and kiln directories.
func (p *Paths) WithDefaults() *Paths {
	next := p.clone()
	next.useDefaults = true
	return next
}

// UsesDefaults reports whether the default directories contribute.
func (p *Paths) UsesDefaults() bool {
	return p.useDefaults
}

// Merge returns a copy with the configuration record applied.
func (p *Paths) Merge(cfg Config) *Paths {
	next := p.WithAdditional(cfg.AdditionalPaths...)
	if cfg.UseDefaults != nil {
		next.useDefaults = *cfg.UseDefaults
	}
	return next
}

// DefaultPaths returns the global and kiln directories, whether or not
// they are enabled.
func (p *Paths) DefaultPaths() []string {
	var out []string
	for _, s := range p.defaultSources() {
		out = append(out, s.Path)
	}
	return out
}

// AdditionalPaths returns the configured additional directories.
func (p *Paths) AdditionalPaths() []string {
	return append([]string(nil), p.additional...)
}

// Sources returns additional then default directories with their origins,
// deduplicated by first occurrence.
func (p *Paths) Sources() []Source {
	candidates := make([]Source, 0, len(p.additional)+2)
	for _, path := range p.additional {
		candidates = append(candidates, Source{Path: path, Origin: OriginAdditional})
	}
	if p.useDefaults {
		candidates = append(candidates, p.defaultSources()...)
	}

	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, s := range candidates {
		if seen[s.Path] {
			continue
		}
		seen[s.Path] = true
		out = append(out, s)
	}
	return out
}

// AllPaths returns the paths of Sources.
func (p *Paths) AllPaths() []string {
	sources := p.Sources()
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = s.Path
	}
	return out
}

// ExistingSources returns the Sources that are directories on disk now.
// The filesystem is consulted on every call.
func (p *Paths) ExistingSources() []Source {
	var out []Source
	for _, s := range p.Sources() {
		if isDir(s.Path) {
			out = append(out, s)
		}
	}
	return out
}

// ExistingPaths returns the paths of ExistingSources.
func (p *Paths) ExistingPaths() []string {
	var out []string
	for _, s := range p.ExistingSources() {
		out = append(out, s.Path)
	}
	return out
}

// Subdir returns a copy with name joined onto every directory. It is used
// to namespace handlers under a custom event's name.
func (p *Paths) Subdir(name string) *Paths {
	next := p.clone()
	next.resourceType = p.resourceType + "/" + name
	if next.global != "" {
		next.global = filepath.Join(next.global, name)
	}
	if next.kiln != "" {
		next.kiln = filepath.Join(next.kiln, name)
	}
	for i, path := range next.additional {
		next.additional[i] = filepath.Join(path, name)
	}
	return next
}

// SourceOf returns the source directory containing path, preferring the
// longest match. It reports false if path is outside every directory.
func (p *Paths) SourceOf(path string) (Source, bool) {
	path = absPath(path)
	var (
		best  Source
		found bool
	)
	for _, s := range p.Sources() {
		if !within(s.Path, path) {
			continue
		}
		if !found || len(s.Path) > len(best.Path) {
			best, found = s, true
		}
	}
	return best, found
}

func (p *Paths) defaultSources() []Source {
	var out []Source
	if p.global != "" {
		out = append(out, Source{Path: p.global, Origin: OriginGlobal})
	}
	if p.kiln != "" {
		out = append(out, Source{Path: p.kiln, Origin: OriginKiln})
	}
	return out
}

func (p *Paths) clone() *Paths {
	next := *p
	next.additional = append([]string(nil), p.additional...)
	return &next
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// within reports whether path is dir or lies below it.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// absPath expands ~ and resolves path against the working directory. If
// the working directory is unknown the cleaned path is kept.
func absPath(path string) string {
	path = expandHome(path)
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}
