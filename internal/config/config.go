package config

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/ember/internal/discovery"
	"github.com/dshills/ember/internal/log"
)

// Defaults.
const (
	DefaultMaxEvents = 100
	DefaultMaxDepth  = 16
	DefaultDebounce  = 150 * time.Millisecond
	DefaultLogLevel  = "info"
	DefaultHooksType = "hooks"
)

// Config is the complete configuration.
type Config struct {
	// KilnPath is the workspace root. Empty disables kiln directories.
	KilnPath string `toml:"kiln_path" yaml:"kiln_path"`

	// GlobalRoot replaces <user config dir>/ember as the parent of the
	// global discovery directories.
	GlobalRoot string `toml:"global_root" yaml:"global_root"`

	Log       LogConfig                   `toml:"log" yaml:"log"`
	Bus       BusConfig                   `toml:"bus" yaml:"bus"`
	Lua       LuaConfig                   `toml:"lua" yaml:"lua"`
	Watch     WatchConfig                 `toml:"watch" yaml:"watch"`
	Discovery map[string]discovery.Config `toml:"discovery" yaml:"discovery"`
}

// LogConfig configures internal/log.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// BusConfig bounds event dispatch.
type BusConfig struct {
	// MaxEvents caps the events processed by one recursive emission.
	MaxEvents int `toml:"max_events" yaml:"max_events"`
	// MaxDepth caps the nesting of recursive emission.
	MaxDepth int `toml:"max_depth" yaml:"max_depth"`
	// HandlerTimeout bounds each handler call. Zero means no bound.
	HandlerTimeout Duration `toml:"handler_timeout" yaml:"handler_timeout"`
}

// LuaConfig configures the script runtime.
type LuaConfig struct {
	// PoolSize is the number of interpreter states. Zero uses GOMAXPROCS.
	PoolSize int `toml:"pool_size" yaml:"pool_size"`
	// CallTimeout bounds one script call. Zero uses the runtime default.
	CallTimeout Duration `toml:"call_timeout" yaml:"call_timeout"`
}

// WatchConfig configures hot reload.
type WatchConfig struct {
	Enabled  bool     `toml:"enabled" yaml:"enabled"`
	Debounce Duration `toml:"debounce" yaml:"debounce"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: log.FormatText,
		},
		Bus: BusConfig{
			MaxEvents: DefaultMaxEvents,
			MaxDepth:  DefaultMaxDepth,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: Duration(DefaultDebounce),
		},
		Discovery: make(map[string]discovery.Config),
	}
}

// Paths builds the discovery paths for resourceType, with the matching
// discovery record merged in.
func (c *Config) Paths(resourceType string) *discovery.Paths {
	var opts []discovery.Option
	if c.GlobalRoot != "" {
		opts = append(opts, discovery.WithGlobalRoot(c.GlobalRoot))
	}
	p := discovery.New(resourceType, c.KilnPath, opts...)
	if dc, ok := c.Discovery[resourceType]; ok {
		p = p.Merge(dc)
	}
	return p
}

// Validate checks every setting and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "%v", err)
	}
	if !log.ValidFormat(c.Log.Format) {
		add("log.format", "unknown format %q", c.Log.Format)
	}
	if c.Bus.MaxEvents <= 0 {
		add("bus.max_events", "must be positive, got %d", c.Bus.MaxEvents)
	}
	if c.Bus.MaxDepth <= 0 {
		add("bus.max_depth", "must be positive, got %d", c.Bus.MaxDepth)
	}
	if c.Bus.HandlerTimeout < 0 {
		add("bus.handler_timeout", "must not be negative")
	}
	if c.Lua.PoolSize < 0 {
		add("lua.pool_size", "must not be negative, got %d", c.Lua.PoolSize)
	}
	if c.Lua.CallTimeout < 0 {
		add("lua.call_timeout", "must not be negative")
	}
	if c.Watch.Debounce < 0 {
		add("watch.debounce", "must not be negative")
	}

	types := make([]string, 0, len(c.Discovery))
	for typ := range c.Discovery {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		if typ == "" {
			add("discovery", "resource type must not be empty")
		}
		for _, p := range c.Discovery[typ].AdditionalPaths {
			if p == "" {
				add("discovery."+typ+".additional_paths", "empty path")
			}
		}
	}

	return errors.Join(errs...)
}

// Duration is a time.Duration written as a string such as "150ms".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}
