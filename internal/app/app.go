// Package app wires the event bus, the script runtime and the handler
// registry together and owns them for the life of the process.
package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dshills/ember/internal/config"
	"github.com/dshills/ember/internal/discovery"
	"github.com/dshills/ember/internal/event"
	"github.com/dshills/ember/internal/log"
	"github.com/dshills/ember/internal/registry"
	"github.com/dshills/ember/internal/script/lua"
	"github.com/dshills/ember/internal/watcher"
)

// Application holds the single event bus and everything feeding it.
type Application struct {
	cfg    *config.Config
	logger *slog.Logger

	bus      *event.Bus
	runtime  *lua.Runtime
	paths    *discovery.Paths
	registry *registry.Registry

	mu     sync.Mutex
	closed bool
}

// Options configures the application.
type Options struct {
	// ConfigPath is the configuration file. Empty uses config.DefaultPath.
	ConfigPath string

	// Config, when set, is used instead of loading ConfigPath.
	Config *config.Config

	// KilnPath overrides the configured kiln path.
	KilnPath string

	// LogLevel overrides the configured log level.
	LogLevel string

	// Logger replaces the process logger set up from the configuration.
	Logger *slog.Logger

	// SkipDiscovery leaves the registry empty.
	SkipDiscovery bool
}

// New loads the configuration, builds the components in dependency order
// and runs handler discovery.
func New(ctx context.Context, opts Options) (*Application, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return nil, &InitError{Component: "config", Err: err}
		}
	}
	if opts.KilnPath != "" {
		cfg.KilnPath = opts.KilnPath
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Setup(cfg.Log.Level, cfg.Log.Format)
	}

	app := &Application{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}

	app.bus = event.NewBus(
		event.WithMaxEvents(cfg.Bus.MaxEvents),
		event.WithMaxDepth(cfg.Bus.MaxDepth),
		event.WithHandlerTimeout(cfg.Bus.HandlerTimeout.Std()),
		event.WithLogger(logger.With(slog.String("component", "event"))),
	)

	rtOpts := []lua.RuntimeOption{
		lua.WithLogger(logger.With(slog.String("component", "lua"))),
	}
	if cfg.Lua.PoolSize > 0 {
		rtOpts = append(rtOpts, lua.WithPoolSize(cfg.Lua.PoolSize))
	}
	if cfg.Lua.CallTimeout > 0 {
		rtOpts = append(rtOpts, lua.WithCallTimeout(cfg.Lua.CallTimeout.Std()))
	}
	app.runtime = lua.NewRuntime(rtOpts...)

	app.paths = cfg.Paths(config.DefaultHooksType)
	app.registry = registry.New(app.bus, app.runtime, app.paths,
		registry.WithLogger(logger.With(slog.String("component", "registry"))))

	if !opts.SkipDiscovery {
		if _, err := app.registry.Discover(ctx); err != nil {
			app.runtime.Close()
			return nil, &InitError{Component: "registry", Err: err}
		}
	}

	app.logger.Debug("started",
		"kiln", cfg.KilnPath,
		"paths", app.paths.ExistingPaths(),
		"handlers", app.bus.Len())
	return app, nil
}

// Config returns the effective configuration.
func (app *Application) Config() *config.Config {
	return app.cfg
}

// Bus returns the event bus.
func (app *Application) Bus() *event.Bus {
	return app.bus
}

// Registry returns the handler registry.
func (app *Application) Registry() *registry.Registry {
	return app.registry
}

// Runtime returns the script runtime.
func (app *Application) Runtime() *lua.Runtime {
	return app.runtime
}

// Paths returns the handler discovery paths.
func (app *Application) Paths() *discovery.Paths {
	return app.paths
}

// Emit dispatches e, draining queued events when recursive is set.
func (app *Application) Emit(ctx context.Context, e event.Event, recursive bool) (event.Result, error) {
	if app.isClosed() {
		return event.Result{}, ErrClosed
	}
	if recursive {
		return app.bus.EmitRecursive(ctx, e), nil
	}
	return app.bus.Emit(ctx, e), nil
}

// Watch reloads handlers as their files change until ctx is done.
func (app *Application) Watch(ctx context.Context) error {
	if app.isClosed() {
		return ErrClosed
	}
	if !app.cfg.Watch.Enabled {
		return ErrWatchDisabled
	}

	fsw, err := watcher.NewFSWatcher()
	if err != nil {
		return &InitError{Component: "watcher", Err: err}
	}
	src := watcher.NewDebouncer(fsw, app.cfg.Watch.Debounce.Std())
	defer src.Close()

	r := watcher.NewReloader(app.registry, src,
		watcher.WithLogger(app.logger.With(slog.String("component", "watcher"))))
	n, err := r.Watch(app.paths.ExistingPaths()...)
	if err != nil {
		app.logger.Warn("some discovery paths are not watched", "error", err)
	}
	app.logger.Info("watching for changes", "dirs", n)

	return r.Run(ctx)
}

// Close stops the script runtime and drops every handler.
func (app *Application) Close() error {
	app.mu.Lock()
	if app.closed {
		app.mu.Unlock()
		return nil
	}
	app.closed = true
	app.mu.Unlock()

	app.bus.Clear()
	return app.runtime.Close()
}

func (app *Application) isClosed() bool {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.closed
}
