package watcher

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/dshills/ember/internal/log"
)

// Target receives script changes.
type Target interface {
	IsScript(path string) bool
	ReloadFile(ctx context.Context, path string) error
	RemoveFile(path string) int
	Files() []string
}

// Reloader applies the events of a Source to a Target.
type Reloader struct {
	target Target
	source Source
	logger *slog.Logger

	reloads  atomic.Int64
	failures atomic.Int64
	removals atomic.Int64
}

// ReloaderOption configures a Reloader.
type ReloaderOption func(*Reloader)

// WithLogger sets the reloader logger.
func WithLogger(l *slog.Logger) ReloaderOption {
	return func(r *Reloader) {
		if l != nil {
			r.logger = l
		}
	}
}

// ReloadStats counts what a Reloader has done.
type ReloadStats struct {
	Reloads  int64
	Failures int64
	Removals int64
}

// NewReloader creates a reloader reading from source.
func NewReloader(target Target, source Source, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		target: target,
		source: source,
		logger: log.WithComponent("watcher"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Watch adds dirs to the source. Directories that don't exist are skipped;
// a script directory created later needs another Watch. It returns the
// number of directories added.
func (r *Reloader) Watch(dirs ...string) (int, error) {
	var (
		added int
		errs  []error
	)
	for _, dir := range dirs {
		err := r.source.Add(dir)
		switch {
		case err == nil:
			added++
			r.logger.Debug("watching", "dir", dir)
		case errors.Is(err, ErrPathNotExist):
			r.logger.Debug("not watching missing dir", "dir", dir)
		default:
			r.logger.Warn("watch failed", "dir", dir, "error", err)
			errs = append(errs, err)
		}
	}
	return added, errors.Join(errs...)
}

// Run applies events until ctx is done or the source is closed.
func (r *Reloader) Run(ctx context.Context) error {
	events, errs := r.source.Events(), r.source.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return ErrClosed
			}
			r.Handle(ctx, ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.logger.Warn("watch error", "error", err)
		}
	}
}

// Handle applies one event. A script that changed is reloaded, and a
// removed directory takes every script below it along.
func (r *Reloader) Handle(ctx context.Context, ev Event) {
	if ev.Op == OpChmod {
		return
	}

	if !r.target.IsScript(ev.Path) {
		if ev.Op.Gone() {
			r.removeTree(ev.Path)
		}
		return
	}

	r.logger.Debug("script changed", "path", ev.Path, "op", ev.Op)
	if err := r.target.ReloadFile(ctx, ev.Path); err != nil {
		r.failures.Add(1)
		return
	}
	r.reloads.Add(1)
}

func (r *Reloader) removeTree(dir string) {
	for _, path := range r.target.Files() {
		if within(dir, path) {
			n := r.target.RemoveFile(path)
			r.removals.Add(1)
			r.logger.Info("script removed", "path", path, "handlers", n)
		}
	}
}

// Stats returns the reloader's counters.
func (r *Reloader) Stats() ReloadStats {
	return ReloadStats{
		Reloads:  r.reloads.Load(),
		Failures: r.failures.Load(),
		Removals: r.removals.Load(),
	}
}
