package event

import (
	"log/slog"
	"time"

	"github.com/dshills/ember/internal/log"
)

// BusOption configures an event Bus.
type BusOption func(*busConfig)

// busConfig contains configuration for the event bus.
type busConfig struct {
	// maxEvents bounds the number of emissions one EmitRecursive call
	// performs, the root emission included.
	maxEvents int

	// maxDepth bounds how many generations of queued events EmitRecursive
	// follows. The root event is depth 0.
	maxDepth int

	// handlerTimeout bounds each handler invocation. Zero disables it.
	handlerTimeout time.Duration

	// logger receives bus diagnostics.
	logger *slog.Logger
}

// Default recursion bounds for EmitRecursive.
const (
	DefaultMaxEvents = 100
	DefaultMaxDepth  = 16
)

// defaultBusConfig returns sensible default configuration.
func defaultBusConfig() busConfig {
	return busConfig{
		maxEvents:      DefaultMaxEvents,
		maxDepth:       DefaultMaxDepth,
		handlerTimeout: 0,
		logger:         log.WithComponent("event"),
	}
}

// WithMaxEvents sets the maximum number of emissions per EmitRecursive call.
func WithMaxEvents(n int) BusOption {
	return func(c *busConfig) {
		if n > 0 {
			c.maxEvents = n
		}
	}
}

// WithMaxDepth sets the maximum queued-event depth followed by EmitRecursive.
func WithMaxDepth(n int) BusOption {
	return func(c *busConfig) {
		if n >= 0 {
			c.maxDepth = n
		}
	}
}

// WithHandlerTimeout bounds each handler invocation. A handler that outlives
// it is reported as a non-fatal error wrapping ErrHandlerTimeout.
func WithHandlerTimeout(d time.Duration) BusOption {
	return func(c *busConfig) {
		if d >= 0 {
			c.handlerTimeout = d
		}
	}
}

// WithLogger sets the logger for bus diagnostics.
func WithLogger(l *slog.Logger) BusOption {
	return func(c *busConfig) {
		if l != nil {
			c.logger = l
		}
	}
}
