package dispatch

import (
	"context"
	"time"
)

// Func is one unit of work handed to an Executor.
type Func func(ctx context.Context) error

// Outcome classifies a Result.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeError
	OutcomePanic
	OutcomeTimeout
	OutcomeSkipped

	numOutcomes
)

var outcomeNames = [numOutcomes]string{"success", "error", "panic", "timeout", "skipped"}

func (o Outcome) String() string {
	if o < 0 || o >= numOutcomes {
		return "unknown"
	}
	return outcomeNames[o]
}

// Result describes one invocation.
type Result struct {
	Success bool

	// Error is what fn returned. It wraps ErrPanic after a panic and
	// ErrTimeout after an expired timeout.
	Error error

	Panicked   bool
	PanicValue any
	PanicStack []byte

	TimedOut bool

	// Skipped means fn never ran because the context was already done.
	Skipped bool

	Duration time.Duration
}

// Outcome returns the single classification of r. Skipped, panic and
// timeout take precedence over a plain error.
func (r Result) Outcome() Outcome {
	switch {
	case r.Skipped:
		return OutcomeSkipped
	case r.Panicked:
		return OutcomePanic
	case r.TimedOut:
		return OutcomeTimeout
	case r.Error != nil || !r.Success:
		return OutcomeError
	default:
		return OutcomeSuccess
	}
}

// IsSuccess returns true if fn completed without error or panic.
func (r Result) IsSuccess() bool {
	return r.Outcome() == OutcomeSuccess
}

// IsError returns true if the result carries an error other than a panic.
func (r Result) IsError() bool {
	return r.Error != nil && !r.Panicked
}

// IsPanic returns true if fn panicked.
func (r Result) IsPanic() bool {
	return r.Panicked
}

// PanicHandler observes recovered panics.
type PanicHandler func(panicValue any, stack []byte)
