package dispatch

import (
	"context"
	"sync/atomic"
	"time"
)

// SyncDispatcher runs every Func on the caller's goroutine through an
// Executor and counts the outcomes.
type SyncDispatcher struct {
	executor *Executor
	timeout  time.Duration

	outcomes [numOutcomes]atomic.Uint64
	busyNs   atomic.Int64
}

// SyncOption configures a SyncDispatcher.
type SyncOption func(*SyncDispatcher)

// WithPanicHandler sets the function told about recovered panics.
func WithPanicHandler(h PanicHandler) SyncOption {
	return func(d *SyncDispatcher) {
		d.executor = NewExecutor(WithExecutorPanicHandler(h))
	}
}

// WithTimeout bounds each invocation. Zero means no bound.
func WithTimeout(timeout time.Duration) SyncOption {
	return func(d *SyncDispatcher) {
		d.timeout = timeout
	}
}

// NewSyncDispatcher creates a dispatcher.
func NewSyncDispatcher(opts ...SyncOption) *SyncDispatcher {
	d := &SyncDispatcher{executor: NewExecutor()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs fn and blocks until it returns.
func (d *SyncDispatcher) Dispatch(ctx context.Context, fn Func) Result {
	res := d.executor.ExecuteWithTimeout(ctx, fn, d.timeout)
	d.outcomes[res.Outcome()].Add(1)
	d.busyNs.Add(res.Duration.Nanoseconds())
	return res
}

// SyncDispatcherStats counts dispatches by outcome.
type SyncDispatcherStats struct {
	Dispatched uint64
	Succeeded  uint64
	Failed     uint64
	Panicked   uint64
	TimedOut   uint64
	Skipped    uint64

	// TotalDuration is the time spent inside invocations.
	TotalDuration time.Duration
	AvgDuration   time.Duration
}

// Stats returns the counters. They are read one by one, so a snapshot
// taken during dispatch may be slightly inconsistent.
func (d *SyncDispatcher) Stats() SyncDispatcherStats {
	var counts [numOutcomes]uint64
	var total uint64
	for i := range d.outcomes {
		counts[i] = d.outcomes[i].Load()
		total += counts[i]
	}
	busy := time.Duration(d.busyNs.Load())

	s := SyncDispatcherStats{
		Dispatched:    total,
		Succeeded:     counts[OutcomeSuccess],
		Failed:        counts[OutcomeError],
		Panicked:      counts[OutcomePanic],
		TimedOut:      counts[OutcomeTimeout],
		Skipped:       counts[OutcomeSkipped],
		TotalDuration: busy,
	}
	if total > 0 {
		s.AvgDuration = busy / time.Duration(total)
	}
	return s
}
