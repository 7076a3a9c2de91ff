package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// Executor runs a Func, turning panics into results.
type Executor struct {
	onPanic PanicHandler
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorPanicHandler sets a function told about every recovered panic.
// A panic inside h is swallowed.
func WithExecutorPanicHandler(h PanicHandler) ExecutorOption {
	return func(e *Executor) {
		e.onPanic = h
	}
}

// NewExecutor creates an executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs fn in the calling goroutine. fn is skipped when ctx is
// already done.
func (e *Executor) Execute(ctx context.Context, fn Func) Result {
	if err := ctx.Err(); err != nil {
		return Result{Error: err, Skipped: true}
	}

	start := time.Now()
	p, err := e.call(ctx, fn)
	res := Result{Duration: time.Since(start)}

	switch {
	case p != nil:
		res.Panicked = true
		res.PanicValue = p.value
		res.PanicStack = p.stack
		res.Error = fmt.Errorf("%w: %v", ErrPanic, p.value)
	case err != nil:
		res.Error = err
	default:
		res.Success = true
	}
	return res
}

type recovered struct {
	value any
	stack []byte
}

// call runs fn and captures a panic instead of propagating it.
func (e *Executor) call(ctx context.Context, fn Func) (p *recovered, err error) {
	defer func() {
		v := recover()
		if v == nil {
			return
		}
		p = &recovered{value: v, stack: debug.Stack()}
		e.report(p)
	}()
	return nil, fn(ctx)
}

func (e *Executor) report(p *recovered) {
	if e.onPanic == nil {
		return
	}
	defer func() { _ = recover() }()
	e.onPanic(p.value, p.stack)
}

// ExecuteWithTimeout is Execute with a deadline of timeout on the context
// fn receives. A non-positive timeout means none.
//
// fn runs in the caller's goroutine and must watch its context to be
// interrupted. If the deadline expired by the time fn returns, and the
// parent context is still live, the result is TimedOut and its error wraps
// ErrTimeout regardless of what fn returned.
func (e *Executor) ExecuteWithTimeout(ctx context.Context, fn Func, timeout time.Duration) Result {
	if timeout <= 0 {
		return e.Execute(ctx, fn)
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := e.Execute(tctx, fn)
	expired := errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	if expired && !res.Panicked {
		res.Success = false
		res.TimedOut = true
		res.Error = fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	return res
}
