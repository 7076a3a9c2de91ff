// Package dispatch runs individual handler invocations for the event bus.
//
// Every invocation goes through an Executor, which isolates the caller from
// a misbehaving handler:
//
//   - panics are recovered and reported in the Result together with the
//     stack trace, so one broken handler cannot crash the emitting goroutine
//   - an optional per-invocation timeout bounds the context handed to the
//     handler and marks the Result as timed out when it expires
//
// The package knows nothing about events. Callers wrap the actual work in a
// Func closure and read whatever the closure captured once Execute returns.
//
// # Usage
//
//	d := dispatch.NewSyncDispatcher(dispatch.WithTimeout(2 * time.Second))
//	var out Event
//	res := d.Dispatch(ctx, func(ctx context.Context) error {
//	    var err error
//	    out, err = action.Process(ctx, ec, in)
//	    return err
//	})
//	if !res.IsSuccess() {
//	    // report res.Error, res.PanicValue, res.TimedOut
//	}
package dispatch
