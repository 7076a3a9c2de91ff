package dispatch

import "errors"

// Sentinel errors for the dispatch package.
var (
	// ErrPanic is wrapped by Result.Error when the invocation panicked.
	ErrPanic = errors.New("panic during invocation")

	// ErrTimeout is wrapped by Result.Error when the invocation outlived
	// its timeout.
	ErrTimeout = errors.New("invocation timed out")
)
