package discovery

import (
	"errors"
	"fmt"
)

// ErrNotDirectory is wrapped by a PathError for a path that exists but is
// not a directory.
var ErrNotDirectory = errors.New("not a directory")

// PathError reports a discovery directory, or a directory below it, that
// could not be read. It contributes no files; the remaining paths are still
// scanned.
type PathError struct {
	Path   string
	Origin Origin
	Err    error
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return fmt.Sprintf("discovery path %s (%s): %v", e.Path, e.Origin, e.Err)
}

// Unwrap returns the underlying error.
func (e *PathError) Unwrap() error {
	return e.Err
}
