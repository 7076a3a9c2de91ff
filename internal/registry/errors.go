package registry

import "errors"

var (
	// ErrNotScript is returned by ReloadFile for a path the runtime does
	// not handle.
	ErrNotScript = errors.New("not a script file")

	// ErrOutsidePaths is returned by ReloadFile for a new file that lies
	// outside every discovery path.
	ErrOutsidePaths = errors.New("file is outside the discovery paths")
)
