// Package registry loads script handlers from the discovery paths onto an
// event bus and keeps them in step with the files they came from.
//
// Every handler name is owned by at most one file at a time. When several
// files define the same name, the file from the strongest origin wins
// (additional, then kiln, then global) and, within one origin, the file
// discovered first. The others are kept as shadowed candidates: if the
// winner is removed, or reloaded without that name, the next candidate
// takes over. A Go handler that held the name before any script claimed it
// is restored when the last script candidate goes away.
//
// A file below a top-level subdirectory of a discovery path belongs to the
// custom event of that name: its custom-event handlers without a pattern
// match only that event, however the file was found.
//
// Reloading a file whose content hash is unchanged does nothing. A reload
// that fails to compile keeps the file's previous handlers. A reload
// changes the bus in one step.
package registry
