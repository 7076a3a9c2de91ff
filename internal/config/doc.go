// Package config loads ember's settings.
//
// Settings come from three layers, later ones winning:
//
//   - built-in defaults (Default)
//   - a TOML or YAML file, chosen by extension
//   - EMBER_* environment variables
//
// A missing file is not an error. The merged result is validated before
// it is returned.
//
// Example file:
//
//	kiln_path = "~/notes"
//
//	[log]
//	level = "debug"
//
//	[bus]
//	max_events = 100
//	max_depth = 16
//	handler_timeout = "2s"
//
//	[watch]
//	debounce = "150ms"
//
//	[discovery.hooks]
//	additional_paths = ["/srv/hooks"]
package config
