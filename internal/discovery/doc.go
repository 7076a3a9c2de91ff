// Package discovery computes the directories scanned for a resource type.
//
// Every resource type ("hooks", "tools", ...) has up to two default
// directories:
//
//	global  <user config dir>/ember/<type>
//	kiln    <kiln>/.ember/<type>
//
// Additional directories come from configuration and are searched first.
// Paths are deduplicated by first occurrence, so a directory listed both as
// additional and as a default keeps its additional origin.
//
//	p := discovery.New("hooks", kiln).WithAdditional("/opt/hooks")
//	for _, f := range p.Files(script.IsScript) { ... }
package discovery
