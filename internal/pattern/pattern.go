// Package pattern matches handler patterns against event identifiers.
//
// Patterns are globs over the whole identifier string:
//
//	"*"  matches zero or more characters of any kind
//	"?"  matches exactly one character
//
// Every other character matches itself. Matching is case-sensitive and
// anchored at both ends. There are no path-separator semantics: "*" happily
// crosses "/", ".", and ":".
package pattern

import (
	"strings"

	"github.com/tidwall/match"
)

// Wildcard characters.
const (
	// Any matches zero or more characters.
	Any = "*"

	// One matches exactly one character.
	One = "?"
)

// kind selects the matching strategy for a compiled pattern.
type kind uint8

const (
	kindAll kind = iota
	kindLiteral
	kindPrefix
	kindSuffix
	kindGlob
)

// Pattern is a compiled glob. The zero value matches only the empty string.
type Pattern struct {
	raw   string
	kind  kind
	fixed string // literal part for the fast paths
	glob  string // escaped form handed to the glob engine
}

// Compile prepares a pattern for repeated matching.
// An empty pattern is treated as "*".
func Compile(p string) Pattern {
	if p == "" || p == Any {
		return Pattern{raw: Any, kind: kindAll}
	}

	if !IsWildcard(p) {
		return Pattern{raw: p, kind: kindLiteral, fixed: p}
	}

	// "prefix*" and "*suffix" are by far the most common shapes.
	if n := strings.Count(p, Any); n == 1 && !strings.Contains(p, One) {
		switch {
		case strings.HasSuffix(p, Any):
			return Pattern{raw: p, kind: kindPrefix, fixed: strings.TrimSuffix(p, Any)}
		case strings.HasPrefix(p, Any):
			return Pattern{raw: p, kind: kindSuffix, fixed: strings.TrimPrefix(p, Any)}
		}
	}

	return Pattern{raw: p, kind: kindGlob, glob: escape(p)}
}

// Match reports whether s matches the pattern.
func (p Pattern) Match(s string) bool {
	switch p.kind {
	case kindAll:
		return true
	case kindLiteral:
		return s == p.fixed
	case kindPrefix:
		return strings.HasPrefix(s, p.fixed)
	case kindSuffix:
		return strings.HasSuffix(s, p.fixed)
	case kindGlob:
		return match.Match(s, p.glob)
	default:
		return s == ""
	}
}

// String returns the pattern source.
func (p Pattern) String() string {
	return p.raw
}

// MatchesAll returns true if the pattern accepts every identifier.
func (p Pattern) MatchesAll() bool {
	return p.kind == kindAll
}

// Match reports whether s matches the glob pattern p.
func Match(p, s string) bool {
	return Compile(p).Match(s)
}

// IsWildcard returns true if p contains any wildcard characters.
func IsWildcard(p string) bool {
	return strings.ContainsAny(p, Any+One)
}

// escape neutralises backslashes, which the glob engine treats as an escape
// character but which are plain literals here.
func escape(p string) string {
	if !strings.Contains(p, `\`) {
		return p
	}
	return strings.ReplaceAll(p, `\`, `\\`)
}
