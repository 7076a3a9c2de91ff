package events

import (
	"github.com/dshills/ember/internal/event"
)

// Link is an outgoing reference found in a note.
type Link struct {
	Target string
	Line   int

	// Kind is "wikilink", "embed" or "markdown".
	Kind string
}

// Block is a top-level structural element of a parsed note.
type Block struct {
	// Kind is the element kind, e.g. "heading", "paragraph", "code".
	Kind    string
	Content string

	// Level is the heading level; zero for other kinds.
	Level int
}

// NoteSummary is the structured summary producers attach to note events.
type NoteSummary struct {
	Title       string
	Frontmatter map[string]any
	Tags        []string
	Links       []Link
	Blocks      []Block
	Metadata    map[string]any

	// ContentHash is a hex digest of the raw file content.
	ContentHash string

	// BlockHashes hold one hex digest per block, in block order.
	BlockHashes []string
}

// NoteParsed creates a note:parsed event for the document at path.
func NoteParsed(path string, s NoteSummary) event.Event {
	return event.New(event.NoteParsed, path, s.payload(path))
}

// NoteCreated creates a note:created event for the document at path.
func NoteCreated(path string, s NoteSummary) event.Event {
	return event.New(event.NoteCreated, path, s.payload(path))
}

// NoteModified creates a note:modified event for the document at path.
func NoteModified(path string, s NoteSummary) event.Event {
	return event.New(event.NoteModified, path, s.payload(path))
}

func (s NoteSummary) payload(path string) map[string]any {
	tags := make([]any, len(s.Tags))
	for i, t := range s.Tags {
		tags[i] = t
	}

	links := make([]any, len(s.Links))
	for i, l := range s.Links {
		links[i] = map[string]any{"target": l.Target, "kind": l.Kind, "line": l.Line}
	}

	blocks := make([]any, len(s.Blocks))
	for i, b := range s.Blocks {
		blocks[i] = map[string]any{"kind": b.Kind, "content": b.Content, "level": b.Level}
	}

	blockHashes := make([]any, len(s.BlockHashes))
	for i, h := range s.BlockHashes {
		blockHashes[i] = h
	}

	return map[string]any{
		"path":        path,
		"title":       s.Title,
		"frontmatter": orEmpty(s.Frontmatter),
		"tags":        tags,
		"links":       links,
		"blocks":      blocks,
		"metadata":    orEmpty(s.Metadata),
		"hashes": map[string]any{
			"content": s.ContentHash,
			"blocks":  blockHashes,
		},
	}
}

// orEmpty returns a copy of m, or an empty map when m is nil.
func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return event.ClonePayload(m).(map[string]any)
}
