// Package notes is the notes domain: the [Note] model, the [Store] contract
// implemented by the database backends, tag sanitisation and the [Service]
// that the tool executor and the MCP server call into.
//
// Every service operation answers with a [Result], the uniform envelope that
// is serialised verbatim into tool results and MCP responses.
package notes

import (
	"context"
	"time"
)

// Note is a stored note.
type Note struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

// NewNote carries the fields of a note to be inserted.
type NewNote struct {
	Title   string
	Content string
	Tags    []string
}

// Filter narrows a search. Empty fields do not filter.
type Filter struct {
	// Query matches content, case-insensitively, as a substring.
	Query string

	// Title matches the title, case-insensitively, as a substring.
	Title string

	// Tags matches notes sharing at least one tag.
	Tags []string

	// Limit caps the number of rows returned. Zero means no limit.
	Limit int
}

// Store persists notes. Implementations must be safe for concurrent use.
type Store interface {
	// Insert stores n and returns it with ID and CreatedAt populated.
	Insert(ctx context.Context, n NewNote) (Note, error)

	// Search returns notes matching f, newest first.
	Search(ctx context.Context, f Filter) ([]Note, error)
}
