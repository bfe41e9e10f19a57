// Package memstore is an in-memory [notes.Store], used when no database is
// configured and in tests.
package memstore

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/notesmcp/internal/notes"
)

var _ notes.Store = (*Store)(nil)

// Store keeps notes in memory. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	notes  []notes.Note
	nextID int64

	// InsertCalls and SearchCalls count store round trips.
	InsertCalls int
	SearchCalls int
}

// New returns an empty Store.
func New() *Store {
	return &Store{nextID: 1}
}

// Insert implements [notes.Store].
func (s *Store) Insert(_ context.Context, n notes.NewNote) (notes.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InsertCalls++
	note := notes.Note{
		ID:        s.nextID,
		Title:     n.Title,
		Content:   n.Content,
		Tags:      slices.Clone(n.Tags),
		CreatedAt: time.Now().UTC(),
	}
	if note.Tags == nil {
		note.Tags = []string{}
	}
	s.nextID++
	s.notes = append(s.notes, note)
	return note, nil
}

// Search implements [notes.Store]. Matching is case-insensitive substring on
// content and title, and any-overlap on tags.
func (s *Store) Search(ctx context.Context, f notes.Filter) ([]notes.Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SearchCalls++
	query := strings.ToLower(f.Query)
	title := strings.ToLower(f.Title)
	out := []notes.Note{}
	for i := len(s.notes) - 1; i >= 0; i-- {
		n := s.notes[i]
		if query != "" && !strings.Contains(strings.ToLower(n.Content), query) {
			continue
		}
		if title != "" && !strings.Contains(strings.ToLower(n.Title), title) {
			continue
		}
		if len(f.Tags) > 0 && !overlaps(n.Tags, f.Tags) {
			continue
		}
		out = append(out, n)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Searches returns the number of Search calls made so far.
func (s *Store) Searches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.SearchCalls
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}
