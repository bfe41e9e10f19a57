// Package history keeps the per-session chat transcript shown by the web UI.
//
// [Store] is implemented by [Memory] and by the SQLite store in the sqlite
// sub-package. The web handler writes to both when persistence is enabled and
// reads the persisted copy first.
package history

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"
)

// Roles recorded in history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one message of a session.
type Entry struct {
	Role string `json:"role"`
	Text string `json:"text"`

	// Actions is the JSON-encoded list of executed tool actions, or nil.
	Actions json.RawMessage `json:"actions"`

	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Store persists session history. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append adds e to the end of sessionID's history.
	Append(ctx context.Context, sessionID string, e Entry) error

	// Load returns sessionID's history, oldest first. An unknown session
	// yields an empty slice.
	Load(ctx context.Context, sessionID string) ([]Entry, error)
}

// EncodeActions marshals actions for [Entry.Actions]. An empty list encodes
// as nil.
func EncodeActions[T any](actions []T) json.RawMessage {
	if len(actions) == 0 {
		return nil
	}
	b, err := json.Marshal(actions)
	if err != nil {
		return nil
	}
	return b
}

var _ Store = (*Memory)(nil)

// Memory is an in-process [Store].
type Memory struct {
	mu       sync.RWMutex
	sessions map[string][]Entry
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string][]Entry)}
}

// Append implements [Store].
func (m *Memory) Append(_ context.Context, sessionID string, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = append(m.sessions[sessionID], e)
	return nil
}

// Load implements [Store].
func (m *Memory) Load(_ context.Context, sessionID string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.sessions[sessionID])
	if out == nil {
		out = []Entry{}
	}
	return out, nil
}
