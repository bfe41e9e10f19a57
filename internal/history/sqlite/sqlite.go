// Package sqlite is a SQLite-backed [history.Store] using the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/notesmcp/internal/history"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT NOT NULL,
    role        TEXT NOT NULL,
    content     TEXT NOT NULL,
    actions     TEXT NULL,
    created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (session_id) REFERENCES sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages (session_id, id);
`

// timeLayout is the layout written to created_at; it matches CURRENT_TIMESTAMP
// with sub-second precision.
const timeLayout = "2006-01-02 15:04:05.000"

var _ history.Store = (*Store)(nil)

// Store persists history in a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path, enables WAL and
// applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history sqlite: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history sqlite: open: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history sqlite: enable wal: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable. It is used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Append implements [history.Store].
func (s *Store) Append(ctx context.Context, sessionID string, e history.Entry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var actions any
	if len(e.Actions) > 0 {
		actions = string(e.Actions)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history sqlite: append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO sessions (id) VALUES (?)", sessionID); err != nil {
		return fmt.Errorf("history sqlite: append session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO messages (session_id, role, content, actions, created_at) VALUES (?, ?, ?, ?, ?)",
		sessionID, e.Role, e.Text, actions, created.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("history sqlite: append message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history sqlite: append: %w", err)
	}
	return nil
}

// Load implements [history.Store]. Unparseable stored actions load as an
// empty list.
func (s *Store) Load(ctx context.Context, sessionID string) ([]history.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content, actions, created_at FROM messages WHERE session_id = ? ORDER BY id ASC",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("history sqlite: load: %w", err)
	}
	defer rows.Close()

	out := []history.Entry{}
	for rows.Next() {
		var (
			e       history.Entry
			actions sql.NullString
			created any
		)
		if err := rows.Scan(&e.Role, &e.Text, &actions, &created); err != nil {
			return nil, fmt.Errorf("history sqlite: scan: %w", err)
		}
		if actions.Valid && actions.String != "" {
			if json.Valid([]byte(actions.String)) {
				e.Actions = json.RawMessage(actions.String)
			} else {
				e.Actions = json.RawMessage("[]")
			}
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history sqlite: load: %w", err)
	}
	return out, nil
}

// parseTime accepts the representations the driver may return for a
// TIMESTAMP column.
func parseTime(v any) time.Time {
	var s string
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return time.Time{}
	}
	for _, layout := range []string{timeLayout, time.DateTime, time.RFC3339Nano} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
