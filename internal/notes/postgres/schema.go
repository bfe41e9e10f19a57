// Package postgres provides a PostgreSQL-backed [notes.Store].
//
// All operations share a single [pgxpool.Pool]. [Migrate] creates the notes
// table and its indexes and is run by [NewStore].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	n, _ := store.Insert(ctx, notes.NewNote{Title: "t", Content: "c"})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlNotes = `
CREATE TABLE IF NOT EXISTS notes (
    id          BIGSERIAL    PRIMARY KEY,
    title       TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    tags        TEXT[]       NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_notes_tags
    ON notes USING GIN (tags);

CREATE INDEX IF NOT EXISTS idx_notes_created_at
    ON notes (created_at);
`

// Migrate creates the notes schema. It is idempotent and safe to call on
// every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlNotes); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
