package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/notesmcp/internal/notes"
)

var _ notes.Store = (*Store)(nil)

// Store is a PostgreSQL-backed note store. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("notes store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("notes store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("notes store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("notes store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks connectivity. It is used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Insert implements [notes.Store].
func (s *Store) Insert(ctx context.Context, n notes.NewNote) (notes.Note, error) {
	const q = `
		INSERT INTO notes (title, content, tags)
		VALUES ($1, $2, $3)
		RETURNING id, title, content, tags, created_at`

	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	rows, err := s.pool.Query(ctx, q, n.Title, n.Content, tags)
	if err != nil {
		return notes.Note{}, fmt.Errorf("notes store: insert: %w", err)
	}
	note, err := pgx.CollectExactlyOneRow(rows, scanNote)
	if err != nil {
		return notes.Note{}, fmt.Errorf("notes store: insert: %w", err)
	}
	return note, nil
}

// Search implements [notes.Store]. Query and title use ILIKE substring
// matching; tags match on array overlap.
func (s *Store) Search(ctx context.Context, f notes.Filter) ([]notes.Note, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if f.Query != "" {
		conditions = append(conditions, "content ILIKE "+next(likePattern(f.Query)))
	}
	if f.Title != "" {
		conditions = append(conditions, "title ILIKE "+next(likePattern(f.Title)))
	}
	if len(f.Tags) > 0 {
		conditions = append(conditions, "tags && "+next(f.Tags))
	}

	q := "SELECT id, title, content, tags, created_at\nFROM   notes"
	if len(conditions) > 0 {
		q += "\nWHERE  " + strings.Join(conditions, "\n  AND  ")
	}
	q += "\nORDER  BY created_at DESC, id DESC"
	if f.Limit > 0 {
		q += "\nLIMIT " + next(f.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("notes store: search: %w", err)
	}
	found, err := pgx.CollectRows(rows, scanNote)
	if err != nil {
		return nil, fmt.Errorf("notes store: search: %w", err)
	}
	if found == nil {
		found = []notes.Note{}
	}
	return found, nil
}

func scanNote(row pgx.CollectableRow) (notes.Note, error) {
	var n notes.Note
	if err := row.Scan(&n.ID, &n.Title, &n.Content, &n.Tags, &n.CreatedAt); err != nil {
		return notes.Note{}, err
	}
	if n.Tags == nil {
		n.Tags = []string{}
	}
	return n, nil
}

// likePattern escapes LIKE metacharacters in s and wraps it in wildcards.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
