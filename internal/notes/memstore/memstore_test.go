package memstore

import (
	"context"
	"testing"

	"github.com/MrWong99/notesmcp/internal/notes"
)

func seed(t *testing.T) *Store {
	t.Helper()
	s := New()
	ctx := context.Background()
	for _, n := range []notes.NewNote{
		{Title: "Compras", Content: "Comprar leite e pão", Tags: []string{"casa"}},
		{Title: "Reunião", Content: "Pauta da reunião de Go", Tags: []string{"trabalho", "go"}},
		{Title: "Estudos", Content: "Ler sobre canais em Go", Tags: []string{"go"}},
	} {
		if _, err := s.Insert(ctx, n); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	return s
}

func TestSearch_Filters(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	tests := []struct {
		name string
		f    notes.Filter
		want []int64
	}{
		{"all newest first", notes.Filter{}, []int64{3, 2, 1}},
		{"query case-insensitive", notes.Filter{Query: "GO"}, []int64{3, 2}},
		{"title", notes.Filter{Title: "compr"}, []int64{1}},
		{"tag overlap", notes.Filter{Tags: []string{"casa", "trabalho"}}, []int64{2, 1}},
		{"combined", notes.Filter{Query: "go", Tags: []string{"trabalho"}}, []int64{2}},
		{"limit", notes.Filter{Limit: 1}, []int64{3}},
		{"no match", notes.Filter{Query: "inexistente"}, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Search(ctx, tt.f)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d notes, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("got[%d].ID = %d, want %d", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestInsert_AssignsIDAndTimestamp(t *testing.T) {
	s := New()
	n, err := s.Insert(context.Background(), notes.NewNote{Title: "t", Content: "c"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if n.ID != 1 || n.CreatedAt.IsZero() {
		t.Errorf("note = %+v", n)
	}
	if n.Tags == nil {
		t.Error("Tags should be an empty slice, not nil")
	}
}

func TestSearch_CancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Search(ctx, notes.Filter{}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
