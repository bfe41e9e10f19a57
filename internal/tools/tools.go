// Package tools defines the note tools offered to the model and the
// [Executor] that dispatches planned tool calls to the notes service.
//
// Exactly two tools exist, add_note and search_notes. Their schemas are
// fixed at process scope and returned by [Definitions].
package tools

import (
	"context"

	"github.com/MrWong99/notesmcp/internal/notes"
	"github.com/MrWong99/notesmcp/pkg/types"
)

// Tool names.
const (
	AddNote     = "add_note"
	SearchNotes = "search_notes"
)

// MaxSearchResults caps the results of search_notes before they re-enter the
// conversation.
const MaxSearchResults = 10

// PlannedAction is one tool invocation requested by the model.
type PlannedAction struct {
	// ID is the provider-assigned call ID, possibly empty.
	ID string `json:"-"`

	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// ExecutedAction is a PlannedAction with the outcome of its dispatch.
type ExecutedAction struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	Result any            `json:"result"`
}

// Tool pairs a model-facing schema with its handler.
type Tool struct {
	// Definition is the schema sent to the model and listed by the MCP server.
	Definition types.ToolDefinition

	// Handler runs the tool with decoded arguments. It must be safe for
	// concurrent use.
	Handler func(ctx context.Context, args map[string]any) notes.Result
}

var addNoteDefinition = types.ToolDefinition{
	Name:        AddNote,
	Title:       "Adicionar nota",
	Description: "Cria uma nota com título, conteúdo e tags.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{"type": "string", "description": "Conteúdo da nota"},
			"title":   map[string]any{"type": "string", "description": "Título da nota"},
			"tags": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Lista de tags",
			},
		},
		"required": []string{"content", "title"},
	},
}

var searchNotesDefinition = types.ToolDefinition{
	Name:        SearchNotes,
	Title:       "Buscar notas",
	Description: "Busca notas por conteúdo, título e/ou tags.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "Texto a buscar no conteúdo"},
			"title": map[string]any{"type": "string", "description": "Texto a buscar no título"},
			"tags": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Tags a filtrar (qualquer uma)",
			},
		},
	},
}

// Definitions returns the schemas of the note tools in a stable order.
func Definitions() []types.ToolDefinition {
	return []types.ToolDefinition{addNoteDefinition, searchNotesDefinition}
}

// NoteTools returns the note tools bound to svc.
func NoteTools(svc *notes.Service) []Tool {
	return []Tool{
		{
			Definition: addNoteDefinition,
			Handler: func(ctx context.Context, args map[string]any) notes.Result {
				content := stringArg(args, "content")
				title := stringArg(args, "title")
				if content == "" || title == "" {
					return notes.Fail(notes.CodeInvalidArgument, "content e title são obrigatórios")
				}
				return svc.AddNote(ctx, content, title, stringsArg(args, "tags"))
			},
		},
		{
			Definition: searchNotesDefinition,
			Handler: func(ctx context.Context, args map[string]any) notes.Result {
				return CapResults(svc.SearchNotes(ctx,
					stringArg(args, "query"),
					stringArg(args, "title"),
					stringsArg(args, "tags"),
				))
			},
		},
	}
}

// CapResults limits data.results to [MaxSearchResults] and sets
// data.truncated_results when it did.
func CapResults(r notes.Result) notes.Result {
	if !r.Success {
		return r
	}
	found, ok := r.Data["results"].([]notes.Note)
	if !ok || len(found) <= MaxSearchResults {
		return r
	}
	data := make(map[string]any, len(r.Data)+1)
	for k, v := range r.Data {
		data[k] = v
	}
	data["results"] = found[:MaxSearchResults]
	data["truncated_results"] = true
	r.Data = data
	return r
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// stringsArg accepts a list of strings or a single string.
func stringsArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
