// Package mcpserver exposes the note tools, the fetch tool and, optionally,
// the notes chat over the Model Context Protocol using the official go-sdk.
//
// Every tool answers with a single JSON text block. Tool failures are
// reported as results with IsError set and a {success:false, error, code}
// body, never as protocol errors.
//
// Usage:
//
//	srv := mcpserver.New(executor, orchestrator, mcpserver.Config{NotesChat: true})
//	err := srv.Run(ctx, &mcpsdk.StdioTransport{})
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/notesmcp/internal/chat"
	"github.com/MrWong99/notesmcp/internal/notes"
	"github.com/MrWong99/notesmcp/internal/observe"
	"github.com/MrWong99/notesmcp/internal/tools"
)

const (
	// ServerName is announced to MCP clients.
	ServerName = "notesmcp"

	// NotesChatTool is the name of the natural-language chat tool.
	NotesChatTool = "notes_chat"

	// FetchTool is the name of the web fetch tool.
	FetchTool = "fetch"
)

// Config controls which tools are exposed.
type Config struct {
	// Version is announced to clients.
	Version string

	// NotesChat registers notes_chat. It requires a non-nil runner.
	NotesChat bool

	// Fetcher serves the fetch tool. Defaults to [NewFetcher] with default
	// settings.
	Fetcher *Fetcher
}

// ChatRunner runs a notes chat. [*chat.Orchestrator] implements it.
type ChatRunner interface {
	RunNotesChat(ctx context.Context, prompt string, opts chat.Options) (*chat.Outcome, error)
}

// ToolExecutor runs note tools. [*tools.Executor] implements it.
type ToolExecutor interface {
	Execute(ctx context.Context, action tools.PlannedAction) notes.Result
}

// Server wraps an [mcpsdk.Server] with the notes tools registered.
type Server struct {
	sdk     *mcpsdk.Server
	exec    ToolExecutor
	runner  ChatRunner
	fetcher *Fetcher
}

// New builds a Server. runner may be nil, in which case notes_chat is not
// registered regardless of cfg.NotesChat.
func New(exec ToolExecutor, runner ChatRunner, cfg Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		sdk:     mcpsdk.NewServer(&mcpsdk.Implementation{Name: ServerName, Version: version}, nil),
		exec:    exec,
		runner:  runner,
		fetcher: cfg.Fetcher,
	}
	if s.fetcher == nil {
		s.fetcher = NewFetcher(DefaultFetchTimeout, false)
	}

	if cfg.NotesChat && runner != nil {
		s.sdk.AddTool(notesChatTool(), s.handleNotesChat)
	}
	s.sdk.AddTool(&mcpsdk.Tool{
		Name:        FetchTool,
		Title:       "Website Fetcher",
		Description: "Busca uma página web e retorna seu conteúdo (HTML convertido em Markdown).",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"url"},
			"properties": map[string]any{
				"url": map[string]any{"type": "string", "description": "URL a buscar"},
			},
		},
	}, s.handleFetch)
	for _, def := range tools.Definitions() {
		s.sdk.AddTool(&mcpsdk.Tool{
			Name:        def.Name,
			Title:       def.Title,
			Description: def.Description,
			InputSchema: def.Parameters,
		}, s.noteToolHandler(def.Name))
	}
	return s
}

// SDK returns the underlying go-sdk server.
func (s *Server) SDK() *mcpsdk.Server { return s.sdk }

// Run serves a single session over t until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context, t mcpsdk.Transport) error {
	return s.sdk.Run(ctx, t)
}

// StreamableHandler returns an HTTP handler serving the streamable HTTP
// transport.
func (s *Server) StreamableHandler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.sdk }, nil)
}

// SSEHandler returns an HTTP handler serving the legacy SSE transport.
func (s *Server) SSEHandler() http.Handler {
	return mcpsdk.NewSSEHandler(func(*http.Request) *mcpsdk.Server { return s.sdk }, nil)
}

func notesChatTool() *mcpsdk.Tool {
	return &mcpsdk.Tool{
		Name:        NotesChatTool,
		Title:       "Notes Chat",
		Description: "Interaja em linguagem natural para criar e buscar notas.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"prompt"},
			"properties": map[string]any{
				"prompt": map[string]any{"type": "string", "description": "Instrução do usuário"},
				"model":  map[string]any{"type": "string", "description": "ID do modelo"},
				"params": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"temperature":     map[string]any{"type": "number"},
						"max_tokens":      map[string]any{"type": "integer"},
						"timeout_seconds": map[string]any{"type": "number", "description": "Timeout por chamada (default 60)"},
					},
				},
			},
		},
	}
}

type notesChatArgs struct {
	Prompt string              `json:"prompt"`
	Model  string              `json:"model,omitempty"`
	Params *chat.RequestParams `json:"params,omitempty"`
}

func (s *Server) handleNotesChat(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args notesChatArgs
	if raw := arguments(req); len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return jsonResult(failure("argumentos inválidos: "+err.Error(), notes.CodeInvalidArgument), true), nil
		}
	}
	out, err := s.runner.RunNotesChat(ctx, args.Prompt, args.Params.Options(args.Model))
	if err != nil {
		return jsonResult(chat.ErrorPayload(err), true), nil
	}
	return jsonResult(out, false), nil
}

func (s *Server) handleFetch(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args struct {
		URL string `json:"url"`
	}
	if raw := arguments(req); len(raw) > 0 {
		_ = json.Unmarshal(raw, &args)
	}
	content, err := s.fetcher.Fetch(ctx, args.URL)
	if err != nil {
		observe.Logger(ctx).Warn("mcpserver: fetch failed", slog.String("url", args.URL), slog.Any("err", err))
		return jsonResult(failure(err.Error(), "fetch_failed"), true), nil
	}
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: content}}}, nil
}

func (s *Server) noteToolHandler(name string) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		res := s.exec.Execute(ctx, tools.PlannedAction{Tool: name, Args: chat.DecodeArgs(arguments(req))})
		return jsonResult(res, !res.Success), nil
	}
}

// arguments returns the raw tool arguments, or nil when the request carries
// no params.
func arguments(req *mcpsdk.CallToolRequest) json.RawMessage {
	if req == nil || req.Params == nil {
		return nil
	}
	return req.Params.Arguments
}

func failure(msg, code string) map[string]any {
	return map[string]any{"success": false, "error": msg, "code": code}
}

func jsonResult(v any, isError bool) *mcpsdk.CallToolResult {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		buf.Reset()
		buf.WriteString(`{"success":false,"error":"encode result failed"}`)
		isError = true
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(bytes.TrimRight(buf.Bytes(), "\n"))}},
		IsError: isError,
	}
}
