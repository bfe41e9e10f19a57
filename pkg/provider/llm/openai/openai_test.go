package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkoukk/tiktoken-go"

	"github.com/MrWong99/notesmcp/pkg/provider/llm"
	"github.com/MrWong99/notesmcp/pkg/types"
)

// TestConvertMessage_System checks that system role is converted correctly.
func TestConvertMessage_System(t *testing.T) {
	msg := types.Message{Role: types.RoleSystem, Content: "Você é um assistente de notas."}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfSystem == nil {
		t.Fatal("expected OfSystem to be set")
	}
}

// TestConvertMessage_User checks that user role is converted correctly.
func TestConvertMessage_User(t *testing.T) {
	msg := types.Message{Role: types.RoleUser, Content: "Crie uma nota"}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfUser == nil {
		t.Fatal("expected OfUser to be set")
	}
}

// TestConvertMessage_AssistantWithToolCalls checks tool call conversion.
func TestConvertMessage_AssistantWithToolCalls(t *testing.T) {
	msg := types.Message{
		Role: types.RoleAssistant,
		ToolCalls: []types.ToolCall{
			{ID: "call_1", Name: "search_notes", Arguments: `{"query":"python"}`},
		},
	}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfAssistant == nil {
		t.Fatal("expected OfAssistant to be set")
	}
	if len(param.OfAssistant.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(param.OfAssistant.ToolCalls))
	}
	tc := param.OfAssistant.ToolCalls[0]
	if tc.ID != "call_1" {
		t.Errorf("expected ID call_1, got %s", tc.ID)
	}
	if tc.Function.Name != "search_notes" {
		t.Errorf("expected function name search_notes, got %s", tc.Function.Name)
	}
}

// TestConvertMessage_UnknownRole checks that unknown roles return an error.
func TestConvertMessage_UnknownRole(t *testing.T) {
	_, err := convertMessage(types.Message{Role: "unknown", Content: "test"})
	if err == nil {
		t.Fatal("expected error for unknown role, got nil")
	}
}

// TestBuildParams_ModelOverride checks that a per-request model wins over the default.
func TestBuildParams_ModelOverride(t *testing.T) {
	p := &Provider{model: "openai/gpt-4o-mini"}
	params, err := p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "oi"}},
		Model:    "anthropic/claude-3-haiku",
		Tools:    []types.ToolDefinition{{Name: "add_note", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(params.Model) != "anthropic/claude-3-haiku" {
		t.Errorf("model = %q, want override", params.Model)
	}
	if len(params.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(params.Tools))
	}
	if !params.ToolChoice.OfAuto.Valid() {
		t.Error("expected tool_choice=auto when tools are offered")
	}
}

// TestCapabilities checks OpenRouter vendor prefixes are ignored.
func TestCapabilities(t *testing.T) {
	p := &Provider{model: "openrouter/openai/gpt-4o-mini"}
	if caps := p.Capabilities(); caps.MaxOutputTokens != 16_384 || !caps.SupportsVision {
		t.Errorf("caps = %+v, want gpt-4o limits", caps)
	}
}

// TestCountTokens_Heuristic checks counting when no encoding is available.
func TestCountTokens_Heuristic(t *testing.T) {
	const model = "offline-test-model"
	encodings.Store(model, (*tiktoken.Tiktoken)(nil))
	p := &Provider{model: model}

	count, err := p.CountTokens([]types.Message{{Role: types.RoleUser, Content: "Hello world"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 7 {
		t.Errorf("count = %d, want 7", count)
	}

	withCall, _ := p.CountTokens([]types.Message{{
		Role:      types.RoleAssistant,
		ToolCalls: []types.ToolCall{{Name: "add_note", Arguments: `{"title":"compras"}`}},
	}})
	if withCall <= 4 {
		t.Errorf("tool call arguments should be counted, got %d", withCall)
	}
}

// TestNew_Validation ensures the constructor rejects missing credentials or model.
func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func newTestServer(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p, err := New("sk-test", "openai/gpt-4o-mini",
		WithBaseURL(srv.URL+"/api/v1"),
		WithReferer("https://notes.example"),
		WithTitle("notesmcp"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// TestComplete_ToolCalls checks a successful round trip with tool calls and attribution headers.
func TestComplete_ToolCalls(t *testing.T) {
	var gotTitle, gotReferer string
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("X-Title")
		gotReferer = r.Header.Get("HTTP-Referer")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"Buscando",
			"tool_calls":[{"id":"c1","type":"function","function":{"name":"search_notes","arguments":"{\"query\":\"go\"}"}}]}}],
			"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	})

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "Procurar notas"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Buscando" {
		t.Errorf("content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "search_notes" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments != `{"query":"go"}` {
		t.Errorf("arguments = %q", resp.ToolCalls[0].Arguments)
	}
	if resp.Usage.TotalTokens != 5 {
		t.Errorf("total tokens = %d", resp.Usage.TotalTokens)
	}
	if gotTitle != "notesmcp" || gotReferer != "https://notes.example" {
		t.Errorf("headers: X-Title=%q HTTP-Referer=%q", gotTitle, gotReferer)
	}
}

// TestComplete_HTMLErrorBody checks that a proxy page is surfaced with its body intact.
func TestComplete_HTMLErrorBody(t *testing.T) {
	calls := 0
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, "<html><body>Attention Required! | Cloudflare</body></html>")
	})

	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "oi"}},
	})
	var se *llm.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *llm.StatusError, got %T: %v", err, err)
	}
	if se.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d", se.StatusCode)
	}
	if !strings.Contains(se.Body, "<html>") {
		t.Errorf("body = %q", se.Body)
	}
	if calls != 1 {
		t.Errorf("expected SDK retries disabled, got %d calls", calls)
	}
}

// TestComplete_JSONErrorBody checks that API errors keep their status code.
func TestComplete_JSONErrorBody(t *testing.T) {
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","code":"rate_limited"}}`)
	})

	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "oi"}},
	})
	var se *llm.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *llm.StatusError, got %T: %v", err, err)
	}
	if se.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d", se.StatusCode)
	}
	if !strings.Contains(se.Body, "slow down") {
		t.Errorf("body = %q", se.Body)
	}
}
