package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/notesmcp/internal/chat"
	"github.com/MrWong99/notesmcp/internal/gateway"
	"github.com/MrWong99/notesmcp/internal/history/sqlite"
	"github.com/MrWong99/notesmcp/internal/observe"
	"github.com/MrWong99/notesmcp/internal/tools"
)

// echoRunner answers every prompt with "eco:<prompt>".
type echoRunner struct {
	mu   sync.Mutex
	opts []chat.Options
	err  error
}

func (e *echoRunner) RunNotesChat(_ context.Context, prompt string, opts chat.Options) (*chat.Outcome, error) {
	e.mu.Lock()
	e.opts = append(e.opts, opts)
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return &chat.Outcome{
		Success: true,
		Text:    "eco:" + prompt,
		Actions: []tools.ExecutedAction{{Tool: "search_notes", Args: map[string]any{"query": prompt}, Result: map[string]any{"success": true}}},
	}, nil
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func newTestServer(t *testing.T, runner ChatRunner, cfg Config, opts ...Option) *httptest.Server {
	t.Helper()
	opts = append([]Option{WithMetrics(testMetrics(t))}, opts...)
	ts := httptest.NewServer(New(runner, cfg, opts...).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postChat(t *testing.T, ts *httptest.Server, body string, header http.Header) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/chat", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func getHistory(t *testing.T, ts *httptest.Server, sessionID string, header http.Header) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/history?session_id="+sessionID, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return do(t, req)
}

func keyHeader(k string) http.Header {
	h := http.Header{}
	h.Set("X-API-Key", k)
	return h
}

// TestChat_RequiresAPIKey checks the header and query parameter forms.
func TestChat_RequiresAPIKey(t *testing.T) {
	ts := newTestServer(t, &echoRunner{}, Config{ModelConfigured: true, APIKey: "secret"})

	resp, body := postChat(t, ts, `{"message":"oi"}`, nil)
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "unauthorized" {
		t.Errorf("no key: %d %v", resp.StatusCode, body)
	}
	resp, _ = postChat(t, ts, `{"message":"oi"}`, keyHeader("wrong"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong key: status %d", resp.StatusCode)
	}
	resp, _ = postChat(t, ts, `{"message":"oi"}`, keyHeader("secret"))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("header key: status %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/chat?api_key=secret", strings.NewReader(`{"message":"oi"}`))
	resp, _ = do(t, req)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("query key: status %d", resp.StatusCode)
	}

	resp, _ = getHistory(t, ts, "abc", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("history without key: status %d", resp.StatusCode)
	}
}

func TestChat_RateLimited(t *testing.T) {
	ts := newTestServer(t, &echoRunner{}, Config{ModelConfigured: true, APIKey: "secret", RateLimit: 2})
	h := keyHeader("secret")

	for i, msg := range []string{"a", "b"} {
		if resp, _ := postChat(t, ts, `{"message":"`+msg+`"}`, h); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status %d", i, resp.StatusCode)
		}
	}
	resp, body := postChat(t, ts, `{"message":"c"}`, h)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("third request: status %d, want 429", resp.StatusCode)
	}
	if body["success"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestChat_MissingModelKey(t *testing.T) {
	runner := &echoRunner{}
	ts := newTestServer(t, runner, Config{})
	resp, body := postChat(t, ts, `{"message":"oi"}`, nil)
	if resp.StatusCode != http.StatusBadRequest || body["error"] != missingKeyMessage {
		t.Errorf("got %d %v", resp.StatusCode, body)
	}
	if len(runner.opts) != 0 {
		t.Error("runner called without a model key")
	}
}

func TestChat_BadRequests(t *testing.T) {
	ts := newTestServer(t, &echoRunner{}, Config{ModelConfigured: true})
	for _, body := range []string{`{"message":`, `{"message":""}`, `{}`} {
		resp, out := postChat(t, ts, body, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %s: status %d, want 400", body, resp.StatusCode)
		}
		if out["success"] != false {
			t.Errorf("body %s: response %v", body, out)
		}
	}
}

func TestChat_NewSessionAndOptions(t *testing.T) {
	runner := &echoRunner{}
	ts := newTestServer(t, runner, Config{ModelConfigured: true})

	resp, body := postChat(t, ts, `{"message":"oi <b>","model":"m/x","params":{"temperature":0.5,"max_tokens":42}}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	sid, _ := body["session_id"].(string)
	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(sid) {
		t.Errorf("session_id = %q, want 32 hex chars", sid)
	}
	response := body["response"].(map[string]any)
	if response["text"] != "eco:oi <b>" || response["success"] != true {
		t.Errorf("response = %v", response)
	}

	got := runner.opts[0]
	if got.Model != "m/x" || got.Temperature == nil || *got.Temperature != 0.5 || got.MaxTokens != 42 {
		t.Errorf("options = %+v", got)
	}
}

func TestChat_ErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"proxy blocked", &gateway.Error{Kind: gateway.KindProxyBlocked, Message: "bloqueado", ProxyBlocked: true}, http.StatusBadGateway, "proxy_blocked"},
		{"auth 403", &gateway.Error{Kind: gateway.KindAuth, Status: 403, Message: "auth"}, http.StatusForbidden, "auth"},
		{"rate limited", &gateway.Error{Kind: gateway.KindRateLimited, Status: 429, Retryable: true}, http.StatusTooManyRequests, "rate_limited"},
		{"network", &gateway.Error{Kind: gateway.KindNetwork, Retryable: true}, http.StatusBadGateway, "network_error"},
		{"invalid argument", chat.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
		{"other", context.Canceled, http.StatusInternalServerError, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &echoRunner{err: tt.err}, Config{ModelConfigured: true})
			resp, body := postChat(t, ts, `{"message":"oi"}`, nil)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if body["success"] != false || body["code"] != tt.code {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestHistory_PersistedAcrossRequests(t *testing.T) {
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ts := newTestServer(t, &echoRunner{}, Config{ModelConfigured: true, APIKey: "secret"}, WithHistoryStore(store))
	h := keyHeader("secret")

	_, body := postChat(t, ts, `{"message":"primeira"}`, h)
	sid := body["session_id"].(string)
	for _, msg := range []string{"segunda", "terceira"} {
		postChat(t, ts, `{"message":"`+msg+`","session_id":"`+sid+`"}`, h)
	}

	resp, hist := getHistory(t, ts, sid, h)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	msgs := hist["messages"].([]any)
	if len(msgs) != 6 {
		t.Fatalf("got %d messages, want 6", len(msgs))
	}
	last := msgs[5].(map[string]any)
	if last["role"] != "assistant" || last["text"] != "eco:terceira" {
		t.Errorf("last message = %v", last)
	}
	if actions, ok := last["actions"].([]any); !ok || len(actions) != 1 {
		t.Errorf("actions = %v", last["actions"])
	}

	// The persisted copy survives a new server with empty process memory.
	fresh := newTestServer(t, &echoRunner{}, Config{ModelConfigured: true}, WithHistoryStore(store))
	if _, hist := getHistory(t, fresh, sid, nil); len(hist["messages"].([]any)) != 6 {
		t.Errorf("fresh server: %v", hist)
	}
}

func TestHistory_MemoryOnly(t *testing.T) {
	ts := newTestServer(t, &echoRunner{}, Config{ModelConfigured: true})
	_, body := postChat(t, ts, `{"message":"oi"}`, nil)
	sid := body["session_id"].(string)

	_, hist := getHistory(t, ts, sid, nil)
	if msgs := hist["messages"].([]any); len(msgs) != 2 {
		t.Errorf("messages = %v", msgs)
	}
	_, hist = getHistory(t, ts, "unknown", nil)
	if msgs := hist["messages"].([]any); len(msgs) != 0 {
		t.Errorf("unknown session messages = %v", msgs)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/history", nil)
	if resp, _ := do(t, req); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing session_id: status %d", resp.StatusCode)
	}
}

func TestIndex(t *testing.T) {
	ts := newTestServer(t, &echoRunner{}, Config{})
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Errorf("status %d, content-type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}

func TestLimiter_Windows(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewLimiter(2)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("first two requests rejected")
	}
	if l.Allow("a") {
		t.Error("third request in the window allowed")
	}
	if !l.Allow("b") {
		t.Error("other key limited")
	}

	now = now.Add(time.Minute)
	if !l.Allow("a") {
		t.Error("request in the next window rejected")
	}
	l.mu.Lock()
	n := len(l.windows)
	l.mu.Unlock()
	if n != 1 {
		t.Errorf("%d windows tracked, want old windows pruned to 1", n)
	}
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(0)
	for range 1000 {
		if !l.Allow("a") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestLimiter_SetLimit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewLimiter(0)
	l.now = func() time.Time { return now }

	l.SetLimit(1)
	if !l.Allow("a") {
		t.Fatal("first request rejected")
	}
	if l.Allow("a") {
		t.Error("second request allowed after lowering the limit")
	}
	l.SetLimit(0)
	if !l.Allow("a") {
		t.Error("request rejected after disabling the limit")
	}
}
