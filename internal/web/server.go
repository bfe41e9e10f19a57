// Package web serves the HTTP chat API and the single-page chat UI.
//
// Routes:
//
//   - POST /api/chat     runs a notes chat for one message of a session.
//   - GET  /api/history  returns a session's messages.
//   - GET  /             serves the embedded UI.
//
// When an API key is configured every /api route requires it in the
// X-API-Key header or the api_key query parameter. Chat requests are rate
// limited per API key, or per client IP when no key is sent.
package web

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/notesmcp/internal/chat"
	"github.com/MrWong99/notesmcp/internal/gateway"
	"github.com/MrWong99/notesmcp/internal/history"
	"github.com/MrWong99/notesmcp/internal/observe"
)

//go:embed static/index.html
var indexHTML []byte

// maxBodyBytes bounds a chat request body.
const maxBodyBytes = 64 << 10

// missingKeyMessage is returned when no model API key is configured.
const missingKeyMessage = "OPENROUTER_API_KEY não configurada"

// ChatRunner runs a notes chat. [*chat.Orchestrator] implements it.
type ChatRunner interface {
	RunNotesChat(ctx context.Context, prompt string, opts chat.Options) (*chat.Outcome, error)
}

// Config holds the HTTP API settings.
type Config struct {
	// ModelConfigured reports whether a model API key is set. Chat requests
	// fail with 400 otherwise.
	ModelConfigured bool

	// APIKey, when set, is required on every /api request.
	APIKey string

	// RateLimit is the number of chat requests allowed per key per minute.
	// Values <= 0 disable limiting.
	RateLimit int
}

// Server handles the chat API. It is safe for concurrent use.
type Server struct {
	cfg     Config
	runner  ChatRunner
	store   history.Store
	memory  *history.Memory
	limiter *Limiter
	metrics *observe.Metrics
}

// Option configures a [Server].
type Option func(*Server)

// WithHistoryStore persists history to store in addition to process memory.
func WithHistoryStore(store history.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New returns a Server running chats through runner.
func New(runner ChatRunner, cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		runner:  runner,
		memory:  history.NewMemory(),
		limiter: NewLimiter(cfg.RateLimit),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SetRateLimit changes the chat rate limit in place.
func (s *Server) SetRateLimit(limit int) {
	s.limiter.SetLimit(limit)
}

// Register adds the chat routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", s.requireKey(s.handleChat))
	mux.HandleFunc("GET /api/history", s.requireKey(s.handleHistory))
	mux.HandleFunc("GET /{$}", s.handleIndex)
}

// Handler returns a standalone handler serving the chat routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

type chatRequest struct {
	Message   string              `json:"message"`
	SessionID string              `json:"session_id,omitempty"`
	Model     string              `json:"model,omitempty"`
	Params    *chat.RequestParams `json:"params,omitempty"`
}

type chatResponse struct {
	SessionID string        `json:"session_id"`
	Response  *chat.Outcome `json:"response"`
}

type historyResponse struct {
	SessionID string          `json:"session_id"`
	Messages  []history.Entry `json:"messages"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !s.limiter.Allow(clientKey(r)) {
		s.metrics.RateLimitRejections.Add(ctx, 1)
		writeJSON(w, http.StatusTooManyRequests, errorBody("rate limit exceeded", string(gateway.KindRateLimited)))
		return
	}
	if !s.cfg.ModelConfigured {
		writeJSON(w, http.StatusBadRequest, errorBody(missingKeyMessage, ""))
		return
	}

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body", "invalid_argument"))
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("message is required", "invalid_argument"))
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = newSessionID()
	}
	ctx = observe.WithSession(ctx, sessionID)
	s.record(ctx, sessionID, history.Entry{Role: history.RoleUser, Text: req.Message})

	out, err := s.runner.RunNotesChat(ctx, req.Message, req.Params.Options(req.Model))
	if err != nil {
		status := gateway.HTTPStatus(err)
		if errors.Is(err, chat.ErrInvalidArgument) {
			status = http.StatusBadRequest
		}
		observe.Logger(ctx).Warn("web: chat failed", "status", status, "err", err)
		writeJSON(w, status, chat.ErrorPayload(err))
		return
	}

	s.record(ctx, sessionID, history.Entry{
		Role:    history.RoleAssistant,
		Text:    out.Text,
		Actions: history.EncodeActions(out.Actions),
	})
	writeJSON(w, http.StatusOK, chatResponse{SessionID: sessionID, Response: out})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("session_id is required", "invalid_argument"))
		return
	}
	ctx := observe.WithSession(r.Context(), sessionID)

	if s.store != nil {
		persisted, err := s.store.Load(ctx, sessionID)
		if err != nil {
			observe.Logger(ctx).Warn("web: load persisted history", "err", err)
		} else if len(persisted) > 0 {
			writeJSON(w, http.StatusOK, historyResponse{SessionID: sessionID, Messages: persisted})
			return
		}
	}
	msgs, _ := s.memory.Load(ctx, sessionID)
	writeJSON(w, http.StatusOK, historyResponse{SessionID: sessionID, Messages: msgs})
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

// record appends e to the in-memory history and, when configured, the
// persistent store. Persistence failures are logged and otherwise ignored.
func (s *Server) record(ctx context.Context, sessionID string, e history.Entry) {
	_ = s.memory.Append(ctx, sessionID, e)
	if s.store == nil {
		return
	}
	if err := s.store.Append(ctx, sessionID, e); err != nil {
		observe.Logger(ctx).Warn("web: persist history", "role", e.Role, "err", err)
	}
}

func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" && providedKey(r) != s.cfg.APIKey {
			writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized", ""))
			return
		}
		next(w, r)
	}
}

func providedKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	return r.URL.Query().Get("api_key")
}

// clientKey identifies the caller for rate limiting.
func clientKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return "key:" + k
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		host = "anon"
	}
	return "ip:" + host
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func errorBody(msg, code string) map[string]any {
	body := map[string]any{"success": false, "error": msg}
	if code != "" {
		body["code"] = code
	}
	return body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Error("web: encode response", "err", err)
		http.Error(w, `{"success":false,"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
