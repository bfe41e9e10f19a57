// Package app wires the notesmcp subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the note store, tool
// executor, model gateway, orchestrator and both front ends; Run serves the
// web API and the MCP server until the context is cancelled; Shutdown closes
// the stores in reverse order.
//
// For testing, inject doubles via functional options (WithNoteStore,
// WithHistoryStore, WithMCPTransport, ...). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/notesmcp/internal/chat"
	"github.com/MrWong99/notesmcp/internal/config"
	"github.com/MrWong99/notesmcp/internal/gateway"
	"github.com/MrWong99/notesmcp/internal/health"
	"github.com/MrWong99/notesmcp/internal/history"
	"github.com/MrWong99/notesmcp/internal/history/sqlite"
	"github.com/MrWong99/notesmcp/internal/mcpserver"
	"github.com/MrWong99/notesmcp/internal/notes"
	"github.com/MrWong99/notesmcp/internal/notes/cache"
	"github.com/MrWong99/notesmcp/internal/notes/memstore"
	"github.com/MrWong99/notesmcp/internal/notes/postgres"
	"github.com/MrWong99/notesmcp/internal/observe"
	"github.com/MrWong99/notesmcp/internal/tools"
	"github.com/MrWong99/notesmcp/internal/web"
	"github.com/MrWong99/notesmcp/pkg/provider/llm"
)

// shutdownGrace bounds how long HTTP listeners drain in-flight requests.
const shutdownGrace = 10 * time.Second

// Providers holds the model provider. Nil means no model is configured; the
// note tools keep working and chats fail with a configuration error.
// Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string

	metrics  *observe.Metrics
	level    *slog.LevelVar
	store    notes.Store
	history  history.Store
	executor *tools.Executor
	orch     *chat.Orchestrator
	web      *web.Server
	mcp      *mcpserver.Server
	health   *health.Handler

	// mcpTransport overrides the stdio transport.
	mcpTransport mcpsdk.Transport

	// checkers feed /readyz.
	checkers []health.Checker

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithNoteStore injects a note store instead of creating one from config.
func WithNoteStore(s notes.Store) Option {
	return func(a *App) { a.store = s }
}

// WithHistoryStore injects the persistent history store instead of opening
// the SQLite database named in config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets [App.ApplyConfig] change the log level of a handler
// built around v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMCPTransport serves the stdio-mode MCP session over t instead of
// stdin/stdout.
func WithMCPTransport(t mcpsdk.Transport) Option {
	return func(a *App) { a.mcpTransport = t }
}

// WithVersion sets the version announced to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
	}
	a.level.Set(slogLevel(cfg.Server.LogLevel))

	if err := a.initNotes(ctx); err != nil {
		return nil, fmt.Errorf("app: init notes: %w", err)
	}
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	a.initChat()
	a.initFrontends()
	a.health = health.New(a.checkers...)
	return a, nil
}

// initNotes sets up the note store, search cache, service and executor.
func (a *App) initNotes(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.Notes.DatabaseDSN; dsn != "" {
			pg, err := postgres.NewStore(ctx, dsn)
			if err != nil {
				return err
			}
			a.store = pg
			a.closers = append(a.closers, func() error {
				pg.Close()
				return nil
			})
			slog.Info("note store connected", "backend", "postgres")
		} else {
			a.store = memstore.New()
			slog.Warn("notes.database_dsn not set; notes are kept in memory only")
		}
	}
	if p, ok := a.store.(health.Pinger); ok {
		a.checkers = append(a.checkers, health.Ping("notes_store", p))
	}

	svc := notes.NewService(a.store,
		notes.WithCache(cache.New[[]notes.Note](a.cfg.Notes.CacheSize, a.cfg.Notes.CacheTTL())),
		notes.WithMetrics(a.metrics),
	)
	a.executor = tools.NewExecutor(tools.NoteTools(svc), tools.WithMetrics(a.metrics))
	return nil
}

// initHistory opens the SQLite history database unless persistence is
// disabled or a store was injected.
func (a *App) initHistory(ctx context.Context) error {
	if a.history == nil && !a.cfg.History.Disabled && !a.cfg.Server.Disabled {
		db, err := sqlite.Open(ctx, a.cfg.History.DBPath)
		if err != nil {
			return err
		}
		a.history = db
		a.closers = append(a.closers, db.Close)
		slog.Info("chat history persisted", "path", a.cfg.History.DBPath)
	}
	if p, ok := a.history.(health.Pinger); ok {
		a.checkers = append(a.checkers, health.Ping("history_db", p))
	}
	return nil
}

// initChat builds the gateway and orchestrator around the model provider.
func (a *App) initChat() {
	if a.providers.LLM == nil {
		slog.Warn("no model provider configured; chat requests will be rejected")
		return
	}
	c := a.cfg.Chat
	gw := gateway.New(a.providers.LLM,
		gateway.WithMaxAttempts(c.MaxAttempts),
		gateway.WithBackoffCap(c.BackoffCap()),
		gateway.WithDefaultTimeout(c.Timeout()),
		gateway.WithMetrics(a.metrics),
	)
	a.orch = chat.New(gw, a.executor,
		chat.WithDefaults(chat.Defaults{
			Model:       a.cfg.Providers.LLM.Model,
			Temperature: c.Temperature,
			MaxTokens:   c.MaxTokens,
			Timeout:     c.Timeout(),
			MaxPasses:   c.MaxPasses,
		}),
		chat.WithMetrics(a.metrics),
	)
}

// initFrontends builds the web API and the MCP server.
func (a *App) initFrontends() {
	modelReady := a.orch != nil && a.cfg.ModelConfigured()

	if !a.cfg.Server.Disabled {
		var runner web.ChatRunner = unconfiguredRunner{}
		if a.orch != nil {
			runner = a.orch
		}
		opts := []web.Option{web.WithMetrics(a.metrics)}
		if a.history != nil {
			opts = append(opts, web.WithHistoryStore(a.history))
		}
		a.web = web.New(runner, web.Config{
			ModelConfigured: modelReady,
			APIKey:          a.cfg.Server.AuthAPIKey,
			RateLimit:       a.cfg.Server.RateLimit(),
		}, opts...)
	}

	if a.cfg.MCP.Transport != config.TransportNone {
		var runner mcpserver.ChatRunner
		if a.orch != nil {
			runner = a.orch
		}
		a.mcp = mcpserver.New(a.executor, runner, mcpserver.Config{
			Version:   a.version,
			NotesChat: a.cfg.Chat.EnableMCPTool && modelReady,
			Fetcher:   mcpserver.NewFetcher(a.cfg.MCP.FetchTimeout(), a.cfg.MCP.InsecureSkipVerify),
		})
	}
}

// Handler returns the web API handler: chat routes, health probes and
// Prometheus metrics, wrapped in the tracing middleware. It returns nil when
// the web API is disabled.
func (a *App) Handler() http.Handler {
	if a.web == nil {
		return nil
	}
	mux := http.NewServeMux()
	a.web.Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// MCPHandler returns the HTTP handler of the sse or http MCP transport, or
// nil for stdio and none.
func (a *App) MCPHandler() http.Handler {
	if a.mcp == nil {
		return nil
	}
	mux := http.NewServeMux()
	switch a.cfg.MCP.Transport {
	case config.TransportHTTP:
		mux.Handle("/mcp", a.mcp.StreamableHandler())
	case config.TransportSSE:
		mux.Handle("/sse", a.mcp.SSEHandler())
	default:
		return nil
	}
	a.health.Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// Run serves every enabled front end and blocks until ctx is cancelled or
// one of them fails. A clean shutdown returns nil.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if h := a.Handler(); h != nil {
		if err := a.serve(ctx, g, "web", a.cfg.Server.ListenAddr, h); err != nil {
			return err
		}
	}

	switch {
	case a.mcp == nil:
	case a.cfg.MCP.Transport == config.TransportStdio:
		t := a.mcpTransport
		if t == nil {
			t = &mcpsdk.StdioTransport{}
		}
		g.Go(func() error {
			slog.Info("mcp server listening", "transport", "stdio")
			// The session ends when the client closes stdin; the web API
			// keeps running until ctx is done.
			err := a.mcp.Run(ctx, t)
			if err != nil && ctx.Err() == nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("app: mcp stdio: %w", err)
			}
			return nil
		})
	default:
		if err := a.serve(ctx, g, "mcp", a.cfg.MCP.ListenAddr, a.MCPHandler()); err != nil {
			return err
		}
	}

	slog.Info("app running",
		"web", a.web != nil,
		"mcp_transport", a.cfg.MCP.Transport,
		"model_configured", a.orch != nil,
	)
	return g.Wait()
}

// serve binds addr synchronously so that listen errors fail Run at once,
// then serves h on g until ctx is done.
func (a *App) serve(ctx context.Context, g *errgroup.Group, name, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: %s listen %q: %w", name, addr, err)
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	g.Go(func() error {
		slog.Info("listening", "server", name, "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: %s serve: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return nil
}

// ApplyConfig applies the parts of a reloaded config that can change in
// place and logs the sections that need a restart.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.LogLevelChanged {
		a.level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RateLimitChanged && a.web != nil {
		a.web.SetRateLimit(d.NewRateLimit)
		slog.Info("rate limit changed", "per_min", d.NewRateLimit)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes take effect after a restart", "sections", d.RestartRequired)
	}
}

// Shutdown closes the stores in reverse-init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// unconfiguredRunner backs the web API when no model provider exists. The
// server rejects chats before reaching it.
type unconfiguredRunner struct{}

func (unconfiguredRunner) RunNotesChat(context.Context, string, chat.Options) (*chat.Outcome, error) {
	return nil, errors.New("no model provider configured")
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
