// Command notesmcp serves the notes chat over an HTTP API and the notes tools
// over the Model Context Protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/notesmcp/internal/app"
	"github.com/MrWong99/notesmcp/internal/config"
	"github.com/MrWong99/notesmcp/internal/observe"
	"github.com/MrWong99/notesmcp/internal/resilience"
	"github.com/MrWong99/notesmcp/pkg/provider/llm"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file; empty configures from the environment only")
	transport := flag.String("transport", "", "MCP transport override: stdio, sse, http or none")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("notesmcp", version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "notesmcp: config file %q not found; omit -config to configure from the environment\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "notesmcp: %v\n", err)
		}
		return 1
	}
	if *transport != "" {
		cfg.MCP.Transport = config.Transport(*transport)
		if err := config.Validate(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "notesmcp: %v\n", err)
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// Logs go to stderr: stdout carries the stdio MCP transport.
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("notesmcp starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"mcp_transport", cfg.MCP.Transport,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	provider, err := buildLLM(cfg, config.DefaultRegistry())
	if err != nil {
		slog.Error("failed to build model provider", "err", err)
		return 1
	}

	printStartupSummary(os.Stderr, cfg)

	application, err := app.New(ctx, cfg, &app.Providers{LLM: provider},
		app.WithLevelVar(level),
		app.WithVersion(version),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Edits are picked up by polling; SIGHUP forces a reload.
	if *configPath != "" {
		w, err := config.NewWatcher(*configPath, cfg)
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-hup:
						w.Trigger()
					}
				}
			}()
			go w.Watch(ctx, func(old, new *config.Config) {
				if *transport != "" {
					new.MCP.Transport = old.MCP.Transport
				}
				application.ApplyConfig(config.Diff(old, new))
			})
		}
	}

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildLLM instantiates the primary provider and its fallbacks. A primary
// without credentials yields nil; the note tools still work without a model.
func buildLLM(cfg *config.Config, reg *config.Registry) (llm.Provider, error) {
	if !cfg.ModelConfigured() {
		slog.Warn("no model API key configured; notes chat disabled")
		return nil, nil
	}
	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)
	if len(cfg.Providers.Fallbacks) == 0 {
		return primary, nil
	}

	group := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
	for _, entry := range cfg.Providers.Fallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create fallback provider %q: %w", entry.Name, err)
		}
		group.AddFallback(entry.Name, p)
		slog.Info("provider created", "kind", "llm-fallback", "name", entry.Name, "model", entry.Model)
	}
	return group, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        notesmcp: startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	model := "(not configured)"
	if cfg.ModelConfigured() {
		model = cfg.Providers.LLM.Name + " / " + cfg.Providers.LLM.Model
	}
	printRow(w, "Model", model)
	printRow(w, "Fallbacks", fmt.Sprint(len(cfg.Providers.Fallbacks)))
	store := "memory"
	if cfg.Notes.DatabaseDSN != "" {
		store = "postgres"
	}
	printRow(w, "Note store", store)
	switch {
	case cfg.Server.Disabled:
		printRow(w, "Web API", "(disabled)")
	default:
		printRow(w, "Web API", cfg.Server.ListenAddr)
	}
	historyMode := cfg.History.DBPath
	if cfg.History.Disabled {
		historyMode = "(memory only)"
	}
	printRow(w, "History", historyMode)
	printRow(w, "MCP", string(cfg.MCP.Transport))
	printRow(w, "notes_chat", fmt.Sprint(cfg.Chat.EnableMCPTool && cfg.ModelConfigured()))
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(w io.Writer, key, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", key, value)
}
