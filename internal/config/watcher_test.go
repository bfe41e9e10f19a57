package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/notesmcp/internal/config"
)

const (
	baseYAML = `
server:
  log_level: info
  rate_limit_per_min: 10
providers:
  llm:
    name: mock
`
	debugYAML = `
server:
  log_level: debug
  rate_limit_per_min: 20
providers:
  llm:
    name: mock
`
	brokenYAML = `
server:
  log_level: bananas
`
)

// noEnv keeps the host environment out of watcher tests.
func noEnv(string) (string, bool) { return "", false }

// configFile writes content to a fresh config file and returns its path.
func configFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notesmcp.yaml")
	rewrite(t, path, content)
	return path
}

func rewrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewWatcher(t *testing.T) {
	t.Parallel()
	path := configFile(t, baseYAML)

	w, err := config.NewWatcher(path, nil, config.WithLookup(noEnv))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log level = %q", got)
	}

	running := &config.Config{}
	w, err = config.NewWatcher(path, running, config.WithLookup(noEnv))
	if err != nil {
		t.Fatal(err)
	}
	if w.Current() != running {
		t.Error("the config in use should stay current")
	}

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("a missing file should fail")
	}
	if _, err := config.NewWatcher(configFile(t, brokenYAML), nil, config.WithLookup(noEnv)); err == nil {
		t.Error("an invalid file should fail")
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()
	path := configFile(t, baseYAML)
	w, err := config.NewWatcher(path, nil, config.WithLookup(noEnv))
	if err != nil {
		t.Fatal(err)
	}

	if old, cfg, err := w.Reload(true); err != nil || old != nil || cfg != nil {
		t.Fatalf("unchanged file: old=%v cfg=%v err=%v", old, cfg, err)
	}

	rewrite(t, path, debugYAML)
	old, cfg, err := w.Reload(true)
	if err != nil || cfg == nil {
		t.Fatalf("Reload: cfg=%v err=%v", cfg, err)
	}
	if old.Server.LogLevel != config.LogInfo || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("old=%q new=%q", old.Server.LogLevel, cfg.Server.LogLevel)
	}
	if d := config.Diff(old, cfg); !d.RateLimitChanged || d.NewRateLimit != 20 {
		t.Errorf("diff = %+v", d)
	}
	if w.Current() != cfg {
		t.Error("Current() should return the reloaded config")
	}
}

func TestWatcher_ReloadRejectsInvalid(t *testing.T) {
	t.Parallel()
	path := configFile(t, baseYAML)
	w, err := config.NewWatcher(path, nil, config.WithLookup(noEnv))
	if err != nil {
		t.Fatal(err)
	}
	before := w.Current()

	rewrite(t, path, brokenYAML)
	if _, cfg, err := w.Reload(true); err == nil || cfg != nil {
		t.Fatalf("expected rejection, got cfg=%v err=%v", cfg, err)
	}
	if w.Current() != before {
		t.Error("an invalid edit must keep the previous config")
	}

	// Fixing the file is picked up afterwards.
	rewrite(t, path, debugYAML)
	if _, cfg, err := w.Reload(true); err != nil || cfg == nil {
		t.Fatalf("fixed file: cfg=%v err=%v", cfg, err)
	}
}

func TestWatcher_ReloadSkipsTouch(t *testing.T) {
	t.Parallel()
	path := configFile(t, baseYAML)
	w, err := config.NewWatcher(path, nil, config.WithLookup(noEnv))
	if err != nil {
		t.Fatal(err)
	}

	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	if _, cfg, err := w.Reload(false); err != nil || cfg != nil {
		t.Errorf("touch without edit: cfg=%v err=%v", cfg, err)
	}
}

func TestWatcher_ReloadAppliesEnv(t *testing.T) {
	t.Parallel()
	path := configFile(t, baseYAML)
	env := func(key string) (string, bool) {
		if key == "LOG_LEVEL" {
			return "warn", true
		}
		return "", false
	}
	w, err := config.NewWatcher(path, nil, config.WithLookup(env))
	if err != nil {
		t.Fatal(err)
	}
	if got := w.Current().Server.LogLevel; got != config.LogWarn {
		t.Errorf("initial log level = %q, want warn", got)
	}

	rewrite(t, path, debugYAML)
	_, cfg, err := w.Reload(true)
	if err != nil || cfg == nil {
		t.Fatalf("Reload: cfg=%v err=%v", cfg, err)
	}
	if cfg.Server.LogLevel != config.LogWarn {
		t.Errorf("reloaded log level = %q, the environment should still win", cfg.Server.LogLevel)
	}
}

func TestWatcher_Watch(t *testing.T) {
	t.Parallel()
	path := configFile(t, baseYAML)
	w, err := config.NewWatcher(path, nil, config.WithInterval(time.Hour), config.WithLookup(noEnv))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan *config.Config, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Watch(ctx, func(_, cfg *config.Config) { changes <- cfg })
	}()

	rewrite(t, path, debugYAML)
	w.Trigger()

	select {
	case cfg := <-changes:
		if cfg.Server.LogLevel != config.LogDebug {
			t.Errorf("log level = %q", cfg.Server.LogLevel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Trigger did not cause a reload")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancellation")
	}
}
