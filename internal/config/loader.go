package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the provider names the registry knows about.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"openrouter", "openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "mock"}

// LookupFunc reads an environment variable. [os.LookupEnv] satisfies it.
type LookupFunc func(key string) (string, bool)

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns the validated [Config]. An empty path
// configures from the environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		cfg, err = Decode(f)
		if err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	if err := finish(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Environment variables are not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := Decode(r)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode decodes a YAML config from r without defaults or validation.
// Unknown fields are rejected. An empty document yields a zero Config.
func Decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

func finish(cfg *Config, lookup LookupFunc) error {
	if err := ApplyEnv(cfg, lookup); err != nil {
		return err
	}
	cfg.ApplyDefaults()
	return Validate(cfg)
}

// ApplyEnv overrides cfg with the environment variables notesmcp has always
// honoured. Set variables win over the file.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = truthy(v)
		}
	}

	llm := &cfg.Providers.LLM
	if v, ok := lookup("OPENROUTER_API_KEY"); ok && v != "" {
		llm.APIKey = v
		if llm.Name == "" {
			llm.Name = "openrouter"
		}
	}
	str("OPENROUTER_BASE_URL", &llm.BaseURL)
	str("OPENROUTER_MODEL", &llm.Model)
	for env, key := range map[string]string{"OPENROUTER_REFERER": "referer", "OPENROUTER_TITLE": "title"} {
		if v, ok := lookup(env); ok && v != "" {
			if llm.Options == nil {
				llm.Options = make(map[string]any)
			}
			llm.Options[key] = v
		}
	}

	str("AUTH_API_KEY", &cfg.Server.AuthAPIKey)
	if v, ok := lookup("RATE_LIMIT_PER_MIN"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_MIN %q is not an integer", v))
		} else {
			cfg.Server.RateLimitPerMin = &n
		}
	}
	if v, ok := lookup("FRONTEND_PORT"); ok && v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			errs = append(errs, fmt.Errorf("FRONTEND_PORT %q is not a port number", v))
		} else {
			cfg.Server.ListenAddr = ":" + v
		}
	}
	if v, ok := lookup("MCP_LOG_LEVEL"); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	} else if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}

	// Any non-empty value disables persistence.
	if v, ok := lookup("DISABLE_PERSISTENCE"); ok && v != "" {
		cfg.History.Disabled = true
	}
	str("HISTORY_DB_PATH", &cfg.History.DBPath)
	flag("ENABLE_NOTES_CHAT", &cfg.Chat.EnableMCPTool)
	str("NOTES_DATABASE_DSN", &cfg.Notes.DatabaseDSN)
	flag("MCP_INSECURE_SKIP_VERIFY", &cfg.MCP.InsecureSkipVerify)
	if v, ok := lookup("MCP_TRANSPORT"); ok && v != "" {
		cfg.MCP.Transport = Transport(strings.ToLower(v))
	}

	return errors.Join(errs...)
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	validateProviderName("providers.llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.Fallbacks {
		prefix := fmt.Sprintf("providers.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if fb.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
		}
		validateProviderName(prefix, fb.Name)
	}

	// Chat
	c := cfg.Chat
	if t := c.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("chat.temperature %.2f is out of range [0, 2]", *t))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("chat.max_tokens %d must not be negative", c.MaxTokens))
	}
	if c.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("chat.timeout_seconds %.2f must not be negative", c.TimeoutSeconds))
	}
	if c.MaxPasses < 0 {
		errs = append(errs, fmt.Errorf("chat.max_passes %d must not be negative", c.MaxPasses))
	}
	if c.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("chat.max_attempts %d must not be negative", c.MaxAttempts))
	}
	if c.BackoffCapSeconds < 0 {
		errs = append(errs, fmt.Errorf("chat.backoff_cap_seconds %.2f must not be negative", c.BackoffCapSeconds))
	}
	if c.EnableMCPTool && !cfg.ModelConfigured() {
		slog.Warn("chat.enable_mcp_tool is set but no model API key is configured; notes_chat will not be registered")
	}

	// Notes
	if cfg.Notes.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("notes.cache_size %d must not be negative", cfg.Notes.CacheSize))
	}
	if cfg.Notes.CacheTTLSeconds < 0 {
		errs = append(errs, fmt.Errorf("notes.cache_ttl_seconds %.2f must not be negative", cfg.Notes.CacheTTLSeconds))
	}

	// MCP
	if cfg.MCP.Transport != "" && !cfg.MCP.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("mcp.transport %q is invalid; valid values: stdio, sse, http, none", cfg.MCP.Transport))
	}
	if cfg.MCP.FetchTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("mcp.fetch_timeout_seconds %.2f must not be negative", cfg.MCP.FetchTimeoutSeconds))
	}
	if cfg.Server.Disabled && cfg.MCP.Transport == TransportNone {
		errs = append(errs, errors.New("server.disabled with mcp.transport none leaves nothing to serve"))
	}
	if cfg.MCP.Transport != TransportStdio && cfg.MCP.Transport != TransportNone && !cfg.Server.Disabled &&
		cfg.MCP.ListenAddr != "" && cfg.MCP.ListenAddr == cfg.Server.ListenAddr {
		errs = append(errs, fmt.Errorf("mcp.listen_addr %q collides with server.listen_addr", cfg.MCP.ListenAddr))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not in
// [ValidProviderNames].
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"field", field,
		"name", name,
		"known", ValidProviderNames,
	)
}
