package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is set when the log level can be switched in place.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RateLimitChanged is set when the chat rate limit can be switched in
	// place.
	RateLimitChanged bool
	NewRateLimit     int

	// RestartRequired lists changed sections that only take effect after a
	// restart, in sorted order.
	RestartRequired []string
}

// Changed reports whether d holds any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.RateLimitChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.RateLimit() != new.Server.RateLimit() {
		d.RateLimitChanged = true
		d.NewRateLimit = new.Server.RateLimit()
	}

	restart := map[string]bool{
		"server.listen_addr":  old.Server.ListenAddr != new.Server.ListenAddr,
		"server.auth_api_key": old.Server.AuthAPIKey != new.Server.AuthAPIKey,
		"server.disabled":     old.Server.Disabled != new.Server.Disabled,
		"providers":           !reflect.DeepEqual(old.Providers, new.Providers),
		"chat":                !reflect.DeepEqual(old.Chat, new.Chat),
		"notes":               old.Notes != new.Notes,
		"history":             old.History != new.History,
		"mcp":                 old.MCP != new.MCP,
	}
	for _, section := range slices.Sorted(maps.Keys(restart)) {
		if restart[section] {
			d.RestartRequired = append(d.RestartRequired, section)
		}
	}
	return d
}
