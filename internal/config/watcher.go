package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the config file.
const DefaultWatchInterval = 5 * time.Second

// fileStamp identifies one version of the config file.
type fileStamp struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

// Watcher hot-reloads a config file. A new version is only accepted once it
// decodes and validates with the same environment overrides as [Load]; an
// invalid edit is logged and the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	lookup   LookupFunc
	kick     chan struct{}

	mu      sync.Mutex
	current *Config
	stamp   fileStamp
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithLookup replaces [os.LookupEnv] for environment overrides.
func WithLookup(fn LookupFunc) WatcherOption {
	return func(w *Watcher) { w.lookup = fn }
}

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher watches path, treating current as the config already in use.
// A nil current loads the file now.
func NewWatcher(path string, current *Config, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		lookup:   os.LookupEnv,
		kick:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	if current == nil {
		current = cfg
	}
	w.current, w.stamp = current, stamp
	return w, nil
}

// Current returns the last accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Trigger asks a running [Watcher.Watch] to reload now, even if the file's
// modification time is unchanged.
func (w *Watcher) Trigger() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Watch polls until ctx is done and calls onChange from its own goroutine
// for every accepted change.
func (w *Watcher) Watch(ctx context.Context, onChange func(old, new *Config)) {
	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		force := false
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-w.kick:
			force = true
		}

		old, cfg, err := w.Reload(force)
		switch {
		case err != nil:
			slog.Warn("config: reload rejected", "path", w.path, "err", err)
		case cfg != nil:
			slog.Info("config: reloaded", "path", w.path)
			if onChange != nil {
				onChange(old, cfg)
			}
		}
	}
}

// Reload checks the file once. It returns the previous and new config when a
// changed, valid version was accepted, and nils when nothing changed. Unless
// force is set, a file whose modification time and size are unchanged is
// not read.
func (w *Watcher) Reload(force bool) (old, cfg *Config, err error) {
	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return nil, nil, err
		}
		w.mu.Lock()
		same := info.ModTime().Equal(w.stamp.modTime) && info.Size() == w.stamp.size
		w.mu.Unlock()
		if same {
			return nil, nil, nil
		}
	}

	next, stamp, err := w.read()
	if err != nil {
		return nil, nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	unchanged := stamp.sum == w.stamp.sum
	w.stamp = stamp
	if unchanged {
		return nil, nil, nil
	}
	old, w.current = w.current, next
	return old, next, nil
}

func (w *Watcher) read() (*Config, fileStamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := Decode(bytes.NewReader(data))
	if err == nil {
		err = finish(cfg, w.lookup)
	}
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{modTime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
