// Package resilience fails model calls over from the primary provider to the
// configured fallbacks. Each provider sits behind a [Breaker] so that one
// that keeps failing is skipped until its cooldown has passed.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/notesmcp/pkg/provider/llm"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the cooldown has passed.
	StateOpen

	// StateHalfOpen lets a single probe call through. Its outcome closes or
	// re-opens the breaker.
	StateHalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the
	// breaker. Default: 5.
	Threshold int

	// Cooldown is how long an open breaker rejects calls. Default: 30s.
	Cooldown time.Duration
}

type outcome int

const (
	success outcome = iota
	failure
	neutral
)

// Breaker tracks the health of one provider. It is safe for concurrent use.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns a closed Breaker for the provider called name.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Do runs fn unless the breaker is open. Failures caused by the caller
// giving up, or by a request the upstream rejected as malformed, do not
// count against the provider.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.allow()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(probe, classify(ctx, err))
	return err
}

func (b *Breaker) allow() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
	case StateClosed:
		return false, nil
	}
	if b.probing {
		return false, ErrCircuitOpen
	}
	b.probing = true
	return true, nil
}

func (b *Breaker) record(probe bool, o outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}
	switch o {
	case success:
		b.failures = 0
		if b.state != StateClosed {
			b.setState(StateClosed)
		}
	case failure:
		b.failures++
		if probe || b.failures >= b.cfg.Threshold {
			b.openedAt = b.now()
			b.setState(StateOpen)
		}
	}
}

// setState must be called with b.mu held.
func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	slog.Info("provider breaker state changed",
		"provider", b.name,
		"from", b.state.String(),
		"to", s.String(),
		"consecutive_failures", b.failures,
	)
	b.state = s
}

// State returns the current state. An open breaker whose cooldown has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.setState(StateClosed)
}

func classify(ctx context.Context, err error) outcome {
	switch {
	case err == nil:
		return success
	case ctx.Err() != nil, errors.Is(err, context.Canceled):
		return neutral
	case isRequestError(err):
		return neutral
	default:
		return failure
	}
}

// isRequestError reports whether err is an upstream 4xx that another
// provider would answer the same way. Authentication, timeout and rate-limit
// statuses are provider problems and do not qualify.
func isRequestError(err error) bool {
	var se *llm.StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return se.StatusCode >= 400 && se.StatusCode < 500
}
