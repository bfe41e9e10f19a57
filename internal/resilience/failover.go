package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/notesmcp/internal/observe"
	"github.com/MrWong99/notesmcp/pkg/provider/llm"
	"github.com/MrWong99/notesmcp/pkg/types"
)

// ErrAllFailed is returned when every provider failed or was skipped.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures an [LLMFallback].
type FallbackConfig struct {
	// Breaker tunes the breaker created for each provider.
	Breaker BreakerConfig

	// Metrics receives failover counts. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

type backend struct {
	name     string
	provider llm.Provider
	breaker  *Breaker
}

// LLMFallback implements [llm.Provider] over a primary provider and ordered
// fallbacks. Register fallbacks with [LLMFallback.AddFallback] before the
// first call; after that it is safe for concurrent use.
//
// The error of the last provider tried stays reachable with [errors.As], so
// an upstream [*llm.StatusError] is still classified by the gateway.
type LLMFallback struct {
	backends []backend
	cfg      FallbackConfig
	metrics  *observe.Metrics
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback returns an LLMFallback preferring primary.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	f := &LLMFallback{cfg: cfg, metrics: cfg.Metrics}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	f.AddFallback(primaryName, primary)
	return f
}

// AddFallback appends a provider tried after those already registered.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.backends = append(f.backends, backend{name: name, provider: p, breaker: NewBreaker(name, f.cfg.Breaker)})
}

// Complete sends req to the first provider whose breaker allows it, moving
// on when a provider fails. A per-request model override applies to the
// primary only; fallbacks use the model they were configured with.
//
// Failover stops early when the caller's context is done or when the
// upstream rejected the request itself.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var lastErr error
	for i, b := range f.backends {
		r := req
		if i > 0 {
			r.Model = ""
		}
		var resp *llm.CompletionResponse
		err := b.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			resp, err = b.provider.Complete(ctx, r)
			return err
		})
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || isRequestError(err) {
			return nil, err
		}
		lastErr = err

		if i+1 < len(f.backends) {
			next := f.backends[i+1].name
			if !errors.Is(err, ErrCircuitOpen) {
				slog.Warn("provider failed, trying next", "provider", b.name, "next", next, "err", err)
			}
			f.metrics.RecordFailover(ctx, b.name, next)
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// CountTokens uses the first provider able to count. Counting is local, so
// breakers are not involved.
func (f *LLMFallback) CountTokens(messages []types.Message) (int, error) {
	var errs []error
	for _, b := range f.backends {
		n, err := b.provider.CountTokens(messages)
		if err == nil {
			return n, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
	}
	return 0, errors.Join(errs...)
}

// Capabilities reports the primary's capabilities.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	return f.backends[0].provider.Capabilities()
}
