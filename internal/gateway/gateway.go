// Package gateway wraps a chat-completion [llm.Provider] with the timeout,
// retry and failure-classification policy used for every model call made by
// the notes chat.
//
// A [Gateway] performs at most MaxAttempts calls per [Gateway.Invoke]. Between
// attempts it sleeps min(2^n, cap) seconds. Failures are reduced to a [Kind]
// by [Classify]; authentication and proxy failures abort immediately, rate
// limits and network failures are retried, and unknown failures are retried
// only when the upstream answered with a 5xx status.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/notesmcp/internal/observe"
	"github.com/MrWong99/notesmcp/pkg/provider/llm"
	"github.com/MrWong99/notesmcp/pkg/types"
)

const (
	// DefaultMaxAttempts is the attempt budget per Invoke.
	DefaultMaxAttempts = 3

	// DefaultBackoffCap bounds the delay between attempts.
	DefaultBackoffCap = 8 * time.Second

	// DefaultTimeout bounds a single model call.
	DefaultTimeout = 60 * time.Second
)

// Params are the per-call sampling parameters.
type Params struct {
	// Model overrides the provider's configured model when non-empty.
	Model string

	// Temperature is the sampling temperature.
	Temperature float64

	// MaxTokens caps the response length. Zero means provider default.
	MaxTokens int

	// Timeout bounds each attempt. Zero means the gateway default.
	Timeout time.Duration
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a [Gateway].
type Option func(*Gateway)

// WithMaxAttempts sets the attempt budget. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(g *Gateway) {
		if n >= 1 {
			g.maxAttempts = n
		}
	}
}

// WithBackoffCap sets the upper bound for the delay between attempts.
func WithBackoffCap(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.backoffCap = d
		}
	}
}

// WithSleep replaces the function used to wait between attempts.
func WithSleep(fn SleepFunc) Option {
	return func(g *Gateway) {
		if fn != nil {
			g.sleep = fn
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) {
		if m != nil {
			g.metrics = m
		}
	}
}

// WithDefaultTimeout sets the per-attempt timeout used when [Params.Timeout]
// is zero.
func WithDefaultTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// Gateway is the single point through which the application talks to a
// model. It is safe for concurrent use.
type Gateway struct {
	provider    llm.Provider
	maxAttempts int
	backoffCap  time.Duration
	timeout     time.Duration
	sleep       SleepFunc
	metrics     *observe.Metrics
}

// New returns a Gateway over provider.
func New(provider llm.Provider, opts ...Option) *Gateway {
	g := &Gateway{
		provider:    provider,
		maxAttempts: DefaultMaxAttempts,
		backoffCap:  DefaultBackoffCap,
		timeout:     DefaultTimeout,
		sleep:       sleepCtx,
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Provider returns the wrapped provider.
func (g *Gateway) Provider() llm.Provider { return g.provider }

// Backoff returns the delay before attempt n+1, where n is the number of
// attempts already made.
func (g *Gateway) Backoff(n int) time.Duration {
	d := time.Second
	for i := 0; i < n; i++ {
		d *= 2
		if d >= g.backoffCap {
			return g.backoffCap
		}
	}
	return min(d, g.backoffCap)
}

// Invoke sends messages and tool definitions to the model. On success it
// returns the raw response; on failure it returns a [*Error].
func (g *Gateway) Invoke(ctx context.Context, messages []types.Message, tools []types.ToolDefinition, p Params) (*llm.CompletionResponse, error) {
	ctx, span := observe.StartSpan(ctx, "gateway.invoke")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", p.Model), attribute.Int("llm.messages", len(messages)))

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = g.timeout
	}
	req := llm.CompletionRequest{
		Messages:    messages,
		Tools:       tools,
		Model:       p.Model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	}
	log := observe.Logger(ctx)

	var (
		lastFailure Failure
		lastKind    Kind
	)
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		start := time.Now()
		resp, err := g.call(ctx, req, timeout)
		elapsed := time.Since(start).Seconds()
		if err == nil {
			g.metrics.RecordLLMAttempt(ctx, p.Model, "ok", elapsed)
			span.SetAttributes(attribute.Int("llm.attempts", attempt))
			return resp, nil
		}

		lastFailure = Describe(err)
		lastKind = Classify(lastFailure)
		g.metrics.RecordLLMAttempt(ctx, p.Model, string(lastKind), elapsed)
		log.Warn("gateway: model call failed",
			slog.Int("attempt", attempt),
			slog.String("kind", string(lastKind)),
			slog.Int("status", lastFailure.Status),
			slog.Any("err", err),
		)

		if ctx.Err() != nil {
			// Caller gave up; no point in another attempt.
			return nil, g.fail(ctx, span, KindNetwork, Failure{Err: ctx.Err()}, attempt)
		}
		if !shouldRetry(lastKind, lastFailure.Status) || attempt == g.maxAttempts {
			return nil, g.fail(ctx, span, lastKind, lastFailure, attempt)
		}
		if err := g.sleep(ctx, g.Backoff(attempt-1)); err != nil {
			return nil, g.fail(ctx, span, KindNetwork, Failure{Err: err}, attempt)
		}
	}
	return nil, g.fail(ctx, span, lastKind, lastFailure, g.maxAttempts)
}

func (g *Gateway) call(ctx context.Context, req llm.CompletionRequest, timeout time.Duration) (*llm.CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return g.provider.Complete(ctx, req)
}

func (g *Gateway) fail(ctx context.Context, span trace.Span, kind Kind, f Failure, attempts int) *Error {
	ge := newError(kind, f, attempts)
	g.metrics.RecordLLMError(ctx, string(kind))
	span.SetAttributes(attribute.Int("llm.attempts", attempts), attribute.String("llm.error_kind", string(kind)))
	span.SetStatus(codes.Error, ge.Message)
	return ge
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
