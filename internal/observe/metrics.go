// Package observe ties together the telemetry of notesmcp: OpenTelemetry
// metric instruments, tracing helpers, context-aware slog loggers and the
// HTTP middleware used by both listeners.
//
// Instruments are created from any [metric.MeterProvider]. Production code
// uses the global provider installed by [InitProvider], which exports to
// Prometheus; tests pass a provider with a manual reader to [NewMetrics].
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/notesmcp"

// latencyBuckets are sized for remote model calls, which routinely take
// several seconds.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Metrics holds every instrument notesmcp records to.
type Metrics struct {
	// LLMDuration and LLMAttempts are recorded per gateway attempt with
	// "model" and "status" attributes.
	LLMDuration metric.Float64Histogram
	LLMAttempts metric.Int64Counter

	// LLMErrors counts classified gateway failures by "kind".
	LLMErrors metric.Int64Counter

	// ToolExecutionDuration and ToolCalls are recorded per tool invocation
	// with "tool" and "status" attributes.
	ToolExecutionDuration metric.Float64Histogram
	ToolCalls             metric.Int64Counter

	// OrchestratorPasses is the number of model passes a chat needed.
	OrchestratorPasses metric.Int64Histogram

	// ActiveChats is the number of chats in flight.
	ActiveChats metric.Int64UpDownCounter

	// CacheLookups counts search cache lookups by "result" (hit or miss).
	CacheLookups metric.Int64Counter

	RateLimitRejections metric.Int64Counter

	// ProviderFailovers counts model calls moved to the next provider, with
	// "from" and "to" attributes.
	ProviderFailovers metric.Int64Counter

	// HTTPRequestDuration is recorded by [Middleware] with "method", "route"
	// and "status_class" attributes.
	HTTPRequestDuration metric.Float64Histogram
}

// instruments creates instruments on one meter and remembers the first
// failure of each.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return c
}

func (in *instruments) seconds(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := in.meter.Float64Histogram(name, opts...)
	in.errs = append(in.errs, err)
	return h
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{meter: mp.Meter(meterName)}

	passes, err := in.meter.Int64Histogram("notesmcp.orchestrator.passes",
		metric.WithDescription("Model passes used per chat request."),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5),
	)
	in.errs = append(in.errs, err)
	active, err := in.meter.Int64UpDownCounter("notesmcp.active_chats",
		metric.WithDescription("Chat orchestrations in flight."),
	)
	in.errs = append(in.errs, err)

	m := &Metrics{
		LLMDuration:           in.seconds("notesmcp.llm.duration", "Latency of a single model gateway attempt.", latencyBuckets...),
		LLMAttempts:           in.counter("notesmcp.llm.attempts", "Model gateway attempts by model and status."),
		LLMErrors:             in.counter("notesmcp.llm.errors", "Classified model gateway failures by kind."),
		ToolExecutionDuration: in.seconds("notesmcp.tool.duration", "Latency of note tool execution.", latencyBuckets...),
		ToolCalls:             in.counter("notesmcp.tool.calls", "Tool invocations by tool and status."),
		OrchestratorPasses:    passes,
		ActiveChats:           active,
		CacheLookups:          in.counter("notesmcp.cache.lookups", "Search cache lookups by result."),
		RateLimitRejections:   in.counter("notesmcp.ratelimit.rejections", "Chat requests refused by the per-minute rate limiter."),
		ProviderFailovers:     in.counter("notesmcp.provider.failovers", "Model calls moved from a failing provider to the next one."),
		HTTPRequestDuration:   in.seconds("notesmcp.http.request.duration", "HTTP request latency by route and status class."),
	}
	if err := errors.Join(in.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		panic("observe: create default metrics: " + err.Error())
	}
	return m
})

// DefaultMetrics returns metrics on the global meter provider, created on
// first use. Call it after [InitProvider].
func DefaultMetrics() *Metrics {
	return defaultMetrics()
}

// RecordLLMAttempt records one gateway attempt with its latency.
func (m *Metrics) RecordLLMAttempt(ctx context.Context, model, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("model", model), attribute.String("status", status))
	m.LLMAttempts.Add(ctx, 1, attrs)
	m.LLMDuration.Record(ctx, seconds, attrs)
}

// RecordLLMError records a classified gateway failure.
func (m *Metrics) RecordLLMError(ctx context.Context, kind string) {
	m.LLMErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordToolCall records a tool invocation with its latency.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("tool", tool), attribute.String("status", status))
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolExecutionDuration.Record(ctx, seconds, attrs)
}

// RecordCacheLookup records a search cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordFailover counts a model call moved from provider from to provider to.
func (m *Metrics) RecordFailover(ctx context.Context, from, to string) {
	m.ProviderFailovers.Add(ctx, 1, metric.WithAttributes(attribute.String("from", from), attribute.String("to", to)))
}
