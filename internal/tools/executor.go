package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/notesmcp/internal/notes"
	"github.com/MrWong99/notesmcp/internal/observe"
)

// Executor dispatches planned actions to registered tools. It never returns
// an error or panics past its boundary: every failure becomes a failed
// [notes.Result].
type Executor struct {
	tools   map[string]Tool
	metrics *observe.Metrics
}

// ExecutorOption configures an [Executor].
type ExecutorOption func(*Executor)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor returns an Executor over the given tools.
func NewExecutor(tools []Tool, opts ...ExecutorOption) *Executor {
	e := &Executor{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		e.tools[t.Definition.Name] = t
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Execute runs action and returns its result.
func (e *Executor) Execute(ctx context.Context, action PlannedAction) (res notes.Result) {
	t, ok := e.tools[action.Tool]
	if !ok {
		e.metrics.RecordToolCall(ctx, "unsupported", "error", 0)
		return notes.Fail(notes.CodeUnsupportedTool, "tool not supported")
	}

	ctx, span := observe.StartSpan(ctx, "tools.execute")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", action.Tool))

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			observe.Logger(ctx).Error("tools: handler panicked",
				slog.String("tool", action.Tool),
				slog.Any("panic", p),
			)
			res = notes.Fail(notes.CodeToolFailed, fmt.Sprintf("%v", p))
		}
		status := "ok"
		if !res.Success {
			status = "error"
			span.SetStatus(codes.Error, res.Error)
		}
		e.metrics.RecordToolCall(ctx, action.Tool, status, time.Since(start).Seconds())
	}()

	args := action.Args
	if args == nil {
		args = map[string]any{}
	}
	return t.Handler(ctx, args)
}
