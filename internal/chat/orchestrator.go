// Package chat runs the notes chat: a bounded plan, execute and synthesize
// conversation between the user prompt, the model and the note tools.
//
// A run seeds a transcript with [SystemPrompt] and the user prompt, then
// calls the model at most MaxPasses times. A response with tool calls is
// recorded as an assistant message, its tools are executed one at a time in
// request order, and their results are folded into a new user message that
// asks the model for the final answer. The first response without tool calls
// ends the run. If the pass budget runs out first, the last text seen is
// returned as a degraded answer instead of an error.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/notesmcp/internal/gateway"
	"github.com/MrWong99/notesmcp/internal/notes"
	"github.com/MrWong99/notesmcp/internal/observe"
	"github.com/MrWong99/notesmcp/internal/tools"
	"github.com/MrWong99/notesmcp/pkg/provider/llm"
	"github.com/MrWong99/notesmcp/pkg/types"
)

const (
	// MaxInputChars is the prompt length above which the prompt is truncated.
	MaxInputChars = 4000

	// MaxPromptChars is the prompt length above which the prompt is rejected.
	MaxPromptChars = 8000

	// ResultPreviewChars caps each serialised tool result in the synthesis
	// message.
	ResultPreviewChars = 800

	// DefaultMaxPasses is the model call budget per run.
	DefaultMaxPasses = 3

	// DefaultTemperature and DefaultMaxTokens are the sampling defaults.
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 400

	// SystemActionTool names the synthetic action that reports truncation.
	SystemActionTool = "_system"
)

// ErrInvalidArgument reports a prompt that was rejected before any model call.
var ErrInvalidArgument = errors.New("chat: invalid argument")

// Options are per-run overrides. Zero values select the orchestrator
// defaults.
type Options struct {
	Model          string
	Temperature    *float64
	MaxTokens      int
	TimeoutSeconds float64
	MaxPasses      int
}

// Outcome is the result of a run.
type Outcome struct {
	Success     bool                   `json:"success"`
	Text        string                 `json:"text"`
	Actions     []tools.ExecutedAction `json:"actions"`
	Synthesized bool                   `json:"synthesized"`

	// Degraded is set when the pass budget ran out before a final answer.
	Degraded bool `json:"degraded,omitempty"`
}

// ModelGateway is the model call used by the orchestrator.
// [*gateway.Gateway] implements it.
type ModelGateway interface {
	Invoke(ctx context.Context, messages []types.Message, tools []types.ToolDefinition, p gateway.Params) (*llm.CompletionResponse, error)
}

// ToolExecutor runs planned actions. [*tools.Executor] implements it.
type ToolExecutor interface {
	Execute(ctx context.Context, action tools.PlannedAction) notes.Result
}

// Defaults are the orchestrator-wide settings that [Options] override.
type Defaults struct {
	Model string
	// Temperature is nil to keep the built-in default. Zero is a valid
	// setting.
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
	MaxPasses   int
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithDefaults replaces the orchestrator defaults. Zero fields keep the
// built-in value.
func WithDefaults(d Defaults) Option {
	return func(o *Orchestrator) {
		if d.Model != "" {
			o.defaults.Model = d.Model
		}
		if d.Temperature != nil {
			t := *d.Temperature
			o.defaults.Temperature = &t
		}
		if d.MaxTokens > 0 {
			o.defaults.MaxTokens = d.MaxTokens
		}
		if d.Timeout > 0 {
			o.defaults.Timeout = d.Timeout
		}
		if d.MaxPasses > 0 {
			o.defaults.MaxPasses = d.MaxPasses
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithToolDefinitions replaces the tool schemas offered to the model.
func WithToolDefinitions(defs []types.ToolDefinition) Option {
	return func(o *Orchestrator) { o.toolDefs = defs }
}

// Orchestrator runs notes chats. It holds no per-run state and is safe for
// concurrent use.
type Orchestrator struct {
	gw       ModelGateway
	exec     ToolExecutor
	toolDefs []types.ToolDefinition
	defaults Defaults
	metrics  *observe.Metrics
}

// New returns an Orchestrator calling the model through gw and running tools
// through exec.
func New(gw ModelGateway, exec ToolExecutor, opts ...Option) *Orchestrator {
	temperature := DefaultTemperature
	o := &Orchestrator{
		gw:       gw,
		exec:     exec,
		toolDefs: tools.Definitions(),
		defaults: Defaults{
			Temperature: &temperature,
			MaxTokens:   DefaultMaxTokens,
			Timeout:     gateway.DefaultTimeout,
			MaxPasses:   DefaultMaxPasses,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// RunNotesChat answers prompt. It fails with [ErrInvalidArgument] for empty
// or oversized prompts, and with a [*gateway.Error] when a model call fails.
// Tool failures never fail the run.
func (o *Orchestrator) RunNotesChat(ctx context.Context, prompt string, opts Options) (*Outcome, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: prompt vazio", ErrInvalidArgument)
	}
	length := utf8.RuneCountInString(prompt)
	if length > MaxPromptChars {
		return nil, fmt.Errorf("%w: prompt excede %d caracteres", ErrInvalidArgument, MaxPromptChars)
	}

	ctx, span := observe.StartSpan(ctx, "chat.run")
	defer span.End()
	o.metrics.ActiveChats.Add(ctx, 1)
	defer o.metrics.ActiveChats.Add(ctx, -1)
	log := observe.Logger(ctx)

	out := &Outcome{Success: true, Actions: []tools.ExecutedAction{}}
	if length > MaxInputChars {
		prompt = truncateRunes(prompt, MaxInputChars)
		out.Actions = append(out.Actions, tools.ExecutedAction{
			Tool: SystemActionTool,
			Args: map[string]any{},
			Result: map[string]any{
				"truncated":       true,
				"original_length": length,
				"used_length":     MaxInputChars,
			},
		})
		log.Info("chat: prompt truncated", slog.Int("original_length", length))
	}

	params := o.params(opts)
	maxPasses := o.defaults.MaxPasses
	if opts.MaxPasses > 0 {
		maxPasses = opts.MaxPasses
	}

	transcript := []types.Message{
		{Role: types.RoleSystem, Content: SystemPrompt},
		{Role: types.RoleUser, Content: prompt},
	}
	toolsRun := 0
	lastText := ""

	for pass := 1; pass <= maxPasses; pass++ {
		resp, err := o.gw.Invoke(ctx, transcript, o.toolDefs, params)
		if err != nil {
			o.metrics.OrchestratorPasses.Record(ctx, int64(pass))
			return nil, err
		}
		if strings.TrimSpace(resp.Content) != "" {
			lastText = resp.Content
		}

		if len(resp.ToolCalls) == 0 {
			out.Text = resp.Content
			out.Synthesized = toolsRun > 0
			o.metrics.OrchestratorPasses.Record(ctx, int64(pass))
			span.SetAttributes(attribute.Int("chat.passes", pass), attribute.Int("chat.tools", toolsRun))
			return out, nil
		}

		planned := ParseToolCalls(resp.ToolCalls)
		if pass == maxPasses {
			log.Warn("chat: pass budget exhausted, dropping tool calls",
				slog.Int("passes", pass),
				slog.Int("dropped", len(planned)),
			)
			break
		}

		transcript = append(transcript, types.Message{
			Role:    types.RoleAssistant,
			Content: placeholder(resp.Content, planned),
		})
		executed := make([]tools.ExecutedAction, 0, len(planned))
		for _, action := range planned {
			res := o.exec.Execute(ctx, action)
			executed = append(executed, tools.ExecutedAction{Tool: action.Tool, Args: action.Args, Result: res})
		}
		toolsRun += len(executed)
		out.Actions = append(out.Actions, executed...)
		transcript = append(transcript, types.Message{
			Role:    types.RoleUser,
			Content: synthesisPrompt(prompt, executed),
		})
	}

	o.metrics.OrchestratorPasses.Record(ctx, int64(maxPasses))
	span.SetAttributes(attribute.Bool("chat.degraded", true))
	out.Degraded = true
	out.Synthesized = false
	out.Text = lastText
	if out.Text == "" {
		out.Text = degradedText
	}
	return out, nil
}

func (o *Orchestrator) params(opts Options) gateway.Params {
	p := gateway.Params{
		Model:       o.defaults.Model,
		Temperature: *o.defaults.Temperature,
		MaxTokens:   o.defaults.MaxTokens,
		Timeout:     o.defaults.Timeout,
	}
	if opts.Model != "" {
		p.Model = opts.Model
	}
	if opts.Temperature != nil {
		p.Temperature = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		p.MaxTokens = opts.MaxTokens
	}
	if opts.TimeoutSeconds > 0 {
		p.Timeout = time.Duration(opts.TimeoutSeconds * float64(time.Second))
	}
	return p
}
