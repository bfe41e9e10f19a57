// Package anyllm adapts github.com/mozilla-ai/any-llm-go to [llm.Provider].
// It backs the non-OpenAI provider names in the config registry, typically
// used as fallbacks behind OpenRouter.
package anyllm

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/notesmcp/pkg/provider/llm"
	"github.com/MrWong99/notesmcp/pkg/types"
)

type constructor func(...anyllmlib.Option) (anyllmlib.Provider, error)

func wrap[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) constructor {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return fn(opts...)
	}
}

var backends = map[string]constructor{
	"anthropic": wrap(anthropic.New),
	"deepseek":  wrap(deepseek.New),
	"gemini":    wrap(gemini.New),
	"groq":      wrap(groq.New),
	"mistral":   wrap(mistral.New),
	"ollama":    wrap(ollama.New),
	"openai":    wrap(anyllmoai.New),
}

// Backends returns the supported backend names in sorted order.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Provider is an [llm.Provider] over one any-llm-go backend.
type Provider struct {
	name    string
	model   string
	backend anyllmlib.Provider
}

// New builds a provider for backend name (see [Backends]) using model unless
// a request overrides it. Without an API key option the backend reads its
// usual environment variable, e.g. ANTHROPIC_API_KEY.
func New(name, model string, opts ...anyllmlib.Option) (*Provider, error) {
	name = strings.ToLower(name)
	ctor, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q (have %s)", name, strings.Join(Backends(), ", "))
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: %s: model must not be empty", name)
	}
	backend, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", name, err)
	}
	return &Provider{name: name, model: model, backend: backend}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", p.name, statusError(err))
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s: %w", p.name, llm.ErrNoChoices)
	}

	msg := resp.Choices[0].Message
	out := &llm.CompletionResponse{Content: msg.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return out, nil
}

// CountTokens estimates four characters per token plus a per-message
// overhead. The backends share no tokenizer.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	n := 0
	for _, m := range messages {
		n += 4 + (len(m.Content)+3)/4
		for _, tc := range m.ToolCalls {
			n += (len(tc.Name) + len(tc.Arguments) + 3) / 4
		}
	}
	return n, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() types.ModelCapabilities {
	return llm.KnownCapabilities(p.model)
}

func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{
		Model:    cmp.Or(req.Model, p.model),
		Messages: make([]anyllmlib.Message, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, convertMessage(m))
	}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type:     "function",
			Function: anyllmlib.Function{Name: td.Name, Description: td.Description, Parameters: td.Parameters},
		})
	}
	return params
}

func convertMessage(m types.Message) anyllmlib.Message {
	out := anyllmlib.Message{Role: m.Role, Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, anyllmlib.ToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: anyllmlib.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
		})
	}
	return out
}

// statusCoder is implemented by SDK errors that expose the HTTP status.
type statusCoder interface {
	StatusCode() int
}

// errorStatuses maps message fragments of backend errors to the HTTP status
// they stand for, for backends whose errors carry no status.
var errorStatuses = []struct {
	fragment string
	status   int
}{
	{"rate limit", http.StatusTooManyRequests},
	{"too many requests", http.StatusTooManyRequests},
	{"authentication", http.StatusUnauthorized},
	{"invalid api key", http.StatusUnauthorized},
	{"unauthorized", http.StatusUnauthorized},
	{"permission denied", http.StatusForbidden},
}

// statusError lifts err into an [llm.StatusError] when the upstream status
// can be recovered, so the gateway classifies any-llm failures like OpenAI
// ones. Other errors are returned unchanged.
func statusError(err error) error {
	var se *llm.StatusError
	if errors.As(err, &se) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var sc statusCoder
	if errors.As(err, &sc) && sc.StatusCode() >= 400 {
		return llm.NewStatusError(sc.StatusCode(), []byte(err.Error()), err)
	}
	lower := strings.ToLower(err.Error())
	for _, e := range errorStatuses {
		if strings.Contains(lower, e.fragment) {
			return llm.NewStatusError(e.status, []byte(err.Error()), err)
		}
	}
	return err
}
