// Package openai provides an LLM provider backed by any OpenAI-compatible
// chat-completions API, OpenRouter included.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/pkoukk/tiktoken-go"

	"github.com/MrWong99/notesmcp/pkg/provider/llm"
	"github.com/MrWong99/notesmcp/pkg/types"
)

// OpenRouterBaseURL is the default base URL of the OpenRouter API.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// maxCapturedBody bounds the error body kept from a failed response.
const maxCapturedBody = 64 << 10

// Provider is an [llm.Provider] for OpenAI-compatible chat completion APIs.
type Provider struct {
	client oai.Client
	model  string
}

// Option adds request options to the underlying client.
type Option func(*[]option.RequestOption)

func with(opts ...option.RequestOption) Option {
	return func(dst *[]option.RequestOption) { *dst = append(*dst, opts...) }
}

// WithBaseURL points the client at another endpoint, e.g. [OpenRouterBaseURL].
func WithBaseURL(url string) Option { return with(option.WithBaseURL(url)) }

// WithOrganization sets the OpenAI organization ID.
func WithOrganization(org string) Option { return with(option.WithOrganization(org)) }

// WithHTTPClient replaces the HTTP client, e.g. to set a timeout or proxy.
func WithHTTPClient(c *http.Client) Option { return with(option.WithHTTPClient(c)) }

// WithHeader sends a static header with every request. An empty value is
// not sent.
func WithHeader(key, value string) Option {
	if value == "" {
		return func(*[]option.RequestOption) {}
	}
	return with(option.WithHeader(key, value))
}

// WithReferer sets the HTTP-Referer header OpenRouter uses for attribution.
func WithReferer(referer string) Option { return WithHeader("HTTP-Referer", referer) }

// WithTitle sets the X-Title header OpenRouter uses for attribution.
func WithTitle(title string) Option { return WithHeader("X-Title", title) }

// New builds a provider that defaults to model. SDK retries are disabled;
// the gateway owns the retry policy.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai: apiKey must not be empty")
	case model == "":
		return nil, errors.New("openai: model must not be empty")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Complete implements llm.Provider.
//
// Non-2xx responses are returned as *llm.StatusError carrying the raw body,
// including bodies that are not JSON (proxy interstitials, plain text).
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	var capt errorCapture
	resp, err := p.client.Chat.Completions.New(ctx, params, option.WithMiddleware(capt.middleware))
	if err != nil {
		return nil, capt.wrap(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %w", llm.ErrNoChoices)
	}

	choice := resp.Choices[0]
	result := &llm.CompletionResponse{
		Content: choice.Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

// errorCapture records the status and body of a failed response so they
// survive the SDK's own error decoding. One capture per call.
type errorCapture struct {
	status int
	body   []byte
}

func (c *errorCapture) middleware(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	resp, err := next(req)
	if err != nil || resp == nil || resp.StatusCode < 400 {
		return resp, err
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxCapturedBody))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	c.status = resp.StatusCode
	c.body = body
	return resp, nil
}

func (c *errorCapture) wrap(err error) error {
	if c.status != 0 {
		return llm.NewStatusError(c.status, c.body, err)
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return llm.NewStatusError(apiErr.StatusCode, []byte(apiErr.RawJSON()), err)
	}
	return fmt.Errorf("openai: chat completion: %w", err)
}

var encodings sync.Map // model -> *tiktoken.Tiktoken, nil when none loads

func encodingFor(model string) *tiktoken.Tiktoken {
	if v, ok := encodings.Load(model); ok {
		enc, _ := v.(*tiktoken.Tiktoken)
		return enc
	}
	enc, err := tiktoken.EncodingForModel(llm.BaseModel(model))
	if err != nil {
		enc, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	}
	if err != nil {
		enc = nil
	}
	v, _ := encodings.LoadOrStore(model, enc)
	enc, _ = v.(*tiktoken.Tiktoken)
	return enc
}

// CountTokens counts with the model's tiktoken encoding, cl100k_base for
// models tiktoken does not know, and four characters per token when no
// encoding can be loaded at all. Each message adds four tokens of framing.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	enc := encodingFor(p.model)
	count := func(s string) int {
		if enc == nil {
			return (len(s) + 3) / 4
		}
		return len(enc.Encode(s, nil, nil))
	}
	n := 0
	for _, m := range messages {
		n += 4 + count(m.Content)
		for _, tc := range m.ToolCalls {
			n += count(tc.Name) + count(tc.Arguments)
		}
	}
	return n, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() types.ModelCapabilities {
	return llm.KnownCapabilities(p.model)
}

// buildParams converts a CompletionRequest into OpenAI SDK params.
func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}

	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	}

	for _, td := range req.Tools {
		toolParam := oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		}
		params.Tools = append(params.Tools, toolParam)
	}
	if len(params.Tools) > 0 {
		params.ToolChoice = oai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: param.NewOpt("auto"),
		}
	}

	return params, nil
}

// convertMessage converts a types.Message to an OpenAI SDK message param.
func convertMessage(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case types.RoleSystem:
		return oai.SystemMessage(m.Content), nil

	case types.RoleUser:
		return oai.UserMessage(m.Content), nil

	case types.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		if m.Name != "" {
			asst.Name = oai.String(m.Name)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	case types.RoleTool:
		return oai.ToolMessage(m.Content, m.ToolCallID), nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}
