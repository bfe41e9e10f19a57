// Package mock provides a scripted [llm.Provider] for tests.
//
//	p := &mock.Provider{Script: []mock.Step{
//		mock.ToolCalls(types.ToolCall{ID: "c1", Name: "search_notes", Arguments: `{"query":"mercado"}`}),
//		mock.Reply("Encontrei 1 nota."),
//	}}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/notesmcp/pkg/provider/llm"
	"github.com/MrWong99/notesmcp/pkg/types"
)

// Call is one recorded Complete invocation. Req.Messages is a copy taken at
// call time, so later edits by the caller do not show up here.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Step is one scripted Complete outcome.
type Step struct {
	Response *llm.CompletionResponse
	Err      error
}

// Reply is a step answering with plain text.
func Reply(text string) Step {
	return Step{Response: &llm.CompletionResponse{Content: text}}
}

// ToolCalls is a step requesting the given tool calls.
func ToolCalls(calls ...types.ToolCall) Step {
	return Step{Response: &llm.CompletionResponse{ToolCalls: calls}}
}

// Fail is a step returning err.
func Fail(err error) Step {
	return Step{Err: err}
}

// Provider answers Complete from Script in order, then from OnComplete if
// set, then with CompleteResponse and CompleteErr. It is safe for concurrent
// use once configured.
type Provider struct {
	Script           []Step
	OnComplete       func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	TokenCount        int
	CountTokensErr    error
	ModelCapabilities types.ModelCapabilities

	mu    sync.Mutex
	calls []Call
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	req.Messages = slices.Clone(req.Messages)

	p.mu.Lock()
	p.calls = append(p.calls, Call{Ctx: ctx, Req: req})
	if len(p.Script) > 0 {
		step := p.Script[0]
		p.Script = p.Script[1:]
		p.mu.Unlock()
		return step.Response, step.Err
	}
	hook := p.OnComplete
	p.mu.Unlock()

	if hook != nil {
		return hook(ctx, req)
	}
	return p.CompleteResponse, p.CompleteErr
}

// CountTokens implements [llm.Provider].
func (p *Provider) CountTokens([]types.Message) (int, error) {
	return p.TokenCount, p.CountTokensErr
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() types.ModelCapabilities {
	return p.ModelCapabilities
}

// Calls returns the Complete calls recorded so far.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}
