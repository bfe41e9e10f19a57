package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/notesmcp/pkg/provider/llm"
	"github.com/MrWong99/notesmcp/pkg/provider/llm/anyllm"
	llmmock "github.com/MrWong99/notesmcp/pkg/provider/llm/mock"
	"github.com/MrWong99/notesmcp/pkg/provider/llm/openai"
)

// ErrProviderNotRegistered is returned by [Registry.CreateLLM] when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// LLMFactory builds a provider from its configuration entry.
type LLMFactory func(ProviderEntry) (llm.Provider, error)

// Registry maps provider names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]LLMFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{llm: make(map[string]LLMFactory)}
}

// DefaultRegistry returns a [Registry] with every built-in provider
// registered:
//
//   - "openrouter" and "openai" use the OpenAI SDK against OpenRouter or
//     OpenAI respectively.
//   - "anthropic", "gemini", "ollama", "deepseek", "mistral" and "groq" use
//     any-llm-go.
//   - "mock" answers every request with Options["response"].
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterLLM("openrouter", func(e ProviderEntry) (llm.Provider, error) {
		baseURL := e.BaseURL
		if baseURL == "" {
			baseURL = openai.OpenRouterBaseURL
		}
		return openai.New(e.APIKey, e.Model,
			openai.WithBaseURL(baseURL),
			openai.WithReferer(e.OptionString("referer")),
			openai.WithTitle(e.OptionString("title")),
		)
	})
	r.RegisterLLM("openai", func(e ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		if org := e.OptionString("organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(e.APIKey, e.Model, opts...)
	})
	for _, name := range []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"} {
		r.RegisterLLM(name, func(e ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(name, e.Model, opts...)
		})
	}
	r.RegisterLLM("mock", func(e ProviderEntry) (llm.Provider, error) {
		text := e.OptionString("response")
		if text == "" {
			text = "ok"
		}
		return &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: text}}, nil
	})
	return r
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.llm))
	for name := range r.llm {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
