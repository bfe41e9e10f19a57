package chat

import (
	"errors"

	"github.com/MrWong99/notesmcp/internal/gateway"
	"github.com/MrWong99/notesmcp/internal/notes"
)

// RequestParams are the optional sampling overrides accepted by the MCP
// notes_chat tool and the HTTP chat API.
type RequestParams struct {
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
	TimeoutSeconds float64  `json:"timeout_seconds,omitempty"`
}

// Options converts p into run options for model. A nil p yields the
// defaults.
func (p *RequestParams) Options(model string) Options {
	opts := Options{Model: model}
	if p == nil {
		return opts
	}
	opts.Temperature = p.Temperature
	opts.MaxTokens = p.MaxTokens
	opts.TimeoutSeconds = p.TimeoutSeconds
	return opts
}

// ErrorPayload renders a failed run as a {success:false, error, code} body.
// Gateway failures carry their status, retryable and proxy_blocked fields.
func ErrorPayload(err error) map[string]any {
	var ge *gateway.Error
	switch {
	case errors.As(err, &ge):
		return ge.Payload()
	case errors.Is(err, ErrInvalidArgument):
		return map[string]any{"success": false, "error": err.Error(), "code": notes.CodeInvalidArgument}
	default:
		return map[string]any{"success": false, "error": err.Error(), "code": string(gateway.KindUnknown)}
	}
}
