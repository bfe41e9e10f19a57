package chat

import (
	"context"
	"fmt"
	"testing"

	"github.com/MrWong99/notesmcp/internal/gateway"
	"github.com/MrWong99/notesmcp/internal/notes"
	"github.com/MrWong99/notesmcp/pkg/provider/llm"
	llmmock "github.com/MrWong99/notesmcp/pkg/provider/llm/mock"
)

func TestErrorPayload(t *testing.T) {
	f := newFixture(t, llmmock.Step{Err: llm.NewStatusError(401, []byte("bad key"), nil)})
	_, gwErr := f.orch.RunNotesChat(context.Background(), "oi", Options{})
	if gwErr == nil {
		t.Fatal("expected a gateway error")
	}

	tests := []struct {
		name string
		err  error
		code string
	}{
		{"gateway", gwErr, string(gateway.KindAuth)},
		{"invalid argument", fmt.Errorf("%w: prompt vazio", ErrInvalidArgument), notes.CodeInvalidArgument},
		{"other", context.Canceled, string(gateway.KindUnknown)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ErrorPayload(tt.err)
			if p["success"] != false || p["code"] != tt.code {
				t.Errorf("payload = %v, want code %q", p, tt.code)
			}
		})
	}
}

func TestRequestParams_Options(t *testing.T) {
	var nilParams *RequestParams
	if got := nilParams.Options("m"); got.Model != "m" || got.Temperature != nil || got.MaxTokens != 0 {
		t.Errorf("nil params = %+v", got)
	}

	temp := 0.9
	p := &RequestParams{Temperature: &temp, MaxTokens: 12, TimeoutSeconds: 1.5}
	got := p.Options("")
	if got.Temperature == nil || *got.Temperature != 0.9 || got.MaxTokens != 12 || got.TimeoutSeconds != 1.5 {
		t.Errorf("options = %+v", got)
	}
}
