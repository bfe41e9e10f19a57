package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/MrWong99/notesmcp/pkg/provider/llm"
)

var errDown = errors.New("upstream down")

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *clock) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	b := NewBreaker("openrouter", BreakerConfig{Threshold: threshold, Cooldown: cooldown})
	b.now = c.now
	return b, c
}

func fail(context.Context) error { return errDown }

func ok(context.Context) error { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker("x", BreakerConfig{})
	if b.cfg.Threshold != 5 || b.cfg.Cooldown != 30*time.Second {
		t.Errorf("cfg = %+v", b.cfg)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v", b.State())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for range 3 {
		if err := b.Do(ctx, fail); !errors.Is(err, errDown) {
			t.Fatalf("err = %v, want upstream error", err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open breaker: err = %v, called = %v", err, called)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, ok)
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, c := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	c.advance(time.Minute)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after cooldown", b.State())
	}

	// While the probe is in flight other calls are rejected.
	err := b.Do(ctx, func(context.Context) error {
		if err := b.Do(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
			t.Errorf("concurrent call during probe: err = %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed after a successful probe", b.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, c := newTestBreaker(2, time.Minute)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	c.advance(time.Minute)

	_ = b.Do(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after a failed probe", b.State())
	}
	c.advance(30 * time.Second)
	if err := b.Do(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want a fresh cooldown", err)
	}
}

func TestBreaker_NeutralOutcomes(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = b.Do(ctx, func(ctx context.Context) error { return ctx.Err() })

	badRequest := llm.NewStatusError(http.StatusBadRequest, []byte(`{"error":"bad tool schema"}`), nil)
	_ = b.Do(context.Background(), func(context.Context) error { return badRequest })

	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed after neutral outcomes", b.State())
	}

	unauthorized := llm.NewStatusError(http.StatusUnauthorized, nil, nil)
	_ = b.Do(context.Background(), func(context.Context) error { return unauthorized })
	if b.State() != StateOpen {
		t.Errorf("state = %v, want open after a 401", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(1, time.Hour)
	_ = b.Do(context.Background(), fail)
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
	if err := b.Do(context.Background(), ok); err != nil {
		t.Errorf("call after reset: %v", err)
	}
}

func TestIsRequestError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errDown, false},
		{llm.NewStatusError(400, nil, nil), true},
		{llm.NewStatusError(404, nil, nil), true},
		{llm.NewStatusError(401, nil, nil), false},
		{llm.NewStatusError(403, nil, nil), false},
		{llm.NewStatusError(408, nil, nil), false},
		{llm.NewStatusError(429, nil, nil), false},
		{llm.NewStatusError(502, nil, nil), false},
	}
	for _, tt := range tests {
		if got := isRequestError(tt.err); got != tt.want {
			t.Errorf("isRequestError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown"} {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
