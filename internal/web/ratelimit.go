package web

import (
	"sync"
	"time"
)

// DefaultRateLimit is the default number of chat requests per key per minute.
const DefaultRateLimit = 60

// Limiter counts requests per key in fixed one-minute windows. A limit <= 0
// disables limiting. It is safe for concurrent use.
type Limiter struct {
	now func() time.Time

	mu      sync.Mutex
	limit   int
	windows map[windowKey]int
	current int64
}

type windowKey struct {
	key    string
	window int64
}

// NewLimiter returns a Limiter allowing limit requests per key per minute.
func NewLimiter(limit int) *Limiter {
	return &Limiter{limit: limit, now: time.Now, windows: make(map[windowKey]int)}
}

// Allow records a request for key and reports whether it is within the
// limit for the current window.
func (l *Limiter) Allow(key string) bool {
	window := l.now().Unix() / 60

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit <= 0 {
		return true
	}
	if window != l.current {
		for k := range l.windows {
			if k.window < window {
				delete(l.windows, k)
			}
		}
		l.current = window
	}
	wk := windowKey{key: key, window: window}
	l.windows[wk]++
	return l.windows[wk] <= l.limit
}

// SetLimit changes the per-minute limit. Counts in the current window are
// kept, so lowering the limit takes effect immediately.
func (l *Limiter) SetLimit(limit int) {
	l.mu.Lock()
	l.limit = limit
	l.mu.Unlock()
}
