package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests a key may make per window.
	Max int
	// Window is the length of the sliding window.
	Window time.Duration
	// KeyFunc picks the key a request is counted against. Nil means the
	// client IP.
	KeyFunc func(*http.Request) string
}

// window holds the counts of the current and previous fixed windows. The
// sliding count weights the previous one by how much of it still overlaps.
type window struct {
	prev, curr float64
	start      time.Time
}

// Limiter is a per-key sliding window rate limiter.
type Limiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu   sync.Mutex
	keys map[string]*window
}

// NewLimiter creates a Limiter.
func NewLimiter(cfg RateLimitConfig) *Limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	return &Limiter{cfg: cfg, now: time.Now, keys: make(map[string]*window)}
}

// Allow counts one request for key. It reports the requests left in the
// window, when the window resets and whether the request may proceed.
func (l *Limiter) Allow(key string) (remaining int, resetAt time.Time, ok bool) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, found := l.keys[key]
	if !found {
		w = &window{start: now.Truncate(l.cfg.Window)}
		l.keys[key] = w
	}
	switch elapsed := now.Sub(w.start); {
	case elapsed >= 2*l.cfg.Window:
		w.prev, w.curr = 0, 0
		w.start = now.Truncate(l.cfg.Window)
	case elapsed >= l.cfg.Window:
		w.prev, w.curr = w.curr, 0
		w.start = w.start.Add(l.cfg.Window)
	}

	overlap := max(1-now.Sub(w.start).Seconds()/l.cfg.Window.Seconds(), 0)
	count := w.prev*overlap + w.curr
	resetAt = w.start.Add(l.cfg.Window)
	if count >= float64(l.cfg.Max) {
		return 0, resetAt, false
	}
	w.curr++
	return max(int(float64(l.cfg.Max)-count-1), 0), resetAt, true
}

// Sweep drops keys idle for two windows.
func (l *Limiter) Sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.keys {
		if now.Sub(w.start) >= 2*l.cfg.Window {
			delete(l.keys, key)
		}
	}
}

// Size returns the number of tracked keys.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// Run sweeps idle keys every two windows until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	t := time.NewTicker(2 * l.cfg.Window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}

// Middleware rejects requests over the limit with 429 and a JSON body.
// Every response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset.
func (l *Limiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, resetAt, ok := l.Allow(l.cfg.KeyFunc(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
			if !ok {
				wait := max(resetAt.Sub(l.now()), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit returns a rate limiting middleware without background cleanup.
func RateLimit(cfg RateLimitConfig) Middleware {
	return NewLimiter(cfg).Middleware()
}

// RateLimitWithCleanup is RateLimit plus a goroutine sweeping idle keys
// until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := NewLimiter(cfg)
	go l.Run(ctx)
	return l.Middleware()
}

// ClientIP keys requests by the first X-Forwarded-For hop, then X-Real-IP,
// then the connection address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
