// Package ratelimit provides fixed-window request limiters.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Limiter is a fixed-window rate limiter for a single entity.
type Limiter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
	rate        int
	window      time.Duration
	now         func() time.Time
}

// New creates a Limiter that allows rate requests per window.
func New(rate int, window time.Duration) *Limiter {
	return &Limiter{
		rate:        rate,
		window:      window,
		windowStart: time.Now(),
		now:         time.Now,
	}
}

// Allow returns true if the request is within the rate limit.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.windowStart) > l.window {
		l.count = 0
		l.windowStart = now
	}
	l.count++
	return l.count <= l.rate
}

// Keyed applies an independent fixed window to each key, usually a client IP.
type Keyed struct {
	mu     sync.Mutex
	seen   map[string]*window
	rate   int
	window time.Duration
	now    func() time.Time
}

type window struct {
	count int
	start time.Time
}

// NewKeyed creates a Keyed limiter allowing rate requests per window per key.
func NewKeyed(rate int, win time.Duration) *Keyed {
	return &Keyed{
		seen:   make(map[string]*window),
		rate:   rate,
		window: win,
		now:    time.Now,
	}
}

// Allow reports whether key is still within its limit and counts the request.
func (k *Keyed) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	w, ok := k.seen[key]
	if !ok || now.Sub(w.start) > k.window {
		k.seen[key] = &window{count: 1, start: now}
		return true
	}
	w.count++
	return w.count <= k.rate
}

// Cleanup drops keys whose window has expired and returns how many it removed.
func (k *Keyed) Cleanup() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	n := 0
	for key, w := range k.seen {
		if now.Sub(w.start) > k.window {
			delete(k.seen, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.seen)
}

// Middleware rejects requests over the per-IP limit with onLimit.
func (k *Keyed) Middleware(onLimit http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !k.Allow(ClientIP(r)) {
				onLimit(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the client IP from a request, respecting X-Forwarded-For
// for proxied deployments.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
