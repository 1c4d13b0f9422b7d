// Package ratelimit provides per-client request limiting for the HTTP API.
package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"crm-insight-service/internal/observability/metrics"
)

// Limiter allows each key a burst of Requests that refills evenly over Window.
// Instances are independent; construct one per server.
type Limiter struct {
	requests int
	window   time.Duration
	now      func() time.Time

	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Decision is the outcome for a single request.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// New creates a limiter. Non-positive values select 3 requests per minute.
func New(requests int, window time.Duration) *Limiter {
	if requests <= 0 {
		requests = 3
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		requests: requests,
		window:   window,
		now:      time.Now,
		clients:  make(map[string]*client),
	}
}

// Allow consumes one request for key.
func (l *Limiter) Allow(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	c, ok := l.clients[key]
	if !ok {
		every := rate.Every(l.window / time.Duration(l.requests))
		c = &client{limiter: rate.NewLimiter(every, l.requests)}
		l.clients[key] = c
	}
	c.lastSeen = now

	if c.limiter.AllowN(now, 1) {
		return Decision{Allowed: true, Remaining: int(math.Floor(c.limiter.TokensAt(now)))}
	}
	r := c.limiter.ReserveN(now, 1)
	retry := r.DelayFrom(now)
	r.CancelAt(now)
	return Decision{Allowed: false, RetryAfter: retry}
}

// sweepLocked drops clients idle for a full window, once per window.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) >= l.window {
			delete(l.clients, key)
		}
	}
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Middleware limits requests per client IP. It expects chi's RealIP
// middleware to have normalised RemoteAddr.
func (l *Limiter) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Allow(clientIP(r))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				metrics.DefaultMetrics.RecordRateLimited(route)
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"success": false,
					"error":   "Rate limit exceeded. Please try again later.",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
