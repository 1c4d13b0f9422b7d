// Package http exposes the REST and WebSocket API.
package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"crm-insight-service/internal/app"
	"crm-insight-service/internal/observability/metrics"
	"crm-insight-service/internal/ratelimit"
)

// Router serves the HTTP API and owns the chat sessions upgraded through it.
type Router struct {
	http.Handler
	sessions *sessionTracker
}

// CloseSessions cancels every live chat session. It suits
// http.Server.RegisterOnShutdown.
func (rt *Router) CloseSessions() {
	rt.sessions.closeAll()
}

// Shutdown closes every chat session and waits for their cleanup, including
// in-flight transcriptions, until ctx ends.
func (rt *Router) Shutdown(ctx context.Context) error {
	rt.sessions.closeAll()
	return rt.sessions.wait(ctx)
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) *Router {
	h := newHandlers(application)
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", h.readiness)

	r.Route("/api", func(r chi.Router) {
		r.Get("/audio/transcribe", h.transcribeInfo)
		r.With(limit(application.TranscribeLimiter, "/api/audio/transcribe")).Post("/audio/transcribe", h.transcribe)
		r.With(limit(application.InsightLimiter, "/api/insights")).Post("/insights", h.insights)
		r.Get("/analytics/snapshot", h.snapshot)
		r.Get("/chat/ws", h.chatSocket)
	})

	return &Router{Handler: r, sessions: h.sessions}
}

// limit applies l to a route; a nil limiter leaves it unlimited.
func limit(l *ratelimit.Limiter, route string) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return l.Middleware(route)
}

// instrument records request counts and latency by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.DefaultMetrics.RecordHTTPRequest(route, strconv.Itoa(status), time.Since(start).Seconds())
	})
}
