// Package ratelimit applies per-agent and per-endpoint request limits over a
// one-minute window.
package ratelimit

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// DefaultPerMinute applies when an agent or endpoint has no limit configured.
const DefaultPerMinute = 60

// Limiter counts requests per key. The limit is chosen per call, so one
// Limiter serves every agent and endpoint.
type Limiter struct {
	rl *httprate.RateLimiter
}

func New() *Limiter {
	return &Limiter{rl: httprate.NewRateLimiter(DefaultPerMinute, time.Minute)}
}

// Allow records one request for key and reports whether it fits within
// limitPerMinute. It sets the X-RateLimit-* headers on w. A non-positive
// limit uses DefaultPerMinute.
func (l *Limiter) Allow(w http.ResponseWriter, r *http.Request, key string, limitPerMinute int) bool {
	if limitPerMinute <= 0 {
		limitPerMinute = DefaultPerMinute
	}
	r = r.WithContext(httprate.WithRequestLimit(r.Context(), limitPerMinute))
	return !l.rl.OnLimit(w, r, key)
}

// AgentKey and EndpointKey keep agent and endpoint counters apart.
func AgentKey(agentID string) string       { return "agent:" + agentID }
func EndpointKey(endpointID string) string { return "endpoint:" + endpointID }
