package api

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"slices"
	"strings"

	"github.com/kalambet/stackpilot/internal/auth"
	"github.com/kalambet/stackpilot/internal/ratelimit"
	"github.com/kalambet/stackpilot/internal/storage"
)

type userKey struct{}

// SessionAuth accepts owner session tokens and stores the subject in the
// request context.
func SessionAuth(tokens *auth.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			userID, err := tokens.ParseSession(token)
			if err != nil {
				httpError(w, http.StatusUnauthorized, "authentication_error", "%v", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
		})
	}
}

// userID returns the authenticated owner of the request.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}

// apiKey reads x-api-key, falling back to a bearer Authorization header.
func apiKey(r *http.Request) string {
	if k := r.Header.Get("x-api-key"); k != "" {
		return k
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func keysEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// clientIP returns the request's remote address without the port. RealIP has
// already replaced it with the forwarded address when one was sent.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// guardAgent applies the agent's IP allow-list and rate limit. It writes the
// rejection and returns false when the request must stop.
func guardAgent(w http.ResponseWriter, r *http.Request, limiter *ratelimit.Limiter, a storage.Agent) bool {
	if allowed := a.Configuration.AllowedIPs; len(allowed) > 0 && !slices.Contains(allowed, clientIP(r)) {
		jsonError(w, http.StatusForbidden, "IP address not allowed")
		return false
	}
	if limiter != nil && !limiter.Allow(w, r, ratelimit.AgentKey(a.ID), a.Configuration.RateLimitPerMinute) {
		jsonError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return false
	}
	return true
}
