// Package api serves the HTTP surface: the agent-facing MCP, A2A and chat
// routes, the collection search endpoints and the owner API.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kalambet/stackpilot/internal/agent"
	"github.com/kalambet/stackpilot/internal/auth"
	"github.com/kalambet/stackpilot/internal/ingest"
	"github.com/kalambet/stackpilot/internal/metrics"
	"github.com/kalambet/stackpilot/internal/ratelimit"
	"github.com/kalambet/stackpilot/internal/retrieval"
	"github.com/kalambet/stackpilot/internal/storage"
	"github.com/kalambet/stackpilot/internal/tools"
)

// Deps holds the collaborators of every handler.
type Deps struct {
	Store     *storage.Store
	Agents    *agent.Service
	Searcher  *retrieval.Searcher
	Knowledge tools.KnowledgeSearcher
	Tokens    *auth.Issuer
	Limiter   *ratelimit.Limiter
	Metrics   *metrics.Metrics // optional
	Files     *ingest.Files
	Tools     tools.Options
	// PublicURL is the externally reachable base URL used in agent cards.
	PublicURL   string
	CORSOrigins []string
}

// NewRouter returns the complete HTTP handler.
func NewRouter(d Deps) http.Handler {
	if d.Limiter == nil {
		d.Limiter = ratelimit.New()
	}
	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observe(d.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Response-Type"},
		ExposedHeaders: []string{"X-Streaming"},
		MaxAge:         300,
	}))

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	// Agent-facing routes.
	r.Post("/api/mcp/agents/{agentId}", handleAgentMCP(d))
	r.Post("/api/mcp/{endpointId}", handleEndpointSearch(d))
	r.Get("/api/a2a", handleGatewayCard(d))
	r.Post("/api/a2a", handleGatewayRPC(d))
	r.Post("/api/a2a/auth/token", handleOAuthToken(d))
	r.Get("/api/a2a/agents/{agentId}", handleA2ACard(d))
	r.Post("/api/a2a/agents/{agentId}", handleA2AAction(d))
	r.Post("/api/a2a/agents/{agentId}/chat", handleA2AChat(d))
	r.Post("/api/agents/public/{agentId}/chat", handlePublicChat(d))

	r.Group(func(r chi.Router) {
		r.Use(SessionAuth(d.Tokens))
		ownerRoutes(r, d)
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// observe records request metrics and logs each request at Debug.
func observe(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			d := time.Since(start)
			m.ObserveHTTP(r.Method, route, status, d)
			slog.Debug("http request", "method", r.Method, "route", route, "status", status, "duration_ms", d.Milliseconds())
		})
	}
}
