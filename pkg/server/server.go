// Package server is Cubicler's HTTP edge (spec.md §6, §10.5): request
// parsing, route dispatch, and JSON error shaping for the MCP, dispatch,
// webhook, agent-SSE, and health surfaces the core consumes and emits. The
// edge itself is explicitly out of scope for the dispatch engine (spec.md
// §1); this package is the minimal concrete boundary the core needs to run
// as a real server, built the way hector's pkg/transport.RESTGateway and
// agentoven's control-plane internal/api.NewRouter wire chi + cors + a
// metrics/tracing middleware chain.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cubicler/cubicler/pkg/agentmodel"
	"github.com/cubicler/cubicler/pkg/agenttransport"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
	"github.com/cubicler/cubicler/pkg/observability"
)

// Router is the subset of *router.Router the edge needs (spec.md §6 "Upstream
// MCP over HTTP").
type Router interface {
	Handle(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response
}

// Dispatcher is the subset of *dispatch.Service the edge needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, agentID string, messages []agentmodel.Message) (*agentmodel.AgentResponse, error)
}

// WebhookHandler is the subset of *webhook.Service the edge needs.
type WebhookHandler interface {
	Handle(ctx context.Context, identifier, agentID string, rawBody []byte, headers http.Header) (*agentmodel.AgentResponse, error)
}

// HealthChecker reports the composite health the /health endpoint renders.
type HealthChecker interface {
	Health(ctx context.Context) Health
}

// Deps bundles the core services the edge fans requests out to.
type Deps struct {
	Router     Router
	Dispatcher Dispatcher
	Webhooks   WebhookHandler
	SSE        *agenttransport.SSERegistry
	Health     HealthChecker
	Metrics    *observability.Metrics

	// ReplyTimeout is not read by New or by any handler; an
	// /agent/sse/:agentId connection stays open until its request context
	// ends, whatever this is set to.
	ReplyTimeout time.Duration
}

// New builds the HTTP edge's router.
func New(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "x-signature-256"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(observeMiddleware(deps.Metrics))

	h := &handlers{deps: deps}

	r.Get("/health", h.health)
	r.Handle("/metrics", deps.Metrics.Handler())

	r.Post("/mcp", h.mcp)

	r.Post("/dispatch", h.dispatch)
	r.Post("/dispatch/{agentId}", h.dispatch)

	r.Post("/webhook/{identifier}/{agentId}", h.webhook)

	r.Get("/agent/sse/{agentId}", h.agentSSE)
	r.Post("/agent/sse/{agentId}/reply", h.agentSSEReply)

	return r
}

// observeMiddleware records request count/latency per route template (not
// per raw path, to keep label cardinality bounded — chi exposes the
// matched pattern via RouteContext, same as hector's metricsMiddleware).
func observeMiddleware(m *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			tracer := observability.Tracer("cubicler.server")
			ctx, span := tracer.Start(req.Context(), "http.request")
			defer span.End()

			ww := chimw.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req.WithContext(ctx))

			route := chi.RouteContext(req.Context()).RoutePattern()
			if route == "" {
				route = req.URL.Path
			}
			m.ObserveHTTP(route, req.Method, ww.Status(), start)
		})
	}
}
