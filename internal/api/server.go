// Package api implements the HTTP surface of the order bridge: provider
// webhooks, operator sync triggers, circuit administration and health.
package api

import (
    "net/http"

    "github.com/prometheus/client_golang/prometheus/promhttp"
    "go.uber.org/zap"

    "orderbridge/internal/auth"
    "orderbridge/internal/breaker"
    "orderbridge/internal/events"
    "orderbridge/internal/ingest"
    "orderbridge/internal/logging"
    "orderbridge/internal/metrics"
)

// maxWebhookBytes bounds inbound webhook bodies.
const maxWebhookBytes = 1 << 20

type Server struct {
    Ingest   *ingest.Service
    Breakers *breaker.Registry
    Events   events.Broker
    Auth     *auth.Verifier
    Log      *zap.Logger
    // Ready reports dependency health for /readyz; nil means always ready.
    Ready func(r *http.Request) error
    // Settings is the non-secret configuration summary shown by the debug endpoint.
    Settings map[string]any
}

// Routes builds the service mux wrapped in request logging and metrics.
func (s *Server) Routes() http.Handler {
    s.Log = logging.OrNop(s.Log)
    mux := http.NewServeMux()

    // Provider webhooks
    mux.HandleFunc("POST /v1/webhooks/{provider}", s.WebhookHandler)

    // Operator
    mux.Handle("GET /v1/providers", s.admin(s.ProvidersHandler))
    mux.Handle("POST /v1/providers/{provider}/sync/{kind}", s.admin(s.SyncHandler))
    mux.Handle("GET /v1/providers/{provider}/connection", s.admin(s.ConnectionHandler))
    mux.Handle("GET /v1/events/stream", s.admin(s.EventsStreamHandler))

    // Admin
    mux.Handle("GET /v1/admin/circuits", s.admin(s.CircuitsHandler))
    mux.Handle("POST /v1/admin/circuits/{name}/reset", s.admin(s.CircuitResetHandler))
    mux.Handle("GET /v1/admin/debug", s.admin(s.DebugJSON))

    // Health, metrics, docs
    mux.HandleFunc("GET /healthz", s.HealthHandler)
    mux.HandleFunc("GET /readyz", s.ReadyHandler)
    mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
    mux.HandleFunc("GET /openapi.yaml", s.OpenAPIHandler)
    mux.HandleFunc("GET /docs", s.DocsHandler)

    return s.logMiddleware(mux)
}

// admin requires an operator principal when a verifier is configured.
func (s *Server) admin(h http.HandlerFunc) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if s.Auth != nil {
            p, err := s.Auth.Request(r)
            if err != nil { writeProblem(w, http.StatusUnauthorized, "Unauthorized", "", r.URL.Path); return }
            if !p.IsAdmin() { writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path); return }
        }
        h(w, r)
    })
}
