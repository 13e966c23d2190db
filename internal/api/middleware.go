package api

import (
    "net/http"
    "strconv"
    "time"

    "go.uber.org/zap"

    "orderbridge/internal/metrics"
)

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (r *statusRecorder) WriteHeader(code int) {
    r.status = code
    r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the recorder.
func (r *statusRecorder) Flush() {
    if f, ok := r.ResponseWriter.(http.Flusher); ok { f.Flush() }
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(rec, r)
        dur := time.Since(start)

        // the mux sets Pattern in place; it keeps the path label low-cardinality
        path := r.Pattern
        if path == "" { path = "unmatched" }
        code := strconv.Itoa(rec.status)
        metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(dur.Seconds())

        s.Log.Info("http request",
            zap.String("remote", r.RemoteAddr),
            zap.String("method", r.Method),
            zap.String("path", r.URL.Path),
            zap.Int("status", rec.status),
            zap.Duration("duration", dur))
    })
}
