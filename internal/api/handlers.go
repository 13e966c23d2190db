package api

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "time"

    "go.uber.org/zap"

    "orderbridge/internal/buildinfo"
    "orderbridge/internal/events"
)

// heartbeatInterval paces SSE keep-alives on idle streams.
var heartbeatInterval = 15 * time.Second

// WebhookHandler accepts a provider webhook. Verification failures and
// unknown events get the same generic acknowledgement as accepted ones so
// the response never tells a sender why a delivery was dropped.
func (s *Server) WebhookHandler(w http.ResponseWriter, r *http.Request) {
    provider := r.PathValue("provider")
    payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
    if err != nil { writeProblem(w, http.StatusRequestEntityTooLarge, "Payload too large", "", r.URL.Path); return }

    headers := make(map[string]string, len(r.Header))
    for k, v := range r.Header {
        if len(v) > 0 { headers[k] = v[0] }
    }

    res, err := s.Ingest.HandleWebhook(r.Context(), provider, payload, headers)
    if err != nil { writeError(w, r, err); return }
    if res.Err != nil {
        s.Log.Warn("webhook not ingested", zap.String("provider", provider), zap.String("outcome", string(res.Outcome)), zap.Error(res.Err))
    }
    writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) ProvidersHandler(w http.ResponseWriter, r *http.Request) {
    type providerView struct {
        ID       string     `json:"id"`
        LastSync *time.Time `json:"lastSync,omitempty"`
    }
    out := []providerView{}
    for _, id := range s.Ingest.Providers() {
        v := providerView{ID: id}
        if t, ok := s.Ingest.LastSync(id); ok { v.LastSync = &t }
        out = append(out, v)
    }
    writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

// SyncHandler triggers an on-demand orders or menu pull. A degraded sync is
// still a 200: the body carries success, stale and the error text.
func (s *Server) SyncHandler(w http.ResponseWriter, r *http.Request) {
    provider := r.PathValue("provider")
    switch r.PathValue("kind") {
    case "orders":
        rep, err := s.Ingest.SyncOrders(r.Context(), provider)
        if err != nil { writeError(w, r, err); return }
        writeJSON(w, http.StatusOK, rep)
    case "menu":
        res, err := s.Ingest.SyncMenu(r.Context(), provider)
        if err != nil { writeError(w, r, err); return }
        writeJSON(w, http.StatusOK, res)
    default:
        writeProblem(w, http.StatusNotFound, "Unknown sync kind", "expected orders or menu", r.URL.Path)
    }
}

func (s *Server) ConnectionHandler(w http.ResponseWriter, r *http.Request) {
    provider := r.PathValue("provider")
    ok, err := s.Ingest.TestConnection(r.Context(), provider)
    if err != nil { writeError(w, r, err); return }
    writeJSON(w, http.StatusOK, map[string]any{"provider": provider, "connected": ok})
}

func (s *Server) CircuitsHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]any{"circuits": s.Breakers.Snapshots()})
}

func (s *Server) CircuitResetHandler(w http.ResponseWriter, r *http.Request) {
    name := r.PathValue("name")
    if err := s.Breakers.Reset(name); err != nil { writeError(w, r, err); return }
    snap, err := s.Breakers.Snapshot(name)
    if err != nil { writeError(w, r, err); return }
    s.Log.Info("circuit reset", zap.String("circuit", name))
    writeJSON(w, http.StatusOK, snap)
}

// EventsStreamHandler streams ingest events as SSE. ?provider= narrows the
// stream to one provider.
func (s *Server) EventsStreamHandler(w http.ResponseWriter, r *http.Request) {
    if s.Events == nil { writeProblem(w, http.StatusNotFound, "Events disabled", "", r.URL.Path); return }
    topic := r.URL.Query().Get("provider")
    if topic == "" { topic = events.AllTopics }
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")

    ch := s.Events.Subscribe(topic)
    defer s.Events.Unsubscribe(topic, ch)

    heartbeat := func() {
        fmt.Fprintf(w, "event: heartbeat\n")
        fmt.Fprintf(w, "data: {\"topic\":%q,\"ts\":%q}\n\n", topic, time.Now().UTC().Format(time.RFC3339))
        flusher.Flush()
    }
    heartbeat()
    ticker := time.NewTicker(heartbeatInterval)
    defer ticker.Stop()
    for {
        select {
        case <-r.Context().Done():
            return
        case evt, ok := <-ch:
            if !ok { return }
            b, _ := json.Marshal(evt)
            fmt.Fprintf(w, "event: %s\n", evt.Type)
            fmt.Fprintf(w, "data: %s\n\n", b)
            flusher.Flush()
        case <-ticker.C:
            heartbeat()
        }
    }
}

// HealthHandler reports liveness and the build.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": buildinfo.Info()})
}

// ReadyHandler runs the readiness probe with a short deadline.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    if s.Ready != nil {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        defer cancel()
        if err := s.Ready(r.WithContext(ctx)); err != nil {
            writeProblem(w, http.StatusServiceUnavailable, "Not ready", err.Error(), r.URL.Path)
            return
        }
    }
    writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
