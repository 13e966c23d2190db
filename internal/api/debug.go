package api

import (
    "net/http"
    "time"

    "orderbridge/internal/buildinfo"
)

// DebugJSON dumps build info, circuit states and the non-secret settings.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    info := map[string]any{
        "build":     buildinfo.Info(),
        "time":      time.Now().UTC().Format(time.RFC3339),
        "providers": s.Ingest.Providers(),
        "circuits":  s.Breakers.Snapshots(),
        "config":    s.Settings,
    }
    writeJSON(w, http.StatusOK, info)
}
