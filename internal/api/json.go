package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"orderbridge/internal/breaker"
	"orderbridge/internal/ingest"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps the error taxonomy onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ingest.ErrUnknownProvider):
		writeProblem(w, http.StatusNotFound, "Unknown provider", err.Error(), r.URL.Path)
	case errors.Is(err, breaker.ErrNotRegistered):
		writeProblem(w, http.StatusNotFound, "Unknown circuit", err.Error(), r.URL.Path)
	case errors.Is(err, breaker.ErrCircuitOpen):
		writeProblem(w, http.StatusServiceUnavailable, "Circuit open", err.Error(), r.URL.Path)
	default:
		writeProblem(w, http.StatusInternalServerError, "Internal error", err.Error(), r.URL.Path)
	}
}
