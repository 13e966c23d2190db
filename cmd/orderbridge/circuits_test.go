package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitsCommand(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path+" "+r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/admin/circuits":
			_, _ = w.Write([]byte(`{"circuits":[{"name":"careem","state":"OPEN","consecutiveFailures":5,"totalFailures":9,"stateChangedAt":"2024-05-02T10:00:00Z"}]}`))
		case "/v1/admin/circuits/careem/reset":
			_, _ = w.Write([]byte(`{"name":"careem","state":"CLOSED"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"title":"Unknown circuit"}`))
		}
	}))
	defer srv.Close()

	cmd := circuitsCmd()
	cmd.SetArgs([]string{"--server", srv.URL + "/", "--token", "t"})
	require.NoError(t, cmd.Execute())

	cmd = circuitsCmd()
	cmd.SetArgs([]string{"--server", srv.URL, "--token", "t", "--reset", "careem"})
	require.NoError(t, cmd.Execute())

	cmd = circuitsCmd()
	cmd.SetArgs([]string{"--server", srv.URL, "--reset", "nope"})
	cmd.SilenceUsage = true
	err := cmd.Execute()
	assert.ErrorContains(t, err, "404 Unknown circuit")

	assert.Equal(t, []string{
		"GET /v1/admin/circuits Bearer t",
		"POST /v1/admin/circuits/careem/reset Bearer t",
		"POST /v1/admin/circuits/nope/reset ",
	}, calls)
}
