package integrations

import (
	"errors"
	"fmt"
	"net/http"
)

var ErrAdapterCallFailed = errors.New("adapter call failed")

// CallError wraps a failed provider HTTP call. It is always recorded as a
// circuit failure; Retryable tells callers whether trying later makes sense.
type CallError struct {
	Provider   string
	Op         string
	StatusCode int // 0 for transport errors
	Body       string
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

func (e *CallError) Is(target error) bool { return target == ErrAdapterCallFailed }

func (e *CallError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
