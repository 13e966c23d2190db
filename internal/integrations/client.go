package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"orderbridge/internal/breaker"
	"orderbridge/internal/logging"
	"orderbridge/internal/metrics"
)

const maxResponseBytes = 8 << 20

// Request describes one outbound provider call.
type Request struct {
	Op     string // metric/log label, e.g. "sync_menu"
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Authorizer decorates an outbound request with provider credentials.
type Authorizer func(req *http.Request, cfg ProviderConfig)

// Client performs provider HTTP calls through the provider's circuit, a
// per-call timeout and an optional client-side rate limit.
type Client struct {
	providerID string
	httpClient *http.Client
	breakers   *breaker.Registry
	limiter    *rate.Limiter
	authorize  Authorizer
	log        *zap.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption { return func(c *Client) { c.httpClient = h } }

// WithRateLimit caps outbound calls at rps with the given burst. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithAuthorizer(a Authorizer) ClientOption { return func(c *Client) { c.authorize = a } }

func WithClientLogger(l *zap.Logger) ClientOption { return func(c *Client) { c.log = l } }

// NewClient builds a client whose calls run through the circuit named after
// providerID, which must be registered in breakers.
func NewClient(providerID string, breakers *breaker.Registry, opts ...ClientOption) *Client {
	c := &Client{providerID: providerID, httpClient: &http.Client{}, breakers: breakers, log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	c.log = logging.OrNop(c.log).With(zap.String("provider", providerID))
	return c
}

func (c *Client) ProviderID() string { return c.providerID }

// DefaultAuthorizer installs a unless WithAuthorizer already set one.
func (c *Client) DefaultAuthorizer(a Authorizer) {
	if c.authorize == nil {
		c.authorize = a
	}
}

// Do sends req and decodes a 2xx JSON response into out (when non-nil).
// Non-2xx responses and transport failures return a *CallError and count as
// circuit failures. An open circuit returns breaker.ErrCircuitOpen.
func (c *Client) Do(ctx context.Context, cfg ProviderConfig, req Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	start := time.Now()
	err := c.breakers.Execute(ctx, c.providerID, func(ctx context.Context) error {
		return c.send(ctx, cfg, req, out)
	}, nil)
	metrics.ProviderCallDuration.WithLabelValues(c.providerID, req.Op).Observe(time.Since(start).Seconds())
	outcome := "ok"
	switch {
	case errors.Is(err, breaker.ErrCircuitOpen):
		outcome = "open"
	case err != nil:
		outcome = "error"
	}
	metrics.ProviderCalls.WithLabelValues(c.providerID, req.Op, outcome).Inc()
	if err != nil {
		c.log.Warn("provider call failed", zap.String("op", req.Op), zap.Error(err))
	}
	return err
}

func (c *Client) send(ctx context.Context, cfg ProviderConfig, req Request, out any) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	target := strings.TrimRight(cfg.BaseURL, "/") + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("%s %s: encode body: %w", c.providerID, req.Op, err)
		}
		body = bytes.NewReader(b)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return &CallError{Provider: c.providerID, Op: req.Op, Err: err}
	}
	hreq.Header.Set("Accept", "application/json")
	if body != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}
	if c.authorize != nil {
		c.authorize(hreq, cfg)
	}

	resp, err := c.httpClient.Do(hreq)
	if err != nil {
		return &CallError{Provider: c.providerID, Op: req.Op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &CallError{Provider: c.providerID, Op: req.Op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet)),
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &CallError{Provider: c.providerID, Op: req.Op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
