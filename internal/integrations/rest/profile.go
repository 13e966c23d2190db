// Package rest implements integrations.Adapter for JSON/HTTP platforms whose
// differences are captured in a Profile: paths, auth, wire shapes, status
// vocabulary and webhook headers.
package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"orderbridge/internal/integrations"
	"orderbridge/internal/model"
)

// Paths are request paths relative to the provider base URL. "{merchant}"
// and "{id}" are substituted with the merchant id and the order id.
type Paths struct {
	Ping         string
	Menu         string
	Orders       string
	CreateOrder  string
	OrderStatus  string
	StatusMethod string // defaults to PUT
}

// Envelope is the decoded, provider-neutral form of a webhook body.
type Envelope struct {
	Event     string
	EventID   string
	Timestamp time.Time
	Order     *model.ProviderOrder
	Data      map[string]any
}

type Profile struct {
	ID   string
	Name string

	Paths      Paths
	PageParam  string
	LimitParam string
	SinceParam string // empty when the provider cannot filter by time

	Authorize integrations.Authorizer

	SignatureHeader string
	TimestampHeader string // empty means the provider signs the body alone

	Statuses integrations.StatusTable
	Events   map[string]model.EventType

	DecodeMenuPage   func(raw json.RawMessage) ([]model.MenuItem, error)
	DecodeOrdersPage func(raw json.RawMessage) ([]model.ProviderOrder, error)
	EncodeOrder      func(o model.InternalOrder, cfg integrations.ProviderConfig) any
	DecodeCreated    func(raw json.RawMessage) (string, error)
	EncodeStatus     func(providerStatus string) any
	DecodeWebhook    func(payload []byte) (Envelope, error)
}

func (p Profile) statusMethod() string {
	if p.Paths.StatusMethod == "" {
		return http.MethodPut
	}
	return p.Paths.StatusMethod
}

// BearerAuth sends the API key as a bearer token.
func BearerAuth(req *http.Request, cfg integrations.ProviderConfig) {
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
}

// HeaderAuth sends the API key in a named header.
func HeaderAuth(name string) integrations.Authorizer {
	return func(req *http.Request, cfg integrations.ProviderConfig) {
		if cfg.APIKey != "" {
			req.Header.Set(name, cfg.APIKey)
		}
	}
}
