package integrations

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"orderbridge/internal/model"
)

// Adapter is the uniform contract every delivery/POS platform integration
// implements. Read operations never return errors: failures are reported in
// the result. Webhook handling verifies the signature before anything else
// and yields nil for anything it rejects.
type Adapter interface {
	ID() string
	Name() string
	TestConnection(ctx context.Context, cfg ProviderConfig) bool
	SyncMenu(ctx context.Context, cfg ProviderConfig) MenuSyncResult
	SyncOrders(ctx context.Context, cfg ProviderConfig, since *time.Time) OrderSyncResult
	// CreateOrder returns the provider's order id, or "" with a *CallError.
	CreateOrder(ctx context.Context, cfg ProviderConfig, order model.InternalOrder) (string, error)
	UpdateOrderStatus(ctx context.Context, cfg ProviderConfig, orderID string, status model.OrderStatus) bool
	HandleWebhook(ctx context.Context, payload []byte, headers map[string]string, cfg ProviderConfig) *model.WebhookEvent
}

// ProviderConfig is the per-provider connection configuration.
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	MerchantID     string        `mapstructure:"merchant_id"`
	WebhookSecret  string        `mapstructure:"webhook_secret"`
	Timeout        time.Duration `mapstructure:"timeout"`
	PageSize       int           `mapstructure:"page_size"`
	WebhookMaxSkew time.Duration `mapstructure:"webhook_max_skew"`
}

const (
	DefaultTimeout  = 10 * time.Second
	DefaultPageSize = 50
)

func (c ProviderConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c ProviderConfig) PageSizeOrDefault() int {
	if c.PageSize <= 0 {
		return DefaultPageSize
	}
	return c.PageSize
}

type MenuSyncResult struct {
	Success    bool             `json:"success"`
	ItemsCount int              `json:"itemsCount"`
	Items      []model.MenuItem `json:"items"`
	Error      string           `json:"error,omitempty"`
	LastSyncAt time.Time        `json:"lastSyncAt"`
	// Stale marks a failed sync that returned the last successful result.
	Stale bool `json:"stale,omitempty"`
}

type OrderSyncResult struct {
	Success     bool                  `json:"success"`
	OrdersCount int                   `json:"ordersCount"`
	Orders      []model.ProviderOrder `json:"orders"`
	Error       string                `json:"error,omitempty"`
	LastSyncAt  time.Time             `json:"lastSyncAt"`
	Stale       bool                  `json:"stale,omitempty"`
}

// HeaderValue looks a header up case-insensitively.
func HeaderValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Directory holds the configured adapters of the process by provider id.
type Directory struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	configs  map[string]ProviderConfig
}

func NewDirectory() *Directory {
	return &Directory{adapters: map[string]Adapter{}, configs: map[string]ProviderConfig{}}
}

func (d *Directory) Add(a Adapter, cfg ProviderConfig) {
	d.mu.Lock()
	d.adapters[a.ID()] = a
	d.configs[a.ID()] = cfg
	d.mu.Unlock()
}

func (d *Directory) Get(providerID string) (Adapter, ProviderConfig, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.adapters[providerID]
	return a, d.configs[providerID], ok
}

// IDs returns the registered provider ids, sorted.
func (d *Directory) IDs() []string {
	d.mu.RLock()
	out := make([]string, 0, len(d.adapters))
	for id := range d.adapters {
		out = append(out, id)
	}
	d.mu.RUnlock()
	sort.Strings(out)
	return out
}
