package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"orderbridge/internal/integrations"
	"orderbridge/internal/logging"
	"orderbridge/internal/model"
	"orderbridge/internal/webhooks"
)

type Adapter struct {
	profile Profile
	client  *integrations.Client
	cache   integrations.SyncCache
	log     *zap.Logger
	now     func() time.Time
}

type Option func(*Adapter)

func WithClock(now func() time.Time) Option { return func(a *Adapter) { a.now = now } }

func WithLogger(l *zap.Logger) Option { return func(a *Adapter) { a.log = l } }

// New builds an adapter. cache may be nil, which disables the last-known-good
// fallback for failed syncs.
func New(p Profile, client *integrations.Client, cache integrations.SyncCache, opts ...Option) *Adapter {
	a := &Adapter{profile: p, client: client, cache: cache, now: time.Now}
	if p.Authorize != nil {
		client.DefaultAuthorizer(p.Authorize)
	}
	for _, o := range opts {
		o(a)
	}
	a.log = logging.OrNop(a.log).With(zap.String("provider", p.ID))
	return a
}

func (a *Adapter) ID() string   { return a.profile.ID }
func (a *Adapter) Name() string { return a.profile.Name }

func (a *Adapter) path(tmpl string, cfg integrations.ProviderConfig, orderID string) string {
	r := strings.NewReplacer("{merchant}", url.PathEscape(cfg.MerchantID), "{id}", url.PathEscape(orderID))
	return r.Replace(tmpl)
}

func (a *Adapter) TestConnection(ctx context.Context, cfg integrations.ProviderConfig) bool {
	err := a.client.Do(ctx, cfg, integrations.Request{Op: "test_connection", Method: http.MethodGet, Path: a.path(a.profile.Paths.Ping, cfg, "")}, nil)
	return err == nil
}

func (a *Adapter) pageQuery(page, size int) url.Values {
	q := url.Values{}
	if a.profile.PageParam != "" {
		q.Set(a.profile.PageParam, strconv.Itoa(page))
	}
	if a.profile.LimitParam != "" {
		q.Set(a.profile.LimitParam, strconv.Itoa(size))
	}
	return q
}

func (a *Adapter) SyncMenu(ctx context.Context, cfg integrations.ProviderConfig) integrations.MenuSyncResult {
	start := a.now()
	size := cfg.PageSizeOrDefault()
	items, err := integrations.Paginate(ctx, size, func(ctx context.Context, page int) ([]model.MenuItem, error) {
		var raw json.RawMessage
		req := integrations.Request{Op: "sync_menu", Method: http.MethodGet, Path: a.path(a.profile.Paths.Menu, cfg, ""), Query: a.pageQuery(page, size)}
		if err := a.client.Do(ctx, cfg, req, &raw); err != nil {
			return nil, err
		}
		return a.profile.DecodeMenuPage(raw)
	})
	if err != nil {
		res := integrations.MenuSyncResult{Error: err.Error(), LastSyncAt: start}
		var cached integrations.MenuSyncResult
		if a.loadCached(ctx, integrations.MenuCacheKey(a.ID()), &cached) {
			res.Items, res.ItemsCount, res.LastSyncAt, res.Stale = cached.Items, cached.ItemsCount, cached.LastSyncAt, true
		}
		return res
	}
	res := integrations.MenuSyncResult{Success: true, ItemsCount: len(items), Items: items, LastSyncAt: start}
	a.store(ctx, integrations.MenuCacheKey(a.ID()), res)
	return res
}

// SyncOrders stamps LastSyncAt with the time the first page was requested, so
// orders created while later pages are fetched fall inside the next window.
func (a *Adapter) SyncOrders(ctx context.Context, cfg integrations.ProviderConfig, since *time.Time) integrations.OrderSyncResult {
	start := a.now()
	size := cfg.PageSizeOrDefault()
	orders, err := integrations.Paginate(ctx, size, func(ctx context.Context, page int) ([]model.ProviderOrder, error) {
		q := a.pageQuery(page, size)
		if since != nil && a.profile.SinceParam != "" {
			q.Set(a.profile.SinceParam, since.UTC().Format(time.RFC3339))
		}
		var raw json.RawMessage
		req := integrations.Request{Op: "sync_orders", Method: http.MethodGet, Path: a.path(a.profile.Paths.Orders, cfg, ""), Query: q}
		if err := a.client.Do(ctx, cfg, req, &raw); err != nil {
			return nil, err
		}
		return a.profile.DecodeOrdersPage(raw)
	})
	if err != nil {
		res := integrations.OrderSyncResult{Error: err.Error(), LastSyncAt: start}
		var cached integrations.OrderSyncResult
		if a.loadCached(ctx, integrations.OrderCacheKey(a.ID()), &cached) {
			res.Orders, res.OrdersCount, res.LastSyncAt, res.Stale = cached.Orders, cached.OrdersCount, cached.LastSyncAt, true
		}
		return res
	}
	res := integrations.OrderSyncResult{Success: true, OrdersCount: len(orders), Orders: orders, LastSyncAt: start}
	a.store(ctx, integrations.OrderCacheKey(a.ID()), res)
	return res
}

func (a *Adapter) loadCached(ctx context.Context, key string, out any) bool {
	if a.cache == nil {
		return false
	}
	ok, err := a.cache.Get(ctx, key, out)
	if err != nil {
		a.log.Warn("sync cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

func (a *Adapter) store(ctx context.Context, key string, v any) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Put(ctx, key, v); err != nil {
		a.log.Warn("sync cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (a *Adapter) CreateOrder(ctx context.Context, cfg integrations.ProviderConfig, order model.InternalOrder) (string, error) {
	var raw json.RawMessage
	req := integrations.Request{Op: "create_order", Method: http.MethodPost, Path: a.path(a.profile.Paths.CreateOrder, cfg, ""), Body: a.profile.EncodeOrder(order, cfg)}
	if err := a.client.Do(ctx, cfg, req, &raw); err != nil {
		var ce *integrations.CallError
		if errors.As(err, &ce) {
			return "", err
		}
		return "", &integrations.CallError{Provider: a.ID(), Op: "create_order", Err: err}
	}
	id, err := a.profile.DecodeCreated(raw)
	if err != nil || id == "" {
		if err == nil {
			err = errors.New("response carried no order id")
		}
		a.log.Warn("create order response unusable", zap.Error(err))
		return "", &integrations.CallError{Provider: a.ID(), Op: "create_order", StatusCode: http.StatusOK, Err: err}
	}
	return id, nil
}

func (a *Adapter) UpdateOrderStatus(ctx context.Context, cfg integrations.ProviderConfig, orderID string, status model.OrderStatus) bool {
	req := integrations.Request{
		Op:     "update_status",
		Method: a.profile.statusMethod(),
		Path:   a.path(a.profile.Paths.OrderStatus, cfg, orderID),
		Body:   a.profile.EncodeStatus(a.profile.Statuses.ToProvider(status)),
	}
	return a.client.Do(ctx, cfg, req, nil) == nil
}

func (a *Adapter) HandleWebhook(ctx context.Context, payload []byte, headers map[string]string, cfg integrations.ProviderConfig) *model.WebhookEvent {
	if err := a.verify(payload, headers, cfg); err != nil {
		a.log.Warn("webhook rejected", zap.Error(err))
		return nil
	}
	env, err := a.profile.DecodeWebhook(payload)
	if err != nil {
		a.log.Warn("webhook payload malformed", zap.Error(err))
		return nil
	}
	typ, ok := a.profile.Events[env.Event]
	if !ok {
		a.log.Info("webhook event ignored", zap.String("event", env.Event))
		return nil
	}
	if typ.CarriesOrder() && env.Order == nil {
		a.log.Warn("order webhook without order", zap.String("event", env.Event))
		return nil
	}
	evt := &model.WebhookEvent{
		ID:         env.EventID,
		Type:       typ,
		ProviderID: a.ID(),
		Timestamp:  env.Timestamp,
		Data:       env.Data,
		Order:      env.Order,
		RawPayload: append([]byte(nil), payload...),
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = a.now()
	}
	return evt
}

func (a *Adapter) verify(payload []byte, headers map[string]string, cfg integrations.ProviderConfig) error {
	sig := integrations.HeaderValue(headers, a.profile.SignatureHeader)
	if a.profile.TimestampHeader != "" {
		ts := integrations.HeaderValue(headers, a.profile.TimestampHeader)
		return webhooks.Check(payload, sig, ts, cfg.WebhookSecret, cfg.WebhookMaxSkew, a.now())
	}
	if cfg.WebhookSecret == "" {
		return fmt.Errorf("%w: no secret configured", webhooks.ErrSignatureInvalid)
	}
	if !webhooks.VerifyHMAC(cfg.WebhookSecret, payload, strings.TrimSpace(sig)) {
		return fmt.Errorf("%w: body signature mismatch", webhooks.ErrSignatureInvalid)
	}
	return nil
}

var _ integrations.Adapter = (*Adapter)(nil)
