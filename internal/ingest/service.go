// Package ingest connects provider adapters to the transformer and the order
// sink: inbound webhooks, on-demand syncs and the background poller.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"orderbridge/internal/events"
	"orderbridge/internal/integrations"
	"orderbridge/internal/logging"
	"orderbridge/internal/metrics"
	"orderbridge/internal/model"
	"orderbridge/internal/store"
	"orderbridge/internal/transform"
)

var ErrUnknownProvider = errors.New("unknown provider")

type Outcome string

const (
	// OutcomeAccepted: verified and handled.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeRejected: signature or payload check failed; nothing was done.
	OutcomeRejected Outcome = "rejected"
	// OutcomeIgnored: verified but nothing to do for this event.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeFailed: verified but the order could not be transformed or saved.
	OutcomeFailed Outcome = "failed"
)

type WebhookResult struct {
	Outcome Outcome
	Event   *model.WebhookEvent
	OrderID string
	Err     error
}

type SyncReport struct {
	Provider   string    `json:"provider"`
	Success    bool      `json:"success"`
	Stale      bool      `json:"stale,omitempty"`
	Fetched    int       `json:"fetched"`
	Ingested   int       `json:"ingested"`
	Failed     int       `json:"failed"`
	Errors     []string  `json:"errors,omitempty"`
	Error      string    `json:"error,omitempty"`
	LastSyncAt time.Time `json:"lastSyncAt"`
}

type Service struct {
	adapters    *integrations.Directory
	transformer *transform.Transformer
	sink        store.OrderSink
	log         *zap.Logger
	events      events.Broker
	now         func() time.Time

	mu       sync.Mutex
	lastSync map[string]time.Time
}

type Option func(*Service)

// WithEvents publishes ingestion outcomes to b for live subscribers.
func WithEvents(b events.Broker) Option { return func(s *Service) { s.events = b } }

func NewService(adapters *integrations.Directory, t *transform.Transformer, sink store.OrderSink, log *zap.Logger, opts ...Option) *Service {
	s := &Service{adapters: adapters, transformer: t, sink: sink, log: logging.OrNop(log), now: time.Now, lastSync: map[string]time.Time{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) publish(providerID, typ string, data map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Publish(providerID, events.Event{Type: typ, Provider: providerID, At: s.now().UTC(), Data: data})
}

func (s *Service) Providers() []string { return s.adapters.IDs() }

func (s *Service) adapter(providerID string) (integrations.Adapter, integrations.ProviderConfig, error) {
	a, cfg, ok := s.adapters.Get(providerID)
	if !ok {
		return nil, integrations.ProviderConfig{}, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	return a, cfg, nil
}

// HandleWebhook verifies and dispatches one inbound webhook. The returned
// error is only ErrUnknownProvider; every other outcome is in the result.
func (s *Service) HandleWebhook(ctx context.Context, providerID string, payload []byte, headers map[string]string) (WebhookResult, error) {
	a, cfg, err := s.adapter(providerID)
	if err != nil {
		return WebhookResult{}, err
	}
	res := s.dispatch(ctx, a, cfg, payload, headers)
	metrics.Webhooks.WithLabelValues(providerID, string(res.Outcome)).Inc()
	if res.Event != nil && res.Outcome != OutcomeIgnored {
		data := map[string]any{"event": string(res.Event.Type), "eventId": res.Event.ID, "outcome": string(res.Outcome)}
		if res.OrderID != "" {
			data["orderId"] = res.OrderID
		}
		if res.Err != nil {
			data["error"] = res.Err.Error()
		}
		s.publish(providerID, "webhook."+string(res.Outcome), data)
	}
	return res, nil
}

func (s *Service) dispatch(ctx context.Context, a integrations.Adapter, cfg integrations.ProviderConfig, payload []byte, headers map[string]string) WebhookResult {
	evt := a.HandleWebhook(ctx, payload, headers, cfg)
	if evt == nil {
		return WebhookResult{Outcome: OutcomeRejected}
	}
	log := s.log.With(zap.String("provider", evt.ProviderID), zap.String("event_id", evt.ID), zap.String("event", string(evt.Type)))

	switch evt.Type {
	case model.EventOrderCreated, model.EventOrderUpdated:
		id, err := s.ingest(ctx, evt.Order, evt.ProviderID)
		if err != nil {
			log.Warn("webhook order not ingested", zap.Error(err))
			return WebhookResult{Outcome: OutcomeFailed, Event: evt, Err: err}
		}
		log.Info("webhook order ingested", zap.String("order_id", id))
		return WebhookResult{Outcome: OutcomeAccepted, Event: evt, OrderID: id}

	case model.EventOrderCancelled, model.EventOrderStatusChanged:
		externalID, _ := evt.Data["orderId"].(string)
		status := model.OrderStatusCancelled
		if evt.Type == model.EventOrderStatusChanged {
			st, _ := evt.Data["status"].(string)
			status = model.OrderStatus(st)
		}
		if externalID == "" || status == "" {
			log.Info("status event without order id or status")
			return WebhookResult{Outcome: OutcomeIgnored, Event: evt}
		}
		found, err := s.sink.UpdateOrderStatus(ctx, evt.ProviderID, externalID, status)
		if err != nil {
			log.Warn("order status update failed", zap.Error(err))
			return WebhookResult{Outcome: OutcomeFailed, Event: evt, Err: err}
		}
		if !found {
			log.Info("status event for unknown order", zap.String("external_order_id", externalID))
			return WebhookResult{Outcome: OutcomeIgnored, Event: evt}
		}
		log.Info("order status updated", zap.String("external_order_id", externalID), zap.String("status", string(status)))
		return WebhookResult{Outcome: OutcomeAccepted, Event: evt}

	default:
		log.Info("webhook event acknowledged")
		return WebhookResult{Outcome: OutcomeIgnored, Event: evt}
	}
}

func (s *Service) ingest(ctx context.Context, po *model.ProviderOrder, providerID string) (string, error) {
	o, err := s.transformer.Transform(ctx, po, providerID)
	if err != nil {
		return "", err
	}
	id, err := s.sink.SaveOrder(ctx, *o)
	if err != nil {
		return "", fmt.Errorf("save order: %w", err)
	}
	return id, nil
}

// SyncOrders pulls orders changed since the last clean sync and ingests them.
// The cursor only advances when every fetched order was ingested. A stale
// fallback result is reported but not re-ingested.
func (s *Service) SyncOrders(ctx context.Context, providerID string) (SyncReport, error) {
	a, cfg, err := s.adapter(providerID)
	if err != nil {
		return SyncReport{}, err
	}
	s.mu.Lock()
	last, ok := s.lastSync[providerID]
	s.mu.Unlock()
	var since *time.Time
	if ok {
		since = &last
	}

	res := a.SyncOrders(ctx, cfg, since)
	rep := SyncReport{Provider: providerID, Success: res.Success, Stale: res.Stale, Fetched: res.OrdersCount, Error: res.Error, LastSyncAt: res.LastSyncAt}
	if !res.Success {
		s.log.Warn("order sync failed", zap.String("provider", providerID), zap.Bool("stale", res.Stale), zap.String("error", res.Error))
		return rep, nil
	}
	for i := range res.Orders {
		po := res.Orders[i]
		if _, err := s.ingest(ctx, &po, providerID); err != nil {
			rep.Failed++
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", po.ExternalOrderID, err))
			continue
		}
		rep.Ingested++
	}
	// a failed order stays inside the window so the next sync retries it
	if rep.Failed == 0 {
		s.mu.Lock()
		s.lastSync[providerID] = res.LastSyncAt
		s.mu.Unlock()
	}
	s.publish(providerID, "sync.orders", map[string]any{"fetched": rep.Fetched, "ingested": rep.Ingested, "failed": rep.Failed})
	s.log.Info("order sync finished", zap.String("provider", providerID), zap.Int("fetched", rep.Fetched), zap.Int("ingested", rep.Ingested), zap.Int("failed", rep.Failed))
	return rep, nil
}

func (s *Service) SyncMenu(ctx context.Context, providerID string) (integrations.MenuSyncResult, error) {
	a, cfg, err := s.adapter(providerID)
	if err != nil {
		return integrations.MenuSyncResult{}, err
	}
	res := a.SyncMenu(ctx, cfg)
	if !res.Success {
		s.log.Warn("menu sync failed", zap.String("provider", providerID), zap.Bool("stale", res.Stale), zap.String("error", res.Error))
	}
	return res, nil
}

func (s *Service) TestConnection(ctx context.Context, providerID string) (bool, error) {
	a, cfg, err := s.adapter(providerID)
	if err != nil {
		return false, err
	}
	return a.TestConnection(ctx, cfg), nil
}

// LastSync returns the time of the last successful order sync.
func (s *Service) LastSync(providerID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastSync[providerID]
	return t, ok
}
