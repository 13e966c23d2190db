package ingest

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderbridge/internal/breaker"
	"orderbridge/internal/events"
	"orderbridge/internal/integrations"
	"orderbridge/internal/integrations/careem"
	"orderbridge/internal/model"
	"orderbridge/internal/store"
	"orderbridge/internal/transform"
	"orderbridge/internal/validation"
	"orderbridge/internal/webhooks"
)

// fakeAdapter serves canned sync results and records the since argument.
type fakeAdapter struct {
	integrations.Adapter
	mu     sync.Mutex
	orders integrations.OrderSyncResult
	sinces []*time.Time
}

func (f *fakeAdapter) ID() string { return "fake" }

func (f *fakeAdapter) SyncOrders(ctx context.Context, cfg integrations.ProviderConfig, since *time.Time) integrations.OrderSyncResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinces = append(f.sinces, since)
	return f.orders
}

func (f *fakeAdapter) SyncMenu(ctx context.Context, cfg integrations.ProviderConfig) integrations.MenuSyncResult {
	return integrations.MenuSyncResult{Success: true, ItemsCount: 1}
}

func (f *fakeAdapter) TestConnection(ctx context.Context, cfg integrations.ProviderConfig) bool { return true }

func seeded() *store.Memory {
	m := store.NewMemory()
	m.PutBranch(store.Branch{ID: "br-1", Code: "AMM-01", CompanyID: "co-1", Name: "Abdoun"})
	m.PutBranchMapping(store.BranchMapping{ProviderID: careem.ProviderID, ProviderMerchantID: "m-77", BranchID: "br-1"})
	m.PutBranchMapping(store.BranchMapping{ProviderID: "fake", ProviderMerchantID: "m-77", BranchID: "br-1"})
	m.PutProduct(store.Product{ID: "p-1", CompanyID: "co-1", Name: "Shawarma", ExternalIDs: []string{"SKU-1"}})
	return m
}

func newService(t *testing.T, m *store.Memory, adapters ...integrations.Adapter) (*Service, *integrations.Directory) {
	t.Helper()
	tr, err := transform.New(transform.Deps{Branches: m, Customers: m, Products: m, Validator: validation.MustNew(validation.DefaultConfig())})
	require.NoError(t, err)
	dir := integrations.NewDirectory()
	for _, a := range adapters {
		dir.Add(a, integrations.ProviderConfig{MerchantID: "m-77", WebhookSecret: "whsec"})
	}
	return NewService(dir, tr, m, nil), dir
}

func careemAdapter(t *testing.T) integrations.Adapter {
	reg := breaker.New()
	require.NoError(t, reg.Register(careem.ProviderID, breaker.Options{}))
	return careem.New(integrations.NewClient(careem.ProviderID, reg), nil)
}

const careemOrder = `{"event_id":"e-1","event_type":"ORDER_CREATED","data":{"order":{
 "id":"CR-1","merchant_id":"m-77","customer":{"name":"Lina","phone":"0791234567"},
 "items":[{"id":"SKU-1","name":"Shawarma","quantity":2,"price":20}],
 "subtotal":40,"delivery_fee":5,"discount":2,"total":49.4,"payment_method":"CASH",
 "fulfillment_type":"DELIVERY","delivery_address":{"street":"Rainbow St","building":"12"},"status":"PENDING"}}}`

func signedHeaders(payload string) map[string]string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return map[string]string{careem.SignatureHeader: webhooks.Sign([]byte(payload), ts, "whsec"), careem.TimestampHeader: ts}
}

func TestHandleWebhookIngestsOrder(t *testing.T) {
	m := seeded()
	svc, _ := newService(t, m, careemAdapter(t))

	res, err := svc.HandleWebhook(context.Background(), careem.ProviderID, []byte(careemOrder), signedHeaders(careemOrder))
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, res.Outcome, "%v", res.Err)
	assert.NotEmpty(t, res.OrderID)

	orders := m.Orders()
	require.Len(t, orders, 1)
	assert.True(t, decimal.RequireFromString("49.4").Equal(orders[0].Total))

	// redelivery upserts the same order and customer
	_, err = svc.HandleWebhook(context.Background(), careem.ProviderID, []byte(careemOrder), signedHeaders(careemOrder))
	require.NoError(t, err)
	assert.Len(t, m.Orders(), 1)
	n, _ := m.CountCustomers(context.Background(), "co-1")
	assert.Equal(t, 1, n)
}

func TestHandleWebhookRejectsForgery(t *testing.T) {
	m := seeded()
	svc, _ := newService(t, m, careemAdapter(t))
	headers := signedHeaders(careemOrder)
	headers[careem.SignatureHeader] = webhooks.Sign([]byte(careemOrder), headers[careem.TimestampHeader], "guess")

	res, err := svc.HandleWebhook(context.Background(), careem.ProviderID, []byte(careemOrder), headers)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Empty(t, m.Orders())
}

func TestHandleWebhookStatusChange(t *testing.T) {
	m := seeded()
	svc, _ := newService(t, m, careemAdapter(t))
	_, err := svc.HandleWebhook(context.Background(), careem.ProviderID, []byte(careemOrder), signedHeaders(careemOrder))
	require.NoError(t, err)

	status := `{"event_type":"ORDER_STATUS_UPDATED","data":{"order_id":"CR-1","status":"DELIVERED"}}`
	res, err := svc.HandleWebhook(context.Background(), careem.ProviderID, []byte(status), signedHeaders(status))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, model.OrderStatusDelivered, m.Orders()[0].Status)

	cancel := `{"event_type":"ORDER_CANCELLED","data":{"order_id":"CR-404"}}`
	res, err = svc.HandleWebhook(context.Background(), careem.ProviderID, []byte(cancel), signedHeaders(cancel))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
}

func TestHandleWebhookUnmappableBranchFails(t *testing.T) {
	m := store.NewMemory()
	svc, _ := newService(t, m, careemAdapter(t))
	res, err := svc.HandleWebhook(context.Background(), careem.ProviderID, []byte(careemOrder), signedHeaders(careemOrder))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, transform.ErrUnmappableBranch)
}

func TestUnknownProvider(t *testing.T) {
	svc, _ := newService(t, seeded())
	_, err := svc.HandleWebhook(context.Background(), "nope", nil, nil)
	require.ErrorIs(t, err, ErrUnknownProvider)
	_, err = svc.SyncOrders(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownProvider)
	_, err = svc.SyncMenu(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownProvider)
	_, err = svc.TestConnection(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func providerOrder(id string) model.ProviderOrder {
	total := decimal.RequireFromString("11.6")
	sub := decimal.NewFromInt(10)
	return model.ProviderOrder{
		ExternalOrderID: id, BranchID: "m-77",
		Customer: model.ProviderCustomer{Name: "Sami", Phone: "0781234567"},
		Items:    []model.ProviderItem{{Name: "Tea", Quantity: 10, UnitPrice: decimal.NewFromInt(1)}},
		Totals:   model.ProviderTotals{Subtotal: &sub, Total: &total},
		Payment:  model.Payment{Method: "card"},
		Delivery: model.Delivery{Type: model.DeliveryTypePickup},
	}
}

func TestSyncOrdersTracksSinceAndCountsFailures(t *testing.T) {
	m := seeded()
	first := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	fa := &fakeAdapter{orders: integrations.OrderSyncResult{Success: true, OrdersCount: 1, Orders: []model.ProviderOrder{providerOrder("F-1")}, LastSyncAt: first}}
	svc, _ := newService(t, m, fa)

	rep, err := svc.SyncOrders(context.Background(), "fake")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Ingested)
	got, ok := svc.LastSync("fake")
	require.True(t, ok)
	assert.Equal(t, first, got)

	bad := providerOrder("F-2")
	bad.BranchID = "m-404"
	fa.orders = integrations.OrderSyncResult{Success: true, OrdersCount: 2, Orders: []model.ProviderOrder{providerOrder("F-1"), bad}, LastSyncAt: first.Add(time.Hour)}
	rep, err = svc.SyncOrders(context.Background(), "fake")
	require.NoError(t, err)
	assert.True(t, rep.Success)
	assert.Equal(t, 2, rep.Fetched)
	assert.Equal(t, 1, rep.Ingested)
	assert.Equal(t, 1, rep.Failed)
	require.Len(t, rep.Errors, 1)
	assert.Contains(t, rep.Errors[0], "F-2")
	got, _ = svc.LastSync("fake")
	assert.Equal(t, first, got, "a failed order must not move the cursor past it")

	_, err = svc.SyncOrders(context.Background(), "fake")
	require.NoError(t, err)
	require.Len(t, fa.sinces, 3)
	assert.Nil(t, fa.sinces[0])
	require.NotNil(t, fa.sinces[1])
	assert.Equal(t, first, *fa.sinces[1])
	require.NotNil(t, fa.sinces[2])
	assert.Equal(t, first, *fa.sinces[2])
}

func TestOrderFailingOnMissingMappingIsPickedUpOnceMapped(t *testing.T) {
	m := seeded()
	first := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	fa := &fakeAdapter{orders: integrations.OrderSyncResult{Success: true, LastSyncAt: first}}
	svc, _ := newService(t, m, fa)
	_, err := svc.SyncOrders(context.Background(), "fake")
	require.NoError(t, err)

	late := providerOrder("F-9")
	late.BranchID = "m-404"
	fa.orders = integrations.OrderSyncResult{Success: true, OrdersCount: 1, Orders: []model.ProviderOrder{late}, LastSyncAt: first.Add(time.Hour)}
	rep, err := svc.SyncOrders(context.Background(), "fake")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Empty(t, m.Orders())

	m.PutBranchMapping(store.BranchMapping{ProviderID: "fake", ProviderMerchantID: "m-404", BranchID: "br-1"})
	fa.orders.LastSyncAt = first.Add(2 * time.Hour)
	rep, err = svc.SyncOrders(context.Background(), "fake")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Ingested)
	assert.Zero(t, rep.Failed)
	require.Len(t, m.Orders(), 1)
	assert.Equal(t, "F-9", m.Orders()[0].ExternalOrderID)

	require.Len(t, fa.sinces, 3)
	assert.Equal(t, first, *fa.sinces[2], "the retry re-fetches the window the failure was in")
	got, _ := svc.LastSync("fake")
	assert.Equal(t, first.Add(2*time.Hour), got)
}

func TestFailedSyncKeepsSinceAndSkipsStaleOrders(t *testing.T) {
	m := seeded()
	fa := &fakeAdapter{orders: integrations.OrderSyncResult{Success: false, Stale: true, Error: "circuit open", OrdersCount: 1, Orders: []model.ProviderOrder{providerOrder("F-1")}}}
	svc, _ := newService(t, m, fa)

	rep, err := svc.SyncOrders(context.Background(), "fake")
	require.NoError(t, err)
	assert.False(t, rep.Success)
	assert.True(t, rep.Stale)
	assert.Zero(t, rep.Ingested)
	assert.Empty(t, m.Orders())
	_, ok := svc.LastSync("fake")
	assert.False(t, ok)
}

func TestSyncMenuAndConnectionPassThrough(t *testing.T) {
	svc, _ := newService(t, seeded(), &fakeAdapter{})
	res, err := svc.SyncMenu(context.Background(), "fake")
	require.NoError(t, err)
	assert.True(t, res.Success)
	ok, err := svc.TestConnection(context.Background(), "fake")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"fake"}, svc.Providers())
}

func TestIngestionEventsArePublished(t *testing.T) {
	m := seeded()
	tr, err := transform.New(transform.Deps{Branches: m, Customers: m, Products: m, Validator: validation.MustNew(validation.DefaultConfig())})
	require.NoError(t, err)
	dir := integrations.NewDirectory()
	dir.Add(careemAdapter(t), integrations.ProviderConfig{MerchantID: "m-77", WebhookSecret: "whsec"})
	b := events.NewMemoryBroker()
	ch := b.Subscribe(careem.ProviderID)
	svc := NewService(dir, tr, m, nil, WithEvents(b))

	res, err := svc.HandleWebhook(context.Background(), careem.ProviderID, []byte(careemOrder), signedHeaders(careemOrder))
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, res.Outcome)

	select {
	case evt := <-ch:
		assert.Equal(t, "webhook.accepted", evt.Type)
		assert.Equal(t, res.OrderID, evt.Data["orderId"])
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}
