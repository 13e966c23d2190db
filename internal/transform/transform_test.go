package transform

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderbridge/internal/model"
	"orderbridge/internal/store"
	"orderbridge/internal/validation"
)

var fixedNow = time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func seededStore(t *testing.T) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	m.PutBranch(store.Branch{ID: "br-1", Code: "AMM-01", CompanyID: "co-1", Name: "Abdoun"})
	m.PutBranch(store.Branch{ID: "br-2", Code: "AMM-02", CompanyID: "co-1", Name: "Sweifieh"})
	m.PutBranchMapping(store.BranchMapping{ProviderID: "careem", ProviderMerchantID: "m-100", BranchID: "br-1"})
	m.PutProduct(store.Product{ID: "p-1", CompanyID: "co-1", Name: "Chicken Shawarma Wrap", ExternalIDs: []string{"sku-1"}})
	m.PutProduct(store.Product{ID: "p-2", CompanyID: "co-1", Name: "Falafel Plate"})
	return m
}

func newTransformer(t *testing.T, customers store.Customers, m *store.Memory) *Transformer {
	t.Helper()
	if customers == nil {
		customers = m
	}
	tr, err := New(Deps{Branches: m, Customers: customers, Products: m, Validator: validation.MustNew(validation.DefaultConfig())},
		WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return tr
}

func order() *model.ProviderOrder {
	return &model.ProviderOrder{
		ExternalOrderID: "CR-1001",
		BranchID:        "m-100",
		Customer:        model.ProviderCustomer{Name: "Lina", Phone: "+962 79 123 4567"},
		Items: []model.ProviderItem{
			{ExternalID: "sku-1", Name: "Shawarma", Quantity: 2, UnitPrice: decimal.NewFromInt(15)},
			{Name: "falafel", Quantity: 1, UnitPrice: decimal.NewFromInt(10)},
		},
		Totals:   model.ProviderTotals{Subtotal: dec("40"), DeliveryFee: dec("5"), Discount: dec("2"), Total: dec("49.40")},
		Payment:  model.Payment{Method: "Cash"},
		Delivery: model.Delivery{Type: model.DeliveryTypeDelivery, Address: &model.Address{Street: "Rainbow St", Building: "12", City: "Amman"}},
		Metadata: map[string]any{"status": "confirmed"},
	}
}

func TestTransformComputesDefaultTax(t *testing.T) {
	m := seededStore(t)
	tr := newTransformer(t, nil, m)

	o, err := tr.Transform(context.Background(), order(), "careem")
	require.NoError(t, err)

	assert.Equal(t, "6.4", o.Tax.String())
	assert.Equal(t, "49.4", o.Total.String())
	assert.Equal(t, "40", o.Subtotal.String())
	assert.Equal(t, "br-1", o.BranchID)
	assert.Equal(t, "co-1", o.CompanyID)
	assert.NotEmpty(t, o.CustomerID)
	assert.Equal(t, "careem", o.OrderSource)
	assert.Equal(t, "delivery", o.OrderType)
	assert.Equal(t, "cash", o.PaymentMethod)
	assert.Equal(t, "pending", o.PaymentStatus)
	// provider status stays in metadata; the lifecycle starts at pending
	assert.Equal(t, model.OrderStatusPending, o.Status)
	assert.Equal(t, "confirmed", o.Metadata["status"])
	assert.Equal(t, "2024-05-02T10:00:00Z", o.Metadata["transformedAt"])
	assert.NotContains(t, o.Metadata, "providerTotal")
	assert.Equal(t, "Rainbow St", o.DeliveryAddress.Street)

	require.Len(t, o.Items, 2)
	require.NotNil(t, o.Items[0].ProductID)
	assert.Equal(t, "p-1", *o.Items[0].ProductID)
	assert.Equal(t, "30", o.Items[0].TotalPrice.String())
	require.NotNil(t, o.Items[1].ProductID)
	assert.Equal(t, "p-2", *o.Items[1].ProductID)
}

func TestTransformPrefersProviderTaxAndRecordsDisagreeingTotal(t *testing.T) {
	tr := newTransformer(t, nil, seededStore(t))
	po := order()
	po.Totals.Tax = dec("5.00")
	po.Totals.Total = dec("50")

	o, err := tr.Transform(context.Background(), po, "careem")
	require.NoError(t, err)
	assert.Equal(t, "5", o.Tax.String())
	assert.Equal(t, "48", o.Total.String())
	assert.Equal(t, "50", o.Metadata["providerTotal"])
}

func TestTransformTwiceCreatesOneCustomer(t *testing.T) {
	m := seededStore(t)
	tr := newTransformer(t, nil, m)

	first, err := tr.Transform(context.Background(), order(), "careem")
	require.NoError(t, err)
	second, err := tr.Transform(context.Background(), order(), "careem")
	require.NoError(t, err)

	assert.Equal(t, first.CustomerID, second.CustomerID)
	n, err := m.CountCustomers(context.Background(), "co-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, m.CustomerAddresses(first.CustomerID), 1)
}

func TestConcurrentDuplicateDeliveries(t *testing.T) {
	m := seededStore(t)
	tr := newTransformer(t, nil, m)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.Transform(context.Background(), order(), "careem")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := m.CountCustomers(context.Background(), "co-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewAddressIsAddedAsAlternate(t *testing.T) {
	m := seededStore(t)
	tr := newTransformer(t, nil, m)
	first, err := tr.Transform(context.Background(), order(), "careem")
	require.NoError(t, err)

	po := order()
	po.ExternalOrderID = "CR-1002"
	po.Delivery.Address = &model.Address{Street: "Mecca St", Building: "3"}
	_, err = tr.Transform(context.Background(), po, "careem")
	require.NoError(t, err)

	addrs := m.CustomerAddresses(first.CustomerID)
	require.Len(t, addrs, 2)
	assert.True(t, addrs[0].IsDefault)
	assert.False(t, addrs[1].IsDefault)
}

func TestUnmappableBranch(t *testing.T) {
	tr := newTransformer(t, nil, seededStore(t))
	po := order()
	po.BranchID = "m-404"

	o, err := tr.Transform(context.Background(), po, "careem")
	assert.Nil(t, o)
	require.ErrorIs(t, err, ErrUnmappableBranch)
	var be *BranchError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "m-404", be.ProviderBranchID)
}

func TestBranchFallbackByCode(t *testing.T) {
	tr := newTransformer(t, nil, seededStore(t))
	po := order()
	po.BranchID = "amm-02"

	o, err := tr.Transform(context.Background(), po, "talabat")
	require.NoError(t, err)
	assert.Equal(t, "br-2", o.BranchID)
}

func TestUnmatchedItemKeepsNilProduct(t *testing.T) {
	tr := newTransformer(t, nil, seededStore(t))
	po := order()
	po.Items = append(po.Items, model.ProviderItem{ExternalID: "x-9", Name: "Mystery Dish", Quantity: 1, UnitPrice: decimal.Zero})

	o, err := tr.Transform(context.Background(), po, "careem")
	require.NoError(t, err)
	require.Len(t, o.Items, 3)
	assert.Nil(t, o.Items[2].ProductID)
	assert.Equal(t, 1, o.Metadata["unmatchedItems"])
}

func TestInvalidProviderOrderStopsEarly(t *testing.T) {
	m := seededStore(t)
	tr := newTransformer(t, nil, m)
	po := order()
	po.Customer.Phone = ""

	o, err := tr.Transform(context.Background(), po, "careem")
	assert.Nil(t, o)
	require.ErrorIs(t, err, validation.ErrValidationFailed)
	n, _ := m.CountCustomers(context.Background(), "co-1")
	assert.Zero(t, n)
}

func TestInvalidInternalOrderIsRejected(t *testing.T) {
	tr := newTransformer(t, nil, seededStore(t))
	po := order()
	po.Totals.Discount = dec("100")

	o, err := tr.Transform(context.Background(), po, "careem")
	assert.Nil(t, o)
	require.ErrorIs(t, err, validation.ErrValidationFailed)
}

// conflictingCustomers loses the uniqueness race a fixed number of times.
type conflictingCustomers struct {
	*store.Memory
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (c *conflictingCustomers) FindOrCreateCustomer(ctx context.Context, phone, companyID string, data store.CustomerData) (store.Customer, bool, error) {
	c.mu.Lock()
	c.calls++
	lose := c.calls <= c.conflicts
	c.mu.Unlock()
	if lose {
		return store.Customer{}, false, store.ErrConflict
	}
	return c.Memory.FindOrCreateCustomer(ctx, phone, companyID, data)
}

func TestCustomerConflictIsRetried(t *testing.T) {
	m := seededStore(t)
	cc := &conflictingCustomers{Memory: m, conflicts: 2}
	tr := newTransformer(t, cc, m)

	_, err := tr.Transform(context.Background(), order(), "careem")
	require.NoError(t, err)
	assert.Equal(t, 3, cc.calls)

	cc = &conflictingCustomers{Memory: m, conflicts: 10}
	tr = newTransformer(t, cc, m)
	_, err = tr.Transform(context.Background(), order(), "careem")
	require.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, DefaultConflictRetries+1, cc.calls)
}

func TestTransformEvent(t *testing.T) {
	tr := newTransformer(t, nil, seededStore(t))
	_, err := tr.TransformEvent(context.Background(), &model.WebhookEvent{Type: model.EventMenuUpdated, ProviderID: "careem"})
	require.ErrorIs(t, err, ErrNoOrder)

	o, err := tr.TransformEvent(context.Background(), &model.WebhookEvent{Type: model.EventOrderCreated, ProviderID: "careem", Order: order()})
	require.NoError(t, err)
	assert.Equal(t, "CR-1001", o.ExternalOrderID)
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}
