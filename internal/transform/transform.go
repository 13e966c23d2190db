// Package transform turns a validated provider order into the canonical
// InternalOrder: branch resolution, customer upsert, catalog matching and
// totals reconciliation.
package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orderbridge/internal/logging"
	"orderbridge/internal/metrics"
	"orderbridge/internal/model"
	"orderbridge/internal/store"
	"orderbridge/internal/validation"
)

var (
	ErrUnmappableBranch = errors.New("unmappable branch")
	// ErrNoOrder is returned by TransformEvent for events that carry no order.
	ErrNoOrder = errors.New("event carries no order")
)

type BranchError struct {
	ProviderID       string
	ProviderBranchID string
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("unmappable branch %q for provider %s", e.ProviderBranchID, e.ProviderID)
}

func (e *BranchError) Is(target error) bool { return target == ErrUnmappableBranch }

type Deps struct {
	Branches  store.BranchMappings
	Customers store.Customers
	Products  store.Products
	Validator *validation.Service
}

const (
	DefaultTaxRate         = 0.16
	DefaultConflictRetries = 3
)

type Transformer struct {
	deps    Deps
	taxRate decimal.Decimal
	retries int
	now     func() time.Time
	log     *zap.Logger
}

type Option func(*Transformer)

// WithTaxRate sets the rate applied when the provider sends no tax.
func WithTaxRate(rate float64) Option {
	return func(t *Transformer) { t.taxRate = decimal.NewFromFloat(rate) }
}

func WithConflictRetries(n int) Option { return func(t *Transformer) { t.retries = n } }

func WithClock(now func() time.Time) Option { return func(t *Transformer) { t.now = now } }

func WithLogger(l *zap.Logger) Option { return func(t *Transformer) { t.log = l } }

func New(d Deps, opts ...Option) (*Transformer, error) {
	if d.Branches == nil || d.Customers == nil || d.Products == nil || d.Validator == nil {
		return nil, errors.New("transform: branches, customers, products and validator are required")
	}
	t := &Transformer{deps: d, taxRate: decimal.NewFromFloat(DefaultTaxRate), retries: DefaultConflictRetries, now: time.Now}
	for _, o := range opts {
		o(t)
	}
	if t.retries < 0 {
		t.retries = 0
	}
	t.log = logging.OrNop(t.log)
	return t, nil
}

// Transform never returns a partial order: any failing step aborts with its
// own error kind.
func (t *Transformer) Transform(ctx context.Context, po *model.ProviderOrder, providerID string) (*model.InternalOrder, error) {
	o, err := t.transform(ctx, po, providerID)
	metrics.OrdersTransformed.WithLabelValues(providerID, outcome(err)).Inc()
	if err != nil {
		fields := []zap.Field{zap.String("provider", providerID), zap.Error(err)}
		if po != nil {
			fields = append(fields, zap.String("external_order_id", po.ExternalOrderID))
		}
		t.log.Warn("transform failed", fields...)
		return nil, err
	}
	t.log.Info("order transformed",
		zap.String("provider", providerID),
		zap.String("external_order_id", o.ExternalOrderID),
		zap.String("branch_id", o.BranchID),
		zap.String("total", o.Total.StringFixed(2)))
	return o, nil
}

// TransformEvent transforms the order carried by an order.created or
// order.updated event.
func (t *Transformer) TransformEvent(ctx context.Context, evt *model.WebhookEvent) (*model.InternalOrder, error) {
	if evt == nil || !evt.Type.CarriesOrder() || evt.Order == nil {
		return nil, ErrNoOrder
	}
	return t.Transform(ctx, evt.Order, evt.ProviderID)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, validation.ErrReconciliationMismatch):
		return "reconciliation_mismatch"
	case errors.Is(err, validation.ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, ErrUnmappableBranch):
		return "unmappable_branch"
	default:
		return "error"
	}
}

func (t *Transformer) transform(ctx context.Context, po *model.ProviderOrder, providerID string) (*model.InternalOrder, error) {
	if err := t.deps.Validator.ValidateProviderOrder(po); err != nil {
		return nil, err
	}

	ref, err := t.resolveBranch(ctx, providerID, po.BranchID)
	if err != nil {
		return nil, err
	}

	customerID, err := t.upsertCustomer(ctx, po, ref.CompanyID)
	if err != nil {
		return nil, err
	}

	items, unmatched, err := t.mapItems(ctx, ref.CompanyID, po.Items)
	if err != nil {
		return nil, err
	}

	o := &model.InternalOrder{
		ExternalOrderID: po.ExternalOrderID,
		OrderSource:     providerID,
		BranchID:        ref.BranchID,
		CompanyID:       ref.CompanyID,
		CustomerID:      customerID,
		OrderType:       string(po.Delivery.Type),
		Items:           items,
		PaymentMethod:   strings.ToLower(po.Payment.Method),
		PaymentStatus:   strings.ToLower(po.Payment.Status),
		Notes:           po.Notes,
		Status:          model.OrderStatusPending,
		Metadata:        map[string]any{},
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = "pending"
	}
	if po.Delivery.Type == model.DeliveryTypeDelivery {
		o.DeliveryAddress = po.Delivery.Address
	}
	for k, v := range po.Metadata {
		o.Metadata[k] = v
	}
	t.reconcile(o, po.Totals)
	o.Metadata["provider"] = providerID
	o.Metadata["transformedAt"] = t.now().UTC().Format(time.RFC3339)
	if unmatched > 0 {
		o.Metadata["unmatchedItems"] = unmatched
	}

	if err := t.deps.Validator.ValidateInternalOrder(o); err != nil {
		return nil, err
	}
	return o, nil
}

// resolveBranch tries the provider mapping first, then treats the provider's
// branch id as an internal branch id or code.
func (t *Transformer) resolveBranch(ctx context.Context, providerID, providerBranchID string) (*store.BranchRef, error) {
	ref, err := t.deps.Branches.LookupBranchMapping(ctx, providerID, providerBranchID)
	if err != nil {
		return nil, fmt.Errorf("branch mapping lookup: %w", err)
	}
	if ref != nil {
		return ref, nil
	}
	ref, err = t.deps.Branches.FindBranch(ctx, providerBranchID)
	if err != nil {
		return nil, fmt.Errorf("branch lookup: %w", err)
	}
	if ref == nil {
		return nil, &BranchError{ProviderID: providerID, ProviderBranchID: providerBranchID}
	}
	return ref, nil
}

func (t *Transformer) upsertCustomer(ctx context.Context, po *model.ProviderOrder, companyID string) (string, error) {
	phone, _ := t.deps.Validator.NormalizePhone(po.Customer.Phone)
	addr := po.Delivery.Address
	if addr == nil {
		addr = po.Customer.Address
	}
	if addr != nil && strings.TrimSpace(addr.Street) == "" && strings.TrimSpace(addr.Building) == "" {
		addr = nil
	}
	data := store.CustomerData{Name: strings.TrimSpace(po.Customer.Name), Email: po.Customer.Email, Address: addr}

	var (
		c       store.Customer
		created bool
		err     error
	)
	for attempt := 0; ; attempt++ {
		c, created, err = t.deps.Customers.FindOrCreateCustomer(ctx, phone, companyID, data)
		if errors.Is(err, store.ErrConflict) && attempt < t.retries {
			continue
		}
		break
	}
	if err != nil {
		return "", fmt.Errorf("customer upsert: %w", err)
	}
	if !created && addr != nil {
		if _, err := t.deps.Customers.AddCustomerAddress(ctx, c.ID, *addr); err != nil {
			return "", fmt.Errorf("customer address: %w", err)
		}
	}
	return c.ID, nil
}

// mapItems never rejects an order for catalog drift: unmatched items keep a
// nil ProductID.
func (t *Transformer) mapItems(ctx context.Context, companyID string, in []model.ProviderItem) ([]model.InternalItem, int, error) {
	out := make([]model.InternalItem, 0, len(in))
	unmatched := 0
	for _, it := range in {
		var ids []string
		if it.ExternalID != "" {
			ids = []string{it.ExternalID}
		}
		p, err := t.deps.Products.FindProduct(ctx, companyID, ids, it.Name)
		if err != nil {
			return nil, 0, fmt.Errorf("product lookup %q: %w", it.Name, err)
		}
		item := model.InternalItem{
			ExternalID: it.ExternalID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			TotalPrice: it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))),
			Notes:      it.Notes,
		}
		if p != nil {
			id := p.ID
			item.ProductID = &id
		} else {
			unmatched++
		}
		out = append(out, item)
	}
	return out, unmatched, nil
}

// reconcile prefers provider amounts, computes tax at the default rate when
// absent and always recomputes the total.
func (t *Transformer) reconcile(o *model.InternalOrder, pt model.ProviderTotals) {
	subtotal := decimal.Zero
	if pt.Subtotal != nil {
		subtotal = *pt.Subtotal
	} else {
		for _, it := range o.Items {
			subtotal = subtotal.Add(it.TotalPrice)
		}
	}
	tax := subtotal.Mul(t.taxRate).Round(2)
	if pt.Tax != nil {
		tax = *pt.Tax
	}
	o.Subtotal = subtotal
	o.Tax = tax
	o.DeliveryFee = valueOrZero(pt.DeliveryFee)
	o.Discount = valueOrZero(pt.Discount)
	o.Total = subtotal.Add(o.DeliveryFee).Add(tax).Sub(o.Discount)
	if pt.Total != nil && !pt.Total.Equal(o.Total) {
		o.Metadata["providerTotal"] = pt.Total.String()
	}
}

func valueOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
