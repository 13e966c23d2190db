// Package validation checks provider-shaped and canonical orders. Both entry
// points collect every violation before failing.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"orderbridge/internal/model"
)

var (
	ErrValidationFailed       = errors.New("validation failed")
	ErrReconciliationMismatch = errors.New("totals reconciliation mismatch")
)

// Violation is one field-level problem.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error aggregates every violation found in one order.
type Error struct {
	Scope      string      `json:"scope"` // provider_order | internal_order
	Violations []Violation `json:"violations"`
	mismatch   bool
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Scope, ErrValidationFailed, strings.Join(parts, "; "))
}

func (e *Error) Is(target error) bool {
	return target == ErrValidationFailed || (target == ErrReconciliationMismatch && e.mismatch)
}

func (e *Error) add(field, format string, args ...any) {
	e.Violations = append(e.Violations, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *Error) orNil() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

// Config holds the market-specific rules.
type Config struct {
	PhonePattern   string   `mapstructure:"phone_pattern"`
	PhonePrefixes  []string `mapstructure:"phone_prefixes"`
	PaymentMethods []string `mapstructure:"payment_methods"`
	OrderTypes     []string `mapstructure:"order_types"`
	Tolerance      float64  `mapstructure:"tolerance"`
}

// DefaultConfig is the Jordanian market.
func DefaultConfig() Config {
	return Config{
		PhonePattern:   `^(07|7)\d{8}$`,
		PhonePrefixes:  []string{"+962", "00962", "962"},
		PaymentMethods: []string{"cash", "card", "online", "wallet"},
		OrderTypes:     []string{"delivery", "pickup", "dine_in", "takeaway"},
		Tolerance:      0.01,
	}
}

type Service struct {
	phone          *regexp.Regexp
	prefixes       []string
	paymentMethods map[string]struct{}
	orderTypes     map[string]struct{}
	tolerance      decimal.Decimal
}

// New builds a Service; empty Config fields fall back to DefaultConfig.
func New(cfg Config) (*Service, error) {
	def := DefaultConfig()
	if cfg.PhonePattern == "" {
		cfg.PhonePattern = def.PhonePattern
	}
	if cfg.PhonePrefixes == nil {
		cfg.PhonePrefixes = def.PhonePrefixes
	}
	if len(cfg.PaymentMethods) == 0 {
		cfg.PaymentMethods = def.PaymentMethods
	}
	if len(cfg.OrderTypes) == 0 {
		cfg.OrderTypes = def.OrderTypes
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	re, err := regexp.Compile(cfg.PhonePattern)
	if err != nil {
		return nil, fmt.Errorf("phone pattern: %w", err)
	}
	return &Service{
		phone:          re,
		prefixes:       cfg.PhonePrefixes,
		paymentMethods: toSet(cfg.PaymentMethods),
		orderTypes:     toSet(cfg.OrderTypes),
		tolerance:      decimal.NewFromFloat(cfg.Tolerance),
	}, nil
}

// MustNew is New for static configuration.
func MustNew(cfg Config) *Service {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

func toSet(values []string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return m
}

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "", "\t", "")

// NormalizePhone strips separators and market prefixes and returns the local
// number with its leading zero, e.g. "+962 79-123-4567" -> "0791234567".
// ok is false when the result does not match the market pattern.
func (s *Service) NormalizePhone(raw string) (string, bool) {
	p := phoneSeparators.Replace(strings.TrimSpace(raw))
	for _, prefix := range s.prefixes {
		if strings.HasPrefix(p, prefix) {
			p = strings.TrimPrefix(p, prefix)
			break
		}
	}
	if !s.phone.MatchString(p) {
		return p, false
	}
	if !strings.HasPrefix(p, "0") {
		p = "0" + p
	}
	return p, true
}

// ValidateProviderOrder returns nil or an *Error listing every violation.
func (s *Service) ValidateProviderOrder(o *model.ProviderOrder) error {
	verr := &Error{Scope: "provider_order"}
	if o == nil {
		verr.add("order", "is required")
		return verr
	}
	if strings.TrimSpace(o.ExternalOrderID) == "" {
		verr.add("externalOrderId", "is required")
	}
	if strings.TrimSpace(o.BranchID) == "" {
		verr.add("branchId", "is required")
	}
	if strings.TrimSpace(o.Customer.Name) == "" {
		verr.add("customer.name", "is required")
	}
	if strings.TrimSpace(o.Customer.Phone) == "" {
		verr.add("customer.phone", "is required")
	} else if _, ok := s.NormalizePhone(o.Customer.Phone); !ok {
		verr.add("customer.phone", "invalid format %q", o.Customer.Phone)
	}

	if len(o.Items) == 0 {
		verr.add("items", "at least one item is required")
	}
	for i, it := range o.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(it.Name) == "" {
			verr.add(field+".name", "is required")
		}
		if it.Quantity <= 0 {
			verr.add(field+".quantity", "must be positive, got %d", it.Quantity)
		}
		if it.UnitPrice.IsNegative() {
			verr.add(field+".unitPrice", "must not be negative, got %s", it.UnitPrice.String())
		}
	}

	requiredAmount(verr, "totals.subtotal", o.Totals.Subtotal)
	requiredAmount(verr, "totals.total", o.Totals.Total)
	optionalAmount(verr, "totals.tax", o.Totals.Tax)
	optionalAmount(verr, "totals.deliveryFee", o.Totals.DeliveryFee)
	optionalAmount(verr, "totals.discount", o.Totals.Discount)

	if o.Payment.Method == "" {
		verr.add("payment.method", "is required")
	} else if _, ok := s.paymentMethods[strings.ToLower(o.Payment.Method)]; !ok {
		verr.add("payment.method", "unsupported method %q", o.Payment.Method)
	}

	switch o.Delivery.Type {
	case model.DeliveryTypeDelivery:
		if o.Delivery.Address == nil || (strings.TrimSpace(o.Delivery.Address.Street) == "" && strings.TrimSpace(o.Delivery.Address.Area) == "") {
			verr.add("delivery.address", "is required for delivery orders")
		}
	case model.DeliveryTypePickup:
	default:
		verr.add("delivery.type", "must be delivery or pickup, got %q", o.Delivery.Type)
	}
	return verr.orNil()
}

func requiredAmount(verr *Error, field string, v *decimal.Decimal) {
	if v == nil {
		verr.add(field, "is required")
		return
	}
	optionalAmount(verr, field, v)
}

func optionalAmount(verr *Error, field string, v *decimal.Decimal) {
	if v != nil && v.IsNegative() {
		verr.add(field, "must not be negative, got %s", v.String())
	}
}

// ValidateInternalOrder checks resolved identifiers, whitelists and the
// reconciliation invariant subtotal + deliveryFee + tax - discount == total.
func (s *Service) ValidateInternalOrder(o *model.InternalOrder) error {
	verr := &Error{Scope: "internal_order"}
	if o == nil {
		verr.add("order", "is required")
		return verr
	}
	if o.BranchID == "" {
		verr.add("branchId", "is required")
	}
	if o.CompanyID == "" {
		verr.add("companyId", "is required")
	}
	if o.CustomerID == "" {
		verr.add("customerId", "is required")
	}
	if o.OrderType == "" {
		verr.add("orderType", "is required")
	} else if _, ok := s.orderTypes[strings.ToLower(o.OrderType)]; !ok {
		verr.add("orderType", "unsupported type %q", o.OrderType)
	}
	if len(o.Items) == 0 {
		verr.add("items", "at least one item is required")
	}
	amounts := []struct {
		field string
		v     decimal.Decimal
	}{{"subtotal", o.Subtotal}, {"tax", o.Tax}, {"deliveryFee", o.DeliveryFee}, {"discount", o.Discount}, {"total", o.Total}}
	for _, a := range amounts {
		if a.v.IsNegative() {
			verr.add(a.field, "must not be negative, got %s", a.v.String())
		}
	}
	expected := o.Subtotal.Add(o.DeliveryFee).Add(o.Tax).Sub(o.Discount)
	if diff := expected.Sub(o.Total).Abs(); diff.GreaterThan(s.tolerance) {
		verr.mismatch = true
		verr.add("total", "expected %s got %s (diff %s)", expected.StringFixed(2), o.Total.StringFixed(2), diff.StringFixed(2))
	}
	return verr.orNil()
}
