package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"orderbridge/internal/model"
)

// BranchRef is the resolved internal location of an order.
type BranchRef struct {
	BranchID  string `json:"branchId" yaml:"branch_id"`
	CompanyID string `json:"companyId" yaml:"company_id"`
}

type Branch struct {
	ID        string `yaml:"id"`
	Code      string `yaml:"code"`
	CompanyID string `yaml:"company_id"`
	Name      string `yaml:"name"`
}

// BranchMapping links a provider merchant id to an internal branch.
type BranchMapping struct {
	ProviderID         string `yaml:"provider"`
	ProviderMerchantID string `yaml:"merchant_id"`
	BranchID           string `yaml:"branch_id"`
}

type Customer struct {
	ID        string
	CompanyID string
	Phone     string
	Name      string
	Email     string
	CreatedAt time.Time
}

type CustomerAddress struct {
	ID         string
	CustomerID string
	IsDefault  bool
	model.Address
}

// CustomerData is applied only when the customer is created.
type CustomerData struct {
	Name    string
	Email   string
	Address *model.Address // becomes the default address of a new customer
}

type Product struct {
	ID          string          `yaml:"id"`
	CompanyID   string          `yaml:"company_id"`
	Name        string          `yaml:"name"`
	ExternalIDs []string        `yaml:"external_ids"`
	Price       decimal.Decimal `yaml:"-"`
}

// BranchMappings resolves where an order belongs. Lookups return nil, nil when
// nothing matches.
type BranchMappings interface {
	LookupBranchMapping(ctx context.Context, providerID, providerMerchantID string) (*BranchRef, error)
	FindBranch(ctx context.Context, idOrCode string) (*BranchRef, error)
}

// Customers upserts by (phone, company). Implementations must be safe under
// concurrent duplicate calls: at most one customer per key, at most one
// address per (customer, street, building).
type Customers interface {
	FindOrCreateCustomer(ctx context.Context, phone, companyID string, data CustomerData) (c Customer, created bool, err error)
	AddCustomerAddress(ctx context.Context, customerID string, addr model.Address) (added bool, err error)
	CountCustomers(ctx context.Context, companyID string) (int, error)
}

type Products interface {
	// FindProduct matches by external id first, then by case-insensitive
	// name substring within the company catalog.
	FindProduct(ctx context.Context, companyID string, externalIDs []string, name string) (*Product, error)
}

// OrderSink receives canonical orders for persistence. UpdateOrderStatus
// reports false when no order with that key exists.
type OrderSink interface {
	SaveOrder(ctx context.Context, o model.InternalOrder) (id string, err error)
	UpdateOrderStatus(ctx context.Context, source, externalOrderID string, status model.OrderStatus) (bool, error)
}

// Store is everything the service needs from persistence.
type Store interface {
	BranchMappings
	Customers
	Products
	OrderSink
	Ping(ctx context.Context) error
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a lost uniqueness race; the caller should retry the lookup.
	ErrConflict = errors.New("conflict")
)
