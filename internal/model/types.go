package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Core domain types shared by adapters, validation and the transformer.

type DeliveryType string

const (
	DeliveryTypeDelivery DeliveryType = "delivery"
	DeliveryTypePickup   DeliveryType = "pickup"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusPickedUp  OrderStatus = "picked_up"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ProviderOrder is an order as a delivery platform describes it, before any
// branch, customer or catalog resolution.
type ProviderOrder struct {
	ExternalOrderID string           `json:"externalOrderId"`
	BranchID        string           `json:"branchId"` // provider-scoped merchant/branch id
	Customer        ProviderCustomer `json:"customer"`
	Items           []ProviderItem   `json:"items"`
	Totals          ProviderTotals   `json:"totals"`
	Payment         Payment          `json:"payment"`
	Delivery        Delivery         `json:"delivery"`
	Notes           string           `json:"notes,omitempty"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
}

type ProviderCustomer struct {
	Name    string   `json:"name"`
	Phone   string   `json:"phone"`
	Email   string   `json:"email,omitempty"`
	Address *Address `json:"address,omitempty"`
}

type ProviderItem struct {
	ExternalID string          `json:"externalId,omitempty"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Notes      string          `json:"notes,omitempty"`
}

// ProviderTotals keeps every amount optional; nil means the provider did not send it.
type ProviderTotals struct {
	Subtotal    *decimal.Decimal `json:"subtotal,omitempty"`
	Tax         *decimal.Decimal `json:"tax,omitempty"`
	DeliveryFee *decimal.Decimal `json:"deliveryFee,omitempty"`
	Discount    *decimal.Decimal `json:"discount,omitempty"`
	Total       *decimal.Decimal `json:"total,omitempty"`
}

type Payment struct {
	Method        string `json:"method"`
	Status        string `json:"status"`
	TransactionID string `json:"transactionId,omitempty"`
}

type Delivery struct {
	Type    DeliveryType `json:"type"`
	Address *Address     `json:"address,omitempty"`
}

type Address struct {
	Street   string   `json:"street,omitempty"`
	Building string   `json:"building,omitempty"`
	Floor    string   `json:"floor,omitempty"`
	Area     string   `json:"area,omitempty"`
	City     string   `json:"city,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lng      *float64 `json:"lng,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

// InternalOrder is the canonical, provider-agnostic order handed to persistence.
type InternalOrder struct {
	ExternalOrderID string          `json:"externalOrderId"`
	OrderSource     string          `json:"orderSource"`
	BranchID        string          `json:"branchId"`
	CompanyID       string          `json:"companyId"`
	CustomerID      string          `json:"customerId"`
	OrderType       string          `json:"orderType"`
	Items           []InternalItem  `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	DeliveryFee     decimal.Decimal `json:"deliveryFee"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
	PaymentMethod   string          `json:"paymentMethod"`
	PaymentStatus   string          `json:"paymentStatus"`
	DeliveryAddress *Address        `json:"deliveryAddress,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Status          OrderStatus     `json:"status"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

type InternalItem struct {
	ProductID  *string         `json:"productId"` // nil when the catalog has no match
	ExternalID string          `json:"externalId,omitempty"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	Notes      string          `json:"notes,omitempty"`
}

// EventType is the provider-agnostic webhook taxonomy.
type EventType string

const (
	EventOrderCreated        EventType = "order.created"
	EventOrderUpdated        EventType = "order.updated"
	EventOrderCancelled      EventType = "order.cancelled"
	EventOrderStatusChanged  EventType = "order.status_changed"
	EventMenuUpdated         EventType = "menu.updated"
	EventBranchStatusChanged EventType = "branch.status_changed"
)

// CarriesOrder reports whether events of this type embed a full provider order.
func (t EventType) CarriesOrder() bool {
	return t == EventOrderCreated || t == EventOrderUpdated
}

// WebhookEvent is only produced after signature verification succeeded.
type WebhookEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	ProviderID string         `json:"providerId"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data,omitempty"`
	Order      *ProviderOrder `json:"order,omitempty"`
	RawPayload []byte         `json:"rawPayload"`
}

// MenuItem is a catalog entry as returned by a provider menu sync.
type MenuItem struct {
	ExternalID string          `json:"externalId"`
	Name       string          `json:"name"`
	Category   string          `json:"category,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Available  bool            `json:"available"`
}
