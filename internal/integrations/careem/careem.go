// Package careem is the Careem Food integration.
package careem

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"orderbridge/internal/integrations"
	"orderbridge/internal/integrations/rest"
	"orderbridge/internal/model"
)

const ProviderID = "careem"

const (
	SignatureHeader = "X-Careem-Signature"
	TimestampHeader = "X-Careem-Timestamp"
)

var Statuses = integrations.NewStatusTable(map[model.OrderStatus]string{
	model.OrderStatusPending:   "PENDING",
	model.OrderStatusConfirmed: "ACCEPTED",
	model.OrderStatusPreparing: "PREPARING",
	model.OrderStatusReady:     "READY_FOR_PICKUP",
	model.OrderStatusPickedUp:  "PICKED_UP",
	model.OrderStatusDelivered: "DELIVERED",
	model.OrderStatusCancelled: "CANCELLED",
}, map[string]model.OrderStatus{
	"CAPTAIN_ASSIGNED": model.OrderStatusReady,
	"REJECTED":         model.OrderStatusCancelled,
}, "PENDING")

var events = map[string]model.EventType{
	"ORDER_CREATED":        model.EventOrderCreated,
	"ORDER_UPDATED":        model.EventOrderUpdated,
	"ORDER_CANCELLED":      model.EventOrderCancelled,
	"ORDER_STATUS_UPDATED": model.EventOrderStatusChanged,
	"MENU_UPDATED":         model.EventMenuUpdated,
	"STORE_STATUS_UPDATED": model.EventBranchStatusChanged,
}

func Profile() rest.Profile {
	return rest.Profile{
		ID:   ProviderID,
		Name: "Careem Food",
		Paths: rest.Paths{
			Ping:        "/v1/merchants/{merchant}",
			Menu:        "/v1/merchants/{merchant}/catalog/items",
			Orders:      "/v1/merchants/{merchant}/orders",
			CreateOrder: "/v1/merchants/{merchant}/orders",
			OrderStatus: "/v1/orders/{id}/status",
		},
		PageParam:        "page",
		LimitParam:       "limit",
		SinceParam:       "updated_since",
		Authorize:        rest.BearerAuth,
		SignatureHeader:  SignatureHeader,
		TimestampHeader:  TimestampHeader,
		Statuses:         Statuses,
		Events:           events,
		DecodeMenuPage:   decodeMenuPage,
		DecodeOrdersPage: decodeOrdersPage,
		EncodeOrder:      encodeOrder,
		DecodeCreated:    decodeCreated,
		EncodeStatus:     func(s string) any { return map[string]string{"status": s} },
		DecodeWebhook:    decodeWebhook,
	}
}

func New(client *integrations.Client, cache integrations.SyncCache, opts ...rest.Option) *rest.Adapter {
	return rest.New(Profile(), client, cache, opts...)
}

type wireAddress struct {
	Street    string   `json:"street"`
	Building  string   `json:"building"`
	Floor     string   `json:"floor"`
	Area      string   `json:"area"`
	City      string   `json:"city"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Notes     string   `json:"notes"`
}

func (w *wireAddress) model() *model.Address {
	if w == nil {
		return nil
	}
	return &model.Address{Street: w.Street, Building: w.Building, Floor: w.Floor, Area: w.Area, City: w.City, Lat: w.Latitude, Lng: w.Longitude, Notes: w.Notes}
}

func fromAddress(a *model.Address) *wireAddress {
	if a == nil {
		return nil
	}
	return &wireAddress{Street: a.Street, Building: a.Building, Floor: a.Floor, Area: a.Area, City: a.City, Latitude: a.Lat, Longitude: a.Lng, Notes: a.Notes}
}

type wireItem struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Notes    string          `json:"notes,omitempty"`
}

type wireOrder struct {
	ID         string `json:"id"`
	MerchantID string `json:"merchant_id"`
	Customer   struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
		Email string `json:"email"`
	} `json:"customer"`
	Items           []wireItem       `json:"items"`
	Subtotal        *decimal.Decimal `json:"subtotal"`
	Tax             *decimal.Decimal `json:"tax"`
	DeliveryFee     *decimal.Decimal `json:"delivery_fee"`
	Discount        *decimal.Decimal `json:"discount"`
	Total           *decimal.Decimal `json:"total"`
	PaymentMethod   string           `json:"payment_method"`
	PaymentStatus   string           `json:"payment_status"`
	TransactionID   string           `json:"transaction_id"`
	FulfillmentType string           `json:"fulfillment_type"`
	DeliveryAddress *wireAddress     `json:"delivery_address"`
	Instructions    string           `json:"special_instructions"`
	Status          string           `json:"status"`
	CreatedAt       *time.Time       `json:"created_at"`
}

var paymentMethods = map[string]string{
	"CASH":       "cash",
	"CARD":       "card",
	"CAREEM_PAY": "wallet",
	"ONLINE":     "online",
}

func (w wireOrder) model() model.ProviderOrder {
	po := model.ProviderOrder{
		ExternalOrderID: w.ID,
		BranchID:        w.MerchantID,
		Customer: model.ProviderCustomer{
			Name:    w.Customer.Name,
			Phone:   w.Customer.Phone,
			Email:   w.Customer.Email,
			Address: w.DeliveryAddress.model(),
		},
		Totals: model.ProviderTotals{Subtotal: w.Subtotal, Tax: w.Tax, DeliveryFee: w.DeliveryFee, Discount: w.Discount, Total: w.Total},
		Payment: model.Payment{
			Method:        mapPayment(w.PaymentMethod),
			Status:        strings.ToLower(w.PaymentStatus),
			TransactionID: w.TransactionID,
		},
		Delivery: model.Delivery{Type: model.DeliveryTypeDelivery, Address: w.DeliveryAddress.model()},
		Notes:    w.Instructions,
		Metadata: map[string]any{"providerStatus": w.Status, "status": string(Statuses.FromProvider(w.Status))},
	}
	if ft := strings.ToUpper(w.FulfillmentType); ft == "PICKUP" || ft == "SELF_PICKUP" {
		po.Delivery = model.Delivery{Type: model.DeliveryTypePickup}
	}
	if w.CreatedAt != nil {
		po.Metadata["createdAt"] = w.CreatedAt.UTC().Format(time.RFC3339)
	}
	for _, it := range w.Items {
		po.Items = append(po.Items, model.ProviderItem{ExternalID: it.ID, Name: it.Name, Quantity: it.Quantity, UnitPrice: it.Price, Notes: it.Notes})
	}
	return po
}

func mapPayment(m string) string {
	if v, ok := paymentMethods[strings.ToUpper(m)]; ok {
		return v
	}
	return strings.ToLower(m)
}

func decodeMenuPage(raw json.RawMessage) ([]model.MenuItem, error) {
	var page struct {
		Items []struct {
			ID          string          `json:"id"`
			Name        string          `json:"name"`
			Category    string          `json:"category"`
			Price       decimal.Decimal `json:"price"`
			IsAvailable bool            `json:"is_available"`
		} `json:"items"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("careem menu page: %w", err)
	}
	out := make([]model.MenuItem, 0, len(page.Items))
	for _, it := range page.Items {
		out = append(out, model.MenuItem{ExternalID: it.ID, Name: it.Name, Category: it.Category, Price: it.Price, Available: it.IsAvailable})
	}
	return out, nil
}

func decodeOrdersPage(raw json.RawMessage) ([]model.ProviderOrder, error) {
	var page struct {
		Orders []wireOrder `json:"orders"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("careem orders page: %w", err)
	}
	out := make([]model.ProviderOrder, 0, len(page.Orders))
	for _, o := range page.Orders {
		out = append(out, o.model())
	}
	return out, nil
}

func encodeOrder(o model.InternalOrder, cfg integrations.ProviderConfig) any {
	w := map[string]any{
		"merchant_id":          cfg.MerchantID,
		"reference":            o.ExternalOrderID,
		"subtotal":             o.Subtotal,
		"tax":                  o.Tax,
		"delivery_fee":         o.DeliveryFee,
		"discount":             o.Discount,
		"total":                o.Total,
		"payment_method":       strings.ToUpper(o.PaymentMethod),
		"special_instructions": o.Notes,
		"fulfillment_type":     "DELIVERY",
		"delivery_address":     fromAddress(o.DeliveryAddress),
	}
	if o.OrderType == string(model.DeliveryTypePickup) {
		w["fulfillment_type"] = "PICKUP"
	}
	items := make([]wireItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, wireItem{ID: it.ExternalID, Name: it.Name, Quantity: it.Quantity, Price: it.UnitPrice, Notes: it.Notes})
	}
	w["items"] = items
	return w
}

func decodeCreated(raw json.RawMessage) (string, error) {
	var resp struct {
		ID    string `json:"id"`
		Order struct {
			ID string `json:"id"`
		} `json:"order"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Order.ID != "" {
		return resp.Order.ID, nil
	}
	return resp.ID, nil
}

func decodeWebhook(payload []byte) (rest.Envelope, error) {
	var body struct {
		EventID   string    `json:"event_id"`
		EventType string    `json:"event_type"`
		EventTime time.Time `json:"event_time"`
		Data      struct {
			Order   *wireOrder `json:"order"`
			OrderID string     `json:"order_id"`
			Status  string     `json:"status"`
			StoreID string     `json:"store_id"`
			IsOpen  *bool      `json:"is_open"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return rest.Envelope{}, err
	}
	env := rest.Envelope{Event: body.EventType, EventID: body.EventID, Timestamp: body.EventTime, Data: map[string]any{}}
	if body.Data.Order != nil {
		po := body.Data.Order.model()
		env.Order = &po
		env.Data["orderId"] = po.ExternalOrderID
	}
	if body.Data.OrderID != "" {
		env.Data["orderId"] = body.Data.OrderID
	}
	if body.Data.Status != "" {
		env.Data["providerStatus"] = body.Data.Status
		env.Data["status"] = string(Statuses.FromProvider(body.Data.Status))
	}
	if body.Data.StoreID != "" {
		env.Data["branchId"] = body.Data.StoreID
	}
	if body.Data.IsOpen != nil {
		env.Data["isOpen"] = *body.Data.IsOpen
	}
	return env, nil
}
