// Package talabat is the Talabat integration. Talabat keys everything by the
// vendor's remote codes and sends camelCase payloads.
package talabat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"orderbridge/internal/integrations"
	"orderbridge/internal/integrations/rest"
	"orderbridge/internal/model"
)

const ProviderID = "talabat"

const (
	SignatureHeader = "X-Talabat-Signature"
	TimestampHeader = "X-Talabat-Timestamp"
	APIKeyHeader    = "X-Talabat-Api-Key"
)

var Statuses = integrations.NewStatusTable(map[model.OrderStatus]string{
	model.OrderStatusPending:   "RECEIVED",
	model.OrderStatusConfirmed: "ACCEPTED",
	model.OrderStatusPreparing: "IN_PREPARATION",
	model.OrderStatusReady:     "READY",
	model.OrderStatusPickedUp:  "PICKED_UP",
	model.OrderStatusDelivered: "DELIVERED",
	model.OrderStatusCancelled: "CANCELLED",
}, map[string]model.OrderStatus{
	"NEW":      model.OrderStatusPending,
	"REJECTED": model.OrderStatusCancelled,
	"EXPIRED":  model.OrderStatusCancelled,
}, "RECEIVED")

var events = map[string]model.EventType{
	"NewOrder":           model.EventOrderCreated,
	"OrderUpdated":       model.EventOrderUpdated,
	"OrderCancelled":     model.EventOrderCancelled,
	"OrderStatusUpdate":  model.EventOrderStatusChanged,
	"MenuImported":       model.EventMenuUpdated,
	"VendorAvailability": model.EventBranchStatusChanged,
}

func Profile() rest.Profile {
	return rest.Profile{
		ID:   ProviderID,
		Name: "Talabat",
		Paths: rest.Paths{
			Ping:         "/api/v2/vendors/{merchant}/availability",
			Menu:         "/api/v2/vendors/{merchant}/menu/products",
			Orders:       "/api/v2/vendors/{merchant}/orders",
			CreateOrder:  "/api/v2/vendors/{merchant}/orders",
			OrderStatus:  "/api/v2/orders/{id}",
			StatusMethod: http.MethodPatch,
		},
		PageParam:        "page",
		LimitParam:       "pageSize",
		SinceParam:       "updatedAfter",
		Authorize:        rest.HeaderAuth(APIKeyHeader),
		SignatureHeader:  SignatureHeader,
		TimestampHeader:  TimestampHeader,
		Statuses:         Statuses,
		Events:           events,
		DecodeMenuPage:   decodeMenuPage,
		DecodeOrdersPage: decodeOrdersPage,
		EncodeOrder:      encodeOrder,
		DecodeCreated:    decodeCreated,
		EncodeStatus:     func(s string) any { return map[string]string{"orderStatus": s} },
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
	Comment   string   `json:"deliveryInstructions"`
}

func (w *wireAddress) model() *model.Address {
	if w == nil {
		return nil
	}
	return &model.Address{Street: w.Street, Building: w.Building, Floor: w.Floor, Area: w.Area, City: w.City, Lat: w.Latitude, Lng: w.Longitude, Notes: w.Comment}
}

type wireProduct struct {
	RemoteCode string          `json:"remoteCode"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Comment    string          `json:"comment,omitempty"`
}

type wireOrder struct {
	Code     string `json:"code"`
	VendorID string `json:"vendorId"`
	Customer struct {
		FirstName   string `json:"firstName"`
		LastName    string `json:"lastName"`
		MobilePhone string `json:"mobilePhone"`
		Email       string `json:"email"`
	} `json:"customer"`
	Products []wireProduct `json:"products"`
	Price    struct {
		SubTotal    *decimal.Decimal `json:"subTotal"`
		VAT         *decimal.Decimal `json:"vatTotal"`
		DeliveryFee *decimal.Decimal `json:"deliveryFee"`
		Discount    *decimal.Decimal `json:"discountTotal"`
		GrandTotal  *decimal.Decimal `json:"grandTotal"`
	} `json:"price"`
	Payment struct {
		Type   string `json:"type"`
		Status string `json:"status"`
		Ref    string `json:"remoteCode"`
	} `json:"payment"`
	ExpeditionType string       `json:"expeditionType"`
	Address        *wireAddress `json:"address"`
	Comments       string       `json:"comments"`
	Status         string       `json:"status"`
}

var paymentTypes = map[string]string{
	"CASH_ON_DELIVERY": "cash",
	"CARD_ON_DELIVERY": "card",
	"PAID_ONLINE":      "online",
	"WALLET":           "wallet",
}

func (w wireOrder) model() model.ProviderOrder {
	po := model.ProviderOrder{
		ExternalOrderID: w.Code,
		BranchID:        w.VendorID,
		Customer: model.ProviderCustomer{
			Name:    strings.TrimSpace(w.Customer.FirstName + " " + w.Customer.LastName),
			Phone:   w.Customer.MobilePhone,
			Email:   w.Customer.Email,
			Address: w.Address.model(),
		},
		Totals: model.ProviderTotals{
			Subtotal:    w.Price.SubTotal,
			Tax:         w.Price.VAT,
			DeliveryFee: w.Price.DeliveryFee,
			Discount:    w.Price.Discount,
			Total:       w.Price.GrandTotal,
		},
		Payment:  model.Payment{Method: mapPayment(w.Payment.Type), Status: strings.ToLower(w.Payment.Status), TransactionID: w.Payment.Ref},
		Delivery: model.Delivery{Type: model.DeliveryTypeDelivery, Address: w.Address.model()},
		Notes:    w.Comments,
		Metadata: map[string]any{"providerStatus": w.Status, "status": string(Statuses.FromProvider(w.Status))},
	}
	if strings.EqualFold(w.ExpeditionType, "pickup") {
		po.Delivery = model.Delivery{Type: model.DeliveryTypePickup}
	}
	for _, p := range w.Products {
		po.Items = append(po.Items, model.ProviderItem{ExternalID: p.RemoteCode, Name: p.Name, Quantity: p.Quantity, UnitPrice: p.UnitPrice, Notes: p.Comment})
	}
	return po
}

func mapPayment(t string) string {
	if v, ok := paymentTypes[strings.ToUpper(t)]; ok {
		return v
	}
	return strings.ToLower(t)
}

func decodeMenuPage(raw json.RawMessage) ([]model.MenuItem, error) {
	var page struct {
		Data []struct {
			RemoteCode string          `json:"remoteCode"`
			Title      string          `json:"title"`
			Section    string          `json:"section"`
			Price      decimal.Decimal `json:"price"`
			Active     bool            `json:"active"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("talabat menu page: %w", err)
	}
	out := make([]model.MenuItem, 0, len(page.Data))
	for _, p := range page.Data {
		out = append(out, model.MenuItem{ExternalID: p.RemoteCode, Name: p.Title, Category: p.Section, Price: p.Price, Available: p.Active})
	}
	return out, nil
}

func decodeOrdersPage(raw json.RawMessage) ([]model.ProviderOrder, error) {
	var page struct {
		Data []wireOrder `json:"data"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("talabat orders page: %w", err)
	}
	out := make([]model.ProviderOrder, 0, len(page.Data))
	for _, o := range page.Data {
		out = append(out, o.model())
	}
	return out, nil
}

func encodeOrder(o model.InternalOrder, cfg integrations.ProviderConfig) any {
	products := make([]wireProduct, 0, len(o.Items))
	for _, it := range o.Items {
		products = append(products, wireProduct{RemoteCode: it.ExternalID, Name: it.Name, Quantity: it.Quantity, UnitPrice: it.UnitPrice, Comment: it.Notes})
	}
	expedition := "delivery"
	if o.OrderType == string(model.DeliveryTypePickup) {
		expedition = "pickup"
	}
	return map[string]any{
		"vendorId":       cfg.MerchantID,
		"remoteCode":     o.ExternalOrderID,
		"products":       products,
		"expeditionType": expedition,
		"comments":       o.Notes,
		"price": map[string]decimal.Decimal{
			"subTotal":      o.Subtotal,
			"vatTotal":      o.Tax,
			"deliveryFee":   o.DeliveryFee,
			"discountTotal": o.Discount,
			"grandTotal":    o.Total,
		},
	}
}

func decodeCreated(raw json.RawMessage) (string, error) {
	var resp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	return resp.Code, nil
}

func decodeWebhook(payload []byte) (rest.Envelope, error) {
	var body struct {
		ID        string          `json:"id"`
		Type      string          `json:"type"`
		Timestamp int64           `json:"timestamp"`
		Order     *wireOrder      `json:"order"`
		OrderCode string          `json:"orderCode"`
		Status    string          `json:"status"`
		VendorID  string          `json:"vendorId"`
		Available *bool           `json:"available"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return rest.Envelope{}, err
	}
	env := rest.Envelope{Event: body.Type, EventID: body.ID, Data: map[string]any{}}
	if body.Timestamp > 0 {
		env.Timestamp = time.Unix(body.Timestamp, 0).UTC()
	}
	if body.Order != nil {
		po := body.Order.model()
		env.Order = &po
		env.Data["orderId"] = po.ExternalOrderID
	}
	if body.OrderCode != "" {
		env.Data["orderId"] = body.OrderCode
	}
	if body.Status != "" {
		env.Data["providerStatus"] = body.Status
		env.Data["status"] = string(Statuses.FromProvider(body.Status))
	}
	if body.VendorID != "" {
		env.Data["branchId"] = body.VendorID
	}
	if body.Available != nil {
		env.Data["isOpen"] = *body.Available
	}
	return env, nil
}
