package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"orderbridge/internal/model"
)

// Memory is a simple in-memory store used when no database url is set.
type Memory struct {
	mu        sync.Mutex
	branches  map[string]Branch               // id -> branch
	mappings  map[string]string               // provider|merchant -> branch id
	customers map[string]Customer             // id -> customer
	byPhone   map[string]string               // company|phone -> customer id
	addresses map[string][]CustomerAddress    // customer id -> addresses
	products  map[string][]Product            // company -> catalog
	orders    map[string]model.InternalOrder  // id -> order
	orderKeys map[string]string               // source|external id -> order id
}

func NewMemory() *Memory {
	return &Memory{
		branches:  map[string]Branch{},
		mappings:  map[string]string{},
		customers: map[string]Customer{},
		byPhone:   map[string]string{},
		addresses: map[string][]CustomerAddress{},
		products:  map[string][]Product{},
		orders:    map[string]model.InternalOrder{},
		orderKeys: map[string]string{},
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) PutBranch(b Branch) {
	m.mu.Lock(); defer m.mu.Unlock()
	m.branches[b.ID] = b
}

func (m *Memory) PutBranchMapping(bm BranchMapping) {
	m.mu.Lock(); defer m.mu.Unlock()
	m.mappings[bm.ProviderID+"|"+bm.ProviderMerchantID] = bm.BranchID
}

func (m *Memory) PutProduct(p Product) {
	m.mu.Lock(); defer m.mu.Unlock()
	if p.ID == "" { p.ID = uuid.New().String() }
	m.products[p.CompanyID] = append(m.products[p.CompanyID], p)
}

func (m *Memory) LookupBranchMapping(ctx context.Context, providerID, providerMerchantID string) (*BranchRef, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	id, ok := m.mappings[providerID+"|"+providerMerchantID]
	if !ok { return nil, nil }
	b, ok := m.branches[id]
	if !ok { return nil, nil }
	return &BranchRef{BranchID: b.ID, CompanyID: b.CompanyID}, nil
}

func (m *Memory) FindBranch(ctx context.Context, idOrCode string) (*BranchRef, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	if b, ok := m.branches[idOrCode]; ok {
		return &BranchRef{BranchID: b.ID, CompanyID: b.CompanyID}, nil
	}
	for _, b := range m.branches {
		if b.Code != "" && strings.EqualFold(b.Code, idOrCode) {
			return &BranchRef{BranchID: b.ID, CompanyID: b.CompanyID}, nil
		}
	}
	return nil, nil
}

func (m *Memory) FindOrCreateCustomer(ctx context.Context, phone, companyID string, data CustomerData) (Customer, bool, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	key := companyID + "|" + phone
	if id, ok := m.byPhone[key]; ok {
		return m.customers[id], false, nil
	}
	c := Customer{ID: uuid.New().String(), CompanyID: companyID, Phone: phone, Name: data.Name, Email: data.Email, CreatedAt: time.Now().UTC()}
	m.customers[c.ID] = c
	m.byPhone[key] = c.ID
	if data.Address != nil {
		m.addresses[c.ID] = append(m.addresses[c.ID], CustomerAddress{ID: uuid.New().String(), CustomerID: c.ID, IsDefault: true, Address: *data.Address})
	}
	return c, true, nil
}

func (m *Memory) AddCustomerAddress(ctx context.Context, customerID string, addr model.Address) (bool, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	if _, ok := m.customers[customerID]; !ok { return false, ErrNotFound }
	for _, a := range m.addresses[customerID] {
		if sameAddress(a.Address, addr) { return false, nil }
	}
	m.addresses[customerID] = append(m.addresses[customerID], CustomerAddress{ID: uuid.New().String(), CustomerID: customerID, Address: addr})
	return true, nil
}

// CustomerAddresses returns a copy of the stored addresses, default first.
func (m *Memory) CustomerAddresses(customerID string) []CustomerAddress {
	m.mu.Lock(); defer m.mu.Unlock()
	return append([]CustomerAddress(nil), m.addresses[customerID]...)
}

func (m *Memory) CountCustomers(ctx context.Context, companyID string) (int, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	n := 0
	for _, c := range m.customers {
		if c.CompanyID == companyID { n++ }
	}
	return n, nil
}

// sameAddress is the uniqueness key of an address: street + building.
func sameAddress(a, b model.Address) bool {
	return strings.EqualFold(strings.TrimSpace(a.Street), strings.TrimSpace(b.Street)) &&
		strings.EqualFold(strings.TrimSpace(a.Building), strings.TrimSpace(b.Building))
}

func (m *Memory) FindProduct(ctx context.Context, companyID string, externalIDs []string, name string) (*Product, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	catalog := m.products[companyID]
	for _, want := range externalIDs {
		if want == "" { continue }
		for i := range catalog {
			for _, ext := range catalog[i].ExternalIDs {
				if ext == want { p := catalog[i]; return &p, nil }
			}
		}
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" { return nil, nil }
	for i := range catalog {
		if strings.Contains(strings.ToLower(catalog[i].Name), needle) {
			p := catalog[i]
			return &p, nil
		}
	}
	return nil, nil
}

// SaveOrder upserts by (orderSource, externalOrderId). An existing order keeps
// its status; only UpdateOrderStatus moves it.
func (m *Memory) SaveOrder(ctx context.Context, o model.InternalOrder) (string, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	key := o.OrderSource + "|" + o.ExternalOrderID
	id, ok := m.orderKeys[key]
	if ok {
		o.Status = m.orders[id].Status
	} else {
		id = uuid.New().String()
		m.orderKeys[key] = id
	}
	m.orders[id] = o
	return id, nil
}

func (m *Memory) UpdateOrderStatus(ctx context.Context, source, externalOrderID string, status model.OrderStatus) (bool, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	id, ok := m.orderKeys[source+"|"+externalOrderID]
	if !ok { return false, nil }
	o := m.orders[id]
	o.Status = status
	m.orders[id] = o
	return true, nil
}

func (m *Memory) Orders() []model.InternalOrder {
	m.mu.Lock(); defer m.mu.Unlock()
	out := make([]model.InternalOrder, 0, len(m.orders))
	for _, o := range m.orders { out = append(out, o) }
	return out
}
