package integrations

import (
	"strings"

	"orderbridge/internal/model"
)

// StatusTable maps canonical order statuses to a provider vocabulary and back.
// Unmapped values fall back to the safe defaults instead of failing.
type StatusTable struct {
	toProvider       map[model.OrderStatus]string
	fromProvider     map[string]model.OrderStatus
	providerDefault  string
	canonicalDefault model.OrderStatus
}

// NewStatusTable builds both directions from the canonical->provider pairs.
// aliases adds extra provider spellings for the reverse direction.
func NewStatusTable(pairs map[model.OrderStatus]string, aliases map[string]model.OrderStatus, providerDefault string) StatusTable {
	t := StatusTable{
		toProvider:       make(map[model.OrderStatus]string, len(pairs)),
		fromProvider:     make(map[string]model.OrderStatus, len(pairs)+len(aliases)),
		providerDefault:  providerDefault,
		canonicalDefault: model.OrderStatusPending,
	}
	for c, p := range pairs {
		t.toProvider[c] = p
		t.fromProvider[strings.ToUpper(p)] = c
	}
	for p, c := range aliases {
		t.fromProvider[strings.ToUpper(p)] = c
	}
	return t
}

func (t StatusTable) ToProvider(s model.OrderStatus) string {
	if p, ok := t.toProvider[model.OrderStatus(strings.ToLower(string(s)))]; ok {
		return p
	}
	return t.providerDefault
}

func (t StatusTable) FromProvider(s string) model.OrderStatus {
	if c, ok := t.fromProvider[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return c
	}
	return t.canonicalDefault
}
