package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"checkout-engine/internal/models"
)

// Adapter isolates one payment provider's protocol behind the two
// operations the engine needs: creating a payable session and turning a
// raw notification into a normalized event. Adapter selection is a
// registry lookup by provider name, never a type check on the order.
type Adapter interface {
	Name() string
	StockMode() models.StockMode
	CreateSession(ctx context.Context, order *models.Order, items []models.OrderLineItem) (*Session, error)
	ParseEvent(payload []byte) (*Event, error)
	FetchEvent(ctx context.Context, externalEventID string) (*Event, error)
}

// Session is the payable artifact returned by a provider: a hosted
// checkout URL plus the provider's transaction reference.
type Session struct {
	TxRef       string
	RedirectURL string
}

// EventKind is the normalized taxonomy of provider notifications.
// Unknown kinds are acknowledged and ignored, never a handler crash.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventPaymentConfirmed
	EventPaymentFailed
	EventPaymentCanceled
	EventChargeRefunded
	EventDisputeOpened
	EventDisputeWon
	EventDisputeLost
	EventMarketplaceOrder
)

func (k EventKind) String() string {
	switch k {
	case EventPaymentConfirmed:
		return "payment_confirmed"
	case EventPaymentFailed:
		return "payment_failed"
	case EventPaymentCanceled:
		return "payment_canceled"
	case EventChargeRefunded:
		return "charge_refunded"
	case EventDisputeOpened:
		return "dispute_opened"
	case EventDisputeWon:
		return "dispute_won"
	case EventDisputeLost:
		return "dispute_lost"
	case EventMarketplaceOrder:
		return "marketplace_order"
	}
	return "unknown"
}

// Event is a provider notification normalized for the reconciler.
// OrderID is zero when the provider did not echo back metadata; the
// reconciler then resolves the order by TxRef/ChargeRef.
type Event struct {
	Provider     string
	ExternalID   string
	Type         string // provider-native type string
	Kind         EventKind
	OrderID      int64
	TxRef        string
	ChargeRef    string
	Amount       int64
	Method       string
	Installments int
	Reason       string
	Raw          json.RawMessage

	// Order is set only for EventMarketplaceOrder
	Order *ExternalOrder
}

// ExternalOrder carries a marketplace-created order's data. Items are
// matched to internal variants by SKU at reconciliation time.
type ExternalOrder struct {
	ExternalRef     string
	CustomerName    string
	CustomerEmail   string
	ShippingAddress string
	ShippingCity    string
	ShippingZip     string
	ShippingCost    int64
	DiscountAmount  int64
	Items           []ExternalItem
}

// ExternalItem is one externally-supplied line item
type ExternalItem struct {
	SKU       string
	Title     string
	Quantity  int
	UnitPrice int64
}

// ErrMalformedPayload marks input the adapter could not parse at all.
// It is the only reconciliation failure surfaced as an HTTP error.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// ErrUnknownProvider is returned by registry lookups for unconfigured names
var ErrUnknownProvider = errors.New("unknown payment provider")

// Registry holds the configured adapters keyed by provider name
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a registry from the enabled adapters
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter for a provider name
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return a, nil
}

// Names returns the configured provider names
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
