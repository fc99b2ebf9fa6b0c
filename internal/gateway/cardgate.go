package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"checkout-engine/config"
	"checkout-engine/internal/models"
)

// CardGate is the hosted card-checkout provider: synchronous session
// creation, asynchronous event stream.
type CardGate struct {
	baseURL   string
	apiKey    string
	stockMode models.StockMode
	client    *http.Client
}

// NewCardGate creates a CardGate adapter from config
func NewCardGate(cfg config.GatewayConfig) *CardGate {
	return &CardGate{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		stockMode: models.StockMode(cfg.StockMode),
		client:    &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	}
}

func (g *CardGate) Name() string                { return "cardgate" }
func (g *CardGate) StockMode() models.StockMode { return g.stockMode }

type cardgateSessionRequest struct {
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	LineItems []cardgateItem    `json:"line_items"`
	Metadata  map[string]string `json:"metadata"`
}

type cardgateItem struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type cardgateSessionResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateSession creates a hosted checkout session. The internal order
// id travels in session metadata so webhook events can be resolved
// without a reference lookup.
func (g *CardGate) CreateSession(ctx context.Context, order *models.Order, items []models.OrderLineItem) (*Session, error) {
	reqBody := cardgateSessionRequest{
		Amount:   order.TotalAmount,
		Currency: "usd",
		Metadata: map[string]string{
			"order_id": strconv.FormatInt(order.ID, 10),
		},
	}
	for _, item := range items {
		reqBody.LineItems = append(reqBody.LineItems, cardgateItem{
			Name:      item.ProductName,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	var resp cardgateSessionResponse
	if err := g.post(ctx, "/v1/checkout/sessions", reqBody, &resp); err != nil {
		return nil, fmt.Errorf("cardgate session creation failed: %w", err)
	}

	return &Session{TxRef: resp.ID, RedirectURL: resp.URL}, nil
}

type cardgateEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID           string            `json:"id"`
			Session      string            `json:"session"`
			Charge       string            `json:"charge"`
			Amount       int64             `json:"amount"`
			Method       string            `json:"payment_method"`
			Installments int               `json:"installments"`
			Reason       string            `json:"reason"`
			Status       string            `json:"status"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// ParseEvent normalizes a CardGate webhook envelope
func (g *CardGate) ParseEvent(payload []byte) (*Event, error) {
	var env cardgateEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: missing event id or type", ErrMalformedPayload)
	}

	obj := env.Data.Object
	ev := &Event{
		Provider:     g.Name(),
		ExternalID:   env.ID,
		Type:         env.Type,
		TxRef:        obj.Session,
		ChargeRef:    obj.Charge,
		Amount:       obj.Amount,
		Method:       obj.Method,
		Installments: obj.Installments,
		Reason:       obj.Reason,
		Raw:          json.RawMessage(payload),
	}
	if ev.TxRef == "" {
		ev.TxRef = obj.ID
	}
	if id, err := strconv.ParseInt(obj.Metadata["order_id"], 10, 64); err == nil {
		ev.OrderID = id
	}

	switch env.Type {
	case "checkout.session.completed", "payment.confirmed":
		ev.Kind = EventPaymentConfirmed
	case "payment.failed":
		ev.Kind = EventPaymentFailed
	case "checkout.session.expired", "payment.canceled":
		ev.Kind = EventPaymentCanceled
	case "charge.refunded":
		ev.Kind = EventChargeRefunded
	case "charge.dispute.created":
		ev.Kind = EventDisputeOpened
	case "charge.dispute.closed":
		if obj.Status == "won" {
			ev.Kind = EventDisputeWon
		} else {
			ev.Kind = EventDisputeLost
		}
	default:
		ev.Kind = EventUnknown
	}

	return ev, nil
}

// FetchEvent re-fetches a historical event from CardGate by id. The
// provider is the source of truth for replays, not the stored payload.
func (g *CardGate) FetchEvent(ctx context.Context, externalEventID string) (*Event, error) {
	body, err := g.get(ctx, "/v1/events/"+externalEventID)
	if err != nil {
		return nil, fmt.Errorf("cardgate event fetch failed: %w", err)
	}
	return g.ParseEvent(body)
}

func (g *CardGate) post(ctx context.Context, path string, reqBody, respBody interface{}) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("cardgate returned %d: %s", resp.StatusCode, b)
	}

	return json.NewDecoder(resp.Body).Decode(respBody)
}

func (g *CardGate) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("event not found: %s", path)
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("cardgate returned %d: %s", resp.StatusCode, b)
	}

	return io.ReadAll(resp.Body)
}
