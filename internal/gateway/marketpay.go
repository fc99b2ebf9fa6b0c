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

// MarketPay is the marketplace-checkout provider: synchronous
// payment-link creation, asynchronous webhooks with a richer taxonomy
// including disputes and marketplace-hosted order creation.
type MarketPay struct {
	baseURL   string
	apiKey    string
	stockMode models.StockMode
	client    *http.Client
}

// NewMarketPay creates a MarketPay adapter from config
func NewMarketPay(cfg config.GatewayConfig) *MarketPay {
	return &MarketPay{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		stockMode: models.StockMode(cfg.StockMode),
		client:    &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	}
}

func (g *MarketPay) Name() string                { return "marketpay" }
func (g *MarketPay) StockMode() models.StockMode { return g.stockMode }

type marketpayLinkRequest struct {
	Total       int64              `json:"total"`
	Reference   string             `json:"reference"`
	ExternalRef string             `json:"external_reference"`
	Items       []marketpayNewItem `json:"items"`
}

type marketpayNewItem struct {
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type marketpayLinkResponse struct {
	PaymentID string `json:"payment_id"`
	InitPoint string `json:"init_point"`
}

// CreateSession creates a payment link. The internal order id travels
// in the external_reference field.
func (g *MarketPay) CreateSession(ctx context.Context, order *models.Order, items []models.OrderLineItem) (*Session, error) {
	reqBody := marketpayLinkRequest{
		Total:       order.TotalAmount,
		Reference:   order.OrderNumber,
		ExternalRef: strconv.FormatInt(order.ID, 10),
	}
	for _, item := range items {
		reqBody.Items = append(reqBody.Items, marketpayNewItem{
			Title:     item.ProductName + " " + item.VariantName,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/payment_links", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketpay link creation failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("marketpay returned %d: %s", resp.StatusCode, b)
	}

	var linkResp marketpayLinkResponse
	if err := json.NewDecoder(resp.Body).Decode(&linkResp); err != nil {
		return nil, err
	}

	return &Session{TxRef: linkResp.PaymentID, RedirectURL: linkResp.InitPoint}, nil
}

type marketpayEnvelope struct {
	EventID  string `json:"event_id"`
	Topic    string `json:"topic"`
	Resource struct {
		PaymentID    string `json:"payment_id"`
		ChargeID     string `json:"charge_id"`
		ExternalRef  string `json:"external_reference"`
		Amount       int64  `json:"amount"`
		Method       string `json:"payment_method"`
		Installments int    `json:"installments"`
		Reason       string `json:"status_detail"`
		Resolution   string `json:"resolution"`
		Order        *struct {
			Reference string `json:"reference"`
			Buyer     struct {
				Name  string `json:"name"`
				Email string `json:"email"`
			} `json:"buyer"`
			Shipping struct {
				Address string `json:"address"`
				City    string `json:"city"`
				Zip     string `json:"zip"`
				Cost    int64  `json:"cost"`
			} `json:"shipping"`
			Discount int64 `json:"discount"`
			Items    []struct {
				SKU       string `json:"sku"`
				Title     string `json:"title"`
				Quantity  int    `json:"quantity"`
				UnitPrice int64  `json:"unit_price"`
			} `json:"items"`
		} `json:"order"`
	} `json:"resource"`
}

// ParseEvent normalizes a MarketPay webhook envelope. Dispute and
// refund topics do not echo back the external reference, so OrderID
// stays zero and the reconciler resolves by payment/charge reference.
func (g *MarketPay) ParseEvent(payload []byte) (*Event, error) {
	var env marketpayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.EventID == "" || env.Topic == "" {
		return nil, fmt.Errorf("%w: missing event id or topic", ErrMalformedPayload)
	}

	res := env.Resource
	ev := &Event{
		Provider:     g.Name(),
		ExternalID:   env.EventID,
		Type:         env.Topic,
		TxRef:        res.PaymentID,
		ChargeRef:    res.ChargeID,
		Amount:       res.Amount,
		Method:       res.Method,
		Installments: res.Installments,
		Reason:       res.Reason,
		Raw:          json.RawMessage(payload),
	}
	if id, err := strconv.ParseInt(res.ExternalRef, 10, 64); err == nil {
		ev.OrderID = id
	}

	switch env.Topic {
	case "payment.approved":
		ev.Kind = EventPaymentConfirmed
	case "payment.rejected":
		ev.Kind = EventPaymentFailed
	case "payment.cancelled":
		ev.Kind = EventPaymentCanceled
	case "payment.refunded":
		ev.Kind = EventChargeRefunded
	case "dispute.created":
		ev.Kind = EventDisputeOpened
	case "dispute.resolved":
		if res.Resolution == "seller_won" {
			ev.Kind = EventDisputeWon
		} else {
			ev.Kind = EventDisputeLost
		}
	case "order.created":
		ev.Kind = EventMarketplaceOrder
		if res.Order != nil {
			ext := &ExternalOrder{
				ExternalRef:     res.Order.Reference,
				CustomerName:    res.Order.Buyer.Name,
				CustomerEmail:   res.Order.Buyer.Email,
				ShippingAddress: res.Order.Shipping.Address,
				ShippingCity:    res.Order.Shipping.City,
				ShippingZip:     res.Order.Shipping.Zip,
				ShippingCost:    res.Order.Shipping.Cost,
				DiscountAmount:  res.Order.Discount,
			}
			for _, it := range res.Order.Items {
				ext.Items = append(ext.Items, ExternalItem{
					SKU:       it.SKU,
					Title:     it.Title,
					Quantity:  it.Quantity,
					UnitPrice: it.UnitPrice,
				})
			}
			ev.Order = ext
		}
	default:
		ev.Kind = EventUnknown
	}

	return ev, nil
}

// FetchEvent re-fetches a historical event from MarketPay by id
func (g *MarketPay) FetchEvent(ctx context.Context, externalEventID string) (*Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/events/"+externalEventID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketpay event fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("event not found: %s", externalEventID)
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("marketpay returned %d: %s", resp.StatusCode, b)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return g.ParseEvent(body)
}
