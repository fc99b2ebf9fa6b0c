package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkout-engine/config"
	"checkout-engine/internal/broker"
	"checkout-engine/internal/gateway"
	"checkout-engine/internal/models"
	"checkout-engine/internal/redisclient"
	"checkout-engine/internal/store"
	"checkout-engine/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// CheckoutService is the checkout orchestrator: it validates the cart,
// creates the order aggregate and ledger reservations in one
// transaction, then asks the selected gateway for a redirect target.
type CheckoutService struct {
	store          *store.Store
	redis          *redisclient.Client
	stock          *StockService
	gateways       *gateway.Registry
	eventPublisher *broker.EventPublisher
	cfg            config.CheckoutConfig
	logger         *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	store *store.Store,
	redis *redisclient.Client,
	stock *StockService,
	gateways *gateway.Registry,
	eventPublisher *broker.EventPublisher,
	cfg config.CheckoutConfig,
) *CheckoutService {
	return &CheckoutService{
		store:          store,
		redis:          redis,
		stock:          stock,
		gateways:       gateways,
		eventPublisher: eventPublisher,
		cfg:            cfg,
		logger:         util.GetLogger(),
	}
}

// CreateCheckoutRequest represents a checkout request
type CreateCheckoutRequest struct {
	Items           []CheckoutItemRequest `json:"items" binding:"required,min=1"`
	CustomerName    string                `json:"customer_name"`
	CustomerEmail   string                `json:"customer_email"`
	CustomerPhone   string                `json:"customer_phone"`
	ShippingAddress string                `json:"shipping_address"`
	ShippingCity    string                `json:"shipping_city"`
	ShippingZip     string                `json:"shipping_zip"`
	CouponCode      string                `json:"coupon_code,omitempty"`
	Provider        string                `json:"provider,omitempty"`
	Attribution     map[string]string     `json:"attribution,omitempty"`
	IdempotencyKey  string                `json:"idempotency_key,omitempty"`
}

// CheckoutItemRequest represents one cart item
type CheckoutItemRequest struct {
	VariantID int64 `json:"variant_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// CreateCheckoutResponse is returned to the storefront
type CreateCheckoutResponse struct {
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	RedirectURL string `json:"redirect_url"`
	Status      string `json:"status"`
}

// CreateCheckout creates a pending order with ledger reservations and
// returns the gateway redirect target
func (cs *CheckoutService) CreateCheckout(ctx context.Context, req *CreateCheckoutRequest) (*CreateCheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateCheckout")
	defer span.End()

	if len(req.Items) == 0 {
		util.CheckoutsFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, ErrEmptyCart
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			util.CheckoutsFailedTotal.WithLabelValues("invalid_quantity").Inc()
			return nil, fmt.Errorf("%w: variant %d", ErrInvalidQuantity, item.VariantID)
		}
	}

	provider := req.Provider
	if provider == "" {
		provider = cs.cfg.DefaultProvider
	}
	adapter, err := cs.gateways.Get(provider)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("unknown_provider").Inc()
		return nil, err
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	existing, err := cs.lookupByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		cs.logger.Info("Duplicate checkout request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", existing.ID))
		resp := &CreateCheckoutResponse{
			OrderID:     existing.ID,
			OrderNumber: existing.OrderNumber,
			Status:      existing.Status,
		}
		// a still-pending duplicate is usually a client retry after a
		// lost response; hand back a fresh payment target so the
		// customer can finish paying
		if existing.Status == models.OrderStatusPending {
			resp.RedirectURL = cs.resumeCheckout(ctx, existing)
		}
		return resp, nil
	}

	variants, err := cs.loadVariants(ctx, req.Items)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	for _, item := range req.Items {
		if err := cs.stock.CheckAvailability(ctx, item.VariantID, item.Quantity); err != nil {
			util.CheckoutsFailedTotal.WithLabelValues("insufficient_stock").Inc()
			return nil, err
		}
	}

	var subtotal int64
	lineItems := make([]models.OrderLineItem, 0, len(req.Items))
	for _, item := range req.Items {
		v := variants[item.VariantID]
		unitPrice := ResolveUnitPrice(v)
		lineTotal := unitPrice * int64(item.Quantity)
		subtotal += lineTotal

		lineItems = append(lineItems, models.OrderLineItem{
			ProductID:   v.ProductID,
			VariantID:   v.ID,
			ProductName: v.ProductName,
			VariantName: v.Name,
			ImageURL:    v.ImageURL,
			Quantity:    item.Quantity,
			UnitPrice:   unitPrice,
			LineTotal:   lineTotal,
		})
	}

	var discount int64
	var couponCode sql.NullString
	if req.CouponCode != "" {
		coupon, err := cs.store.GetCouponByCode(ctx, req.CouponCode)
		if err != nil {
			return nil, fmt.Errorf("failed to look up coupon: %w", err)
		}
		if coupon != nil {
			discount = coupon.Discount
			if discount > subtotal {
				discount = subtotal
			}
			couponCode = sql.NullString{String: coupon.Code, Valid: true}
		}
	}

	order := &models.Order{
		Status:          models.OrderStatusPending,
		Subtotal:        subtotal,
		ShippingCost:    cs.cfg.ShippingFlatCents,
		DiscountAmount:  discount,
		TotalAmount:     subtotal - discount + cs.cfg.ShippingFlatCents,
		Gateway:         provider,
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		ShippingAddress: req.ShippingAddress,
		ShippingCity:    req.ShippingCity,
		ShippingZip:     req.ShippingZip,
		CouponCode:      couponCode,
		GuestToken:      uuid.New().String(),
		IdempotencyKey:  req.IdempotencyKey,
	}

	movementType := adapter.StockMode().CheckoutMovement()

	// one transaction: a failure anywhere before the gateway call
	// leaves no order behind
	err = cs.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := cs.store.CreateOrderTx(ctx, tx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		for i := range lineItems {
			lineItems[i].OrderID = order.ID
			if err := cs.store.CreateLineItemTx(ctx, tx, &lineItems[i]); err != nil {
				return fmt.Errorf("failed to create line item: %w", err)
			}
		}
		for _, item := range lineItems {
			movement := &models.InventoryMovement{
				VariantID: item.VariantID,
				OrderID:   order.ID,
				Type:      movementType,
				Quantity:  item.Quantity,
			}
			if err := cs.store.InsertMovementTx(ctx, tx, movement); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrStockExhausted) {
			util.CheckoutsFailedTotal.WithLabelValues("insufficient_stock").Inc()
			return nil, fmt.Errorf("%w: %v", ErrInsufficientStock, err)
		}
		util.CheckoutsFailedTotal.WithLabelValues("db_error").Inc()
		return nil, err
	}

	util.CheckoutsCreatedTotal.WithLabelValues(provider).Inc()
	cs.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("gateway", provider),
		zap.Int64("total", order.TotalAmount),
		zap.Any("attribution", req.Attribution))

	for _, item := range lineItems {
		cs.stock.MirrorDebit(ctx, item.VariantID, item.Quantity)
	}

	ttl := time.Duration(cs.cfg.IdempotencyTTLSec) * time.Second
	if err := cs.redis.SetIdempotencyKey(ctx, req.IdempotencyKey, order.ID, ttl); err != nil {
		cs.logger.Warn("Failed to cache idempotency key", zap.Error(err))
	}

	cs.publishOrderCreated(ctx, order, lineItems)

	redirectURL, err := cs.createGatewaySession(ctx, adapter, order, lineItems)
	if err != nil {
		// order stays pending for reconciliation or support-assisted
		// recovery; it is never silently deleted here
		util.GatewayErrorsTotal.WithLabelValues(provider, "create_session").Inc()
		cs.logger.Error("Gateway session creation failed",
			zap.Int64("order_id", order.ID),
			zap.String("gateway", provider),
			zap.Error(err))

		if cs.cfg.FallbackEnabled {
			redirectURL = fmt.Sprintf("%s/%s?token=%s", cs.cfg.FallbackBaseURL, order.OrderNumber, order.GuestToken)
		} else {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
	}

	return &CreateCheckoutResponse{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		RedirectURL: redirectURL,
		Status:      order.Status,
	}, nil
}

// resumeCheckout re-creates a gateway session for a pending order that
// a duplicate request resurfaced. Session references are not durable
// enough to replay, so a new session is opened; failures degrade to the
// fallback page rather than erroring the retry.
func (cs *CheckoutService) resumeCheckout(ctx context.Context, order *models.Order) string {
	adapter, err := cs.gateways.Get(order.Gateway)
	if err == nil {
		var items []models.OrderLineItem
		if items, err = cs.store.GetLineItemsByOrderID(ctx, order.ID); err == nil {
			var url string
			if url, err = cs.createGatewaySession(ctx, adapter, order, items); err == nil {
				return url
			}
			util.GatewayErrorsTotal.WithLabelValues(order.Gateway, "create_session").Inc()
		}
	}

	cs.logger.Warn("Could not resume payment for duplicate checkout",
		zap.Int64("order_id", order.ID),
		zap.String("gateway", order.Gateway),
		zap.Error(err))

	if cs.cfg.FallbackEnabled {
		return fmt.Sprintf("%s/%s?token=%s", cs.cfg.FallbackBaseURL, order.OrderNumber, order.GuestToken)
	}
	return ""
}

// lookupByIdempotencyKey checks the Redis key cache first and falls
// back to the unique column on orders
func (cs *CheckoutService) lookupByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	if orderID, err := cs.redis.GetIdempotencyKey(ctx, key); err == nil && orderID != 0 {
		if order, err := cs.store.GetOrderByID(ctx, orderID); err == nil {
			return order, nil
		}
	}
	return cs.store.GetOrderByIdempotencyKey(ctx, key)
}

func (cs *CheckoutService) createGatewaySession(ctx context.Context, adapter gateway.Adapter, order *models.Order, items []models.OrderLineItem) (string, error) {
	start := time.Now()
	session, err := adapter.CreateSession(ctx, order, items)
	util.GatewaySessionLatency.WithLabelValues(adapter.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}

	if err := cs.store.UpdateOrderGatewayRefs(ctx, order.ID, session.TxRef, ""); err != nil {
		cs.logger.Error("Failed to store gateway session ref",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
	return session.RedirectURL, nil
}

func (cs *CheckoutService) publishOrderCreated(ctx context.Context, order *models.Order, items []models.OrderLineItem) {
	itemData := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		itemData = append(itemData, models.OrderItemData{
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Gateway:     order.Gateway,
		TotalAmount: order.TotalAmount,
		Items:       itemData,
	}

	if err := cs.eventPublisher.PublishOrderCreated(ctx, event); err != nil {
		cs.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

// OrderDetails is the full customer-facing order view
type OrderDetails struct {
	Order    *models.Order           `json:"order"`
	Items    []models.OrderLineItem  `json:"items"`
	Payments []models.Payment        `json:"payments"`
}

// GetOrder retrieves an order with its line items and payments
func (cs *CheckoutService) GetOrder(ctx context.Context, orderID int64) (*OrderDetails, error) {
	order, err := cs.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}

	items, err := cs.store.GetLineItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	payments, err := cs.store.GetPaymentsByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &OrderDetails{Order: order, Items: items, Payments: payments}, nil
}

func (cs *CheckoutService) loadVariants(ctx context.Context, items []CheckoutItemRequest) (map[int64]*models.Variant, error) {
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.VariantID
	}

	variants, err := cs.store.GetVariantsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	variantMap := make(map[int64]*models.Variant, len(variants))
	for i := range variants {
		variantMap[variants[i].ID] = &variants[i]
	}

	for _, item := range items {
		if _, ok := variantMap[item.VariantID]; !ok {
			return nil, fmt.Errorf("%w: %d", ErrVariantNotFound, item.VariantID)
		}
	}
	return variantMap, nil
}
