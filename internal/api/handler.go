package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"checkout-engine/internal/gateway"
	"checkout-engine/internal/service"
	"checkout-engine/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	checkoutService *service.CheckoutService
	reconciler      *service.ReconcilerService
	replayer        *service.ReplayerService
	stockSync       *service.StockSyncService
	adminToken      string
}

// NewHandler creates a new HTTP handler
func NewHandler(
	checkoutService *service.CheckoutService,
	reconciler *service.ReconcilerService,
	replayer *service.ReplayerService,
	stockSync *service.StockSyncService,
	adminToken string,
) *Handler {
	return &Handler{
		checkoutService: checkoutService,
		reconciler:      reconciler,
		replayer:        replayer,
		stockSync:       stockSync,
		adminToken:      adminToken,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/:provider", h.handleWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/checkout", h.createCheckout)
		v1.GET("/orders/:id", h.getOrder)
	}

	admin := v1.Group("/admin")
	admin.Use(adminAuth(h.adminToken))
	{
		admin.GET("/events/failed", h.listFailedEvents)
		admin.POST("/events/replay", h.replayEvent)
		admin.POST("/stock/sync", h.syncStock)
		admin.POST("/sku-map", h.mapExternalSKU)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createCheckout handles checkout creation
func (h *Handler) createCheckout(c *gin.Context) {
	var req service.CreateCheckoutRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
			"code":  "VALIDATION_ERROR",
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.checkoutService.CreateCheckout(c.Request.Context(), &req)
	if err != nil {
		c.JSON(checkoutStatus(err), gin.H{
			"error": err.Error(),
			"code":  service.ErrorCode(err),
		})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// checkoutStatus maps a checkout error to an HTTP status
func checkoutStatus(err error) int {
	switch service.ErrorCode(err) {
	case "VALIDATION_ERROR", "VARIANT_NOT_FOUND":
		return http.StatusBadRequest
	case "INSUFFICIENT_STOCK":
		return http.StatusConflict
	case "GATEWAY_ERROR":
		return http.StatusBadGateway
	case "ORDER_NOT_FOUND", "EVENT_NOT_FOUND":
		return http.StatusNotFound
	}
	if errors.Is(err, gateway.ErrUnknownProvider) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// getOrder returns an order with its line items. Guest orders require
// the access token issued at checkout time.
func (h *Handler) getOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	details, err := h.checkoutService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Order not found",
			"code":  "ORDER_NOT_FOUND",
		})
		return
	}

	if token := c.Query("token"); token != details.Order.GuestToken {
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid access token"})
		return
	}

	c.JSON(http.StatusOK, details)
}

// handleWebhook receives a provider notification. Parseable input is
// always acknowledged with 200 even when processing fails internally;
// only unparseable payloads and unknown providers are rejected.
func (h *Handler) handleWebhook(c *gin.Context) {
	provider := c.Param("provider")

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil || len(payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Empty or unreadable body"})
		return
	}

	if err := h.reconciler.Handle(c.Request.Context(), provider, payload); err != nil {
		switch {
		case errors.Is(err, gateway.ErrUnknownProvider):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, gateway.ErrMalformedPayload):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			// should not happen: internal failures are recorded, not returned
			c.JSON(http.StatusOK, gin.H{"received": true})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// ReplayRequest names the event to replay
type ReplayRequest struct {
	Provider string `json:"provider" binding:"required"`
	EventID  string `json:"event_id" binding:"required"`
}

// listFailedEvents returns events whose processing recorded an error
func (h *Handler) listFailedEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	events, err := h.replayer.ListFailed(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// replayEvent re-runs reconciliation for a previously seen event
func (h *Handler) replayEvent(c *gin.Context) {
	var req ReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	eventType, err := h.replayer.Replay(c.Request.Context(), req.Provider, req.EventID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrEventNotSeen) || errors.Is(err, gateway.ErrUnknownProvider) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"event_type": eventType,
	})
}

// SKUMapRequest maps a provider SKU to an internal variant
type SKUMapRequest struct {
	Provider    string `json:"provider" binding:"required"`
	ExternalSKU string `json:"external_sku" binding:"required"`
	VariantID   int64  `json:"variant_id" binding:"required"`
}

// mapExternalSKU registers a marketplace SKU mapping so flagged orders
// stop recurring
func (h *Handler) mapExternalSKU(c *gin.Context) {
	var req SKUMapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	err := h.reconciler.MapExternalSKU(c.Request.Context(), req.Provider, req.ExternalSKU, req.VariantID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, gateway.ErrUnknownProvider) || errors.Is(err, service.ErrVariantNotFound) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// syncStock triggers an ERP stock counter sync
func (h *Handler) syncStock(c *gin.Context) {
	result, err := h.stockSync.Sync(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// adminAuth guards admin routes with a shared service token
func adminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" || c.GetHeader("Authorization") != "Bearer "+token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
