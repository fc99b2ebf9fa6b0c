package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_created_total",
		Help: "Total number of orders created through checkout",
	}, []string{"gateway"})

	CheckoutsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_failed_total",
		Help: "Total number of failed checkout attempts",
	}, []string{"reason"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total number of webhook events received",
	}, []string{"provider", "type"})

	WebhookDuplicatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_duplicates_total",
		Help: "Total number of webhook events skipped as already processed",
	}, []string{"provider"})

	WebhookFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_failures_total",
		Help: "Total number of webhook events recorded with a processing error",
	}, []string{"provider"})

	EventsReplayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_replayed_total",
		Help: "Total number of manually replayed webhook events",
	}, []string{"provider", "result"})

	StockRestoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_restored_total",
		Help: "Total units of stock restored by compensating movements",
	})

	StockCheckFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_check_failed_total",
		Help: "Total number of availability check rejections",
	}, []string{"reason"})

	GatewaySessionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_session_latency_seconds",
		Help:    "Latency of gateway session creation calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	GatewayErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Total number of failed gateway calls",
	}, []string{"provider", "op"})

	StockSyncVariantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_sync_variants_total",
		Help: "Total number of variants processed by ERP stock sync",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
