package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reservation results.
const (
	ResultOK           = "ok"
	ResultInsufficient = "insufficient"
	ResultNotFound     = "not_found"
	ResultConflict     = "conflict"
	ResultError        = "error"
)

// Compensation steps.
const (
	StepRollback  = "rollback"
	StepUnrelease = "unrelease"
	StepReacquire = "reacquire"
)

var (
	StockReservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_stock_reservations_total",
		Help: "Stock reservation attempts by result.",
	}, []string{"result"})

	StockReleases = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shop_stock_releases_total",
		Help: "Successful stock releases.",
	})

	StockCASRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shop_stock_cas_retries_total",
		Help: "Stock writes retried after losing a version check.",
	})

	CompensationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_compensation_failures_total",
		Help: "Stock compensations that did not complete, by step. Reacquire failures leave a live order without its stock.",
	}, []string{"step"})

	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shop_orders_created_total",
		Help: "Orders persisted.",
	})

	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_order_transitions_total",
		Help: "Order status transitions.",
	}, []string{"from", "to"})

	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_event_publish_failures_total",
		Help: "Order events that could not be published.",
	}, []string{"type"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shop_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
