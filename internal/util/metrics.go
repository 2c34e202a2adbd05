package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Total number of committed checkouts",
	})

	CheckoutReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_replays_total",
		Help: "Total number of checkouts answered from an idempotency key",
	})

	CheckoutFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_failures_total",
		Help: "Total number of rejected or rolled back checkouts",
	}, []string{"reason"})

	OrderTransactionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_transaction_latency_seconds",
		Help:    "Latency of the order write transaction",
		Buckets: prometheus.DefBuckets,
	})

	StatusUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_status_updates_total",
		Help: "Total number of committed fulfillment status updates",
	}, []string{"status"})

	StatusUpdateFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_status_update_failures_total",
		Help: "Total number of rejected or rolled back fulfillment status updates",
	}, []string{"reason"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_published_total",
		Help: "Total number of domain events written to the broker",
	}, []string{"event_type"})

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
