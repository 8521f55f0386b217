package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CartActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_actions_total",
		Help: "Total number of cart actions dispatched",
	}, []string{"action"})

	CartPersistFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_persist_failures_total",
		Help: "Total number of cart snapshots that failed to persist",
	})

	FeeLookupLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fee_lookup_latency_seconds",
		Help:    "Latency of tax and shipping rate lookups",
		Buckets: prometheus.DefBuckets,
	}, []string{"fee"})

	FeeLookupFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fee_lookup_failures_total",
		Help: "Total number of fee lookups that degraded to zero",
	}, []string{"fee"})

	FeeSyncStaleTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fee_sync_stale_total",
		Help: "Total number of fee results discarded because the cart changed",
	})

	CouponApplicationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_applications_total",
		Help: "Total number of coupon applications by resulting status",
	}, []string{"status"})

	CouponUsageRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coupon_usage_recorded_total",
		Help: "Total number of coupon usages recorded",
	})

	CheckoutTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_transitions_total",
		Help: "Total number of checkout step transitions",
	}, []string{"to"})

	PaymentAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment attempts",
	})

	PaymentOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_outcomes_total",
		Help: "Total number of payment attempts by outcome",
	}, []string{"outcome"})

	PaymentProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_processing_latency_seconds",
		Help:    "Latency of payment confirmation",
		Buckets: prometheus.DefBuckets,
	})

	CallbackReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_callback_replays_total",
		Help: "Total number of payment return callbacks served from the one-shot guard",
	})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed orders",
	}, []string{"reason"})

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
