package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Total number of orders created by checkout",
	})

	CheckoutsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_failed_total",
		Help: "Total number of failed checkouts",
	}, []string{"reason"})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_latency_seconds",
		Help:    "Latency of the checkout transaction",
		Buckets: prometheus.DefBuckets,
	})

	ReservationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_reservations_created_total",
		Help: "Total number of stock reservations created",
	})

	ReservationsReleasedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_reservations_released_total",
		Help: "Total number of stock reservations released",
	}, []string{"reason"})

	PaymentAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment attempts",
	})

	PaymentSuccessTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_success_total",
		Help: "Total number of successful payments",
	})

	PaymentFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_failed_total",
		Help: "Total number of failed payments",
	}, []string{"gateway"})

	PaymentProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_processing_latency_seconds",
		Help:    "Latency of payment settlement including gateway verification",
		Buckets: prometheus.DefBuckets,
	})

	StockInconsistenciesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_inconsistencies_total",
		Help: "Settlements aborted because stock was missing",
	})

	UnsettledCapturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_unsettled_captures_total",
		Help: "Gateway approvals that could not be settled and need a refund",
	}, []string{"gateway"})

	StockMovementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_movements_total",
		Help: "Total number of stock ledger entries",
	}, []string{"type"})

	OrdersCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled or refunded orders",
	}, []string{"status"})

	SweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_sweep_runs_total",
		Help: "Total number of reservation sweep runs",
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
