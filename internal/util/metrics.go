package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TopupsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topups_created_total",
		Help: "Total number of topup records created",
	})

	TopupsConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topups_confirmed_total",
		Help: "Total number of topups confirmed and credited",
	})

	TopupsReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topups_replayed_total",
		Help: "Total number of duplicate confirmations absorbed",
	})

	TopupsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topups_closed_total",
		Help: "Total number of topups closed without credit",
	}, []string{"status"})

	DebitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_debits_total",
		Help: "Total number of successful balance debits",
	})

	DebitsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_debits_rejected_total",
		Help: "Total number of debits rejected for insufficient funds",
	})

	CreditsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_credits_total",
		Help: "Total number of balance credits",
	})

	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of orders placed with stock reserved",
	})

	OrdersCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_completed_total",
		Help: "Total number of orders completed",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed orders",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	StockReservedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_reserved_total",
		Help: "Total number of stock units reserved",
	})

	StockReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_reservations_failed_total",
		Help: "Total number of failed stock reservations",
	}, []string{"reason"})

	StockReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_reserve_latency_seconds",
		Help:    "Latency of stock reservation transactions",
		Buckets: prometheus.DefBuckets,
	})

	StockReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_released_total",
		Help: "Total number of stock units released back to available",
	})

	DeliveryAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_attempts_total",
		Help: "Total number of delivery hand-off attempts",
	})

	DeliveryFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_failed_total",
		Help: "Total number of failed delivery hand-offs",
	})

	ReservationsReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_reclaimed_total",
		Help: "Total number of stale reservations reclaimed by the sweeper",
	})

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
