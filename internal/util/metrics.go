package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of orders committed",
	})

	OrderPlacementFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_placement_failed_total",
		Help: "Total number of aborted order placements",
	}, []string{"reason"})

	OrderPlacementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_placement_latency_seconds",
		Help:    "Latency of the full order placement transaction",
		Buckets: prometheus.DefBuckets,
	})

	StockReservationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_reservations_failed_total",
		Help: "Total number of reservations rejected for insufficient stock",
	})

	OrderNumberRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_number_retries_total",
		Help: "Total number of order number collisions retried internally",
	})

	OfferCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offer_cache_hits_total",
		Help: "Total number of offer lookups served from cache",
	})

	OfferCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offer_cache_misses_total",
		Help: "Total number of offer lookups that fell through to the database",
	})

	AuditRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_audit_records_total",
		Help: "Total number of placement events recorded by the audit worker",
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
