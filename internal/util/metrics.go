package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SalesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_created_total",
		Help: "Total number of sales created",
	})

	SalesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_failed_total",
		Help: "Total number of failed sale creations",
	}, []string{"reason"})

	InsufficientStockTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "insufficient_stock_total",
		Help: "Total number of allocations rejected for insufficient stock",
	})

	AllocationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "allocation_latency_seconds",
		Help:    "Latency of sale allocation transactions",
		Buckets: prometheus.DefBuckets,
	})

	MovementsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_movements_created_total",
		Help: "Total number of stock movements created",
	}, []string{"kind"})

	MovementsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_movements_completed_total",
		Help: "Total number of stock movements approved and executed",
	}, []string{"kind"})

	MovementsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_movements_rejected_total",
		Help: "Total number of stock movements rejected or cancelled",
	}, []string{"status"})

	SaleAuditsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sale_audits_created_total",
		Help: "Total number of sale audits created",
	}, []string{"type"})

	SaleAuditsApprovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sale_audits_approved_total",
		Help: "Total number of sale audits approved and executed",
	}, []string{"type"})

	SaleAuditsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sale_audits_rejected_total",
		Help: "Total number of sale audits rejected",
	})

	LowStockAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "low_stock_alerts_total",
		Help: "Total number of low stock alerts raised",
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
