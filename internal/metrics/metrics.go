// Package metrics provides Prometheus instrumentation for the ParcelPeer payments service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parcelpeer",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "parcelpeer",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// WebhookEventsTotal counts gateway webhook events by outcome.
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parcelpeer",
			Name:      "webhook_events_total",
			Help:      "Total gateway webhook events by outcome.",
		},
		[]string{"outcome"},
	)

	// PaymentIntentsTotal counts payment intents by final status.
	PaymentIntentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parcelpeer",
			Name:      "payment_intents_total",
			Help:      "Total payment intents by status transition.",
		},
		[]string{"status"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "parcelpeer", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "parcelpeer", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "parcelpeer", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "parcelpeer", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "parcelpeer", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "parcelpeer", Name: "goroutines",
		Help: "Current number of goroutines.",
	})

	// --- Dispute metrics ---

	DisputesOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "parcelpeer",
		Name:      "disputes_opened_total",
		Help:      "Total disputes opened.",
	})

	DisputesResolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parcelpeer",
		Name:      "disputes_resolved_total",
		Help:      "Total disputes resolved by resolution.",
	}, []string{"resolution"})

	DisputeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "parcelpeer",
		Name:      "dispute_duration_seconds",
		Help:      "Time from dispute creation to resolution in seconds.",
		Buckets:   []float64{60, 300, 1800, 3600, 86400, 259200, 604800},
	})

	// --- Subscription metrics ---

	SubscriptionsCancelledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parcelpeer",
		Name:      "subscriptions_cancelled_total",
		Help:      "Total subscriptions cancelled by tier.",
	}, []string{"tier"})

	// --- Admin metrics ---

	AdminAdjustmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parcelpeer",
		Name:      "admin_adjustments_total",
		Help:      "Total manual wallet adjustments by type.",
	}, []string{"type"})

	// --- Reconciliation metrics ---

	ReconciliationRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "parcelpeer",
		Name:      "reconciliation_runs_total",
		Help:      "Total ledger reconciliation sweeps.",
	})

	ReconciliationDriftTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "parcelpeer",
		Name:      "reconciliation_drift_total",
		Help:      "Total accounts found with balance drift.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		WebhookEventsTotal,
		PaymentIntentsTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
		DisputesOpenedTotal,
		DisputesResolvedTotal,
		DisputeDuration,
		SubscriptionsCancelledTotal,
		AdminAdjustmentsTotal,
		ReconciliationRunsTotal,
		ReconciliationDriftTotal,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
