package wallet

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// WalletMutationsTotal counts posted ledger transactions by type.
	WalletMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parcelpeer",
			Name:      "wallet_transactions_total",
			Help:      "Total wallet transactions posted by type.",
		},
		[]string{"type"},
	)

	// WalletOpDuration observes operation latency by type.
	WalletOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "parcelpeer",
			Name:      "wallet_operation_duration_seconds",
			Help:      "Wallet operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"type"},
	)

	// WalletReferenceConflicts counts duplicate-reference writes absorbed
	// as idempotent no-ops.
	WalletReferenceConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "parcelpeer",
			Name:      "wallet_reference_conflicts_total",
			Help:      "Total duplicate-reference writes absorbed as no-ops.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		WalletMutationsTotal,
		WalletOpDuration,
		WalletReferenceConflicts,
	)
}

// observeOp returns a function to observe operation duration.
func observeOp(opType string) func() {
	start := time.Now()
	return func() {
		WalletOpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
	}
}
