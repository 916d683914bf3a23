// Package admin provides admin-only endpoints for manual ledger
// corrections and reconciliation reports.
package admin

import (
	"fmt"
	"time"

	"github.com/parcelpeer/payments/internal/idgen"
)

// AdjustReference generates the ledger reference for a manual adjustment.
// The timestamp plus a random suffix keeps unrelated manual actions from
// colliding on the idempotency key.
func AdjustReference(now time.Time) string {
	return fmt.Sprintf("ADMIN-ADJUST-%d-%s", now.UnixMilli(), idgen.Hex(4))
}

// RefundReference generates the ledger reference for a manual refund.
func RefundReference(now time.Time) string {
	return fmt.Sprintf("ADMIN-REFUND-%d-%s", now.UnixMilli(), idgen.Hex(4))
}

// AccountDrift describes one account whose balance disagrees with its
// transaction history.
type AccountDrift struct {
	UserID           string `json:"userId"`
	Balance          int64  `json:"balance"`
	NetPosted        int64  `json:"netPosted"`
	LastBalanceAfter int64  `json:"lastBalanceAfter"`
}

// ReconciliationReport summarizes a ledger invariant sweep. For every
// account the stored balance must equal both the signed sum of its
// transactions and the newest transaction's balanceAfter.
type ReconciliationReport struct {
	AccountsChecked int            `json:"accountsChecked"`
	Drifted         []AccountDrift `json:"drifted"`
	Healthy         bool           `json:"healthy"`
	Duration        time.Duration  `json:"durationMs"`
	Timestamp       time.Time      `json:"timestamp"`
}
