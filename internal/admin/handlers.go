package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parcelpeer/payments/internal/auth"
	"github.com/parcelpeer/payments/internal/logging"
	"github.com/parcelpeer/payments/internal/metrics"
	"github.com/parcelpeer/payments/internal/wallet"
)

// LedgerReader gives the reconciliation sweep read access to the ledger
// store underneath the wallet service.
type LedgerReader interface {
	ListAccounts(ctx context.Context) ([]*wallet.Account, error)
	NetPosted(ctx context.Context, userID string) (int64, error)
	GetHistory(ctx context.Context, userID string, limit, offset int) ([]*wallet.Transaction, error)
}

// Handler provides admin HTTP endpoints.
type Handler struct {
	wallet    *wallet.Wallet
	ledger    LedgerReader
	maxAdjust int64
}

// NewHandler creates a new admin handler.
func NewHandler() *Handler {
	return &Handler{}
}

// WithWallet sets the wallet service for adjustments and refunds.
func (h *Handler) WithWallet(w *wallet.Wallet) *Handler {
	h.wallet = w
	return h
}

// WithLedgerReader sets the ledger store for reconciliation sweeps.
func (h *Handler) WithLedgerReader(l LedgerReader) *Handler {
	h.ledger = l
	return h
}

// WithMaxAdjust caps single manual adjustments. Zero means no cap.
func (h *Handler) WithMaxAdjust(max int64) *Handler {
	h.maxAdjust = max
	return h
}

type adjustRequest struct {
	UserID      string `json:"userId" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	Type        string `json:"type" binding:"required"`
	Description string `json:"description" binding:"required"`
}

// Adjust handles POST /admin/wallet/adjust. A thin wrapper over the
// wallet's credit/debit paths with a generated reference; every call is
// logged with the acting admin's identity.
func (h *Handler) Adjust(c *gin.Context) {
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	if req.Type != wallet.TypeCredit && req.Type != wallet.TypeDebit {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_type",
			"message": "Adjustment type must be credit or debit.",
		})
		return
	}
	if h.maxAdjust > 0 && req.Amount > h.maxAdjust {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "amount_too_large",
			"message": "Adjustment exceeds the single-operation cap.",
		})
		return
	}

	ctx := c.Request.Context()
	adminID := auth.GetAdminID(c)
	m := wallet.Mutation{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Reference:   AdjustReference(time.Now()),
		Description: req.Description,
	}

	var txn *wallet.Transaction
	var err error
	if req.Type == wallet.TypeCredit {
		txn, err = h.wallet.Credit(ctx, m)
	} else {
		txn, err = h.wallet.Debit(ctx, m)
	}
	if err != nil {
		h.walletError(c, err)
		return
	}

	metrics.AdminAdjustmentsTotal.WithLabelValues(req.Type).Inc()
	logging.L(ctx).Info("admin adjustment applied",
		"admin", adminID, "user", req.UserID, "type", req.Type,
		"amount", req.Amount, "reference", m.Reference)

	c.JSON(http.StatusOK, gin.H{
		"transaction": txn,
		"newBalance":  txn.BalanceAfter,
	})
}

type refundRequest struct {
	UserID      string `json:"userId" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	Description string `json:"description" binding:"required"`
	ParcelID    string `json:"parcelId"`
}

// Refund handles POST /admin/wallet/refund
func (h *Handler) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	txn, err := h.wallet.Refund(ctx, wallet.Mutation{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Reference:   RefundReference(time.Now()),
		Description: req.Description,
		ParcelID:    req.ParcelID,
	})
	if err != nil {
		h.walletError(c, err)
		return
	}

	metrics.AdminAdjustmentsTotal.WithLabelValues(wallet.TypeRefund).Inc()
	logging.L(ctx).Info("admin refund applied",
		"admin", auth.GetAdminID(c), "user", req.UserID,
		"amount", req.Amount, "parcel", req.ParcelID)

	c.JSON(http.StatusOK, gin.H{
		"transaction": txn,
		"newBalance":  txn.BalanceAfter,
	})
}

// GetWallet handles GET /admin/users/:userId/wallet, the admin console's
// combined balance + recent transactions view.
func (h *Handler) GetWallet(c *gin.Context) {
	userID := c.Param("userId")
	ctx := c.Request.Context()

	acct, err := h.wallet.Balance(ctx, userID)
	if err != nil {
		h.walletError(c, err)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	txns, err := h.wallet.History(ctx, userID, limit, 0)
	if err != nil {
		h.walletError(c, err)
		return
	}
	if txns == nil {
		txns = []*wallet.Transaction{}
	}

	c.JSON(http.StatusOK, gin.H{
		"account":      acct,
		"transactions": txns,
	})
}

// Reconcile handles GET /admin/reconcile. It walks every account and
// checks the balance against the signed transaction sum and the newest
// transaction's balanceAfter.
func (h *Handler) Reconcile(c *gin.Context) {
	ctx := c.Request.Context()
	start := time.Now()

	accounts, err := h.ledger.ListAccounts(ctx)
	if err != nil {
		logging.L(ctx).Error("reconcile: list accounts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Could not enumerate wallet accounts.",
		})
		return
	}

	report := &ReconciliationReport{
		AccountsChecked: len(accounts),
		Drifted:         []AccountDrift{},
		Timestamp:       start,
	}

	for _, acct := range accounts {
		net, err := h.ledger.NetPosted(ctx, acct.UserID)
		if err != nil {
			logging.L(ctx).Error("reconcile: net posted", "user", acct.UserID, "error", err)
			continue
		}

		lastAfter := int64(0)
		if newest, err := h.ledger.GetHistory(ctx, acct.UserID, 1, 0); err == nil && len(newest) > 0 {
			lastAfter = newest[0].BalanceAfter
		}

		if acct.Balance != net || acct.Balance != lastAfter {
			report.Drifted = append(report.Drifted, AccountDrift{
				UserID:           acct.UserID,
				Balance:          acct.Balance,
				NetPosted:        net,
				LastBalanceAfter: lastAfter,
			})
			metrics.ReconciliationDriftTotal.Inc()
			logging.L(ctx).Error("ledger drift detected",
				"user", acct.UserID, "balance", acct.Balance,
				"netPosted", net, "lastBalanceAfter", lastAfter)
		}
	}

	report.Healthy = len(report.Drifted) == 0
	report.Duration = time.Since(start)
	metrics.ReconciliationRunsTotal.Inc()

	c.JSON(http.StatusOK, report)
}

func (h *Handler) walletError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, wallet.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "Amount must be a positive integer.",
		})
	case errors.Is(err, wallet.ErrInsufficientBalance):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "insufficient_balance",
			"message": "The wallet does not hold enough funds for this debit.",
		})
	default:
		logging.L(c.Request.Context()).Error("admin wallet operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Wallet operation failed.",
		})
	}
}
