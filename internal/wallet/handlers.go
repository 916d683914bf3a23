package wallet

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/parcelpeer/payments/internal/logging"
)

// Handler provides HTTP endpoints for wallet reads
type Handler struct {
	wallet *Wallet
}

// NewHandler creates a new wallet handler
func NewHandler(w *Wallet) *Handler {
	return &Handler{wallet: w}
}

// GetBalance handles GET /wallet/:userId/balance
func (h *Handler) GetBalance(c *gin.Context) {
	userID := c.Param("userId")

	acc, err := h.wallet.Balance(c.Request.Context(), userID)
	if err != nil {
		logging.L(c.Request.Context()).Error("get balance failed", "user", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to read balance",
		})
		return
	}

	c.JSON(http.StatusOK, acc)
}

// GetTransactions handles GET /wallet/:userId/transactions
func (h *Handler) GetTransactions(c *gin.Context) {
	userID := c.Param("userId")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	txns, err := h.wallet.History(c.Request.Context(), userID, limit, offset)
	if err != nil {
		logging.L(c.Request.Context()).Error("get history failed", "user", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to read transactions",
		})
		return
	}

	if txns == nil {
		txns = []*Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": txns,
		"count":        len(txns),
	})
}

// GetTransaction handles GET /wallet/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	id := c.Param("id")

	txn, err := h.wallet.GetTransaction(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTxnNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Transaction not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to read transaction",
		})
		return
	}

	c.JSON(http.StatusOK, txn)
}
