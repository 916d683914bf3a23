package subscription

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parcelpeer/payments/internal/logging"
)

// Handler exposes subscription endpoints over HTTP
type Handler struct {
	svc *Service
}

// NewHandler creates a subscription HTTP handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// ListPlans handles GET /subscriptions/plans
func (h *Handler) ListPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": ListPlans()})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /admin/subscriptions/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	var req cancelRequest
	_ = c.ShouldBindJSON(&req) // reason is optional

	sub, err := h.svc.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrSubscriptionNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Subscription not found.",
			})
		case errors.Is(err, ErrAlreadyCancelled):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_cancelled",
				"message": "Subscription is already cancelled.",
			})
		default:
			logging.L(c.Request.Context()).Error("cancel subscription", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Could not cancel subscription.",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}
