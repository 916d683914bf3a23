package disputes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/parcelpeer/payments/internal/auth"
	"github.com/parcelpeer/payments/internal/logging"
	"github.com/parcelpeer/payments/internal/validation"
)

// Handler exposes dispute endpoints over HTTP. All mutating routes are
// admin-only; routing applies auth.RequireAdmin before these run.
type Handler struct {
	svc *Service
}

// NewHandler creates a disputes HTTP handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func disputeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrDisputeNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Dispute not found.",
		})
	case errors.Is(err, ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_resolved",
			"message": "Dispute has already been resolved or closed.",
		})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_status",
			"message": "Dispute is not in a state that allows this operation.",
		})
	case errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	default:
		logging.L(c.Request.Context()).Error("dispute operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Dispute operation failed.",
		})
	}
}

// Open handles POST /admin/disputes
func (h *Handler) Open(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	req.Reason = validation.SanitizeString(req.Reason, validation.MaxStringLength)

	d, err := h.svc.Open(c.Request.Context(), req)
	if err != nil {
		disputeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"dispute": d})
}

// StartReview handles POST /admin/disputes/:id/review
func (h *Handler) StartReview(c *gin.Context) {
	d, err := h.svc.StartReview(c.Request.Context(), c.Param("id"))
	if err != nil {
		disputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// Resolve handles POST /admin/disputes/:id/resolve
func (h *Handler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	req.Resolution = validation.SanitizeString(req.Resolution, validation.MaxStringLength)

	d, err := h.svc.Resolve(c.Request.Context(), c.Param("id"), req, auth.GetAdminID(c))
	if err != nil {
		disputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

type closeRequest struct {
	Resolution string `json:"resolution" binding:"required"`
}

// Close handles POST /admin/disputes/:id/close
func (h *Handler) Close(c *gin.Context) {
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	d, err := h.svc.Close(c.Request.Context(), c.Param("id"), req.Resolution, auth.GetAdminID(c))
	if err != nil {
		disputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// Get handles GET /admin/disputes/:id
func (h *Handler) Get(c *gin.Context) {
	d, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		disputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// List handles GET /admin/disputes?status=open&limit=50
func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	disputes, err := h.svc.ListByStatus(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		disputeError(c, err)
		return
	}
	if disputes == nil {
		disputes = []*Dispute{}
	}
	c.JSON(http.StatusOK, gin.H{
		"disputes": disputes,
		"count":    len(disputes),
	})
}
