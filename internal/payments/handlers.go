package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/parcelpeer/payments/internal/logging"
)

// SignatureHeader carries the gateway's HMAC-SHA512 hex digest of the raw
// request body.
const SignatureHeader = "x-signature"

// Handler exposes payment endpoints over HTTP
type Handler struct {
	svc       *Service
	minAmount int64
}

// NewHandler creates a payments HTTP handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// WithMinAmount rejects initialize requests below min (kobo). Zero disables
// the floor.
func (h *Handler) WithMinAmount(min int64) *Handler {
	h.minAmount = min
	return h
}

type initializeRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Amount    int64  `json:"amount" binding:"required"`
	ParcelID  string `json:"parcelId"`
	CarrierID string `json:"carrierId"`
}

// Initialize handles POST /payments/initialize
func (h *Handler) Initialize(c *gin.Context) {
	userID := c.GetString("authUserID")
	if userID == "" {
		userID = c.Query("userId")
	}
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_user",
			"message": "A user is required to initialize a payment.",
		})
		return
	}

	var req initializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if h.minAmount > 0 && req.Amount < h.minAmount {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "amount_too_small",
			"message": fmt.Sprintf("Minimum top-up is %d kobo.", h.minAmount),
		})
		return
	}

	intent, err := h.svc.Initialize(c.Request.Context(), userID, req.Email, req.Amount, req.ParcelID, req.CarrierID)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Amount must be greater than zero.",
			})
			return
		}
		logging.L(c.Request.Context()).Error("initialize payment", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "gateway_error",
			"message": "Could not initialize payment with the gateway.",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"intent":           intent,
		"authorizationUrl": intent.AuthorizationURL,
		"accessCode":       intent.AccessCode,
		"reference":        intent.Reference,
	})
}

// Webhook handles POST /payments/webhook. Signature or payload problems get
// a 400; acknowledged events (including replays and unknown references) get
// a 200 so the gateway stops retrying; ledger failures get a 500 so it does
// retry.
func (h *Handler) Webhook(c *gin.Context) {
	log := logging.L(c.Request.Context())

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_body",
			"message": "Could not read request body.",
		})
		return
	}

	if !h.svc.VerifySignature(body, c.GetHeader(SignatureHeader)) {
		log.Warn("webhook signature mismatch", "remote", c.ClientIP())
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_signature",
			"message": "Webhook signature verification failed.",
		})
		return
	}

	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil || evt.Data.Reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_payload",
			"message": "Webhook payload is malformed.",
		})
		return
	}

	if err := h.svc.HandleEvent(c.Request.Context(), evt); err != nil {
		log.Error("webhook processing failed", "reference", evt.Data.Reference, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "processing_failed",
			"message": "Event could not be processed; it will be retried.",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Verify handles GET /payments/verify/:reference
func (h *Handler) Verify(c *gin.Context) {
	intent, err := h.svc.GetByReference(c.Request.Context(), c.Param("reference"))
	if err != nil {
		if errors.Is(err, ErrIntentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No payment found for that reference.",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Could not look up payment.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"intent": intent})
}

// History handles GET /payments/:userId/history
func (h *Handler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	intents, err := h.svc.History(c.Request.Context(), c.Param("userId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Could not load payment history.",
		})
		return
	}
	if intents == nil {
		intents = []*Intent{}
	}
	c.JSON(http.StatusOK, gin.H{
		"payments": intents,
		"count":    len(intents),
	})
}
