package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes API key management endpoints.
type Handler struct {
	manager *Manager
}

func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// Info describes the authentication scheme. Public.
func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"type":      "api_key",
		"header":    "Authorization: Bearer sk_...",
		"altHeader": "X-API-Key: sk_...",
		"note":      "The raw key is returned once, on creation.",
		"publicEndpoints": []string{
			"GET /health",
			"GET /metrics",
			"GET /api/v1/auth/info",
			"GET /api/v1/subscriptions/plans",
			"POST /api/v1/payments/webhook",
		},
	})
}

// ListKeys returns the caller's keys with the hashes stripped.
func (h *Handler) ListKeys(c *gin.Context) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	keys, err := h.manager.ListKeys(c.Request.Context(), key.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Could not list API keys.",
		})
		return
	}

	out := make([]gin.H, 0, len(keys))
	for _, k := range keys {
		out = append(out, gin.H{
			"id":        k.ID,
			"name":      k.Name,
			"createdAt": k.CreatedAt,
			"lastUsed":  k.LastUsed,
			"revoked":   k.Revoked,
		})
	}

	c.JSON(http.StatusOK, gin.H{"keys": out, "count": len(out)})
}

type createKeyRequest struct {
	Name string `json:"name"`
}

// CreateKey mints an additional key for the caller's user.
func (h *Handler) CreateKey(c *gin.Context) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req createKeyRequest
	_ = c.ShouldBindJSON(&req)
	if req.Name == "" {
		req.Name = "Additional key"
	}

	raw, created, err := h.manager.GenerateKey(c.Request.Context(), key.UserID, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Could not create API key.",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"apiKey":  raw,
		"keyId":   created.ID,
		"name":    created.Name,
		"warning": "Store this key securely. It will not be shown again.",
	})
}

// RevokeKey disables a key belonging to the caller's user. The key used to
// authenticate the request cannot revoke itself.
func (h *Handler) RevokeKey(c *gin.Context) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	keyID := c.Param("keyId")
	if keyID == key.ID {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "cannot_revoke_current",
			"message": "Cannot revoke the key used for this request.",
		})
		return
	}

	if err := h.manager.RevokeKey(c.Request.Context(), keyID, key.UserID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "key_not_found",
			"message": "Key not found or already revoked.",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"keyId": keyID, "revoked": true})
}

// GetCurrentUser reports who the presented key belongs to.
func (h *Handler) GetCurrentUser(c *gin.Context) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":    key.UserID,
		"keyId":     key.ID,
		"keyName":   key.Name,
		"createdAt": key.CreatedAt,
		"lastUsed":  key.LastUsed,
	})
}
