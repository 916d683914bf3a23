package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Gin context keys set by the middleware below.
const (
	ContextKeyAPIKey  = "apiKey"
	ContextKeyUserID  = "authUserID"
	ContextKeyAdminID = "adminID"
)

// Middleware validates the API key in Authorization or X-API-Key and, when
// valid, records it on the context. Requests without a valid key pass
// through unauthenticated; RequireAuth and RequireOwnership decide whether
// that matters for a given route.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("Authorization")
		if apiKey == "" {
			apiKey = c.GetHeader("X-API-Key")
		}

		if apiKey != "" {
			key, err := m.ValidateKey(c.Request.Context(), apiKey)
			if err == nil {
				c.Set(ContextKeyAPIKey, key)
				c.Set(ContextKeyUserID, key.UserID)
			}
		}

		c.Next()
	}
}

// RequireAuth rejects requests Middleware left unauthenticated.
func RequireAuth(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyAPIKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer sk_...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireOwnership requires a valid key whose user matches the named URL
// parameter. Unauthenticated requests get 401, another user's key 403.
func RequireOwnership(m *Manager, paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, exists := c.Get(ContextKeyAPIKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required.",
			})
			return
		}

		targetUser := c.Param(paramName)

		apiKey, ok := key.(*APIKey)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Invalid authentication state",
			})
			return
		}
		if apiKey.UserID != targetUser {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "You do not own this wallet.",
			})
			return
		}

		c.Next()
	}
}

// RequireAdmin rejects requests that do not carry the shared admin secret
// in the X-Admin-Secret header. The comparison is constant-time. The
// X-Admin-Id header identifies the acting operator for audit logs.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   "admin_disabled",
				"message": "Admin API is not configured.",
			})
			return
		}

		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Valid X-Admin-Secret header required.",
			})
			return
		}

		if adminID := c.GetHeader("X-Admin-Id"); adminID != "" {
			c.Set(ContextKeyAdminID, adminID)
		}
		c.Next()
	}
}

// GetAPIKey returns the validated key Middleware stored on the context.
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	key, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		return nil, false
	}
	return key.(*APIKey), true
}

// GetAuthenticatedUser returns the key owner's user ID, or "".
func GetAuthenticatedUser(c *gin.Context) string {
	id, exists := c.Get(ContextKeyUserID)
	if !exists {
		return ""
	}
	return id.(string)
}

// GetAdminID names the operator behind an admin request for audit logs.
// Defaults to "unknown" when X-Admin-Id was not sent.
func GetAdminID(c *gin.Context) string {
	id, exists := c.Get(ContextKeyAdminID)
	if !exists {
		return "unknown"
	}
	return id.(string)
}

// IsAuthenticated reports whether Middleware validated a key.
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(ContextKeyAPIKey)
	return exists
}
