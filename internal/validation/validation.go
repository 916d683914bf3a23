// Package validation guards the HTTP boundary: request size caps, user ID
// syntax, and string sanitization.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// MaxRequestSize caps request bodies at 1 MiB.
	MaxRequestSize = 1 << 20
	// MaxStringLength caps free-text fields like dispute reasons.
	MaxStringLength = 10000
)

// User IDs are URL-safe tokens up to 64 characters.
var userIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// RequestSizeMiddleware rejects bodies larger than maxSize before handlers
// read them.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidUserID reports whether id is a well-formed user identifier.
func IsValidUserID(id string) bool {
	return userIDRegex.MatchString(id)
}

// SanitizeString trims whitespace, truncates to maxLen, and strips null
// bytes from free-text input.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// UserIDParamMiddleware rejects malformed :userId URL parameters before the
// route handler runs. Routes without the parameter pass through untouched.
func UserIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("userId")
		if id != "" && !IsValidUserID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_user_id",
				"message": "userId must be a url-safe identifier (max 64 chars)",
			})
			return
		}
		c.Next()
	}
}
