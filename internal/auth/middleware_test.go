package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupMiddlewareTest() (*Manager, string, *APIKey) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	rawKey, key, _ := mgr.GenerateKey(context.Background(), "usr_abc", "test-key")
	return mgr, rawKey, key
}

// --- Middleware() ---

func TestMiddleware_ValidKey_SetsContext(t *testing.T) {
	mgr, rawKey, _ := setupMiddlewareTest()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("Authorization", rawKey)

	handler := Middleware(mgr)
	handler(c)

	// Should set user ID
	id, exists := c.Get(ContextKeyUserID)
	if !exists {
		t.Fatal("Expected user ID to be set in context")
	}
	if id.(string) != "usr_abc" {
		t.Errorf("Expected usr_abc, got %s", id.(string))
	}

	// Should set API key object
	key, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		t.Fatal("Expected API key to be set in context")
	}
	if key.(*APIKey).Name != "test-key" {
		t.Errorf("Expected key name 'test-key', got %s", key.(*APIKey).Name)
	}
}

func TestMiddleware_ValidKeyViaXAPIKey(t *testing.T) {
	mgr, rawKey, _ := setupMiddlewareTest()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("X-API-Key", rawKey)

	Middleware(mgr)(c)

	if _, exists := c.Get(ContextKeyUserID); !exists {
		t.Error("Expected user ID set via X-API-Key header")
	}
}

func TestMiddleware_InvalidKey_DoesNotAbort(t *testing.T) {
	mgr, _, _ := setupMiddlewareTest()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("Authorization", "sk_invalidkey000000000000000000000000000000000000000000000000000000")

	Middleware(mgr)(c)

	// Should NOT set context
	if _, exists := c.Get(ContextKeyAPIKey); exists {
		t.Error("Expected API key NOT to be set for invalid key")
	}

	// Should NOT abort (soft auth)
	if c.IsAborted() {
		t.Error("Middleware should not abort on invalid key")
	}
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 (pass-through), got %d", w.Code)
	}
}

func TestMiddleware_MissingHeader_PassesThrough(t *testing.T) {
	mgr, _, _ := setupMiddlewareTest()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)

	Middleware(mgr)(c)

	if _, exists := c.Get(ContextKeyAPIKey); exists {
		t.Error("Expected no API key in context when header missing")
	}
	if c.IsAborted() {
		t.Error("Middleware should not abort when header missing")
	}
}

func TestMiddleware_RevokedKey_DoesNotSetContext(t *testing.T) {
	mgr, rawKey, key := setupMiddlewareTest()
	_ = mgr.RevokeKey(context.Background(), key.ID, "usr_abc")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("Authorization", rawKey)

	Middleware(mgr)(c)

	if _, exists := c.Get(ContextKeyAPIKey); exists {
		t.Error("Expected revoked key NOT to set context")
	}
	if c.IsAborted() {
		t.Error("Middleware should not abort on revoked key")
	}
}

// --- RequireAuth() ---

func TestRequireAuth_NoAuth_Returns401(t *testing.T) {
	mgr, _, _ := setupMiddlewareTest()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)

	RequireAuth(mgr)(c)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
	if !c.IsAborted() {
		t.Error("Expected request to be aborted")
	}
}

func TestRequireAuth_WithAuth_Passes(t *testing.T) {
	mgr, _, _ := setupMiddlewareTest()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Set(ContextKeyAPIKey, &APIKey{UserID: "usr_abc"})

	RequireAuth(mgr)(c)

	if c.IsAborted() {
		t.Error("Expected request to pass through when authenticated")
	}
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

// --- RequireOwnership() ---

func TestRequireOwnership_NoAuth_Returns401(t *testing.T) {
	mgr, _, _ := setupMiddlewareTest()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/wallet/usr_abc", nil)
	c.Params = gin.Params{{Key: "userId", Value: "usr_abc"}}

	RequireOwnership(mgr, "userId")(c)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestRequireOwnership_WrongUser_Returns403(t *testing.T) {
	mgr, _, _ := setupMiddlewareTest()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/wallet/usr_other", nil)
	c.Params = gin.Params{{Key: "userId", Value: "usr_other"}}
	c.Set(ContextKeyAPIKey, &APIKey{UserID: "usr_abc"})

	RequireOwnership(mgr, "userId")(c)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
}

func TestRequireOwnership_CorrectUser_Passes(t *testing.T) {
	mgr, _, _ := setupMiddlewareTest()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/wallet/usr_abc", nil)
	c.Params = gin.Params{{Key: "userId", Value: "usr_abc"}}
	c.Set(ContextKeyAPIKey, &APIKey{UserID: "usr_abc"})

	RequireOwnership(mgr, "userId")(c)

	if c.IsAborted() {
		t.Error("Expected request to pass when owner matches")
	}
}

// --- RequireAdmin() ---

func TestRequireAdmin_NoSecretConfigured_Returns503(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("POST", "/admin/wallet/adjust", nil)

	RequireAdmin("")(c)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when admin secret not configured, got %d", w.Code)
	}
}

func TestRequireAdmin_CorrectSecret(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("POST", "/admin/wallet/adjust", nil)
	c.Request.Header.Set("X-Admin-Secret", "supersecret123")
	c.Request.Header.Set("X-Admin-Id", "ops-jane")

	RequireAdmin("supersecret123")(c)

	if c.IsAborted() {
		t.Error("Expected correct admin secret to pass")
	}
	if GetAdminID(c) != "ops-jane" {
		t.Errorf("Expected admin ID ops-jane, got %s", GetAdminID(c))
	}
}

func TestRequireAdmin_WrongSecret(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("POST", "/admin/wallet/adjust", nil)
	c.Request.Header.Set("X-Admin-Secret", "wrongsecret")

	RequireAdmin("supersecret123")(c)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for wrong secret, got %d", w.Code)
	}
}

func TestRequireAdmin_MissingHeader(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("POST", "/admin/wallet/adjust", nil)

	RequireAdmin("supersecret123")(c)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for missing admin header, got %d", w.Code)
	}
}

func TestRequireAdmin_MissingAdminID_DefaultsUnknown(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("POST", "/admin/wallet/adjust", nil)
	c.Request.Header.Set("X-Admin-Secret", "supersecret123")

	RequireAdmin("supersecret123")(c)

	if GetAdminID(c) != "unknown" {
		t.Errorf("Expected admin ID 'unknown', got %s", GetAdminID(c))
	}
}

// --- Context accessors ---

func TestContextAccessors(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	if _, ok := GetAPIKey(c); ok {
		t.Error("GetAPIKey on a bare context should report no key")
	}
	if IsAuthenticated(c) {
		t.Error("bare context should not be authenticated")
	}
	if got := GetAuthenticatedUser(c); got != "" {
		t.Errorf("bare context user = %q, want empty", got)
	}

	c.Set(ContextKeyAPIKey, &APIKey{ID: "ak_test", UserID: "usr_abc"})
	c.Set(ContextKeyUserID, "usr_abc")

	key, ok := GetAPIKey(c)
	if !ok || key.ID != "ak_test" {
		t.Errorf("GetAPIKey = %+v, %v", key, ok)
	}
	if !IsAuthenticated(c) {
		t.Error("context with key should be authenticated")
	}
	if got := GetAuthenticatedUser(c); got != "usr_abc" {
		t.Errorf("user = %q, want usr_abc", got)
	}
}
