package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelpeer/payments/internal/wallet"
)

func newTestRouter(t *testing.T) (*gin.Engine, *wallet.Wallet, *wallet.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := wallet.NewMemoryStore("NGN")
	w := wallet.New(store, "NGN")
	h := NewHandler().WithWallet(w).WithLedgerReader(store).WithMaxAdjust(10000000)

	r := gin.New()
	r.POST("/admin/wallet/adjust", h.Adjust)
	r.POST("/admin/wallet/refund", h.Refund)
	r.GET("/admin/wallet/:userId", h.GetWallet)
	r.GET("/admin/reconcile", h.Reconcile)
	return r, w, store
}

func postJSON(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAdjust_Credit(t *testing.T) {
	r, w, _ := newTestRouter(t)

	rec := postJSON(r, "/admin/wallet/adjust",
		`{"userId":"usr_1","amount":50000,"type":"credit","description":"goodwill credit"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Transaction wallet.Transaction `json:"transaction"`
		NewBalance  int64              `json:"newBalance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(50000), resp.NewBalance)
	assert.Equal(t, wallet.TypeCredit, resp.Transaction.Type)
	assert.True(t, strings.HasPrefix(resp.Transaction.Reference, "ADMIN-ADJUST-"))

	acct, err := w.Balance(context.Background(), "usr_1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), acct.Balance)
}

func TestAdjust_DebitInsufficient(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := postJSON(r, "/admin/wallet/adjust",
		`{"userId":"usr_1","amount":1000,"type":"debit","description":"clawback"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient_balance")
}

func TestAdjust_Validation(t *testing.T) {
	r, _, _ := newTestRouter(t)

	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing fields", `{"userId":"usr_1"}`, "invalid_request"},
		{"bad type", `{"userId":"usr_1","amount":100,"type":"topup","description":"x"}`, "invalid_type"},
		{"negative amount", `{"userId":"usr_1","amount":-100,"type":"credit","description":"x"}`, "invalid_amount"},
		{"over cap", `{"userId":"usr_1","amount":99999999,"type":"credit","description":"x"}`, "amount_too_large"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(r, "/admin/wallet/adjust", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
		})
	}
}

func TestAdjustReferences_AreUnique(t *testing.T) {
	now := time.Now()
	assert.NotEqual(t, AdjustReference(now), AdjustReference(now))
	assert.True(t, strings.HasPrefix(RefundReference(now), "ADMIN-REFUND-"))
}

func TestRefundEndpoint(t *testing.T) {
	r, w, _ := newTestRouter(t)

	rec := postJSON(r, "/admin/wallet/refund",
		`{"userId":"usr_1","amount":30000,"description":"cancelled delivery","parcelId":"pcl_7"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Transaction wallet.Transaction `json:"transaction"`
		NewBalance  int64              `json:"newBalance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, wallet.TypeRefund, resp.Transaction.Type)
	assert.Equal(t, "pcl_7", resp.Transaction.ParcelID)
	assert.Equal(t, int64(30000), resp.NewBalance)

	acct, err := w.Balance(context.Background(), "usr_1")
	require.NoError(t, err)
	assert.Equal(t, int64(30000), acct.Balance)
}

func TestGetWalletEndpoint(t *testing.T) {
	r, w, _ := newTestRouter(t)

	_, err := w.Credit(context.Background(), wallet.Mutation{
		UserID: "usr_1", Amount: 20000, Reference: "SEED-1", Description: "seed",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/wallet/usr_1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Account      wallet.Account        `json:"account"`
		Transactions []*wallet.Transaction `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(20000), resp.Account.Balance)
	require.Len(t, resp.Transactions, 1)

	// Unknown users read as empty wallets.
	req = httptest.NewRequest(http.MethodGet, "/admin/wallet/usr_nobody", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"transactions":[]`)
}

func TestReconcileEndpoint_Healthy(t *testing.T) {
	r, w, _ := newTestRouter(t)

	for _, ref := range []string{"R-1", "R-2"} {
		_, err := w.Credit(context.Background(), wallet.Mutation{
			UserID: "usr_1", Amount: 10000, Reference: ref, Description: "seed",
		})
		require.NoError(t, err)
	}
	_, err := w.Debit(context.Background(), wallet.Mutation{
		UserID: "usr_1", Amount: 5000, Reference: "R-3", Description: "spend",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/reconcile", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var report ReconciliationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Healthy)
	assert.Equal(t, 1, report.AccountsChecked)
	assert.Empty(t, report.Drifted)
}
