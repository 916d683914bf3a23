package disputes

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelpeer/payments/internal/wallet"
)

func newTestService(t *testing.T) (*Service, *wallet.Wallet) {
	t.Helper()
	w := wallet.New(wallet.NewMemoryStore("NGN"), "NGN")
	return NewService(NewMemoryStore(), w), w
}

func openDispute(t *testing.T, svc *Service) *Dispute {
	t.Helper()
	d, err := svc.Open(context.Background(), OpenRequest{
		ParcelID:      "pcl_1",
		ComplainantID: "usr_sender",
		RespondentID:  "usr_carrier",
		Reason:        "parcel arrived damaged",
	})
	require.NoError(t, err)
	return d
}

func TestOpen(t *testing.T) {
	svc, _ := newTestService(t)

	d := openDispute(t, svc)
	assert.Equal(t, StatusOpen, d.Status)
	assert.NotEmpty(t, d.ID)
	assert.Zero(t, d.RefundAmount)
	assert.False(t, d.RefundedToWallet)

	got, err := svc.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
}

func TestOpen_Validation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Open(context.Background(), OpenRequest{
		ParcelID: "pcl_1", ComplainantID: "usr_a", RespondentID: "usr_b",
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Open(context.Background(), OpenRequest{
		ParcelID: "pcl_1", ComplainantID: "usr_a", RespondentID: "usr_a", Reason: "self dispute",
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestStartReview(t *testing.T) {
	svc, _ := newTestService(t)
	d := openDispute(t, svc)

	reviewed, err := svc.StartReview(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInReview, reviewed.Status)

	// Review is only reachable from open.
	_, err = svc.StartReview(context.Background(), d.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.StartReview(context.Background(), "no-such-dispute")
	assert.ErrorIs(t, err, ErrDisputeNotFound)
}

func TestResolve_WithRefundCreditsComplainant(t *testing.T) {
	svc, w := newTestService(t)
	d := openDispute(t, svc)

	resolved, err := svc.Resolve(context.Background(), d.ID, ResolveRequest{
		Resolution:     "carrier at fault, refund issued",
		RefundAmount:   45000,
		RefundToWallet: true,
	}, "adm_ops")
	require.NoError(t, err)

	assert.Equal(t, StatusResolved, resolved.Status)
	assert.Equal(t, int64(45000), resolved.RefundAmount)
	assert.True(t, resolved.RefundedToWallet)
	assert.Equal(t, "adm_ops", resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)

	acct, err := w.Balance(context.Background(), "usr_sender")
	require.NoError(t, err)
	assert.Equal(t, int64(45000), acct.Balance)

	txn, err := w.FindByReference(context.Background(), RefundReference(d.ID))
	require.NoError(t, err)
	assert.Equal(t, wallet.TypeRefund, txn.Type)
	assert.Equal(t, d.ID, txn.DisputeID)
	assert.Equal(t, "pcl_1", txn.ParcelID)
}

func TestResolve_WithoutRefundLeavesLedgerAlone(t *testing.T) {
	svc, w := newTestService(t)
	d := openDispute(t, svc)

	resolved, err := svc.Resolve(context.Background(), d.ID, ResolveRequest{
		Resolution: "no fault found",
	}, "adm_ops")
	require.NoError(t, err)
	assert.False(t, resolved.RefundedToWallet)

	acct, err := w.Balance(context.Background(), "usr_sender")
	require.NoError(t, err)
	assert.Zero(t, acct.Balance)
}

func TestResolve_TerminalReturnsAlreadyResolved(t *testing.T) {
	svc, w := newTestService(t)
	d := openDispute(t, svc)

	_, err := svc.Resolve(context.Background(), d.ID, ResolveRequest{
		Resolution: "refund", RefundAmount: 10000, RefundToWallet: true,
	}, "adm_ops")
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), d.ID, ResolveRequest{
		Resolution: "refund again", RefundAmount: 10000, RefundToWallet: true,
	}, "adm_ops")
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	// The second attempt must not have credited anything.
	acct, err := w.Balance(context.Background(), "usr_sender")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), acct.Balance)
}

func TestResolve_RefundRequiresPositiveAmount(t *testing.T) {
	svc, _ := newTestService(t)
	d := openDispute(t, svc)

	_, err := svc.Resolve(context.Background(), d.ID, ResolveRequest{
		Resolution: "refund", RefundAmount: 0, RefundToWallet: true,
	}, "adm_ops")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	// The dispute must still be resolvable.
	_, err = svc.Resolve(context.Background(), d.ID, ResolveRequest{
		Resolution: "refund", RefundAmount: 5000, RefundToWallet: true,
	}, "adm_ops")
	assert.NoError(t, err)
}

type failingUpdateStore struct {
	Store
	failures int
	mu       sync.Mutex
}

func (f *failingUpdateStore) Update(ctx context.Context, d *Dispute) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset by peer")
	}
	return f.Store.Update(ctx, d)
}

func TestResolve_RetryAfterFinalizeFailureCreditsOnce(t *testing.T) {
	// The refund lands in the ledger but finalizing the dispute record
	// fails. A retry must complete the transition without a second credit.
	w := wallet.New(wallet.NewMemoryStore("NGN"), "NGN")
	store := &failingUpdateStore{Store: NewMemoryStore(), failures: 1}
	svc := NewService(store, w)

	d, err := svc.Open(context.Background(), OpenRequest{
		ParcelID: "pcl_1", ComplainantID: "usr_sender", RespondentID: "usr_carrier",
		Reason: "lost parcel",
	})
	require.NoError(t, err)

	req := ResolveRequest{Resolution: "refund", RefundAmount: 30000, RefundToWallet: true}

	_, err = svc.Resolve(context.Background(), d.ID, req, "adm_ops")
	require.Error(t, err)

	resolved, err := svc.Resolve(context.Background(), d.ID, req, "adm_ops")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)

	acct, err := w.Balance(context.Background(), "usr_sender")
	require.NoError(t, err)
	assert.Equal(t, int64(30000), acct.Balance, "retried refund must credit exactly once")

	history, err := w.History(context.Background(), "usr_sender", 50, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestClose(t *testing.T) {
	svc, w := newTestService(t)
	d := openDispute(t, svc)

	closed, err := svc.Close(context.Background(), d.ID, "complainant withdrew", "adm_ops")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)
	assert.Equal(t, "complainant withdrew", closed.Resolution)

	_, err = svc.Close(context.Background(), d.ID, "again", "adm_ops")
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	_, err = svc.Resolve(context.Background(), d.ID, ResolveRequest{
		Resolution: "refund", RefundAmount: 10000, RefundToWallet: true,
	}, "adm_ops")
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	acct, err := w.Balance(context.Background(), "usr_sender")
	require.NoError(t, err)
	assert.Zero(t, acct.Balance)
}

func TestConcurrentResolves_CreditOnce(t *testing.T) {
	svc, w := newTestService(t)
	d := openDispute(t, svc)

	req := ResolveRequest{Resolution: "refund", RefundAmount: 20000, RefundToWallet: true}

	var wg sync.WaitGroup
	results := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Resolve(context.Background(), d.ID, req, "adm_ops")
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyResolved)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one resolve wins")

	acct, err := w.Balance(context.Background(), "usr_sender")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), acct.Balance)
}

func TestListByStatusAndUser(t *testing.T) {
	svc, _ := newTestService(t)

	first := openDispute(t, svc)
	_, err := svc.Open(context.Background(), OpenRequest{
		ParcelID: "pcl_2", ComplainantID: "usr_other", RespondentID: "usr_carrier",
		Reason: "late delivery",
	})
	require.NoError(t, err)

	_, err = svc.Close(context.Background(), first.ID, "withdrawn", "adm_ops")
	require.NoError(t, err)

	open, err := svc.ListByStatus(context.Background(), StatusOpen, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "pcl_2", open[0].ParcelID)

	all, err := svc.ListByStatus(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	carrier, err := svc.ListByUser(context.Background(), "usr_carrier", 0)
	require.NoError(t, err)
	assert.Len(t, carrier, 2)

	sender, err := svc.ListByUser(context.Background(), "usr_sender", 0)
	require.NoError(t, err)
	assert.Len(t, sender, 1)
}
