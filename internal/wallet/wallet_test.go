package wallet

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWallet() *Wallet {
	return New(NewMemoryStore("NGN"), "NGN")
}

func TestCredit_CreatesAccountAndPostsTransaction(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	txn, err := w.Credit(ctx, Mutation{
		UserID:      "usr_1",
		Amount:      50000,
		Reference:   "BOOKING-abc",
		Description: "parcel delivery earnings",
		ParcelID:    "pcl_9",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, txn.ID)
	assert.Equal(t, TypeCredit, txn.Type)
	assert.Equal(t, int64(0), txn.BalanceBefore)
	assert.Equal(t, int64(50000), txn.BalanceAfter)
	assert.Equal(t, "pcl_9", txn.ParcelID)

	acc, err := w.Balance(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), acc.Balance)
	assert.Equal(t, "NGN", acc.Currency)
}

func TestCredit_InvalidAmount(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	for _, amount := range []int64{0, -100} {
		_, err := w.Credit(ctx, Mutation{UserID: "usr_1", Amount: amount, Reference: "REF-1"})
		assert.ErrorIs(t, err, ErrInvalidAmount, "amount %d", amount)
	}

	// Missing reference is also rejected before touching the store
	_, err := w.Credit(ctx, Mutation{UserID: "usr_1", Amount: 100})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestDebit_InsufficientBalance(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	_, err := w.Credit(ctx, Mutation{UserID: "usr_1", Amount: 1000, Reference: "TOPUP-1"})
	require.NoError(t, err)

	_, err = w.Debit(ctx, Mutation{UserID: "usr_1", Amount: 1001, Reference: "BOOK-1"})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// Balance unchanged, no transaction written under the failed reference
	acc, _ := w.Balance(ctx, "usr_1")
	assert.Equal(t, int64(1000), acc.Balance)
	_, err = w.FindByReference(ctx, "BOOK-1")
	assert.ErrorIs(t, err, ErrTxnNotFound)
}

func TestDebit_ExactBalance(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	w.Credit(ctx, Mutation{UserID: "usr_1", Amount: 1000, Reference: "TOPUP-1"})
	txn, err := w.Debit(ctx, Mutation{UserID: "usr_1", Amount: 1000, Reference: "BOOK-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), txn.BalanceAfter)
}

func TestDebit_UnknownUser(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	// Lazy account creation means an unknown user simply has a zero balance
	_, err := w.Debit(ctx, Mutation{UserID: "usr_ghost", Amount: 100, Reference: "BOOK-1"})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestReplayedReference_IsIdempotent(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	first, err := w.Topup(ctx, Mutation{UserID: "usr_1", Amount: 50000, Reference: "PP-topup-1"})
	require.NoError(t, err)

	// Same reference again: no error, same transaction, balance moved once
	second, err := w.Topup(ctx, Mutation{UserID: "usr_1", Amount: 50000, Reference: "PP-topup-1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.BalanceAfter, second.BalanceAfter)

	acc, _ := w.Balance(ctx, "usr_1")
	assert.Equal(t, int64(50000), acc.Balance)

	history, _ := w.History(ctx, "usr_1", 50, 0)
	assert.Len(t, history, 1)
}

func TestReplayedDebit_AfterBalanceDrain(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	_, err := w.Credit(ctx, Mutation{UserID: "usr_1", Amount: 1000, Reference: "PP-fund"})
	require.NoError(t, err)

	first, err := w.Debit(ctx, Mutation{UserID: "usr_1", Amount: 1000, Reference: "PP-spend"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.BalanceAfter)

	// The first debit emptied the account. A redelivered debit with the
	// same reference must still acknowledge with the prior transaction,
	// not fail the balance check.
	replay, err := w.Debit(ctx, Mutation{UserID: "usr_1", Amount: 1000, Reference: "PP-spend"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)

	acc, _ := w.Balance(ctx, "usr_1")
	assert.Equal(t, int64(0), acc.Balance)
}

func TestReplayedReference_AcrossTypes(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	first, err := w.Credit(ctx, Mutation{UserID: "usr_1", Amount: 1000, Reference: "SHARED-REF"})
	require.NoError(t, err)

	// A different mutation reusing the reference still resolves to the
	// original transaction; the ledger never double-posts.
	second, err := w.Debit(ctx, Mutation{UserID: "usr_1", Amount: 999, Reference: "SHARED-REF"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, TypeCredit, second.Type)

	acc, _ := w.Balance(ctx, "usr_1")
	assert.Equal(t, int64(1000), acc.Balance)
}

func TestRefundAndTopup_Types(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	refund, err := w.Refund(ctx, Mutation{UserID: "usr_1", Amount: 300, Reference: "DISPUTE-REFUND-d1", DisputeID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, TypeRefund, refund.Type)
	assert.Equal(t, "d1", refund.DisputeID)

	topup, err := w.Topup(ctx, Mutation{UserID: "usr_1", Amount: 200, Reference: "PP-1"})
	require.NoError(t, err)
	assert.Equal(t, TypeTopup, topup.Type)

	acc, _ := w.Balance(ctx, "usr_1")
	assert.Equal(t, int64(500), acc.Balance)
}

func TestBalance_UnknownUser_ReadsEmpty(t *testing.T) {
	w := newTestWallet()

	acc, err := w.Balance(context.Background(), "usr_new")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acc.Balance)
	assert.Equal(t, "usr_new", acc.UserID)
	assert.Equal(t, "NGN", acc.Currency)
}

func TestHistory_NewestFirstWithPagination(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := w.Credit(ctx, Mutation{
			UserID:    "usr_1",
			Amount:    int64(i * 100),
			Reference: fmt.Sprintf("REF-%d", i),
		})
		require.NoError(t, err)
	}
	// Another user's transactions must not leak in
	w.Credit(ctx, Mutation{UserID: "usr_2", Amount: 999, Reference: "OTHER-1"})

	history, err := w.History(ctx, "usr_1", 3, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "REF-5", history[0].Reference)
	assert.Equal(t, "REF-3", history[2].Reference)

	page2, err := w.History(ctx, "usr_1", 3, 3)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "REF-2", page2[0].Reference)
}

func TestHistory_DefaultAndCappedLimits(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()
	w.Credit(ctx, Mutation{UserID: "usr_1", Amount: 100, Reference: "REF-1"})

	// Zero and oversized limits fall back to the default
	history, err := w.History(ctx, "usr_1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	history, err = w.History(ctx, "usr_1", 5000, -10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestBalanceChain_Consistency(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	w.Credit(ctx, Mutation{UserID: "usr_1", Amount: 1000, Reference: "A"})
	w.Debit(ctx, Mutation{UserID: "usr_1", Amount: 400, Reference: "B"})
	w.Refund(ctx, Mutation{UserID: "usr_1", Amount: 150, Reference: "C"})

	history, _ := w.History(ctx, "usr_1", 50, 0)
	require.Len(t, history, 3)

	// Each transaction's balanceBefore must equal the previous balanceAfter
	for i := 0; i < len(history)-1; i++ {
		assert.Equal(t, history[i+1].BalanceAfter, history[i].BalanceBefore)
	}

	acc, _ := w.Balance(ctx, "usr_1")
	assert.Equal(t, history[0].BalanceAfter, acc.Balance)
	assert.Equal(t, int64(750), acc.Balance)
}

func TestConcurrentMutations_SerializePerAccount(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	w.Credit(ctx, Mutation{UserID: "usr_1", Amount: 10000, Reference: "SEED"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w.Debit(ctx, Mutation{UserID: "usr_1", Amount: 100, Reference: fmt.Sprintf("SPEND-%d", n)})
		}(i)
	}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w.Credit(ctx, Mutation{UserID: "usr_1", Amount: 50, Reference: fmt.Sprintf("EARN-%d", n)})
		}(i)
	}
	wg.Wait()

	// 10000 - 50*100 + 20*50 = 6000
	acc, err := w.Balance(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, int64(6000), acc.Balance)

	// Net of all posted transactions must match the projected balance
	net, err := w.store.NetPosted(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, acc.Balance, net)
}

func TestConcurrentReplays_PostOnce(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Topup(ctx, Mutation{UserID: "usr_1", Amount: 5000, Reference: "PP-same"})
		}()
	}
	wg.Wait()

	acc, _ := w.Balance(ctx, "usr_1")
	assert.Equal(t, int64(5000), acc.Balance)

	history, _ := w.History(ctx, "usr_1", 50, 0)
	assert.Len(t, history, 1)
}
