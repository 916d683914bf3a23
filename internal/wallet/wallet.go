// Package wallet tracks user balances on the platform.
//
// Flow:
//  1. User tops up via the payment gateway (webhook credits balance)
//  2. Parcel bookings debit the sender's balance
//  3. Delivered parcels credit the carrier's balance
//  4. Dispute refunds and admin adjustments credit or debit directly
//
// Every balance change writes exactly one transaction row carrying the
// balance before and after, keyed by a caller-supplied reference that is
// unique across the ledger. Replaying a reference is a no-op that returns
// the original transaction.
package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrReferenceConflict   = errors.New("reference already used")
	ErrAccountNotFound     = errors.New("account not found")
	ErrTxnNotFound         = errors.New("transaction not found")
)

// Transaction types
const (
	TypeCredit = "credit"
	TypeDebit  = "debit"
	TypeRefund = "refund"
	TypeTopup  = "topup"
)

// Transaction represents a single ledger entry. Amount is always positive;
// Type determines direction.
type Transaction struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Type          string    `json:"type"` // credit, debit, refund, topup
	Amount        int64     `json:"amount"`
	BalanceBefore int64     `json:"balanceBefore"`
	BalanceAfter  int64     `json:"balanceAfter"`
	Reference     string    `json:"reference"`
	Description   string    `json:"description,omitempty"`
	ParcelID      string    `json:"parcelId,omitempty"`
	DisputeID     string    `json:"disputeId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Account represents a user's wallet
type Account struct {
	UserID    string    `json:"userId"`
	Balance   int64     `json:"balance"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Mutation describes a requested balance change. The store applies it
// atomically: read balance, compute, insert transaction, update account.
type Mutation struct {
	UserID      string
	Type        string
	Amount      int64
	Reference   string
	Description string
	ParcelID    string
	DisputeID   string
}

// Debits reports whether the mutation decreases the balance.
func (m Mutation) Debits() bool {
	return m.Type == TypeDebit
}

// Store persists wallet data. Apply must be atomic per account: concurrent
// mutations on the same user serialize, and a duplicate reference returns
// the previously written transaction wrapped in ErrReferenceConflict.
type Store interface {
	GetAccount(ctx context.Context, userID string) (*Account, error)
	Apply(ctx context.Context, m Mutation) (*Transaction, error)
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	GetByReference(ctx context.Context, reference string) (*Transaction, error)
	GetHistory(ctx context.Context, userID string, limit, offset int) ([]*Transaction, error)
	ListAccounts(ctx context.Context) ([]*Account, error)
	NetPosted(ctx context.Context, userID string) (int64, error)
}

// Wallet manages user balances
type Wallet struct {
	store    Store
	currency string
}

// New creates a new wallet service
func New(store Store, currency string) *Wallet {
	if currency == "" {
		currency = "NGN"
	}
	return &Wallet{store: store, currency: currency}
}

// Balance returns a user's account. Accounts are created lazily, so an
// unknown user reads as an empty wallet rather than a 404.
func (w *Wallet) Balance(ctx context.Context, userID string) (*Account, error) {
	defer observeOp("balance")()
	acc, err := w.store.GetAccount(ctx, userID)
	if errors.Is(err, ErrAccountNotFound) {
		now := time.Now()
		return &Account{UserID: userID, Balance: 0, Currency: w.currency, CreatedAt: now, UpdatedAt: now}, nil
	}
	return acc, err
}

// Credit increases a user's balance. Safe to retry with the same reference.
func (w *Wallet) Credit(ctx context.Context, m Mutation) (*Transaction, error) {
	m.Type = TypeCredit
	return w.apply(ctx, m)
}

// Debit decreases a user's balance. Fails with ErrInsufficientBalance when
// the balance cannot cover the amount.
func (w *Wallet) Debit(ctx context.Context, m Mutation) (*Transaction, error) {
	m.Type = TypeDebit
	return w.apply(ctx, m)
}

// Refund credits a user's balance for a reversed charge.
func (w *Wallet) Refund(ctx context.Context, m Mutation) (*Transaction, error) {
	m.Type = TypeRefund
	return w.apply(ctx, m)
}

// Topup credits a user's balance from a confirmed gateway payment.
func (w *Wallet) Topup(ctx context.Context, m Mutation) (*Transaction, error) {
	m.Type = TypeTopup
	return w.apply(ctx, m)
}

func (w *Wallet) apply(ctx context.Context, m Mutation) (*Transaction, error) {
	defer observeOp(m.Type)()

	if m.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if m.Reference == "" {
		return nil, ErrInvalidAmount
	}

	txn, err := w.store.Apply(ctx, m)
	if errors.Is(err, ErrReferenceConflict) && txn != nil {
		// At-least-once delivery: the reference was already posted.
		// Return the original transaction; the balance moved exactly once.
		WalletReferenceConflicts.Inc()
		return txn, nil
	}
	if err != nil {
		return nil, err
	}

	WalletMutationsTotal.WithLabelValues(m.Type).Inc()
	return txn, nil
}

// GetTransaction returns a single transaction by ID
func (w *Wallet) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	return w.store.GetTransaction(ctx, id)
}

// FindByReference returns the transaction posted under a reference, if any
func (w *Wallet) FindByReference(ctx context.Context, reference string) (*Transaction, error) {
	return w.store.GetByReference(ctx, reference)
}

// History returns transactions for a user, newest first
func (w *Wallet) History(ctx context.Context, userID string, limit, offset int) ([]*Transaction, error) {
	defer observeOp("history")()
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return w.store.GetHistory(ctx, userID, limit, offset)
}

// Currency returns the ledger currency code
func (w *Wallet) Currency() string {
	return w.currency
}

// newTransactionID mints a UUID for a transaction row
func newTransactionID() string {
	return uuid.NewString()
}
