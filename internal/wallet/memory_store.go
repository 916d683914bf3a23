package wallet

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with in-memory maps (for development/testing)
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account     // by user ID
	byRef    map[string]*Transaction // by reference
	txns     []*Transaction          // insertion order
	currency string
}

// NewMemoryStore creates a new in-memory wallet store
func NewMemoryStore(currency string) *MemoryStore {
	if currency == "" {
		currency = "NGN"
	}
	return &MemoryStore{
		accounts: make(map[string]*Account),
		byRef:    make(map[string]*Transaction),
		currency: currency,
	}
}

// GetAccount retrieves a user's account
func (s *MemoryStore) GetAccount(ctx context.Context, userID string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *acc
	return &copied, nil
}

// Apply posts a mutation atomically. A duplicate reference returns the
// original transaction wrapped in ErrReferenceConflict; the balance is
// untouched.
func (s *MemoryStore) Apply(ctx context.Context, m Mutation) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, ok := s.byRef[m.Reference]; ok {
		copied := *prior
		return &copied, ErrReferenceConflict
	}

	now := time.Now()
	acc, ok := s.accounts[m.UserID]
	if !ok {
		acc = &Account{
			UserID:    m.UserID,
			Balance:   0,
			Currency:  s.currency,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.accounts[m.UserID] = acc
	}

	before := acc.Balance
	var after int64
	if m.Debits() {
		if before < m.Amount {
			return nil, ErrInsufficientBalance
		}
		after = before - m.Amount
	} else {
		after = before + m.Amount
	}

	txn := &Transaction{
		ID:            newTransactionID(),
		UserID:        m.UserID,
		Type:          m.Type,
		Amount:        m.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reference:     m.Reference,
		Description:   m.Description,
		ParcelID:      m.ParcelID,
		DisputeID:     m.DisputeID,
		CreatedAt:     now,
	}

	acc.Balance = after
	acc.UpdatedAt = now
	s.byRef[m.Reference] = txn
	s.txns = append(s.txns, txn)

	copied := *txn
	return &copied, nil
}

// GetTransaction retrieves a transaction by ID
func (s *MemoryStore) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, txn := range s.txns {
		if txn.ID == id {
			copied := *txn
			return &copied, nil
		}
	}
	return nil, ErrTxnNotFound
}

// GetByReference retrieves the transaction posted under a reference
func (s *MemoryStore) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.byRef[reference]
	if !ok {
		return nil, ErrTxnNotFound
	}
	copied := *txn
	return &copied, nil
}

// GetHistory returns a user's transactions, newest first
func (s *MemoryStore) GetHistory(ctx context.Context, userID string, limit, offset int) ([]*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*Transaction
	skipped := 0
	// Iterate backwards for newest-first ordering
	for i := len(s.txns) - 1; i >= 0 && len(result) < limit; i-- {
		if s.txns[i].UserID != userID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		copied := *s.txns[i]
		result = append(result, &copied)
	}
	return result, nil
}

// ListAccounts returns all accounts
func (s *MemoryStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts := make([]*Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		copied := *acc
		accounts = append(accounts, &copied)
	}
	return accounts, nil
}

// NetPosted returns the signed sum of a user's transactions
func (s *MemoryStore) NetPosted(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum int64
	for _, txn := range s.txns {
		if txn.UserID != userID {
			continue
		}
		if txn.Type == TypeDebit {
			sum -= txn.Amount
		} else {
			sum += txn.Amount
		}
	}
	return sum, nil
}
