package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db       *sql.DB
	currency string
}

// NewPostgresStore creates a new PostgreSQL-backed wallet store
func NewPostgresStore(db *sql.DB, currency string) *PostgresStore {
	if currency == "" {
		currency = "NGN"
	}
	return &PostgresStore{db: db, currency: currency}
}

// Migrate creates the wallet tables
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS wallet_accounts (
			user_id         VARCHAR(64) PRIMARY KEY,
			balance         BIGINT NOT NULL DEFAULT 0,
			currency        VARCHAR(3) NOT NULL DEFAULT 'NGN',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT chk_balance_nonneg CHECK (balance >= 0)
		);

		CREATE TABLE IF NOT EXISTS wallet_transactions (
			id              VARCHAR(36) PRIMARY KEY,
			user_id         VARCHAR(64) NOT NULL REFERENCES wallet_accounts(user_id),
			type            VARCHAR(20) NOT NULL,
			amount          BIGINT NOT NULL,
			balance_before  BIGINT NOT NULL,
			balance_after   BIGINT NOT NULL,
			reference       VARCHAR(255) NOT NULL,
			description     TEXT,
			parcel_id       VARCHAR(64),
			dispute_id      VARCHAR(64),
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT uq_wallet_reference UNIQUE (reference),
			CONSTRAINT chk_amount_positive CHECK (amount > 0)
		);

		CREATE INDEX IF NOT EXISTS idx_wallet_tx_user ON wallet_transactions(user_id);
		CREATE INDEX IF NOT EXISTS idx_wallet_tx_created ON wallet_transactions(created_at DESC);
	`)
	return err
}

// GetAccount retrieves a user's account
func (p *PostgresStore) GetAccount(ctx context.Context, userID string) (*Account, error) {
	acc := &Account{}
	err := p.db.QueryRowContext(ctx, `
		SELECT user_id, balance, currency, created_at, updated_at
		FROM wallet_accounts WHERE user_id = $1
	`, userID).Scan(&acc.UserID, &acc.Balance, &acc.Currency, &acc.CreatedAt, &acc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}

// Apply posts a mutation in a single serializable transaction. The account
// row is locked for the duration, so concurrent mutations on the same user
// serialize. A duplicate reference returns the prior transaction wrapped in
// ErrReferenceConflict, whether it is caught by the pre-insert lookup or by
// the unique constraint when two replays race.
func (p *PostgresStore) Apply(ctx context.Context, m Mutation) (*Transaction, error) {
	const maxAttempts = 3
	var txn *Transaction
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		txn, err = p.applyOnce(ctx, m)
		if err == nil || !isSerializationFailure(err) {
			return txn, err
		}
	}
	return txn, err
}

func (p *PostgresStore) applyOnce(ctx context.Context, m Mutation) (*Transaction, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Ensure the account row exists, then lock it.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_accounts (user_id, currency)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, m.UserID, p.currency); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	var before int64
	if err := tx.QueryRowContext(ctx, `
		SELECT balance FROM wallet_accounts WHERE user_id = $1 FOR UPDATE
	`, m.UserID).Scan(&before); err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}

	// A replayed reference must short-circuit before any balance check:
	// the original debit may have emptied the account, and the replay
	// still acknowledges with the prior transaction.
	prior, err := queryOneIn(ctx, tx, `WHERE reference = $1`, m.Reference)
	if err == nil {
		return prior, ErrReferenceConflict
	}
	if !errors.Is(err, ErrTxnNotFound) {
		return nil, fmt.Errorf("check reference: %w", err)
	}

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
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO wallet_transactions
			(id, user_id, type, amount, balance_before, balance_after,
			 reference, description, parcel_id, dispute_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''))
		RETURNING created_at
	`, txn.ID, txn.UserID, txn.Type, txn.Amount, txn.BalanceBefore, txn.BalanceAfter,
		txn.Reference, txn.Description, txn.ParcelID, txn.DisputeID,
	).Scan(&txn.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			// Reference already posted: hand back the original transaction.
			prior, lookupErr := p.GetByReference(ctx, m.Reference)
			if lookupErr != nil {
				return nil, fmt.Errorf("lookup conflicting reference: %w", lookupErr)
			}
			return prior, ErrReferenceConflict
		}
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE wallet_accounts SET balance = $1, updated_at = NOW() WHERE user_id = $2
	`, after, m.UserID); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return txn, nil
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "40001"
}

// GetTransaction retrieves a transaction by ID
func (p *PostgresStore) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	return p.queryOne(ctx, `WHERE id = $1`, id)
}

// GetByReference retrieves the transaction posted under a reference
func (p *PostgresStore) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	return p.queryOne(ctx, `WHERE reference = $1`, reference)
}

// rowQuerier is satisfied by both *sql.DB and *sql.Tx, so single-row
// lookups can run inside an open transaction.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *PostgresStore) queryOne(ctx context.Context, where string, arg any) (*Transaction, error) {
	return queryOneIn(ctx, p.db, where, arg)
}

func queryOneIn(ctx context.Context, q rowQuerier, where string, arg any) (*Transaction, error) {
	txn := &Transaction{}
	var parcelID, disputeID sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, type, amount, balance_before, balance_after,
		       reference, COALESCE(description, ''), parcel_id, dispute_id, created_at
		FROM wallet_transactions `+where,
		arg,
	).Scan(&txn.ID, &txn.UserID, &txn.Type, &txn.Amount, &txn.BalanceBefore,
		&txn.BalanceAfter, &txn.Reference, &txn.Description, &parcelID, &disputeID, &txn.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTxnNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	txn.ParcelID = parcelID.String
	txn.DisputeID = disputeID.String
	return txn, nil
}

// GetHistory returns a user's transactions, newest first
func (p *PostgresStore) GetHistory(ctx context.Context, userID string, limit, offset int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, type, amount, balance_before, balance_after,
		       reference, COALESCE(description, ''), parcel_id, dispute_id, created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var txns []*Transaction
	for rows.Next() {
		txn := &Transaction{}
		var parcelID, disputeID sql.NullString
		if err := rows.Scan(&txn.ID, &txn.UserID, &txn.Type, &txn.Amount,
			&txn.BalanceBefore, &txn.BalanceAfter, &txn.Reference,
			&txn.Description, &parcelID, &disputeID, &txn.CreatedAt); err != nil {
			return nil, err
		}
		txn.ParcelID = parcelID.String
		txn.DisputeID = disputeID.String
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// ListAccounts returns all accounts
func (p *PostgresStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, balance, currency, created_at, updated_at
		FROM wallet_accounts ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []*Account
	for rows.Next() {
		acc := &Account{}
		if err := rows.Scan(&acc.UserID, &acc.Balance, &acc.Currency, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// NetPosted returns the signed sum of a user's transactions
func (p *PostgresStore) NetPosted(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN type = 'debit' THEN -amount ELSE amount END), 0)
		FROM wallet_transactions WHERE user_id = $1
	`, userID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("net posted: %w", err)
	}
	return sum, nil
}
