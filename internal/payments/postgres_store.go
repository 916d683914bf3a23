package payments

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed intent store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the payment_intents table
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS payment_intents (
			id               VARCHAR(36) PRIMARY KEY,
			user_id          VARCHAR(64) NOT NULL,
			amount           BIGINT NOT NULL,
			currency         VARCHAR(3) NOT NULL DEFAULT 'NGN',
			status           VARCHAR(20) NOT NULL DEFAULT 'pending',
			reference        VARCHAR(255) NOT NULL,
			access_code      VARCHAR(255),
			authorization_url TEXT,
			parcel_id        VARCHAR(64),
			carrier_id       VARCHAR(64),
			paid_at          TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT uq_payment_reference UNIQUE (reference),
			CONSTRAINT chk_payment_amount CHECK (amount > 0)
		);
		CREATE INDEX IF NOT EXISTS idx_payment_user ON payment_intents(user_id);
		CREATE INDEX IF NOT EXISTS idx_payment_status ON payment_intents(status);
	`)
	return err
}

// Create stores a new intent
func (p *PostgresStore) Create(ctx context.Context, intent *Intent) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO payment_intents
			(id, user_id, amount, currency, status, reference,
			 access_code, authorization_url, parcel_id, carrier_id)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''))
		RETURNING created_at, updated_at
	`, intent.ID, intent.UserID, intent.Amount, intent.Currency, intent.Status,
		intent.Reference, intent.AccessCode, intent.AuthorizationURL,
		intent.ParcelID, intent.CarrierID,
	).Scan(&intent.CreatedAt, &intent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create intent: %w", err)
	}
	return nil
}

const intentColumns = `
	id, user_id, amount, currency, status, reference,
	COALESCE(access_code, ''), COALESCE(authorization_url, ''),
	COALESCE(parcel_id, ''), COALESCE(carrier_id, ''),
	paid_at, created_at, updated_at`

func scanIntent(row interface{ Scan(...any) error }) (*Intent, error) {
	intent := &Intent{}
	var paidAt sql.NullTime
	err := row.Scan(&intent.ID, &intent.UserID, &intent.Amount, &intent.Currency,
		&intent.Status, &intent.Reference, &intent.AccessCode, &intent.AuthorizationURL,
		&intent.ParcelID, &intent.CarrierID, &paidAt, &intent.CreatedAt, &intent.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if paidAt.Valid {
		intent.PaidAt = &paidAt.Time
	}
	return intent, nil
}

// GetByID retrieves an intent by ID
func (p *PostgresStore) GetByID(ctx context.Context, id string) (*Intent, error) {
	intent, err := scanIntent(p.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get intent: %w", err)
	}
	return intent, nil
}

// GetByReference retrieves an intent by gateway reference
func (p *PostgresStore) GetByReference(ctx context.Context, reference string) (*Intent, error) {
	intent, err := scanIntent(p.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE reference = $1`, reference))
	if err == sql.ErrNoRows {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get intent by reference: %w", err)
	}
	return intent, nil
}

// MarkStatus transitions an intent's status
func (p *PostgresStore) MarkStatus(ctx context.Context, id, status string, paidAt *time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE payment_intents SET status = $1, paid_at = $2, updated_at = NOW()
		WHERE id = $3
	`, status, paidAt, id)
	if err != nil {
		return fmt.Errorf("mark status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// ListByUser returns a user's intents, newest first
func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Intent, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list intents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var intents []*Intent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	return intents, rows.Err()
}
