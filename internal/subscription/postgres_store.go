package subscription

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed subscription store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the subscriptions and user_tiers tables
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS subscriptions (
			id                   VARCHAR(36) PRIMARY KEY,
			user_id              VARCHAR(64) NOT NULL,
			tier                 VARCHAR(20) NOT NULL,
			status               VARCHAR(20) NOT NULL DEFAULT 'active',
			amount               BIGINT NOT NULL DEFAULT 0,
			current_period_start TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			current_period_end   TIMESTAMPTZ,
			cancelled_at         TIMESTAMPTZ,
			cancel_reason        TEXT,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_id);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions(status);
		CREATE TABLE IF NOT EXISTS user_tiers (
			user_id     VARCHAR(64) PRIMARY KEY,
			tier        VARCHAR(20) NOT NULL DEFAULT 'free',
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

const subColumns = `
	id, user_id, tier, status, amount, current_period_start,
	current_period_end, cancelled_at, COALESCE(cancel_reason, ''),
	created_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (*Subscription, error) {
	sub := &Subscription{}
	var periodEnd, cancelledAt sql.NullTime
	err := row.Scan(&sub.ID, &sub.UserID, &sub.Tier, &sub.Status, &sub.Amount,
		&sub.CurrentPeriodStart, &periodEnd, &cancelledAt, &sub.CancelReason,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if periodEnd.Valid {
		sub.CurrentPeriodEnd = &periodEnd.Time
	}
	if cancelledAt.Valid {
		sub.CancelledAt = &cancelledAt.Time
	}
	return sub, nil
}

func (p *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO subscriptions
			(id, user_id, tier, status, amount, current_period_start,
			 current_period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, sub.ID, sub.UserID, sub.Tier, sub.Status, sub.Amount,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	sub, err := scanSubscription(p.db.QueryRowContext(ctx,
		`SELECT `+subColumns+` FROM subscriptions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

func (p *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE subscriptions SET
			tier = $1, status = $2, amount = $3, current_period_end = $4,
			cancelled_at = $5, cancel_reason = NULLIF($6, ''), updated_at = $7
		WHERE id = $8
	`, sub.Tier, sub.Status, sub.Amount, sub.CurrentPeriodEnd,
		sub.CancelledAt, sub.CancelReason, sub.UpdatedAt, sub.ID)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (p *PostgresStore) GetByUser(ctx context.Context, userID string) (*Subscription, error) {
	sub, err := scanSubscription(p.db.QueryRowContext(ctx, `
		SELECT `+subColumns+` FROM subscriptions
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1
	`, userID))
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by user: %w", err)
	}
	return sub, nil
}

func (p *PostgresStore) SetTier(ctx context.Context, userID, tier string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO user_tiers (user_id, tier, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET tier = $2, updated_at = NOW()
	`, userID, tier)
	if err != nil {
		return fmt.Errorf("set tier: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetTier(ctx context.Context, userID string) (string, error) {
	var tier string
	err := p.db.QueryRowContext(ctx,
		`SELECT tier FROM user_tiers WHERE user_id = $1`, userID).Scan(&tier)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get tier: %w", err)
	}
	return tier, nil
}
