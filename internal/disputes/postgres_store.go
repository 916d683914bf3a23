package disputes

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed dispute store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the disputes table
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS disputes (
			id                 VARCHAR(36) PRIMARY KEY,
			parcel_id          VARCHAR(64) NOT NULL,
			complainant_id     VARCHAR(64) NOT NULL,
			respondent_id      VARCHAR(64) NOT NULL,
			reason             TEXT NOT NULL,
			status             VARCHAR(20) NOT NULL DEFAULT 'open',
			resolution         TEXT,
			refund_amount      BIGINT NOT NULL DEFAULT 0,
			refunded_to_wallet BOOLEAN NOT NULL DEFAULT FALSE,
			resolved_by        VARCHAR(64),
			resolved_at        TIMESTAMPTZ,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT chk_refund_amount CHECK (refund_amount >= 0)
		);
		CREATE INDEX IF NOT EXISTS idx_disputes_parcel ON disputes(parcel_id);
		CREATE INDEX IF NOT EXISTS idx_disputes_status ON disputes(status);
		CREATE INDEX IF NOT EXISTS idx_disputes_complainant ON disputes(complainant_id)
	`)
	return err
}

const disputeColumns = `
	id, parcel_id, complainant_id, respondent_id, reason, status,
	COALESCE(resolution, ''), refund_amount, refunded_to_wallet,
	COALESCE(resolved_by, ''), resolved_at, created_at, updated_at`

func scanDispute(row interface{ Scan(...any) error }) (*Dispute, error) {
	d := &Dispute{}
	var resolvedAt sql.NullTime
	err := row.Scan(&d.ID, &d.ParcelID, &d.ComplainantID, &d.RespondentID,
		&d.Reason, &d.Status, &d.Resolution, &d.RefundAmount, &d.RefundedToWallet,
		&d.ResolvedBy, &resolvedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		d.ResolvedAt = &resolvedAt.Time
	}
	return d, nil
}

func (p *PostgresStore) Create(ctx context.Context, d *Dispute) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disputes
			(id, parcel_id, complainant_id, respondent_id, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, d.ID, d.ParcelID, d.ComplainantID, d.RespondentID, d.Reason, d.Status,
		d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create dispute: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Dispute, error) {
	d, err := scanDispute(p.db.QueryRowContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dispute: %w", err)
	}
	return d, nil
}

func (p *PostgresStore) Update(ctx context.Context, d *Dispute) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE disputes SET
			status = $1, resolution = NULLIF($2, ''), refund_amount = $3,
			refunded_to_wallet = $4, resolved_by = NULLIF($5, ''),
			resolved_at = $6, updated_at = $7
		WHERE id = $8
	`, d.Status, d.Resolution, d.RefundAmount, d.RefundedToWallet,
		d.ResolvedBy, d.ResolvedAt, d.UpdatedAt, d.ID)
	if err != nil {
		return fmt.Errorf("update dispute: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status string, limit int) ([]*Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, status, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}
	return p.list(ctx, query, args...)
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Dispute, error) {
	return p.list(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE complainant_id = $1 OR respondent_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
}

func (p *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list disputes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var disputes []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}
