// Package disputes coordinates parcel dispute lifecycle and wallet refunds.
//
// A dispute moves open → in_review → resolved | closed. When a resolution
// awards a refund, the complainant's wallet is credited BEFORE the dispute
// record is finalized. The refund reference is derived from the dispute ID,
// so a crash between the credit and the finalize converges on retry: the
// credit replays as a no-op and the state transition completes.
package disputes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parcelpeer/payments/internal/logging"
	"github.com/parcelpeer/payments/internal/metrics"
	"github.com/parcelpeer/payments/internal/syncutil"
	"github.com/parcelpeer/payments/internal/traces"
	"github.com/parcelpeer/payments/internal/wallet"
)

var (
	ErrDisputeNotFound = errors.New("dispute not found")
	ErrAlreadyResolved = errors.New("dispute already resolved")
	ErrInvalidStatus   = errors.New("invalid dispute status for this operation")
	ErrInvalidRequest  = errors.New("invalid dispute request")
)

// Dispute statuses.
const (
	StatusOpen     = "open"
	StatusInReview = "in_review"
	StatusResolved = "resolved"
	StatusClosed   = "closed"
)

// Dispute is a complaint raised over a parcel delivery.
type Dispute struct {
	ID               string     `json:"id"`
	ParcelID         string     `json:"parcelId"`
	ComplainantID    string     `json:"complainantId"`
	RespondentID     string     `json:"respondentId"`
	Reason           string     `json:"reason"`
	Status           string     `json:"status"`
	Resolution       string     `json:"resolution,omitempty"`
	RefundAmount     int64      `json:"refundAmount"`
	RefundedToWallet bool       `json:"refundedToWallet"`
	ResolvedBy       string     `json:"resolvedBy,omitempty"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Terminal reports whether the dispute has reached a final status.
func (d *Dispute) Terminal() bool {
	return d.Status == StatusResolved || d.Status == StatusClosed
}

// RefundReference is the ledger idempotency key for a dispute's refund.
func RefundReference(disputeID string) string {
	return "DISPUTE-REFUND-" + disputeID
}

// Store persists disputes
type Store interface {
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, id string) (*Dispute, error)
	Update(ctx context.Context, d *Dispute) error
	ListByStatus(ctx context.Context, status string, limit int) ([]*Dispute, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Dispute, error)
}

// OpenRequest contains the parameters for opening a dispute.
type OpenRequest struct {
	ParcelID      string `json:"parcelId" binding:"required"`
	ComplainantID string `json:"complainantId" binding:"required"`
	RespondentID  string `json:"respondentId" binding:"required"`
	Reason        string `json:"reason" binding:"required"`
}

// ResolveRequest contains the parameters for resolving a dispute.
type ResolveRequest struct {
	Resolution     string `json:"resolution" binding:"required"`
	RefundAmount   int64  `json:"refundAmount"`
	RefundToWallet bool   `json:"refundToWallet"`
}

// Service implements dispute business logic.
type Service struct {
	store  Store
	wallet *wallet.Wallet
	locks  syncutil.ShardedMutex // per-dispute locks to prevent concurrent transitions
}

// NewService creates a dispute service backed by the wallet ledger
func NewService(store Store, w *wallet.Wallet) *Service {
	return &Service{store: store, wallet: w}
}

// Open raises a new dispute over a parcel.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*Dispute, error) {
	if req.ParcelID == "" || req.ComplainantID == "" || req.RespondentID == "" || req.Reason == "" {
		return nil, ErrInvalidRequest
	}
	if req.ComplainantID == req.RespondentID {
		return nil, fmt.Errorf("%w: complainant and respondent cannot be the same user", ErrInvalidRequest)
	}

	now := time.Now()
	d := &Dispute{
		ID:            uuid.NewString(),
		ParcelID:      req.ParcelID,
		ComplainantID: req.ComplainantID,
		RespondentID:  req.RespondentID,
		Reason:        req.Reason,
		Status:        StatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create dispute: %w", err)
	}

	metrics.DisputesOpenedTotal.Inc()
	logging.L(ctx).Info("dispute opened",
		"dispute", d.ID, "parcel", d.ParcelID, "complainant", d.ComplainantID)
	return d, nil
}

// StartReview moves an open dispute into review.
func (s *Service) StartReview(ctx context.Context, id string) (*Dispute, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Terminal() {
		return nil, ErrAlreadyResolved
	}
	if d.Status != StatusOpen {
		return nil, ErrInvalidStatus
	}

	d.Status = StatusInReview
	d.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Resolve finalizes a dispute, optionally crediting the complainant's
// wallet. The refund posts to the ledger first; only once the credit is
// durable does the dispute transition to resolved. The ledger keys the
// refund on the dispute ID, so a retry after a partial failure does not
// double-credit.
func (s *Service) Resolve(ctx context.Context, id string, req ResolveRequest, resolvedBy string) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "disputes.resolve", traces.DisputeID(id))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Terminal() {
		return nil, ErrAlreadyResolved
	}
	if req.RefundToWallet && req.RefundAmount <= 0 {
		return nil, fmt.Errorf("%w: refund amount must be positive", ErrInvalidRequest)
	}

	log := logging.L(ctx)

	if req.RefundToWallet {
		txn, err := s.wallet.Refund(ctx, wallet.Mutation{
			UserID:      d.ComplainantID,
			Amount:      req.RefundAmount,
			Reference:   RefundReference(d.ID),
			Description: "dispute refund for parcel " + d.ParcelID,
			ParcelID:    d.ParcelID,
			DisputeID:   d.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("credit dispute refund: %w", err)
		}
		log.Info("dispute refund credited",
			"dispute", d.ID, "user", d.ComplainantID, "amount", req.RefundAmount, "transaction", txn.ID)
		d.RefundAmount = req.RefundAmount
		d.RefundedToWallet = true
	}

	now := time.Now()
	d.Status = StatusResolved
	d.Resolution = req.Resolution
	d.ResolvedBy = resolvedBy
	d.ResolvedAt = &now
	d.UpdatedAt = now

	if err := s.store.Update(ctx, d); err != nil {
		// The refund is durable and keyed by dispute ID; a retry replays
		// it as a no-op and completes the transition.
		return nil, fmt.Errorf("finalize dispute: %w", err)
	}

	metrics.DisputesResolvedTotal.WithLabelValues(StatusResolved).Inc()
	metrics.DisputeDuration.Observe(now.Sub(d.CreatedAt).Seconds())
	log.Info("dispute resolved",
		"dispute", d.ID, "by", resolvedBy, "refunded", d.RefundedToWallet)
	return d, nil
}

// Close dismisses a dispute without a refund.
func (s *Service) Close(ctx context.Context, id, resolution, closedBy string) (*Dispute, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Terminal() {
		return nil, ErrAlreadyResolved
	}

	now := time.Now()
	d.Status = StatusClosed
	d.Resolution = resolution
	d.ResolvedBy = closedBy
	d.ResolvedAt = &now
	d.UpdatedAt = now

	if err := s.store.Update(ctx, d); err != nil {
		return nil, err
	}

	metrics.DisputesResolvedTotal.WithLabelValues(StatusClosed).Inc()
	metrics.DisputeDuration.Observe(now.Sub(d.CreatedAt).Seconds())
	logging.L(ctx).Info("dispute closed", "dispute", d.ID, "by", closedBy)
	return d, nil
}

// Get returns a dispute by ID
func (s *Service) Get(ctx context.Context, id string) (*Dispute, error) {
	return s.store.Get(ctx, id)
}

// ListByStatus returns disputes in a given status
func (s *Service) ListByStatus(ctx context.Context, status string, limit int) ([]*Dispute, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListByStatus(ctx, status, limit)
}

// ListByUser returns disputes where the user is complainant or respondent
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Dispute, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}
