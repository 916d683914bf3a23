// Package payments manages gateway payment intents and reconciles webhook
// events against the wallet ledger.
//
// Flow:
//  1. Initialize creates a pending intent and asks the gateway for a
//     checkout authorization URL
//  2. The gateway reports the outcome via signed webhook
//  3. A success event credits the user's wallet exactly once (the intent
//     reference doubles as the ledger idempotency key), then marks the
//     intent successful
package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parcelpeer/payments/internal/logging"
	"github.com/parcelpeer/payments/internal/metrics"
	"github.com/parcelpeer/payments/internal/retry"
	"github.com/parcelpeer/payments/internal/traces"
	"github.com/parcelpeer/payments/internal/wallet"
)

var (
	ErrIntentNotFound   = errors.New("payment intent not found")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidAmount    = errors.New("invalid amount")
)

// Intent statuses
const (
	StatusPending   = "pending"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Gateway event names
const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

// Intent represents a payment attempt against the gateway
type Intent struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	Amount           int64      `json:"amount"`
	Currency         string     `json:"currency"`
	Status           string     `json:"status"`
	Reference        string     `json:"reference"`
	AccessCode       string     `json:"accessCode,omitempty"`
	AuthorizationURL string     `json:"authorizationUrl,omitempty"`
	ParcelID         string     `json:"parcelId,omitempty"`
	CarrierID        string     `json:"carrierId,omitempty"`
	PaidAt           *time.Time `json:"paidAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Terminal reports whether the intent has reached a final status.
func (i *Intent) Terminal() bool {
	return i.Status == StatusSuccess || i.Status == StatusFailed || i.Status == StatusCancelled
}

// Event is the decoded webhook payload from the gateway
type Event struct {
	Event string    `json:"event"`
	Data  EventData `json:"data"`
}

// EventData carries the event's transaction details
type EventData struct {
	Reference string        `json:"reference"`
	Status    string        `json:"status"`
	Amount    int64         `json:"amount"`
	Metadata  EventMetadata `json:"metadata"`
}

// EventMetadata carries correlation fields set at initialize time
type EventMetadata struct {
	ParcelID string `json:"parcelId"`
}

// Store persists payment intents
type Store interface {
	Create(ctx context.Context, intent *Intent) error
	GetByID(ctx context.Context, id string) (*Intent, error)
	GetByReference(ctx context.Context, reference string) (*Intent, error)
	MarkStatus(ctx context.Context, id, status string, paidAt *time.Time) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Intent, error)
}

// Gateway initializes transactions with the payment processor
type Gateway interface {
	InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResult, error)
}

// ParcelMarker is notified when a parcel's payment clears. The marker is an
// external collaborator; failures are logged, never propagated.
type ParcelMarker interface {
	MarkPaid(ctx context.Context, parcelID string) error
}

// NopMarker ignores parcel notifications
type NopMarker struct{}

func (NopMarker) MarkPaid(ctx context.Context, parcelID string) error { return nil }

// Service reconciles gateway activity with the wallet ledger
type Service struct {
	store   Store
	wallet  *wallet.Wallet
	gateway Gateway
	secret  []byte
	marker  ParcelMarker
}

// NewService creates a payments service. The secret signs and verifies
// webhook payloads.
func NewService(store Store, w *wallet.Wallet, gateway Gateway, secret string, marker ParcelMarker) *Service {
	if marker == nil {
		marker = NopMarker{}
	}
	return &Service{
		store:   store,
		wallet:  w,
		gateway: gateway,
		secret:  []byte(secret),
		marker:  marker,
	}
}

// Initialize creates a pending intent and registers it with the gateway.
func (s *Service) Initialize(ctx context.Context, userID, email string, amount int64, parcelID, carrierID string) (*Intent, error) {
	ctx, span := traces.StartSpan(ctx, "payments.initialize",
		traces.UserID(userID), traces.Amount(amount), traces.ParcelID(parcelID))
	defer span.End()

	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	intent := &Intent{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    amount,
		Currency:  s.wallet.Currency(),
		Status:    StatusPending,
		Reference: "PP-" + uuid.NewString(),
		ParcelID:  parcelID,
		CarrierID: carrierID,
	}

	res, err := s.gateway.InitializeTransaction(ctx, InitializeRequest{
		Email:     email,
		Amount:    amount,
		Reference: intent.Reference,
		Currency:  intent.Currency,
		Metadata:  map[string]string{"parcelId": parcelID},
	})
	if err != nil {
		return nil, fmt.Errorf("gateway initialize: %w", err)
	}
	intent.AccessCode = res.AccessCode
	intent.AuthorizationURL = res.AuthorizationURL

	if err := s.store.Create(ctx, intent); err != nil {
		return nil, fmt.Errorf("store intent: %w", err)
	}

	metrics.PaymentIntentsTotal.WithLabelValues(StatusPending).Inc()
	logging.L(ctx).Info("payment intent created",
		"intent", intent.ID, "user", userID, "amount", amount, "reference", intent.Reference)
	return intent, nil
}

// VerifySignature checks the hex HMAC-SHA512 of the raw body against the
// shared secret in constant time.
func (s *Service) VerifySignature(rawBody []byte, signature string) bool {
	if signature == "" || len(s.secret) == 0 {
		return false
	}
	mac := hmac.New(sha512.New, s.secret)
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// HandleEvent reconciles a verified webhook event against the intent and
// the ledger. Unknown references and terminal replays are acknowledged
// silently; a ledger failure on the success path propagates so the gateway
// retries the delivery.
func (s *Service) HandleEvent(ctx context.Context, evt Event) error {
	ctx, span := traces.StartSpan(ctx, "payments.webhook", traces.Reference(evt.Data.Reference))
	defer span.End()

	log := logging.L(ctx)

	intent, err := s.store.GetByReference(ctx, evt.Data.Reference)
	if errors.Is(err, ErrIntentNotFound) {
		// Not ours; ack so the gateway stops retrying.
		metrics.WebhookEventsTotal.WithLabelValues("unknown_reference").Inc()
		log.Warn("webhook for unknown reference", "reference", evt.Data.Reference, "event", evt.Event)
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup intent: %w", err)
	}
	span.SetAttributes(traces.IntentID(intent.ID))

	if intent.Terminal() {
		metrics.WebhookEventsTotal.WithLabelValues("replay").Inc()
		log.Info("webhook replay on settled intent", "intent", intent.ID, "status", intent.Status)
		return nil
	}

	switch evt.Event {
	case EventChargeSuccess:
		return s.settleSuccess(ctx, intent)
	case EventChargeFailed:
		return s.settleFailure(ctx, intent)
	default:
		metrics.WebhookEventsTotal.WithLabelValues("ignored_event").Inc()
		log.Info("ignoring webhook event", "event", evt.Event, "reference", evt.Data.Reference)
		return nil
	}
}

// settleSuccess credits the wallet first, then finalizes the intent. The
// intent reference is the ledger idempotency key, so a retry after a crash
// between the two writes converges: the credit replays as a no-op and the
// intent transition completes.
func (s *Service) settleSuccess(ctx context.Context, intent *Intent) error {
	log := logging.L(ctx)

	_, err := s.wallet.Topup(ctx, wallet.Mutation{
		UserID:      intent.UserID,
		Amount:      intent.Amount,
		Reference:   intent.Reference,
		Description: "wallet topup via payment gateway",
		ParcelID:    intent.ParcelID,
	})
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("ledger_error").Inc()
		return fmt.Errorf("credit wallet: %w", err)
	}

	now := time.Now()
	if err := s.store.MarkStatus(ctx, intent.ID, StatusSuccess, &now); err != nil {
		// The credit is durable and keyed by reference; failing here makes
		// the gateway redeliver, which replays the credit as a no-op.
		return fmt.Errorf("mark intent success: %w", err)
	}

	metrics.WebhookEventsTotal.WithLabelValues("processed").Inc()
	metrics.PaymentIntentsTotal.WithLabelValues(StatusSuccess).Inc()
	log.Info("payment settled", "intent", intent.ID, "user", intent.UserID, "amount", intent.Amount)

	if intent.ParcelID != "" {
		// Best effort: the payment is settled either way.
		err := retry.Do(ctx, 3, 200*time.Millisecond, func() error {
			return s.marker.MarkPaid(ctx, intent.ParcelID)
		})
		if err != nil {
			log.Warn("parcel marker failed", "parcel", intent.ParcelID, "error", err)
		}
	}
	return nil
}

func (s *Service) settleFailure(ctx context.Context, intent *Intent) error {
	if err := s.store.MarkStatus(ctx, intent.ID, StatusFailed, nil); err != nil {
		return fmt.Errorf("mark intent failed: %w", err)
	}
	metrics.WebhookEventsTotal.WithLabelValues("processed").Inc()
	metrics.PaymentIntentsTotal.WithLabelValues(StatusFailed).Inc()
	logging.L(ctx).Info("payment failed", "intent", intent.ID, "user", intent.UserID)
	return nil
}

// Cancel marks a pending intent cancelled. Terminal intents are left alone.
func (s *Service) Cancel(ctx context.Context, id string) (*Intent, error) {
	intent, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if intent.Terminal() {
		return intent, nil
	}
	if err := s.store.MarkStatus(ctx, intent.ID, StatusCancelled, nil); err != nil {
		return nil, err
	}
	intent.Status = StatusCancelled
	metrics.PaymentIntentsTotal.WithLabelValues(StatusCancelled).Inc()
	return intent, nil
}

// History returns a user's payment intents, newest first
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*Intent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// GetByReference returns the intent posted under a gateway reference
func (s *Service) GetByReference(ctx context.Context, reference string) (*Intent, error) {
	return s.store.GetByReference(ctx, reference)
}
