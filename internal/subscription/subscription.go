// Package subscription manages courier subscription plans and user tiers.
//
// Plans are a fixed catalog (free, premium, business) with NGN pricing,
// monthly parcel limits and the platform fee percentage charged on
// deliveries. The user's current tier lives in a projection owned by this
// package; cancelling a subscription resets the tier to free in the same
// logical operation. Cancellation never touches the wallet ledger.
package subscription

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/parcelpeer/payments/internal/logging"
	"github.com/parcelpeer/payments/internal/metrics"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrUnknownTier          = errors.New("unknown subscription tier")
	ErrAlreadyCancelled     = errors.New("subscription already cancelled")
)

// Subscription tiers.
const (
	TierFree     = "free"
	TierPremium  = "premium"
	TierBusiness = "business"
)

// Subscription statuses.
const (
	StatusActive    = "active"
	StatusPastDue   = "past_due"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// Unlimited marks a plan with no monthly parcel cap.
const Unlimited = -1

// Plan describes a subscription tier's pricing and entitlements. Amounts
// are in kobo.
type Plan struct {
	Tier               string   `json:"tier"`
	Name               string   `json:"name"`
	PriceKobo          int64    `json:"priceKobo"`
	MonthlyParcelLimit int      `json:"monthlyParcelLimit"` // Unlimited for no cap
	PlatformFeePercent int      `json:"platformFeePercentage"`
	Features           []string `json:"features"`
	GatewayPlanCode    string   `json:"gatewayPlanCode,omitempty"`
}

var plans = []Plan{
	{
		Tier:               TierFree,
		Name:               "Free",
		PriceKobo:          0,
		MonthlyParcelLimit: 5,
		PlatformFeePercent: 10,
		Features: []string{
			"Up to 5 parcels per month",
			"10% platform fee",
			"Basic support",
			"Standard matching",
		},
	},
	{
		Tier:               TierPremium,
		Name:               "Premium",
		PriceKobo:          99900,
		MonthlyParcelLimit: 20,
		PlatformFeePercent: 5,
		Features: []string{
			"Up to 20 parcels per month",
			"5% platform fee",
			"Priority support",
			"Priority matching",
			"Verified badge",
		},
		GatewayPlanCode: "PLN_premium_monthly",
	},
	{
		Tier:               TierBusiness,
		Name:               "Business",
		PriceKobo:          299900,
		MonthlyParcelLimit: Unlimited,
		PlatformFeePercent: 3,
		Features: []string{
			"Unlimited parcels",
			"3% platform fee",
			"Dedicated support",
			"Priority matching",
			"API access",
			"Business verified badge",
		},
		GatewayPlanCode: "PLN_business_monthly",
	},
}

// PlanFor returns the plan catalog entry for a tier.
func PlanFor(tier string) (Plan, error) {
	for _, p := range plans {
		if p.Tier == tier {
			return p, nil
		}
	}
	return Plan{}, ErrUnknownTier
}

// ListPlans returns the full plan catalog.
func ListPlans() []Plan {
	out := make([]Plan, len(plans))
	copy(out, plans)
	return out
}

// PlatformFee splits a delivery amount into the platform's cut and the
// carrier's payout for the given tier. Unknown tiers fall back to free.
func PlatformFee(amount int64, tier string) (fee, carrierAmount int64, percent int) {
	plan, err := PlanFor(tier)
	if err != nil {
		plan, _ = PlanFor(TierFree)
	}
	fee = int64(math.Round(float64(amount) * float64(plan.PlatformFeePercent) / 100))
	return fee, amount - fee, plan.PlatformFeePercent
}

// Subscription is a user's paid plan membership.
type Subscription struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"userId"`
	Tier               string     `json:"tier"`
	Status             string     `json:"status"`
	Amount             int64      `json:"amount"` // kobo
	CurrentPeriodStart time.Time  `json:"currentPeriodStart"`
	CurrentPeriodEnd   *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelledAt        *time.Time `json:"cancelledAt,omitempty"`
	CancelReason       string     `json:"cancelReason,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// Store persists subscriptions and the user tier projection.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	GetByUser(ctx context.Context, userID string) (*Subscription, error)
	// SetTier updates the user_tiers projection.
	SetTier(ctx context.Context, userID, tier string) error
	GetTier(ctx context.Context, userID string) (string, error)
}

// Service implements subscription lifecycle operations.
type Service struct {
	store Store
}

// NewService creates a subscription service
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Cancel marks a subscription cancelled and resets the user's tier to
// free. The wallet ledger is never touched: cancellation carries no
// automatic refund.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*Subscription, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == StatusCancelled {
		// A prior cancel may have written the status but died before the
		// tier reset. Retries finish the reset instead of erroring so the
		// user is never left cancelled on a paid tier.
		if s.TierFor(ctx, sub.UserID) != TierFree {
			if err := s.store.SetTier(ctx, sub.UserID, TierFree); err != nil {
				return nil, err
			}
			return sub, nil
		}
		return nil, ErrAlreadyCancelled
	}

	now := time.Now()
	sub.Status = StatusCancelled
	sub.CancelledAt = &now
	sub.CancelReason = reason
	sub.UpdatedAt = now

	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}
	if err := s.store.SetTier(ctx, sub.UserID, TierFree); err != nil {
		return nil, err
	}

	metrics.SubscriptionsCancelledTotal.WithLabelValues(sub.Tier).Inc()
	logging.L(ctx).Info("subscription cancelled",
		"subscription", sub.ID, "user", sub.UserID, "tier", sub.Tier, "reason", reason)
	return sub, nil
}

// Get returns a subscription by ID
func (s *Service) Get(ctx context.Context, id string) (*Subscription, error) {
	return s.store.Get(ctx, id)
}

// TierFor returns a user's current tier, defaulting to free.
func (s *Service) TierFor(ctx context.Context, userID string) string {
	tier, err := s.store.GetTier(ctx, userID)
	if err != nil || tier == "" {
		return TierFree
	}
	return tier
}
