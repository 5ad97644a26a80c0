// Package subscription models a user's current plan tier and billing
// anchor dates.
//
// Subscription records are owned exclusively by the billing/entitlement
// flow: they are created on signup (free tier) or on payment success
// (paid tier, anchored at payment time). Feature handlers never write
// them directly.
package subscription

import (
	"time"

	"github.com/newleaf-app/quota/id"
	"github.com/newleaf-app/quota/plan"
	"github.com/newleaf-app/quota/types"
)

// Subscription is one user's current tier and billing anchor.
type Subscription struct {
	types.Entity
	ID        id.SubscriptionID `json:"id"`
	UserID    string            `json:"user_id"`
	Tier      plan.Tier         `json:"tier"`
	StartDate time.Time         `json:"start_date"`
	EndDate   time.Time         `json:"end_date"`
	Active    bool              `json:"active"`
	Payment   *PaymentMeta      `json:"payment,omitempty"`
}

// PaymentMeta is opaque gateway metadata attached on payment success.
// The engine records it verbatim and never interprets it.
type PaymentMeta struct {
	ID        id.PaymentID `json:"id"`
	Provider  string       `json:"provider"`
	Reference string       `json:"reference"`
	Amount    types.Money  `json:"amount"`
	PaidAt    time.Time    `json:"paid_at"`
}

// IsActive reports whether the subscription should grant entitlements at
// the provided time.
func (s *Subscription) IsActive(now time.Time) bool {
	if !s.Active {
		return false
	}
	if s.EndDate.IsZero() {
		return true
	}
	return now.Before(s.EndDate)
}

// DaysSinceStart returns whole days elapsed since the billing anchor.
// Negative elapsed time (clock skew) reads as zero.
func (s *Subscription) DaysSinceStart(now time.Time) int {
	elapsed := now.Sub(s.StartDate)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed.Hours() / 24)
}

// New returns a subscription for userID on the given tier, anchored at
// now and running for one calendar month.
func New(userID string, tier plan.Tier, now time.Time) *Subscription {
	return &Subscription{
		Entity:    types.NewEntity(),
		ID:        id.NewSubscriptionID(),
		UserID:    userID,
		Tier:      tier,
		StartDate: now,
		EndDate:   now.AddDate(0, 1, 0),
		Active:    true,
	}
}
