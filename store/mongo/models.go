package mongo

import (
	"fmt"
	"time"

	"github.com/newleaf-app/quota/id"
	"github.com/newleaf-app/quota/plan"
	"github.com/newleaf-app/quota/subscription"
	"github.com/newleaf-app/quota/types"
	"github.com/newleaf-app/quota/usage"
)

// ==================== Subscription models ====================

type subscriptionModel struct {
	UserID    string        `bson:"_id"`
	ID        string        `bson:"id"`
	Tier      string        `bson:"tier"`
	StartDate time.Time     `bson:"start_date"`
	EndDate   time.Time     `bson:"end_date"`
	Active    bool          `bson:"active"`
	Payment   *paymentModel `bson:"payment,omitempty"`
	CreatedAt time.Time     `bson:"created_at"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

type paymentModel struct {
	ID          string    `bson:"id"`
	Provider    string    `bson:"provider"`
	Reference   string    `bson:"reference"`
	AmountCents int64     `bson:"amount_cents"`
	Currency    string    `bson:"currency"`
	PaidAt      time.Time `bson:"paid_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	m := &subscriptionModel{
		UserID:    sub.UserID,
		ID:        sub.ID.String(),
		Tier:      string(sub.Tier),
		StartDate: sub.StartDate.UTC(),
		EndDate:   sub.EndDate.UTC(),
		Active:    sub.Active,
		CreatedAt: sub.CreatedAt.UTC(),
		UpdatedAt: sub.UpdatedAt.UTC(),
	}
	if sub.Payment != nil {
		m.Payment = &paymentModel{
			ID:          sub.Payment.ID.String(),
			Provider:    sub.Payment.Provider,
			Reference:   sub.Payment.Reference,
			AmountCents: sub.Payment.Amount.Amount,
			Currency:    sub.Payment.Amount.Currency,
			PaidAt:      sub.Payment.PaidAt.UTC(),
		}
	}
	return m
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	parsed, err := id.ParseWithPrefix(m.ID, id.PrefixSubscription)
	if err != nil {
		return nil, fmt.Errorf("quota/mongo: corrupt subscription id %q: %w", m.ID, err)
	}

	sub := &subscription.Subscription{
		Entity:    types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:        parsed,
		UserID:    m.UserID,
		Tier:      plan.Tier(m.Tier),
		StartDate: m.StartDate,
		EndDate:   m.EndDate,
		Active:    m.Active,
	}

	if m.Payment != nil {
		payID, err := id.ParseWithPrefix(m.Payment.ID, id.PrefixPayment)
		if err != nil {
			return nil, fmt.Errorf("quota/mongo: corrupt payment id %q: %w", m.Payment.ID, err)
		}
		sub.Payment = &subscription.PaymentMeta{
			ID:        payID,
			Provider:  m.Payment.Provider,
			Reference: m.Payment.Reference,
			Amount:    types.Money{Amount: m.Payment.AmountCents, Currency: m.Payment.Currency},
			PaidAt:    m.Payment.PaidAt,
		}
	}
	return sub, nil
}

// ==================== Usage models ====================

// usageModel is keyed by "userID:cycle" so one document is the atomic
// unit for the whole cycle's counters.
type usageModel struct {
	Key          string    `bson:"_id"`
	ID           string    `bson:"id"`
	UserID       string    `bson:"user_id"`
	Cycle        string    `bson:"cycle"`
	TokenCalls   int64     `bson:"token_calls"`
	TokenCost    int64     `bson:"token_cost"`
	Interactions int64     `bson:"interactions"`
	Comments     int64     `bson:"comments"`
	Milestones   int64     `bson:"milestones"`
	Chats        int64     `bson:"chats"`
	FreeFeatures int64     `bson:"free_features"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func usageKey(userID string, cycle usage.Cycle) string {
	return userID + ":" + string(cycle)
}

func fromUsageModel(m *usageModel) (*usage.Record, error) {
	parsed, err := id.ParseWithPrefix(m.ID, id.PrefixUsageRecord)
	if err != nil {
		return nil, fmt.Errorf("quota/mongo: corrupt usage id %q: %w", m.ID, err)
	}

	return &usage.Record{
		Entity:       types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:           parsed,
		UserID:       m.UserID,
		Cycle:        usage.Cycle(m.Cycle),
		TokenCalls:   m.TokenCalls,
		TokenCost:    m.TokenCost,
		Interactions: m.Interactions,
		Comments:     m.Comments,
		Milestones:   m.Milestones,
		Chats:        m.Chats,
		FreeFeatures: m.FreeFeatures,
	}, nil
}

// ==================== Decision cache models ====================

type decisionModel struct {
	Key       string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Feature   string    `bson:"feature"`
	Decision  []byte    `bson:"decision"`
	ExpiresAt time.Time `bson:"expires_at"`
}
