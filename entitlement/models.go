// Package entitlement defines the admission decision value returned by
// permission checks. A denial is a normal Decision, never an error.
package entitlement

import "github.com/newleaf-app/quota/plan"

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Feature string `json:"feature"`
	Reason  string `json:"reason,omitempty"`

	// OverLimit is set when the denial is a quota exhaustion, with
	// LimitType naming the exhausted dimension.
	OverLimit bool           `json:"over_limit,omitempty"`
	LimitType plan.Dimension `json:"limit_type,omitempty"`

	// RequiredTier is set when the feature is gated behind a paid tier
	// the user's plan does not reach.
	RequiredTier plan.Tier `json:"required_tier,omitempty"`

	// Renewal fields, populated for token-budget exhaustion while the
	// subscription is still inside its renewal window.
	CanRenew      bool `json:"can_renew,omitempty"`
	RemainingDays int  `json:"remaining_days,omitempty"`

	UsedTokens  int64 `json:"used_tokens,omitempty"`
	TotalTokens int64 `json:"total_tokens,omitempty"`

	CurrentTier plan.Tier `json:"current_tier,omitempty"`
}

// Allow returns an allowed decision for a feature.
func Allow(feature string, tier plan.Tier) *Decision {
	return &Decision{Allowed: true, Feature: feature, CurrentTier: tier}
}

// Deny returns a denied decision with a reason.
func Deny(feature string, tier plan.Tier, reason string) *Decision {
	return &Decision{Allowed: false, Feature: feature, CurrentTier: tier, Reason: reason}
}
