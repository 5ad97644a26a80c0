// Package plugin provides an extensible plugin system for the quota
// engine. Plugins can hook into admission and subscription lifecycle
// events to extend functionality.
package plugin

import (
	"context"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionProvisioned is called when a subscription is
// auto-provisioned for a user seen for the first time.
type OnSubscriptionProvisioned interface {
	Plugin
	OnSubscriptionProvisioned(ctx context.Context, sub interface{}) error
}

// OnTierChanged is called when a subscription moves between tiers.
type OnTierChanged interface {
	Plugin
	OnTierChanged(ctx context.Context, sub interface{}, oldTier, newTier string) error
}

// OnPaymentSucceeded is called when a completed payment re-anchors a
// subscription.
type OnPaymentSucceeded interface {
	Plugin
	OnPaymentSucceeded(ctx context.Context, sub interface{}) error
}

// ──────────────────────────────────────────────────
// Admission hooks
// ──────────────────────────────────────────────────

// OnDecision is called after every admission check with the final
// decision.
type OnDecision interface {
	Plugin
	OnDecision(ctx context.Context, decision interface{}) error
}

// OnQuotaExceeded is called when an admission check denies because a
// limit was reached.
type OnQuotaExceeded interface {
	Plugin
	OnQuotaExceeded(ctx context.Context, userID, feature string, used, limit int64) error
}

// OnRenewalOffered is called when a token-budget denial carries a
// mid-cycle renewal offer.
type OnRenewalOffered interface {
	Plugin
	OnRenewalOffered(ctx context.Context, userID string, remainingDays int) error
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnUsageRecorded is called after usage counters are incremented.
type OnUsageRecorded interface {
	Plugin
	OnUsageRecorded(ctx context.Context, userID, feature string, record interface{}) error
}

// OnUsageReset is called when a cycle's counters are zeroed.
type OnUsageReset interface {
	Plugin
	OnUsageReset(ctx context.Context, userID, cycle string) error
}
