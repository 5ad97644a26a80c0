// Package audithook bridges quota engine events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit system. Callers inject a RecorderFunc adapter that
// bridges to their backend at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/newleaf-app/quota/entitlement"
	"github.com/newleaf-app/quota/plugin"
	"github.com/newleaf-app/quota/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                    = (*Extension)(nil)
	_ plugin.OnSubscriptionProvisioned = (*Extension)(nil)
	_ plugin.OnTierChanged             = (*Extension)(nil)
	_ plugin.OnPaymentSucceeded        = (*Extension)(nil)
	_ plugin.OnDecision                = (*Extension)(nil)
	_ plugin.OnQuotaExceeded           = (*Extension)(nil)
	_ plugin.OnRenewalOffered          = (*Extension)(nil)
	_ plugin.OnUsageReset              = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement. It is
// defined locally so callers inject their concrete audit client at
// wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges quota engine events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionProvisioned implements plugin.OnSubscriptionProvisioned.
func (e *Extension) OnSubscriptionProvisioned(ctx context.Context, sub interface{}) error {
	return e.record(ctx, ActionSubscriptionProvisioned, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, subscriptionUserID(sub), CategorySubscription, nil,
		"event", "subscription_provisioned",
	)
}

// OnTierChanged implements plugin.OnTierChanged.
func (e *Extension) OnTierChanged(ctx context.Context, sub interface{}, oldTier, newTier string) error {
	return e.record(ctx, ActionTierChanged, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, subscriptionUserID(sub), CategorySubscription, nil,
		"old_tier", oldTier,
		"new_tier", newTier,
	)
}

// OnPaymentSucceeded implements plugin.OnPaymentSucceeded.
func (e *Extension) OnPaymentSucceeded(ctx context.Context, sub interface{}) error {
	return e.record(ctx, ActionPaymentSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, subscriptionUserID(sub), CategoryPayment, nil,
		"event", "payment_succeeded",
	)
}

// ──────────────────────────────────────────────────
// Admission hooks
// ──────────────────────────────────────────────────

// OnDecision implements plugin.OnDecision.
// Only denied checks are audited, to keep volume proportional to
// actionable events.
func (e *Extension) OnDecision(ctx context.Context, decision interface{}) error {
	d, ok := decision.(*entitlement.Decision)
	if !ok || d.Allowed {
		return nil
	}
	return e.record(ctx, ActionCheckDenied, SeverityWarning, OutcomeFailure,
		ResourceEntitlement, d.Feature, CategoryAccess, nil,
		"feature", d.Feature,
		"reason", d.Reason,
		"tier", string(d.CurrentTier),
	)
}

// OnQuotaExceeded implements plugin.OnQuotaExceeded.
func (e *Extension) OnQuotaExceeded(ctx context.Context, userID, feature string, used, limit int64) error {
	return e.record(ctx, ActionQuotaExceeded, SeverityWarning, OutcomeFailure,
		ResourceEntitlement, feature, CategoryAccess, nil,
		"user_id", userID,
		"feature", feature,
		"used", used,
		"limit", limit,
	)
}

// OnRenewalOffered implements plugin.OnRenewalOffered.
func (e *Extension) OnRenewalOffered(ctx context.Context, userID string, remainingDays int) error {
	return e.record(ctx, ActionRenewalOffered, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, userID, CategorySubscription, nil,
		"user_id", userID,
		"remaining_days", remainingDays,
	)
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnUsageReset implements plugin.OnUsageReset.
func (e *Extension) OnUsageReset(ctx context.Context, userID, cycle string) error {
	return e.record(ctx, ActionUsageReset, SeverityInfo, OutcomeSuccess,
		ResourceUsage, userID, CategoryUsage, nil,
		"user_id", userID,
		"cycle", cycle,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// subscriptionUserID extracts the user ID from an event payload when the
// payload is a *subscription.Subscription.
func subscriptionUserID(sub interface{}) string {
	if s, ok := sub.(*subscription.Subscription); ok {
		return s.UserID
	}
	return ""
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
