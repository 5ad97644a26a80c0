package audithook

// Action constants for audit events.
const (
	// Subscription actions
	ActionSubscriptionProvisioned = "subscription.provisioned"
	ActionTierChanged             = "subscription.tier_changed"
	ActionPaymentSucceeded        = "subscription.payment_succeeded"

	// Admission actions
	ActionCheckDenied    = "check.denied"
	ActionQuotaExceeded  = "quota.exceeded"
	ActionRenewalOffered = "renewal.offered"

	// Usage actions
	ActionUsageRecorded = "usage.recorded"
	ActionUsageReset    = "usage.reset"
)

// Resource constants for audit events.
const (
	ResourceSubscription = "subscription"
	ResourceEntitlement  = "entitlement"
	ResourceUsage        = "usage"
)

// Category constants for audit events.
const (
	CategorySubscription = "subscription"
	CategoryAccess       = "access"
	CategoryUsage        = "usage"
	CategoryPayment      = "payment"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
