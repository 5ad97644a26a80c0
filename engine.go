package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/newleaf-app/quota/entitlement"
	"github.com/newleaf-app/quota/id"
	"github.com/newleaf-app/quota/plan"
	"github.com/newleaf-app/quota/plugin"
	"github.com/newleaf-app/quota/renewal"
	"github.com/newleaf-app/quota/store"
	"github.com/newleaf-app/quota/subscription"
	"github.com/newleaf-app/quota/usage"
)

// Engine is the admission-control and usage-metering engine. It
// orchestrates the plan catalog, subscription store, usage ledger and
// renewal evaluator into single allow/deny decisions.
//
// All operations are short synchronous request/response calls; the
// engine runs no background workers. Usage recording is write-through
// and at-least-once: a failed write under-counts, which is the safe
// direction for a soft cap.
type Engine struct {
	store     store.Store
	catalog   *plan.Catalog
	evaluator *renewal.Evaluator
	plugins   *plugin.Registry
	logger    *slog.Logger

	decisionCacheTTL time.Duration
	testMode         bool
}

// New creates a new Engine backed by the given store.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:            s,
		catalog:          plan.DefaultCatalog(),
		evaluator:        renewal.NewEvaluator(),
		plugins:          plugin.NewRegistry(),
		logger:           slog.Default(),
		decisionCacheTTL: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithCatalog replaces the built-in plan catalog.
func WithCatalog(c *plan.Catalog) Option {
	return func(e *Engine) {
		e.catalog = c
	}
}

// WithRenewalWindow sets the mid-cycle renewal window measured from the
// subscription's billing anchor.
func WithRenewalWindow(d time.Duration) Option {
	return func(e *Engine) {
		e.evaluator = &renewal.Evaluator{Window: d}
	}
}

// WithDecisionCacheTTL sets how long admission decisions are cached.
// Zero disables caching.
func WithDecisionCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.decisionCacheTTL = ttl
	}
}

// WithTestMode forces every admission check to allow. Gating this to
// non-production deployments is the caller's responsibility.
func WithTestMode(enabled bool) Option {
	return func(e *Engine) {
		e.testMode = enabled
	}
}

// Start migrates the store and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("quota engine started",
		"tiers", len(e.catalog.Tiers()),
		"decision_cache_ttl", e.decisionCacheTTL,
		"test_mode", e.testMode,
	)

	return nil
}

// Stop shuts down plugins and closes the store.
func (e *Engine) Stop() error {
	e.plugins.EmitShutdown(context.Background())
	return e.store.Close()
}

// Catalog returns the engine's plan catalog.
func (e *Engine) Catalog() *plan.Catalog { return e.catalog }

// ──────────────────────────────────────────────────
// Admission control
// ──────────────────────────────────────────────────

// Check decides whether userID may execute feature right now. Denial is
// expressed in the returned Decision, never as an error; errors are
// reserved for validation and store failures.
//
// Check is read-only and may observe a counter slightly staler than an
// in-flight Record call for the same user. That slack is accepted: the
// quota is a feature gate, not a financial ledger.
func (e *Engine) Check(ctx context.Context, userID, feature string) (*entitlement.Decision, error) {
	if err := validate(userID, feature); err != nil {
		return nil, err
	}

	if e.testMode || TestModeFromContext(ctx) {
		return &entitlement.Decision{
			Allowed: true,
			Feature: feature,
			Reason:  "test mode override",
		}, nil
	}

	if cached, err := e.store.GetCachedDecision(ctx, userID, feature); err == nil {
		return cached, nil
	}

	sub, pl, err := e.resolveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	if required, paidOnly := RequiredTier(feature); paidOnly && !sub.Tier.AtLeast(required) {
		d := entitlement.Deny(feature, sub.Tier, fmt.Sprintf("feature requires the %s plan", required))
		d.RequiredTier = required
		return e.finishCheck(ctx, userID, feature, d), nil
	}

	dim, known := FeatureDimension(feature)
	if !known {
		if !DefaultDecisionOnUnknownFeature {
			d := entitlement.Deny(feature, sub.Tier, "feature not in mapping table")
			return e.finishCheck(ctx, userID, feature, d), nil
		}
		d := entitlement.Allow(feature, sub.Tier)
		d.Reason = "feature not metered"
		return e.finishCheck(ctx, userID, feature, d), nil
	}

	limit := pl.Limit(dim)

	if limit == plan.Unlimited {
		return e.finishCheck(ctx, userID, feature, entitlement.Allow(feature, sub.Tier)), nil
	}

	if limit == plan.Disallowed {
		d := entitlement.Deny(feature, sub.Tier, fmt.Sprintf("%s not available on the %s plan", dim, sub.Tier))
		d.LimitType = dim
		return e.finishCheck(ctx, userID, feature, d), nil
	}

	rec, err := e.store.GetUsage(ctx, userID, usage.CurrentCycle())
	if err != nil {
		return nil, err
	}
	used := rec.Counter(dim)

	if dim == plan.DimensionTokens {
		if used >= limit {
			return e.finishCheck(ctx, userID, feature, e.tokenDenial(ctx, sub, feature, used, limit)), nil
		}
	} else if used > limit {
		d := entitlement.Deny(feature, sub.Tier, fmt.Sprintf("%s limit reached", dim))
		d.OverLimit = true
		d.LimitType = dim
		e.plugins.EmitQuotaExceeded(ctx, userID, feature, used, limit)
		return e.finishCheck(ctx, userID, feature, d), nil
	}

	return e.finishCheck(ctx, userID, feature, entitlement.Allow(feature, sub.Tier)), nil
}

// tokenDenial builds the decision for an exhausted token budget,
// offering a mid-cycle renewal while the subscription is inside its
// renewal window.
func (e *Engine) tokenDenial(ctx context.Context, sub *subscription.Subscription, feature string, used, limit int64) *entitlement.Decision {
	d := entitlement.Deny(feature, sub.Tier, "token budget exhausted")
	d.OverLimit = true
	d.LimitType = plan.DimensionTokens
	d.UsedTokens = used
	d.TotalTokens = limit

	e.plugins.EmitQuotaExceeded(ctx, sub.UserID, feature, used, limit)

	assessment := e.evaluator.Evaluate(sub, time.Now())
	if assessment.CanRenew {
		d.CanRenew = true
		d.RemainingDays = assessment.RemainingDays
		d.Reason = "token budget exhausted; mid-cycle renewal available"
		e.plugins.EmitRenewalOffered(ctx, sub.UserID, assessment.RemainingDays)
	}

	return d
}

// finishCheck caches and emits the decision.
func (e *Engine) finishCheck(ctx context.Context, userID, feature string, d *entitlement.Decision) *entitlement.Decision {
	if e.decisionCacheTTL > 0 {
		_ = e.store.SetCachedDecision(ctx, userID, feature, d, e.decisionCacheTTL) //nolint:errcheck // best-effort cache set
	}
	e.plugins.EmitDecision(ctx, d)
	return d
}

// ──────────────────────────────────────────────────
// Usage recording
// ──────────────────────────────────────────────────

// Record increments the usage counters for feature after the gated
// action has succeeded. Token-metered features additionally charge cost
// against the token budget. There is no rollback: callers must only
// invoke Record once the action is done.
func (e *Engine) Record(ctx context.Context, userID, feature string, cost int64) (*usage.Record, error) {
	if err := validate(userID, feature); err != nil {
		return nil, err
	}
	if cost < 0 {
		return nil, ErrInvalidQuantity
	}

	cycle := usage.CurrentCycle()

	dim, known := FeatureDimension(feature)
	if !known {
		// Unmetered feature: nothing to charge. Return the current
		// record so callers still see a consistent snapshot.
		e.logger.Debug("usage not recorded for unmetered feature",
			"user_id", userID,
			"feature", feature,
		)
		return e.store.GetUsage(ctx, userID, cycle)
	}

	amount := int64(1)
	if dim == plan.DimensionTokens {
		amount = cost
	}
	delta := usage.ForDimension(dim, amount)

	rec, err := e.store.AddUsage(ctx, userID, cycle, delta)
	if err != nil {
		return nil, err
	}

	_ = e.store.InvalidateDecisions(ctx, userID) //nolint:errcheck // best-effort cache invalidation
	e.plugins.EmitUsageRecorded(ctx, userID, feature, rec)

	return rec, nil
}

// ──────────────────────────────────────────────────
// Subscription lifecycle
// ──────────────────────────────────────────────────

// Status is the full subscription/usage snapshot for one user.
type Status struct {
	Subscription *subscription.Subscription `json:"subscription"`
	Plan         *plan.Plan                 `json:"plan"`
	Cycle        usage.Cycle                `json:"cycle"`
	Usage        *usage.Record              `json:"usage"`
	Limits       map[plan.Dimension]int64   `json:"limits"`
	OverLimit    map[plan.Dimension]bool    `json:"over_limit"`
}

// Status returns the subscription, plan, current-cycle usage and
// per-dimension over-limit flags for userID.
func (e *Engine) Status(ctx context.Context, userID string) (*Status, error) {
	if userID == "" {
		return nil, ValidationError{Field: "userID", Message: "must not be empty"}
	}

	sub, pl, err := e.resolveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	cycle := usage.CurrentCycle()
	rec, err := e.store.GetUsage(ctx, userID, cycle)
	if err != nil {
		return nil, err
	}

	limits := make(map[plan.Dimension]int64, len(plan.Dimensions()))
	over := make(map[plan.Dimension]bool, len(plan.Dimensions()))
	for _, d := range plan.Dimensions() {
		limit := pl.Limit(d)
		limits[d] = limit
		over[d] = overLimit(d, rec.Counter(d), limit)
	}

	return &Status{
		Subscription: sub,
		Plan:         pl,
		Cycle:        cycle,
		Usage:        rec,
		Limits:       limits,
		OverLimit:    over,
	}, nil
}

// SubscriptionUpdate is the result of a tier change.
type SubscriptionUpdate struct {
	Subscription *subscription.Subscription `json:"subscription"`
	Plan         *plan.Plan                 `json:"plan"`
}

// UpdateSubscription moves userID to tier, re-anchors the billing dates
// and resets the current cycle's usage.
func (e *Engine) UpdateSubscription(ctx context.Context, userID string, tier plan.Tier) (*SubscriptionUpdate, error) {
	if userID == "" {
		return nil, ValidationError{Field: "userID", Message: "must not be empty"}
	}
	pl, ok := e.catalog.Get(tier)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTierNotInCatalog, tier)
	}

	sub, _, err := e.resolveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	oldTier := sub.Tier
	now := time.Now().UTC()
	sub.Tier = tier
	sub.StartDate = now
	sub.EndDate = now.AddDate(0, 1, 0)
	sub.Active = true
	sub.Touch()

	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	if err := e.store.ResetUsage(ctx, userID, usage.CurrentCycle()); err != nil {
		return nil, err
	}
	_ = e.store.InvalidateDecisions(ctx, userID) //nolint:errcheck // best-effort cache invalidation

	e.plugins.EmitTierChanged(ctx, sub, string(oldTier), string(tier))
	e.logger.Info("subscription updated",
		"user_id", userID,
		"old_tier", oldTier,
		"new_tier", tier,
	)

	return &SubscriptionUpdate{Subscription: sub, Plan: pl}, nil
}

// PaymentResult is the outcome of a successful payment.
type PaymentResult struct {
	Subscription  *subscription.Subscription `json:"subscription"`
	StartDate     time.Time                  `json:"start_date"`
	EndDate       time.Time                  `json:"end_date"`
	RemainingDays int                        `json:"remaining_days"`
}

// PaymentSuccess records a completed payment: it moves the user to tier,
// anchors a fresh billing period at payment time, attaches the gateway
// metadata verbatim and resets current-cycle usage.
func (e *Engine) PaymentSuccess(ctx context.Context, userID string, tier plan.Tier, meta *subscription.PaymentMeta) (*PaymentResult, error) {
	if userID == "" {
		return nil, ValidationError{Field: "userID", Message: "must not be empty"}
	}
	if _, ok := e.catalog.Get(tier); !ok {
		return nil, fmt.Errorf("%w: %s", ErrTierNotInCatalog, tier)
	}

	sub, _, err := e.resolveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sub.Tier = tier
	sub.StartDate = now
	sub.EndDate = now.AddDate(0, 1, 0)
	sub.Active = true
	if meta != nil {
		if meta.ID.IsNil() {
			meta.ID = id.NewPaymentID()
		}
		if meta.PaidAt.IsZero() {
			meta.PaidAt = now
		}
		sub.Payment = meta
	}
	sub.Touch()

	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	if err := e.store.ResetUsage(ctx, userID, usage.CurrentCycle()); err != nil {
		return nil, err
	}
	_ = e.store.InvalidateDecisions(ctx, userID) //nolint:errcheck // best-effort cache invalidation

	e.plugins.EmitPaymentSucceeded(ctx, sub)
	e.logger.Info("payment recorded",
		"user_id", userID,
		"tier", tier,
		"period_end", sub.EndDate,
	)

	return &PaymentResult{
		Subscription:  sub,
		StartDate:     sub.StartDate,
		EndDate:       sub.EndDate,
		RemainingDays: int(sub.EndDate.Sub(now).Hours() / 24),
	}, nil
}

// ResetUsage zeroes the current cycle's counters for userID. Intended
// for administrative and test use.
func (e *Engine) ResetUsage(ctx context.Context, userID string) error {
	if userID == "" {
		return ValidationError{Field: "userID", Message: "must not be empty"}
	}

	cycle := usage.CurrentCycle()
	if err := e.store.ResetUsage(ctx, userID, cycle); err != nil {
		return err
	}
	_ = e.store.InvalidateDecisions(ctx, userID) //nolint:errcheck // best-effort cache invalidation

	e.plugins.EmitUsageReset(ctx, userID, string(cycle))
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// resolveSubscription loads the user's subscription, provisioning the
// default free tier when absent, and resolves its plan from the catalog.
func (e *Engine) resolveSubscription(ctx context.Context, userID string) (*subscription.Subscription, *plan.Plan, error) {
	sub, created, err := e.getOrCreateWithFlag(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if created {
		e.plugins.EmitSubscriptionProvisioned(ctx, sub)
		e.logger.Debug("auto-provisioned subscription",
			"user_id", userID,
			"tier", sub.Tier,
		)
	}

	pl, ok := e.catalog.Get(sub.Tier)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrTierNotInCatalog, sub.Tier)
	}
	return sub, pl, nil
}

func (e *Engine) getOrCreateWithFlag(ctx context.Context, userID string) (*subscription.Subscription, bool, error) {
	def := subscription.New(userID, DefaultTierOnMissingUser, time.Now().UTC())
	return e.store.GetOrCreateSubscription(ctx, userID, def)
}

// overLimit evaluates one dimension the same way Check does: unlimited
// never trips, disallowed always trips, the token budget trips at the
// limit, count dimensions trip past it.
func overLimit(d plan.Dimension, used, limit int64) bool {
	switch {
	case limit == plan.Unlimited:
		return false
	case limit == plan.Disallowed:
		return true
	case d == plan.DimensionTokens:
		return used >= limit
	default:
		return used > limit
	}
}

func validate(userID, feature string) error {
	if userID == "" {
		return ValidationError{Field: "userID", Message: "must not be empty"}
	}
	if feature == "" {
		return ValidationError{Field: "feature", Message: "must not be empty"}
	}
	return nil
}
