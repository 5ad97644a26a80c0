package quota_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newleaf-app/quota"
	"github.com/newleaf-app/quota/plan"
	"github.com/newleaf-app/quota/store/memory"
	"github.com/newleaf-app/quota/subscription"
	"github.com/newleaf-app/quota/usage"
)

// newEngine returns a started engine on a fresh memory store. Decision
// caching is disabled so assertions observe every state change
// immediately; caching behavior has its own test.
func newEngine(t *testing.T, opts ...quota.Option) (*quota.Engine, *memory.Store) {
	t.Helper()

	st := memory.New()
	opts = append([]quota.Option{quota.WithDecisionCacheTTL(0)}, opts...)
	eng := quota.New(st, opts...)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop() })
	return eng, st
}

func TestCheckProvisionsFreeTierForNewUser(t *testing.T) {
	eng, st := newEngine(t)
	ctx := context.Background()

	d, err := eng.Check(ctx, "new-user", quota.FeatureInteraction)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, plan.TierFree, d.CurrentTier)

	sub, err := st.GetSubscription(ctx, "new-user")
	require.NoError(t, err)
	assert.Equal(t, plan.TierFree, sub.Tier)
	assert.True(t, sub.Active)
}

func TestCheckPaidOnlyFeatureOnFreeTier(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	d, err := eng.Check(ctx, "free-user", quota.FeatureAIChat)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, plan.TierBasic, d.RequiredTier)
	assert.Equal(t, plan.TierFree, d.CurrentTier)
}

func TestCheckUnknownFeatureAllowed(t *testing.T) {
	eng, _ := newEngine(t)

	d, err := eng.Check(context.Background(), "user-1", "brandNewFeature")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.NotEmpty(t, d.Reason)
}

func TestCheckUnlimitedDimension(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	// Free features are unlimited on every tier.
	for i := 0; i < 20; i++ {
		_, err := eng.Record(ctx, "user-1", quota.FeatureGame, 0)
		require.NoError(t, err)
	}

	d, err := eng.Check(ctx, "user-1", quota.FeatureGame)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheckCountDimensionDeniesPastLimit(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	// Free tier allows 10 interactions; the counter must pass the limit
	// before a check denies.
	for i := 0; i < 10; i++ {
		_, err := eng.Record(ctx, "user-1", quota.FeatureInteraction, 0)
		require.NoError(t, err)
	}

	d, err := eng.Check(ctx, "user-1", quota.FeatureInteraction)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "at the limit the count dimension still admits")

	_, err = eng.Record(ctx, "user-1", quota.FeatureInteraction, 0)
	require.NoError(t, err)

	d, err = eng.Check(ctx, "user-1", quota.FeatureInteraction)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.True(t, d.OverLimit)
	assert.Equal(t, plan.DimensionInteractions, d.LimitType)
}

func TestCheckTokenBudgetDeniesAtLimit(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	_, err := eng.UpdateSubscription(ctx, "user-1", plan.TierBasic)
	require.NoError(t, err)

	// Basic tier budget is 50k; spending exactly the budget exhausts it.
	_, err = eng.Record(ctx, "user-1", quota.FeatureAIChat, 50_000)
	require.NoError(t, err)

	d, err := eng.Check(ctx, "user-1", quota.FeatureAIChat)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.True(t, d.OverLimit)
	assert.Equal(t, plan.DimensionTokens, d.LimitType)
	assert.Equal(t, int64(50_000), d.UsedTokens)
	assert.Equal(t, int64(50_000), d.TotalTokens)
}

func TestTokenDenialOffersRenewalInsideWindow(t *testing.T) {
	eng, st := newEngine(t)
	ctx := context.Background()

	_, err := eng.UpdateSubscription(ctx, "user-1", plan.TierBasic)
	require.NoError(t, err)

	// Move the billing anchor back 10 days: still inside the window.
	sub, err := st.GetSubscription(ctx, "user-1")
	require.NoError(t, err)
	sub.StartDate = time.Now().UTC().AddDate(0, 0, -10)
	require.NoError(t, st.UpdateSubscription(ctx, sub))

	_, err = eng.Record(ctx, "user-1", quota.FeatureAIChat, 60_000)
	require.NoError(t, err)

	d, err := eng.Check(ctx, "user-1", quota.FeatureAIChat)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.True(t, d.CanRenew)
	assert.Equal(t, 20, d.RemainingDays)
}

func TestTokenDenialNoRenewalOutsideWindow(t *testing.T) {
	eng, st := newEngine(t)
	ctx := context.Background()

	_, err := eng.UpdateSubscription(ctx, "user-1", plan.TierBasic)
	require.NoError(t, err)

	sub, err := st.GetSubscription(ctx, "user-1")
	require.NoError(t, err)
	sub.StartDate = time.Now().UTC().AddDate(0, 0, -45)
	require.NoError(t, st.UpdateSubscription(ctx, sub))

	_, err = eng.Record(ctx, "user-1", quota.FeatureAIChat, 60_000)
	require.NoError(t, err)

	d, err := eng.Check(ctx, "user-1", quota.FeatureAIChat)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.False(t, d.CanRenew)
	assert.Zero(t, d.RemainingDays)
}

func TestCheckDisallowedDimension(t *testing.T) {
	eng, _ := newEngine(t)

	// Voice transcription is token-metered; free tier has no token
	// budget at all, but the paid-only gate reports the tier to buy.
	d, err := eng.Check(context.Background(), "free-user", quota.FeatureVoiceTranscription)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, plan.TierBasic, d.RequiredTier)
}

func TestRecordValidation(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	_, err := eng.Record(ctx, "", quota.FeatureAIChat, 10)
	assert.True(t, quota.IsValidation(err))

	_, err = eng.Record(ctx, "user-1", "", 10)
	assert.True(t, quota.IsValidation(err))

	_, err = eng.Record(ctx, "user-1", quota.FeatureAIChat, -1)
	assert.ErrorIs(t, err, quota.ErrInvalidQuantity)
}

func TestRecordUnmeteredFeatureIsNoOp(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	rec, err := eng.Record(ctx, "user-1", "someUnmappedFeature", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.TokenCost)
	assert.Equal(t, int64(0), rec.Interactions)
}

func TestRecordAccumulatesTokenCost(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	_, err := eng.UpdateSubscription(ctx, "user-1", plan.TierAdvanced)
	require.NoError(t, err)

	rec, err := eng.Record(ctx, "user-1", quota.FeatureAIChat, 1200)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.TokenCalls)
	assert.Equal(t, int64(1200), rec.TokenCost)

	rec, err = eng.Record(ctx, "user-1", quota.FeatureAIChat, 800)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.TokenCalls)
	assert.Equal(t, int64(2000), rec.TokenCost)
}

func TestTestModeEngineWide(t *testing.T) {
	eng, _ := newEngine(t, quota.WithTestMode(true))
	ctx := context.Background()

	// Even a paid-only feature on an unseen user admits in test mode.
	d, err := eng.Check(ctx, "anyone", quota.FeatureAIChat)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "test mode override", d.Reason)
}

func TestTestModePerRequest(t *testing.T) {
	eng, _ := newEngine(t)

	ctx := quota.ContextWithTestMode(context.Background())
	d, err := eng.Check(ctx, "free-user", quota.FeatureAIChat)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// Without the context flag the same check denies.
	d, err = eng.Check(context.Background(), "free-user", quota.FeatureAIChat)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestPaymentSuccess(t *testing.T) {
	eng, st := newEngine(t)
	ctx := context.Background()

	// Seed some free-tier usage that the payment must wipe.
	_, err := eng.Record(ctx, "user-1", quota.FeatureInteraction, 0)
	require.NoError(t, err)

	res, err := eng.PaymentSuccess(ctx, "user-1", plan.TierProfessional, &subscription.PaymentMeta{
		Provider:  "stripe",
		Reference: "pi_abc123",
		Amount:    quota.USD(3990),
	})
	require.NoError(t, err)
	assert.Equal(t, plan.TierProfessional, res.Subscription.Tier)
	assert.True(t, res.EndDate.After(res.StartDate))
	assert.GreaterOrEqual(t, res.RemainingDays, 27)

	sub, err := st.GetSubscription(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, sub.Payment)
	assert.Equal(t, "pi_abc123", sub.Payment.Reference)
	assert.False(t, sub.Payment.ID.IsNil())
	assert.False(t, sub.Payment.PaidAt.IsZero())

	rec, err := st.GetUsage(ctx, "user-1", usage.CurrentCycle())
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Interactions)
}

func TestPaymentSuccessRejectsUnknownTier(t *testing.T) {
	eng, _ := newEngine(t)

	_, err := eng.PaymentSuccess(context.Background(), "user-1", plan.Tier("platinum"), nil)
	assert.ErrorIs(t, err, quota.ErrTierNotInCatalog)
}

func TestUpdateSubscriptionResetsUsage(t *testing.T) {
	eng, st := newEngine(t)
	ctx := context.Background()

	_, err := eng.UpdateSubscription(ctx, "user-1", plan.TierBasic)
	require.NoError(t, err)
	_, err = eng.Record(ctx, "user-1", quota.FeatureAIChat, 40_000)
	require.NoError(t, err)

	upd, err := eng.UpdateSubscription(ctx, "user-1", plan.TierAdvanced)
	require.NoError(t, err)
	assert.Equal(t, plan.TierAdvanced, upd.Subscription.Tier)
	assert.Equal(t, int64(200_000), upd.Plan.Limit(plan.DimensionTokens))

	rec, err := st.GetUsage(ctx, "user-1", usage.CurrentCycle())
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.TokenCost)
}

func TestStatusSnapshot(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	_, err := eng.UpdateSubscription(ctx, "user-1", plan.TierBasic)
	require.NoError(t, err)
	_, err = eng.Record(ctx, "user-1", quota.FeatureAIChat, 50_000)
	require.NoError(t, err)
	_, err = eng.Record(ctx, "user-1", quota.FeatureComment, 0)
	require.NoError(t, err)

	st, err := eng.Status(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, plan.TierBasic, st.Subscription.Tier)
	assert.Equal(t, usage.CurrentCycle(), st.Cycle)
	assert.Equal(t, int64(50_000), st.Usage.TokenCost)
	assert.Equal(t, int64(50_000), st.Limits[plan.DimensionTokens])

	// Tokens exhaust at the limit; the comment counter is nowhere near.
	assert.True(t, st.OverLimit[plan.DimensionTokens])
	assert.False(t, st.OverLimit[plan.DimensionComments])
	assert.False(t, st.OverLimit[plan.DimensionFreeFeatures], "unlimited never trips")
}

func TestResetUsage(t *testing.T) {
	eng, st := newEngine(t)
	ctx := context.Background()

	_, err := eng.Record(ctx, "user-1", quota.FeatureChat, 0)
	require.NoError(t, err)

	require.NoError(t, eng.ResetUsage(ctx, "user-1"))

	rec, err := st.GetUsage(ctx, "user-1", usage.CurrentCycle())
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Chats)
}

func TestDecisionCaching(t *testing.T) {
	st := memory.New()
	eng := quota.New(st, quota.WithDecisionCacheTTL(time.Minute))
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop() })
	ctx := context.Background()

	d, err := eng.Check(ctx, "user-1", quota.FeatureInteraction)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// The second check must come from the cache.
	cached, err := st.GetCachedDecision(ctx, "user-1", quota.FeatureInteraction)
	require.NoError(t, err)
	assert.True(t, cached.Allowed)

	// Recording usage invalidates the user's cached decisions.
	_, err = eng.Record(ctx, "user-1", quota.FeatureInteraction, 0)
	require.NoError(t, err)

	_, err = st.GetCachedDecision(ctx, "user-1", quota.FeatureInteraction)
	assert.ErrorIs(t, err, quota.ErrCacheMiss)
}

func TestCheckValidation(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	_, err := eng.Check(ctx, "", quota.FeatureAIChat)
	assert.True(t, quota.IsValidation(err))

	_, err = eng.Check(ctx, "user-1", "")
	assert.True(t, quota.IsValidation(err))
}

func TestCheckCustomCatalogDisallowedDimension(t *testing.T) {
	free, err := plan.NewCatalog(&plan.Plan{
		Tier: plan.TierFree,
		Name: "Locked Down",
		Limits: map[plan.Dimension]int64{
			plan.DimensionComments:     plan.Disallowed,
			plan.DimensionFreeFeatures: plan.Unlimited,
		},
	})
	require.NoError(t, err)

	eng, _ := newEngine(t, quota.WithCatalog(free))

	d, err := eng.Check(context.Background(), "user-1", quota.FeatureComment)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, plan.DimensionComments, d.LimitType)
	assert.False(t, d.OverLimit, "a disallowed dimension is categorical, not an exhausted quota")
}

func TestCatalogTierProgression(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	// A professional subscriber clears the budget a basic one exhausts.
	_, err := eng.UpdateSubscription(ctx, "pro-user", plan.TierProfessional)
	require.NoError(t, err)
	_, err = eng.Record(ctx, "pro-user", quota.FeatureAIChat, 60_000)
	require.NoError(t, err)

	d, err := eng.Check(ctx, "pro-user", quota.FeatureAIChat)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// The unlimited tier never exhausts.
	_, err = eng.UpdateSubscription(ctx, "vip", plan.TierUnlimited)
	require.NoError(t, err)
	_, err = eng.Record(ctx, "vip", quota.FeatureAIChat, 10_000_000)
	require.NoError(t, err)

	d, err = eng.Check(ctx, "vip", quota.FeatureAIChat)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
