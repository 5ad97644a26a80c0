package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newleaf-app/quota"
	"github.com/newleaf-app/quota/entitlement"
	"github.com/newleaf-app/quota/plan"
	"github.com/newleaf-app/quota/subscription"
	"github.com/newleaf-app/quota/usage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "quota.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestSubscriptionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	def := subscription.New("user-1", plan.TierBasic, time.Now().UTC())
	def.Payment = &subscription.PaymentMeta{
		Provider:  "stripe",
		Reference: "pi_123",
		PaidAt:    time.Now().UTC(),
	}

	sub, created, err := s.GetOrCreateSubscription(ctx, "user-1", def)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, plan.TierBasic, sub.Tier)
	require.NotNil(t, sub.Payment)
	assert.Equal(t, "pi_123", sub.Payment.Reference)

	// A second default must lose to the stored row.
	again, created, err := s.GetOrCreateSubscription(ctx, "user-1", subscription.New("user-1", plan.TierFree, time.Now().UTC()))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, plan.TierBasic, again.Tier)
	assert.Equal(t, sub.ID, again.ID)
}

func TestUpdateSubscription(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.UpdateSubscription(ctx, subscription.New("ghost", plan.TierBasic, time.Now().UTC()))
	assert.ErrorIs(t, err, quota.ErrSubscriptionNotFound)

	sub, _, err := s.GetOrCreateSubscription(ctx, "user-1", subscription.New("user-1", plan.TierFree, time.Now().UTC()))
	require.NoError(t, err)

	sub.Tier = plan.TierProfessional
	sub.Active = false
	require.NoError(t, s.UpdateSubscription(ctx, sub))

	got, err := s.GetSubscription(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, plan.TierProfessional, got.Tier)
	assert.False(t, got.Active)
}

func TestGetSubscriptionMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSubscription(context.Background(), "nobody")
	assert.ErrorIs(t, err, quota.ErrSubscriptionNotFound)
}

func TestUsageUpsertAccumulates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cycle := usage.Cycle("2026-08")

	rec, err := s.GetUsage(ctx, "user-1", cycle)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.TokenCost)

	rec, err = s.AddUsage(ctx, "user-1", cycle, usage.Delta{TokenCalls: 1, TokenCost: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(500), rec.TokenCost)

	rec, err = s.AddUsage(ctx, "user-1", cycle, usage.Delta{TokenCalls: 1, TokenCost: 250, Chats: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.TokenCalls)
	assert.Equal(t, int64(750), rec.TokenCost)
	assert.Equal(t, int64(1), rec.Chats)
}

func TestUsageCycleSeparation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddUsage(ctx, "user-1", usage.Cycle("2026-07"), usage.Delta{Interactions: 3})
	require.NoError(t, err)
	_, err = s.AddUsage(ctx, "user-1", usage.Cycle("2026-08"), usage.Delta{Interactions: 7})
	require.NoError(t, err)

	july, err := s.GetUsage(ctx, "user-1", usage.Cycle("2026-07"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), july.Interactions)

	august, err := s.GetUsage(ctx, "user-1", usage.Cycle("2026-08"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), august.Interactions)
}

func TestResetUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cycle := usage.Cycle("2026-08")

	_, err := s.AddUsage(ctx, "user-1", cycle, usage.Delta{TokenCost: 900, Comments: 4})
	require.NoError(t, err)

	require.NoError(t, s.ResetUsage(ctx, "user-1", cycle))

	rec, err := s.GetUsage(ctx, "user-1", cycle)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.TokenCost)
	assert.Equal(t, int64(0), rec.Comments)
}

func TestListUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, c := range []usage.Cycle{"2026-06", "2026-07", "2026-08"} {
		_, err := s.AddUsage(ctx, "user-1", c, usage.Delta{Milestones: 1})
		require.NoError(t, err)
	}

	all, err := s.ListUsage(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, usage.Cycle("2026-08"), all[0].Cycle)

	limited, err := s.ListUsage(ctx, "user-1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, usage.Cycle("2026-08"), limited[0].Cycle)
}

func TestDecisionCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetCachedDecision(ctx, "user-1", "aiChat")
	assert.ErrorIs(t, err, quota.ErrCacheMiss)

	d := entitlement.Deny("aiChat", plan.TierFree, "feature requires the basic plan")
	d.RequiredTier = plan.TierBasic
	require.NoError(t, s.SetCachedDecision(ctx, "user-1", "aiChat", d, time.Minute))

	got, err := s.GetCachedDecision(ctx, "user-1", "aiChat")
	require.NoError(t, err)
	assert.False(t, got.Allowed)
	assert.Equal(t, plan.TierBasic, got.RequiredTier)

	require.NoError(t, s.InvalidateDecisions(ctx, "user-1"))
	_, err = s.GetCachedDecision(ctx, "user-1", "aiChat")
	assert.ErrorIs(t, err, quota.ErrCacheMiss)
}

func TestDecisionCacheExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := entitlement.Allow("aiChat", plan.TierBasic)
	require.NoError(t, s.SetCachedDecision(ctx, "user-1", "aiChat", d, 30*time.Millisecond))

	time.Sleep(40 * time.Millisecond)

	_, err := s.GetCachedDecision(ctx, "user-1", "aiChat")
	assert.ErrorIs(t, err, quota.ErrCacheMiss)
}
