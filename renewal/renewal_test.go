package renewal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/newleaf-app/quota/plan"
	"github.com/newleaf-app/quota/subscription"
)

func subStartedDaysAgo(days int, now time.Time) *subscription.Subscription {
	sub := subscription.New("user-1", plan.TierBasic, now.AddDate(0, 0, -days))
	return sub
}

func TestEvaluateInsideWindow(t *testing.T) {
	now := time.Date(2026, time.August, 20, 12, 0, 0, 0, time.UTC)
	e := NewEvaluator()

	got := e.Evaluate(subStartedDaysAgo(10, now), now)
	assert.True(t, got.CanRenew)
	assert.Equal(t, 20, got.RemainingDays)
}

func TestEvaluatePartialDayDoesNotShortenRemaining(t *testing.T) {
	now := time.Date(2026, time.August, 20, 12, 0, 0, 0, time.UTC)
	e := NewEvaluator()

	// Ten days and a few hours in still counts as day ten of the window.
	sub := subscription.New("user-1", plan.TierBasic, now.Add(-(10*24+7)*time.Hour))
	got := e.Evaluate(sub, now)
	assert.True(t, got.CanRenew)
	assert.Equal(t, 20, got.RemainingDays)

	// A second short of the full window is still the last day.
	sub = subscription.New("user-1", plan.TierBasic, now.Add(-(30*24*time.Hour - time.Second)))
	got = e.Evaluate(sub, now)
	assert.True(t, got.CanRenew)
	assert.Equal(t, 1, got.RemainingDays)
}

func TestEvaluateWindowBoundaries(t *testing.T) {
	now := time.Date(2026, time.August, 20, 12, 0, 0, 0, time.UTC)
	e := NewEvaluator()

	tests := []struct {
		name      string
		daysAgo   int
		canRenew  bool
		remaining int
	}{
		{"anchored now", 0, true, 30},
		{"one day in", 1, true, 29},
		{"last day of window", 29, true, 1},
		{"window elapsed exactly", 30, false, 0},
		{"long past window", 90, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Evaluate(subStartedDaysAgo(tt.daysAgo, now), now)
			assert.Equal(t, tt.canRenew, got.CanRenew)
			assert.Equal(t, tt.remaining, got.RemainingDays)
		})
	}
}

func TestEvaluateFutureAnchorClampsToFullWindow(t *testing.T) {
	now := time.Date(2026, time.August, 20, 12, 0, 0, 0, time.UTC)
	e := NewEvaluator()

	// Clock skew can put the anchor slightly in the future; treat it as
	// the start of the window rather than denying.
	got := e.Evaluate(subStartedDaysAgo(-1, now), now)
	assert.True(t, got.CanRenew)
	assert.Equal(t, 30, got.RemainingDays)
}

func TestEvaluateCustomWindow(t *testing.T) {
	now := time.Date(2026, time.August, 20, 12, 0, 0, 0, time.UTC)
	e := &Evaluator{Window: 7 * 24 * time.Hour}

	assert.True(t, e.Evaluate(subStartedDaysAgo(6, now), now).CanRenew)
	assert.False(t, e.Evaluate(subStartedDaysAgo(7, now), now).CanRenew)
}

func TestZeroWindowFallsBackToDefault(t *testing.T) {
	now := time.Date(2026, time.August, 20, 12, 0, 0, 0, time.UTC)
	e := &Evaluator{}

	got := e.Evaluate(subStartedDaysAgo(15, now), now)
	assert.True(t, got.CanRenew)
	assert.Equal(t, 15, got.RemainingDays)
}
