package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newleaf-app/quota/plan"
)

func TestCycleFor(t *testing.T) {
	ts := time.Date(2026, time.March, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, Cycle("2026-03"), CycleFor(ts))

	// Local times normalize to UTC before bucketing.
	loc := time.FixedZone("UTC+13", 13*3600)
	lateEvening := time.Date(2026, time.April, 1, 2, 0, 0, 0, loc)
	assert.Equal(t, Cycle("2026-03"), CycleFor(lateEvening))
}

func TestParseCycle(t *testing.T) {
	c, err := ParseCycle("2026-08")
	require.NoError(t, err)
	assert.Equal(t, Cycle("2026-08"), c)

	for _, bad := range []string{"", "2026", "2026-13", "aug-2026"} {
		_, err := ParseCycle(bad)
		assert.Error(t, err, "ParseCycle(%q)", bad)
	}
}

func TestRecordCounter(t *testing.T) {
	r := NewRecord("user-1", "2026-08")
	r.TokenCalls = 3
	r.TokenCost = 4500
	r.Chats = 7

	assert.Equal(t, int64(4500), r.Counter(plan.DimensionTokens),
		"token budget compares cost, not call count")
	assert.Equal(t, int64(7), r.Counter(plan.DimensionChats))
	assert.Equal(t, int64(0), r.Counter(plan.DimensionComments))
}

func TestRecordApplyAndZero(t *testing.T) {
	r := NewRecord("user-1", "2026-08")
	r.Apply(Delta{TokenCalls: 1, TokenCost: 1200, Comments: 2})
	r.Apply(Delta{TokenCalls: 1, TokenCost: 800})

	assert.Equal(t, int64(2), r.TokenCalls)
	assert.Equal(t, int64(2000), r.TokenCost)
	assert.Equal(t, int64(2), r.Comments)

	r.Zero()
	for _, d := range plan.Dimensions() {
		assert.Zero(t, r.Counter(d))
	}
	assert.Equal(t, "user-1", r.UserID, "Zero must preserve identity")
}

func TestForDimension(t *testing.T) {
	d := ForDimension(plan.DimensionTokens, 1500)
	assert.Equal(t, Delta{TokenCalls: 1, TokenCost: 1500}, d)

	d = ForDimension(plan.DimensionMilestones, 1)
	assert.Equal(t, Delta{Milestones: 1}, d)

	assert.True(t, ForDimension(plan.Dimension("bogus"), 5).IsZero())
}
