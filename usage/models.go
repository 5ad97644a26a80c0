// Package usage defines the per-user, per-cycle usage ledger.
//
// A Record holds one counter per metered dimension plus a cost
// accumulator for the token budget, keyed by (userID, cycle). Records
// are created lazily and zero-initialized: monthly rollover needs no
// scheduled job, because a cycle that has never been written simply
// reads as zero. Once a month has passed its record is historical and
// is never rewritten except by an explicit reset.
package usage

import (
	"fmt"
	"time"

	"github.com/newleaf-app/quota/id"
	"github.com/newleaf-app/quota/plan"
	"github.com/newleaf-app/quota/types"
)

// Cycle is a calendar-month usage accounting period in YYYY-MM form,
// always UTC. It is deliberately independent of the subscription's
// billing anchor date.
type Cycle string

const cycleLayout = "2006-01"

// CycleFor returns the cycle containing t.
func CycleFor(t time.Time) Cycle {
	return Cycle(t.UTC().Format(cycleLayout))
}

// CurrentCycle returns the cycle containing the present moment.
func CurrentCycle() Cycle {
	return CycleFor(time.Now())
}

// ParseCycle validates a YYYY-MM string.
func ParseCycle(s string) (Cycle, error) {
	if _, err := time.Parse(cycleLayout, s); err != nil {
		return "", fmt.Errorf("usage: parse cycle %q: %w", s, err)
	}
	return Cycle(s), nil
}

// String returns the YYYY-MM form.
func (c Cycle) String() string { return string(c) }

// Record is the usage ledger entry for one user in one cycle.
type Record struct {
	types.Entity
	ID     id.UsageRecordID `json:"id"`
	UserID string           `json:"user_id"`
	Cycle  Cycle            `json:"cycle"`

	// TokenCalls counts token-metered operations; TokenCost accumulates
	// their cost against the plan's token budget.
	TokenCalls int64 `json:"token_calls"`
	TokenCost  int64 `json:"token_cost"`

	Interactions int64 `json:"interactions"`
	Comments     int64 `json:"comments"`
	Milestones   int64 `json:"milestones"`
	Chats        int64 `json:"chats"`
	FreeFeatures int64 `json:"free_features"`
}

// NewRecord returns a zeroed record for (userID, cycle).
func NewRecord(userID string, cycle Cycle) *Record {
	return &Record{
		Entity: types.NewEntity(),
		ID:     id.NewUsageRecordID(),
		UserID: userID,
		Cycle:  cycle,
	}
}

// Counter returns the counter compared against the plan limit for a
// dimension. For the token budget that is the cost accumulator, not the
// call count.
func (r *Record) Counter(d plan.Dimension) int64 {
	switch d {
	case plan.DimensionTokens:
		return r.TokenCost
	case plan.DimensionInteractions:
		return r.Interactions
	case plan.DimensionComments:
		return r.Comments
	case plan.DimensionMilestones:
		return r.Milestones
	case plan.DimensionChats:
		return r.Chats
	case plan.DimensionFreeFeatures:
		return r.FreeFeatures
	default:
		return 0
	}
}

// Apply adds a delta to the record in place. Store backends that can
// increment natively (SQL upsert, Mongo $inc) do so instead; this is the
// shared fallback for in-memory application.
func (r *Record) Apply(d Delta) {
	r.TokenCalls += d.TokenCalls
	r.TokenCost += d.TokenCost
	r.Interactions += d.Interactions
	r.Comments += d.Comments
	r.Milestones += d.Milestones
	r.Chats += d.Chats
	r.FreeFeatures += d.FreeFeatures
	r.Touch()
}

// Zero clears every counter, preserving identity and creation time.
func (r *Record) Zero() {
	r.TokenCalls = 0
	r.TokenCost = 0
	r.Interactions = 0
	r.Comments = 0
	r.Milestones = 0
	r.Chats = 0
	r.FreeFeatures = 0
	r.Touch()
}

// Delta is a set of per-dimension increments applied in a single atomic
// store operation. Composing increments from a caller-side read+write is
// forbidden: that is how concurrent double-submits lose updates.
type Delta struct {
	TokenCalls   int64
	TokenCost    int64
	Interactions int64
	Comments     int64
	Milestones   int64
	Chats        int64
	FreeFeatures int64
}

// ForDimension builds a delta that increments one dimension's counter by
// amount. Token-budget deltas move the cost accumulator and count one
// call.
func ForDimension(d plan.Dimension, amount int64) Delta {
	switch d {
	case plan.DimensionTokens:
		return Delta{TokenCalls: 1, TokenCost: amount}
	case plan.DimensionInteractions:
		return Delta{Interactions: amount}
	case plan.DimensionComments:
		return Delta{Comments: amount}
	case plan.DimensionMilestones:
		return Delta{Milestones: amount}
	case plan.DimensionChats:
		return Delta{Chats: amount}
	case plan.DimensionFreeFeatures:
		return Delta{FreeFeatures: amount}
	default:
		return Delta{}
	}
}

// IsZero reports whether the delta would change nothing.
func (d Delta) IsZero() bool {
	return d == Delta{}
}
