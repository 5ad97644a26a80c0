// Package plan defines subscription tiers and their per-dimension usage
// limits. The catalog of plans is immutable: it is built once at process
// start and never mutated at runtime.
package plan

import (
	"github.com/newleaf-app/quota/id"
	"github.com/newleaf-app/quota/types"
)

// Tier is a named bundle of per-dimension usage limits sold at a price point.
type Tier string

const (
	TierFree         Tier = "free"
	TierBasic        Tier = "basic"
	TierAdvanced     Tier = "advanced"
	TierProfessional Tier = "professional"
	TierUnlimited    Tier = "unlimited"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierRanks[t]
	return ok
}

// tierRanks orders tiers for upgrade comparisons.
var tierRanks = map[Tier]int{
	TierFree:         0,
	TierBasic:        1,
	TierAdvanced:     2,
	TierProfessional: 3,
	TierUnlimited:    4,
}

// AtLeast reports whether t grants at least the entitlements of other.
func (t Tier) AtLeast(other Tier) bool {
	return tierRanks[t] >= tierRanks[other]
}

// Dimension is one metered axis of usage.
type Dimension string

const (
	// DimensionTokens is the cost-weighted budget for AI and voice
	// operations, distinct from simple per-call counts.
	DimensionTokens Dimension = "token_budget"

	DimensionInteractions Dimension = "interaction_count"
	DimensionComments     Dimension = "comment_count"
	DimensionMilestones   Dimension = "milestone_count"
	DimensionChats        Dimension = "chat_count"
	DimensionFreeFeatures Dimension = "free_feature_count"
)

// Dimensions lists every metered dimension.
func Dimensions() []Dimension {
	return []Dimension{
		DimensionTokens,
		DimensionInteractions,
		DimensionComments,
		DimensionMilestones,
		DimensionChats,
		DimensionFreeFeatures,
	}
}

// Valid reports whether d is a known dimension.
func (d Dimension) Valid() bool {
	for _, known := range Dimensions() {
		if d == known {
			return true
		}
	}
	return false
}

// Limit sentinel values.
const (
	// Unlimited means the dimension is never over-limit on this plan.
	Unlimited int64 = -1
	// Disallowed means the dimension is categorically denied on this plan.
	Disallowed int64 = 0
)

// Plan is one tier's entry in the catalog.
type Plan struct {
	types.Entity
	ID          id.PlanID           `json:"id"`
	Tier        Tier                `json:"tier"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Limits      map[Dimension]int64 `json:"limits"`
	Price       types.Money         `json:"price"`
}

// Limit returns the plan's limit for a dimension. A dimension absent from
// the table reads as Disallowed.
func (p *Plan) Limit(d Dimension) int64 {
	limit, ok := p.Limits[d]
	if !ok {
		return Disallowed
	}
	return limit
}

// IsUnlimited reports whether the plan places no cap on the dimension.
func (p *Plan) IsUnlimited(d Dimension) bool {
	return p.Limit(d) == Unlimited
}

// Denies reports whether the plan categorically disallows the dimension.
func (p *Plan) Denies(d Dimension) bool {
	return p.Limit(d) == Disallowed
}

// clone returns a deep copy so catalog lookups cannot leak mutable state.
func (p *Plan) clone() *Plan {
	cp := *p
	cp.Limits = make(map[Dimension]int64, len(p.Limits))
	for d, l := range p.Limits {
		cp.Limits[d] = l
	}
	return &cp
}
