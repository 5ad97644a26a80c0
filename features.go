package quota

import "github.com/newleaf-app/quota/plan"

// Feature keys are the opaque strings feature handlers pass to Check and
// Record. They match the platform's client-side naming verbatim.
const (
	FeatureAIChat             = "aiChat"
	FeatureVoiceTranscription = "voiceTranscription"
	FeatureInteraction        = "interaction"
	FeatureComment            = "comment"
	FeatureMilestone          = "milestone"
	FeatureChat               = "chat"
	FeatureGame               = "game"
)

// Fail-open policy constants. These defaults are deliberate named policy,
// not accidental fallthrough: a missing subscription provisions a free
// tier, and a feature absent from the mapping table is admitted.
const (
	// DefaultTierOnMissingUser is the tier auto-provisioned for a user
	// with no subscription record.
	DefaultTierOnMissingUser = plan.TierFree

	// DefaultDecisionOnUnknownFeature admits features the mapping table
	// does not know. Denying here would brick newly shipped features
	// until the table catches up.
	DefaultDecisionOnUnknownFeature = true
)

// featureDimensions maps each feature to the quota dimension it consumes.
// Built once, never mutated.
var featureDimensions = map[string]plan.Dimension{
	FeatureAIChat:             plan.DimensionTokens,
	FeatureVoiceTranscription: plan.DimensionTokens,
	FeatureInteraction:        plan.DimensionInteractions,
	FeatureComment:            plan.DimensionComments,
	FeatureMilestone:          plan.DimensionMilestones,
	FeatureChat:               plan.DimensionChats,
	FeatureGame:               plan.DimensionFreeFeatures,
}

// paidOnlyFeatures maps features reserved for paid tiers to the minimum
// tier that unlocks them.
var paidOnlyFeatures = map[string]plan.Tier{
	FeatureAIChat:             plan.TierBasic,
	FeatureVoiceTranscription: plan.TierBasic,
}

// FeatureDimension resolves the dimension a feature is metered on.
func FeatureDimension(feature string) (plan.Dimension, bool) {
	d, ok := featureDimensions[feature]
	return d, ok
}

// RequiredTier returns the minimum tier for a paid-only feature, or
// false if the feature is available on every tier.
func RequiredTier(feature string) (plan.Tier, bool) {
	t, ok := paidOnlyFeatures[feature]
	return t, ok
}

// Features lists every feature in the mapping table.
func Features() []string {
	keys := make([]string, 0, len(featureDimensions))
	for k := range featureDimensions {
		keys = append(keys, k)
	}
	return keys
}
