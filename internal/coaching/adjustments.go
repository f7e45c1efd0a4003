package coaching

import (
	"github.com/inward-app/inward/internal/catalog"
	"github.com/inward-app/inward/internal/profile"
)

// ResolveAdjustments evaluates each rule's habit-completion criterion
// against the profile's derived success rate and merges the adjustments of
// every matching rule, later rules overwriting earlier fields on conflict.
// Rules are evaluated in the order given (the catalog returns them priority
// ascending, which keeps the merge deterministic).
//
// A nil profile resolves to an empty adjustment set, not an error.
func ResolveAdjustments(prof *profile.LearningProfile, rules []catalog.AdaptiveRule) catalog.Adjustments {
	var merged catalog.Adjustments
	if prof == nil {
		return merged
	}

	rate := prof.SuccessRate()
	for _, rule := range rules {
		if habitCompletionMatches(rule.Criteria.HabitCompletion, rate) {
			merged = merged.Merge(rule.Adjustments)
		}
	}
	return merged
}

func habitCompletionMatches(threshold catalog.HabitCompletion, rate float64) bool {
	switch threshold {
	case catalog.HabitCompletionBelow50:
		return rate < 0.5
	case catalog.HabitCompletionAbove80:
		return rate > 0.8
	default:
		// HabitCompletionAny and unknown variants never match.
		return false
	}
}
