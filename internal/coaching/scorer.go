package coaching

import (
	"fmt"
	"sort"
	"strings"

	"github.com/inward-app/inward/internal/catalog"
	"github.com/inward-app/inward/internal/profile"
)

// Scoring weights. Context-overlap terms are additive (independent evidence
// sources each move the score), the historical-success term is a multiplier
// (history scales trust instead of pushing unrelated protocols over the
// threshold), and a rule match is a flat additive override signal.
const (
	baseConfidence     = 0.3
	conditionWeight    = 0.4
	emotionWeight      = 0.3
	moodWeight         = 0.2
	ruleBonus          = 0.2
	inclusionThreshold = 0.4

	historyScaleFloor = 0.7
	historyScaleSpan  = 0.6
)

// Score ranks catalog protocols against the user's current context and
// learning profile. prof may be nil (no historical data). The result contains
// only protocols scoring above the inclusion threshold, sorted by confidence
// descending with catalog order breaking ties.
func Score(ctx UserContext, protocols []catalog.Protocol, rules []catalog.AdaptiveRule, prof *profile.LearningProfile) []ScoredProtocol {
	ordered := make([]catalog.AdaptiveRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	scored := make([]ScoredProtocol, 0, len(protocols))
	for _, p := range protocols {
		confidence := baseConfidence
		var reasons []string

		frac, matched := overlap(ctx.Conditions, p.Targets.Conditions)
		confidence += conditionWeight * frac
		if len(matched) > 0 {
			reasons = append(reasons, fmt.Sprintf("addresses %s", strings.Join(matched, ", ")))
		}

		frac, matched = overlap(ctx.Emotions, p.Targets.Emotions)
		confidence += emotionWeight * frac
		if len(matched) > 0 {
			reasons = append(reasons, fmt.Sprintf("suited to feeling %s", strings.Join(matched, ", ")))
		}

		frac, matched = overlap(ctx.MoodIndicators, p.Targets.MoodIndicators)
		confidence += moodWeight * frac
		if len(matched) > 0 {
			reasons = append(reasons, fmt.Sprintf("matches mood signals %s", strings.Join(matched, ", ")))
		}

		if prof != nil {
			if rate, ok := prof.ProtocolSuccessRates[p.Category]; ok {
				confidence *= historyScaleFloor + historyScaleSpan*rate
				reasons = append(reasons, fmt.Sprintf("%.0f%% past success with %s", rate*100, p.Category))
			}
		}

		for _, rule := range ordered {
			if ruleMatchesContext(rule, ctx) && rule.Adjustments.ProtocolPreference == p.Category {
				confidence += ruleBonus
				reasons = append(reasons, fmt.Sprintf("preferred by rule %q", rule.Name))
			}
		}

		if confidence <= inclusionThreshold {
			continue
		}

		reason := strings.Join(reasons, "; ")
		if reason == "" {
			reason = "general fit"
		}
		scored = append(scored, ScoredProtocol{Protocol: p, Confidence: confidence, Reason: reason})
	}

	// Stable: catalog order breaks confidence ties.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Confidence > scored[j].Confidence
	})
	return scored
}

// overlap returns the matched fraction m/|target| and the matched tags.
// Either side empty means the term does not apply (fraction 0, no tags).
func overlap(context, target []string) (float64, []string) {
	if len(context) == 0 || len(target) == 0 {
		return 0, nil
	}
	set := make(map[string]struct{}, len(context))
	for _, tag := range context {
		set[tag] = struct{}{}
	}
	var matched []string
	for _, tag := range target {
		if _, ok := set[tag]; ok {
			matched = append(matched, tag)
		}
	}
	return float64(len(matched)) / float64(len(target)), matched
}

// ruleMatchesContext evaluates a rule's context criteria. The only
// context-level predicate is the stress-indicator list, which matches when
// the user's current emotions intersect it. Profile-level criteria
// (habit completion) are handled by the adjustment resolver.
func ruleMatchesContext(rule catalog.AdaptiveRule, ctx UserContext) bool {
	if len(rule.Criteria.StressIndicators) == 0 {
		return false
	}
	_, matched := overlap(ctx.Emotions, rule.Criteria.StressIndicators)
	return len(matched) > 0
}
