package catalog

import "fmt"

// Protocol is a named, catalog-defined coaching intervention with the
// emotional/behavioral states it is designed for.
type Protocol struct {
	Name     string           `json:"name"`
	Category string           `json:"category"`
	Targets  TargetConditions `json:"target_conditions"`
}

// TargetConditions lists the state tags a protocol addresses. Any subset may
// be empty; an empty list simply means the protocol declares nothing for that
// dimension.
type TargetConditions struct {
	Conditions     []string `json:"conditions,omitempty"`
	Emotions       []string `json:"emotions,omitempty"`
	MoodIndicators []string `json:"mood_indicators,omitempty"`
}

// HabitCompletion is a closed set of habit-completion thresholds a rule can
// test against the user's derived success rate.
type HabitCompletion string

const (
	HabitCompletionAny     HabitCompletion = ""
	HabitCompletionBelow50 HabitCompletion = "below_50_percent"
	HabitCompletionAbove80 HabitCompletion = "above_80_percent"
)

// Valid reports whether h is a known threshold value.
func (h HabitCompletion) Valid() bool {
	switch h {
	case HabitCompletionAny, HabitCompletionBelow50, HabitCompletionAbove80:
		return true
	}
	return false
}

// RuleCriteria is the typed condition side of an adaptive rule. Each field is
// an independent predicate; zero values mean "not part of this rule".
type RuleCriteria struct {
	// StressIndicators matches when the user's current emotions intersect it.
	StressIndicators []string `json:"stress_indicators,omitempty"`
	// HabitCompletion matches against the profile's derived success rate.
	HabitCompletion HabitCompletion `json:"habit_completion,omitempty"`
}

// Adjustments is the typed output side of an adaptive rule, and also the
// merged adjustment set handed to the response generator. Empty fields are
// left untouched on merge.
type Adjustments struct {
	ProtocolPreference string `json:"protocol_preference,omitempty"` // protocol category
	Tone               string `json:"tone,omitempty"`
	Pacing             string `json:"pacing,omitempty"`
}

// IsZero reports whether no adjustment field is set.
func (a Adjustments) IsZero() bool {
	return a == Adjustments{}
}

// Merge overlays other onto a, later value winning per field.
func (a Adjustments) Merge(other Adjustments) Adjustments {
	if other.ProtocolPreference != "" {
		a.ProtocolPreference = other.ProtocolPreference
	}
	if other.Tone != "" {
		a.Tone = other.Tone
	}
	if other.Pacing != "" {
		a.Pacing = other.Pacing
	}
	return a
}

// AdaptiveRule tunes coaching behavior when its criteria match the user's
// context or learning profile. Lower priority evaluates first.
type AdaptiveRule struct {
	Name        string       `json:"name"`
	Priority    int          `json:"priority"`
	Criteria    RuleCriteria `json:"condition_criteria"`
	Adjustments Adjustments  `json:"coaching_adjustments"`
}

// Validate checks the closed-variant constraints on a rule.
func (r AdaptiveRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule without a name")
	}
	if !r.Criteria.HabitCompletion.Valid() {
		return fmt.Errorf("rule %q: unknown habit_completion %q", r.Name, r.Criteria.HabitCompletion)
	}
	if len(r.Criteria.StressIndicators) == 0 && r.Criteria.HabitCompletion == HabitCompletionAny {
		return fmt.Errorf("rule %q: no criteria", r.Name)
	}
	if r.Adjustments.IsZero() {
		return fmt.Errorf("rule %q: no adjustments", r.Name)
	}
	return nil
}
