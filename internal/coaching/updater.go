package coaching

import (
	"fmt"

	"github.com/inward-app/inward/internal/profile"
)

// successThreshold is the satisfaction rating at or above which an
// intervention counts as successful.
const successThreshold = 4

// Validate rejects malformed feedback before it can corrupt profile
// counters. Ratings are never coerced into range.
func (ev FeedbackEvent) Validate() error {
	if ev.InterventionType == "" {
		return fmt.Errorf("feedback: intervention_type is required")
	}
	if ev.Satisfaction < 1 || ev.Satisfaction > 5 {
		return fmt.Errorf("feedback: satisfaction must be 1-5, got %d", ev.Satisfaction)
	}
	return nil
}

// ApplyFeedback folds one feedback event into the profile. current may be
// nil: the profile is created lazily from defaults on the first event. The
// input is not mutated; the updated profile is returned.
//
// Learning confidence is recomputed as a pure function of the interaction
// count, so it never decreases across updates.
func ApplyFeedback(current *profile.LearningProfile, ev FeedbackEvent) (profile.LearningProfile, error) {
	if err := ev.Validate(); err != nil {
		return profile.LearningProfile{}, err
	}

	var p profile.LearningProfile
	if current == nil {
		p = profile.NewLearningProfile("")
	} else {
		p = current.Clone()
	}

	p.TotalInteractions++
	if ev.Satisfaction >= successThreshold {
		p.SuccessfulInterventions++
		if !p.HasEffectiveType(ev.InterventionType) {
			p.EffectiveInterventionTypes = append(p.EffectiveInterventionTypes, ev.InterventionType)
		}
	}
	p.LearningConfidence = profile.ConfidenceFor(p.TotalInteractions)

	return p, nil
}
