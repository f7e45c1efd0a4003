package profile

// Confidence growth constants: confidence starts at the floor, rises by the
// step per recorded interaction, and saturates at the ceiling (reached after
// 40 interactions). It never decreases.
const (
	ConfidenceFloor   = 0.1
	ConfidenceCeiling = 0.9
	ConfidenceStep    = 0.02
)

// LearningProfile is the per-user accumulated evidence of which coaching
// intervention types work for that user.
type LearningProfile struct {
	UserID                     string             `json:"user_id"`
	EffectiveInterventionTypes []string           `json:"effective_intervention_types"`
	ProtocolSuccessRates       map[string]float64 `json:"protocol_success_rates"`
	TotalInteractions          int                `json:"total_interactions"`
	SuccessfulInterventions    int                `json:"successful_interventions"`
	LearningConfidence         float64            `json:"learning_confidence"`
}

// NewLearningProfile returns the default profile created lazily on a user's
// first feedback event.
func NewLearningProfile(userID string) LearningProfile {
	return LearningProfile{
		UserID:                     userID,
		EffectiveInterventionTypes: []string{},
		ProtocolSuccessRates:       map[string]float64{},
		LearningConfidence:         ConfidenceFloor,
	}
}

// ConfidenceFor computes learning confidence for a given interaction count:
// min(ceiling, floor + step*n).
func ConfidenceFor(totalInteractions int) float64 {
	c := ConfidenceFloor + ConfidenceStep*float64(totalInteractions)
	if c > ConfidenceCeiling {
		return ConfidenceCeiling
	}
	return c
}

// SuccessRate derives the overall intervention success rate used by
// habit-completion rule matching. Zero interactions derive a zero rate.
func (p LearningProfile) SuccessRate() float64 {
	total := p.TotalInteractions
	if total < 1 {
		total = 1
	}
	return float64(p.SuccessfulInterventions) / float64(total)
}

// HasEffectiveType reports whether t is already in the effective set.
func (p LearningProfile) HasEffectiveType(t string) bool {
	for _, existing := range p.EffectiveInterventionTypes {
		if existing == t {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so cached profiles can be handed out safely.
func (p LearningProfile) Clone() LearningProfile {
	cp := p
	if p.EffectiveInterventionTypes != nil {
		cp.EffectiveInterventionTypes = make([]string, len(p.EffectiveInterventionTypes))
		copy(cp.EffectiveInterventionTypes, p.EffectiveInterventionTypes)
	}
	if p.ProtocolSuccessRates != nil {
		cp.ProtocolSuccessRates = make(map[string]float64, len(p.ProtocolSuccessRates))
		for k, v := range p.ProtocolSuccessRates {
			cp.ProtocolSuccessRates[k] = v
		}
	}
	return cp
}
