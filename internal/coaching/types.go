package coaching

import "github.com/inward-app/inward/internal/catalog"

// UserContext describes the user's present emotional/behavioral state as
// supplied by the chat/coaching flow. Any subset may be empty.
type UserContext struct {
	Emotions       []string `json:"emotions,omitempty"`
	Conditions     []string `json:"conditions,omitempty"`
	MoodIndicators []string `json:"mood_indicators,omitempty"`
}

// ScoredProtocol is a catalog protocol ranked for the current context.
// Confidence is a heuristic ranking score, not a probability: it has no
// upper bound and only the inclusion threshold below is meaningful.
type ScoredProtocol struct {
	catalog.Protocol
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// FeedbackEvent is one user reaction to a presented intervention. It is
// consumed once by the profile updater and not stored by the engine beyond
// the effectiveness log.
type FeedbackEvent struct {
	InterventionType string `json:"intervention_type"`
	Satisfaction     int    `json:"satisfaction"` // 1–5
	Notes            string `json:"notes,omitempty"`
}
