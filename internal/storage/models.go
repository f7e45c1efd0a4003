package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// LearningProfileRow is the persisted form of a user's learning profile.
// Collection fields are stored as JSON text.
type LearningProfileRow struct {
	UserID                     string
	EffectiveInterventionTypes string // JSON array stored as text
	ProtocolSuccessRates       string // JSON object stored as text
	TotalInteractions          int
	SuccessfulInterventions    int
	LearningConfidence         float64
	UpdatedAt                  time.Time
}

// EffectivenessRecord is one append-only feedback outcome, kept for analytics
// and for deriving per-category success rates.
type EffectivenessRecord struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	InterventionType string    `json:"intervention_type"`
	Satisfaction     int       `json:"satisfaction"`
	Notes            string    `json:"notes,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// EffectivenessTotals aggregates outcomes for one intervention type.
type EffectivenessTotals struct {
	InterventionType string
	Total            int
	Successful       int
}

// ProtocolRow is the persisted form of a catalog protocol.
// Tag lists are stored as JSON text; Position preserves catalog order.
type ProtocolRow struct {
	Name           string
	Category       string
	Conditions     string // JSON array stored as text
	Emotions       string // JSON array stored as text
	MoodIndicators string // JSON array stored as text
	Position       int
	UpdatedAt      time.Time
}

// AdaptiveRuleRow is the persisted form of an adaptive rule.
type AdaptiveRuleRow struct {
	Name                  string
	Priority              int
	StressIndicators      string // JSON array stored as text
	HabitCompletion       string
	AdjProtocolPreference string
	AdjTone               string
	AdjPacing             string
	UpdatedAt             time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
