package coaching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/inward-app/inward/internal/catalog"
	"github.com/inward-app/inward/internal/profile"
)

// CatalogSource supplies the protocol and rule catalogs.
// Implemented by catalog.Catalog.
type CatalogSource interface {
	Protocols() ([]catalog.Protocol, error)
	Rules() ([]catalog.AdaptiveRule, error)
}

// ProfileSource supplies and mutates learning profiles.
// Implemented by profile.Manager.
type ProfileSource interface {
	Get(userID string) (profile.LearningProfile, error)
	Mutate(userID string, fn func(current *profile.LearningProfile) (profile.LearningProfile, error)) (profile.LearningProfile, error)
}

// EffectivenessSink records feedback outcomes for analytics and schedules
// success-rate rollups. Implemented by effectiveness.Recorder.
type EffectivenessSink interface {
	Record(userID string, interventionType string, satisfaction int, notes string) error
	ScheduleRollup(userID string) error
}

// Coach wires the scorer, profile updater, and adjustment resolver to their
// stores. Scoring and resolving are pure; RecordFeedback is the single
// state-mutation entry point.
type Coach struct {
	catalog       CatalogSource
	profiles      ProfileSource
	effectiveness EffectivenessSink
	logger        *slog.Logger
}

func NewCoach(cat CatalogSource, profiles ProfileSource, eff EffectivenessSink) *Coach {
	return &Coach{
		catalog:       cat,
		profiles:      profiles,
		effectiveness: eff,
		logger:        slog.Default(),
	}
}

// Recommend scores the live catalog against the user's context and profile.
// A user without a profile is scored with no historical data.
func (c *Coach) Recommend(ctx context.Context, userID string, uctx UserContext) ([]ScoredProtocol, error) {
	protocols, err := c.catalog.Protocols()
	if err != nil {
		return nil, fmt.Errorf("loading protocol catalog: %w", err)
	}
	rules, err := c.catalog.Rules()
	if err != nil {
		return nil, fmt.Errorf("loading rule catalog: %w", err)
	}

	var prof *profile.LearningProfile
	p, err := c.profiles.Get(userID)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		// First contact: score without history.
	case err != nil:
		return nil, err
	default:
		prof = &p
	}

	recs := Score(uctx, protocols, rules, prof)
	c.logger.Debug("scored recommendations", "user", userID, "candidates", len(protocols), "kept", len(recs))
	return recs, nil
}

// RecordFeedback folds a feedback event into the user's profile, appends the
// effectiveness record, and schedules a success-rate rollup. The profile
// write is serialized per user by the profile manager.
func (c *Coach) RecordFeedback(ctx context.Context, userID string, ev FeedbackEvent) (profile.LearningProfile, error) {
	if err := ev.Validate(); err != nil {
		return profile.LearningProfile{}, err
	}

	updated, err := c.profiles.Mutate(userID, func(current *profile.LearningProfile) (profile.LearningProfile, error) {
		return ApplyFeedback(current, ev)
	})
	if err != nil {
		return profile.LearningProfile{}, err
	}

	if err := c.effectiveness.Record(userID, ev.InterventionType, ev.Satisfaction, ev.Notes); err != nil {
		return profile.LearningProfile{}, fmt.Errorf("recording effectiveness: %w", err)
	}
	if err := c.effectiveness.ScheduleRollup(userID); err != nil {
		// The next feedback event schedules another rollup; log and move on.
		c.logger.Warn("scheduling rollup failed", "user", userID, "error", err)
	}

	return updated, nil
}

// Adjustments resolves the merged coaching adjustments for a user. A user
// without a profile gets an empty set.
func (c *Coach) Adjustments(ctx context.Context, userID string) (catalog.Adjustments, error) {
	rules, err := c.catalog.Rules()
	if err != nil {
		return catalog.Adjustments{}, fmt.Errorf("loading rule catalog: %w", err)
	}

	var prof *profile.LearningProfile
	p, err := c.profiles.Get(userID)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		return catalog.Adjustments{}, nil
	case err != nil:
		return catalog.Adjustments{}, err
	default:
		prof = &p
	}

	return ResolveAdjustments(prof, rules), nil
}
