package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/inward-app/inward/internal/storage"
)

// Store defines the catalog persistence operations.
// Implemented by storage.Store.
type Store interface {
	UpsertProtocol(storage.ProtocolRow) error
	ListProtocols() ([]storage.ProtocolRow, error)
	UpsertAdaptiveRule(storage.AdaptiveRuleRow) error
	ListAdaptiveRules() ([]storage.AdaptiveRuleRow, error)
}

// Catalog provides typed access to the protocol and rule catalogs.
type Catalog struct {
	store Store
}

func New(store Store) *Catalog {
	return &Catalog{store: store}
}

// Protocols returns the protocol catalog in catalog order.
func (c *Catalog) Protocols() ([]Protocol, error) {
	rows, err := c.store.ListProtocols()
	if err != nil {
		return nil, fmt.Errorf("listing protocols: %w", err)
	}

	protocols := make([]Protocol, 0, len(rows))
	for _, row := range rows {
		p := Protocol{Name: row.Name, Category: row.Category}
		unmarshalTags(row.Name, "conditions", row.Conditions, &p.Targets.Conditions)
		unmarshalTags(row.Name, "emotions", row.Emotions, &p.Targets.Emotions)
		unmarshalTags(row.Name, "mood_indicators", row.MoodIndicators, &p.Targets.MoodIndicators)
		protocols = append(protocols, p)
	}
	return protocols, nil
}

// Rules returns adaptive rules ordered by priority ascending. Rows that fail
// closed-variant validation are skipped with a warning rather than breaking
// every scoring call.
func (c *Catalog) Rules() ([]AdaptiveRule, error) {
	rows, err := c.store.ListAdaptiveRules()
	if err != nil {
		return nil, fmt.Errorf("listing adaptive rules: %w", err)
	}

	rules := make([]AdaptiveRule, 0, len(rows))
	for _, row := range rows {
		r := AdaptiveRule{
			Name:     row.Name,
			Priority: row.Priority,
			Criteria: RuleCriteria{
				HabitCompletion: HabitCompletion(row.HabitCompletion),
			},
			Adjustments: Adjustments{
				ProtocolPreference: row.AdjProtocolPreference,
				Tone:               row.AdjTone,
				Pacing:             row.AdjPacing,
			},
		}
		unmarshalTags(row.Name, "stress_indicators", row.StressIndicators, &r.Criteria.StressIndicators)
		if err := r.Validate(); err != nil {
			slog.Warn("skipping invalid adaptive rule", "rule", row.Name, "error", err)
			continue
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// SaveProtocol upserts one protocol at the given catalog position.
func (c *Catalog) SaveProtocol(p Protocol, position int) error {
	if p.Name == "" || p.Category == "" {
		return fmt.Errorf("protocol requires name and category")
	}
	row := storage.ProtocolRow{
		Name:           p.Name,
		Category:       p.Category,
		Conditions:     marshalTags(p.Targets.Conditions),
		Emotions:       marshalTags(p.Targets.Emotions),
		MoodIndicators: marshalTags(p.Targets.MoodIndicators),
		Position:       position,
	}
	if err := c.store.UpsertProtocol(row); err != nil {
		return fmt.Errorf("saving protocol %q: %w", p.Name, err)
	}
	return nil
}

// SaveRule validates and upserts one adaptive rule.
func (c *Catalog) SaveRule(r AdaptiveRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	row := storage.AdaptiveRuleRow{
		Name:                  r.Name,
		Priority:              r.Priority,
		StressIndicators:      marshalTags(r.Criteria.StressIndicators),
		HabitCompletion:       string(r.Criteria.HabitCompletion),
		AdjProtocolPreference: r.Adjustments.ProtocolPreference,
		AdjTone:               r.Adjustments.Tone,
		AdjPacing:             r.Adjustments.Pacing,
	}
	if err := c.store.UpsertAdaptiveRule(row); err != nil {
		return fmt.Errorf("saving rule %q: %w", r.Name, err)
	}
	return nil
}

func marshalTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// unmarshalTags decodes a stored JSON tag list, treating malformed data as
// empty rather than failing the whole catalog read.
func unmarshalTags(owner, field, raw string, target *[]string) {
	if raw == "" {
		return
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		slog.Warn("malformed tag list, treating as empty", "owner", owner, "field", field, "error", err)
		*target = nil
	}
}
