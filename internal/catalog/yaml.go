package catalog

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// yamlFile is the on-disk catalog format:
//
//	protocols:
//	  - name: Physiological Sigh
//	    category: breathwork
//	    target_conditions:
//	      conditions: [anxiety, stress]
//	      emotions: [overwhelmed]
//	      mood_indicators: [low_energy]
//	rules:
//	  - name: stress-override
//	    priority: 10
//	    when:
//	      stress_indicators: [anxious, overwhelmed]
//	    adjust:
//	      protocol_preference: breathwork
//	      tone: gentle
type yamlFile struct {
	Protocols []yamlProtocol `yaml:"protocols"`
	Rules     []yamlRule     `yaml:"rules"`
}

type yamlProtocol struct {
	Name     string      `yaml:"name"`
	Category string      `yaml:"category"`
	Targets  yamlTargets `yaml:"target_conditions"`
}

type yamlTargets struct {
	Conditions     []string `yaml:"conditions"`
	Emotions       []string `yaml:"emotions"`
	MoodIndicators []string `yaml:"mood_indicators"`
}

type yamlRule struct {
	Name     string   `yaml:"name"`
	Priority int      `yaml:"priority"`
	When     yamlWhen `yaml:"when"`
	Adjust   yamlAdj  `yaml:"adjust"`
}

type yamlWhen struct {
	StressIndicators []string `yaml:"stress_indicators"`
	HabitCompletion  string   `yaml:"habit_completion"`
}

type yamlAdj struct {
	ProtocolPreference string `yaml:"protocol_preference"`
	Tone               string `yaml:"tone"`
	Pacing             string `yaml:"pacing"`
}

// ImportResult reports what an import wrote.
type ImportResult struct {
	Protocols int `json:"protocols"`
	Rules     int `json:"rules"`
}

// Import parses a YAML catalog document and upserts its protocols and rules.
// Unknown fields and unknown rule variants are rejected; nothing is written
// if the document fails to parse or validate.
func (c *Catalog) Import(r io.Reader) (ImportResult, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc yamlFile
	if err := dec.Decode(&doc); err != nil {
		return ImportResult{}, fmt.Errorf("parsing catalog: %w", err)
	}

	protocols := make([]Protocol, 0, len(doc.Protocols))
	for _, yp := range doc.Protocols {
		if yp.Name == "" || yp.Category == "" {
			return ImportResult{}, fmt.Errorf("protocol %q: name and category are required", yp.Name)
		}
		protocols = append(protocols, Protocol{
			Name:     yp.Name,
			Category: yp.Category,
			Targets: TargetConditions{
				Conditions:     yp.Targets.Conditions,
				Emotions:       yp.Targets.Emotions,
				MoodIndicators: yp.Targets.MoodIndicators,
			},
		})
	}

	rules := make([]AdaptiveRule, 0, len(doc.Rules))
	for _, yr := range doc.Rules {
		rule := AdaptiveRule{
			Name:     yr.Name,
			Priority: yr.Priority,
			Criteria: RuleCriteria{
				StressIndicators: yr.When.StressIndicators,
				HabitCompletion:  HabitCompletion(yr.When.HabitCompletion),
			},
			Adjustments: Adjustments{
				ProtocolPreference: yr.Adjust.ProtocolPreference,
				Tone:               yr.Adjust.Tone,
				Pacing:             yr.Adjust.Pacing,
			},
		}
		if err := rule.Validate(); err != nil {
			return ImportResult{}, err
		}
		rules = append(rules, rule)
	}

	// Validate-then-write: the loops above reject the whole document before
	// the first upsert.
	for i, p := range protocols {
		if err := c.SaveProtocol(p, i); err != nil {
			return ImportResult{}, err
		}
	}
	for _, r := range rules {
		if err := c.SaveRule(r); err != nil {
			return ImportResult{}, err
		}
	}

	return ImportResult{Protocols: len(protocols), Rules: len(rules)}, nil
}
