// Package rules provides loading and ordering of proactive trigger rules.
//
// Rule sets are immutable after load. Malformed rules are logged and skipped
// so one bad rule never blocks the rest of the configuration.
package rules

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Karuna-AI/karuna-proactive/internal/models"
)

// Set is an ordered, immutable collection of proactive rules.
type Set struct {
	rules []models.ProactiveRule
}

// ruleFile is the YAML document shape for rule configuration files.
type ruleFile struct {
	Rules []models.ProactiveRule `yaml:"rules"`
}

// NewSet builds a rule set from the given rules, dropping any that fail
// validation. Duplicate IDs keep the first occurrence.
func NewSet(rules []models.ProactiveRule) *Set {
	seen := make(map[string]bool, len(rules))
	kept := make([]models.ProactiveRule, 0, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			slog.Warn("rules.NewSet: skipping malformed rule", "rule_id", r.ID, "error", err)
			continue
		}
		if seen[r.ID] {
			slog.Warn("rules.NewSet: skipping duplicate rule id", "rule_id", r.ID)
			continue
		}
		seen[r.ID] = true
		kept = append(kept, r)
	}
	return &Set{rules: kept}
}

// LoadFile reads a YAML rule file and builds a set from it.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML rule configuration.
func Parse(data []byte) (*Set, error) {
	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}
	set := NewSet(doc.Rules)
	slog.Info("rules.Parse: loaded rule set", "configured", len(doc.Rules), "valid", len(set.rules))
	return set, nil
}

// Sorted returns the rules in evaluation order: priority descending (urgent
// first), then rule ID ascending as a deterministic tie-break.
func (s *Set) Sorted() []models.ProactiveRule {
	out := make([]models.ProactiveRule, len(s.rules))
	copy(out, s.rules)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns the rule with the given id.
func (s *Set) Get(id string) (models.ProactiveRule, bool) {
	for _, r := range s.rules {
		if r.ID == id {
			return r, true
		}
	}
	return models.ProactiveRule{}, false
}

// Len returns the number of valid rules in the set.
func (s *Set) Len() int {
	return len(s.rules)
}
