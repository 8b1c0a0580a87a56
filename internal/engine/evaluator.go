// Package engine implements the proactive rule evaluation loop.
package engine

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Karuna-AI/karuna-proactive/internal/models"
)

// Evaluator matches current signals against a rule set, respecting cooldowns,
// quiet hours and daily caps. Evaluation is total over arbitrary rule
// configurations: malformed conditions count as not satisfied, never panic.
type Evaluator struct{}

// NewEvaluator creates an evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate walks rules in evaluation order and returns those that trigger
// now. For each triggered rule it records the trigger time and bumps the
// daily counters on state, so later rules in the same tick observe the
// updated caps.
func (e *Evaluator) Evaluate(
	now time.Time,
	sorted []models.ProactiveRule,
	snapshot map[models.SignalType]models.Signal,
	state *models.EngineState,
	prefs models.ProactivePreferences,
	pendingByRule map[string]bool,
) []models.ProactiveRule {
	var triggered []models.ProactiveRule
	localNow := now.In(prefs.Location())

	for _, rule := range sorted {
		if !e.eligible(localNow, rule, state, prefs, pendingByRule) {
			continue
		}
		if !e.conditionsHold(rule, snapshot) {
			continue
		}

		state.LastRuleTriggers[rule.ID] = now
		state.TodayRuleCounts[rule.ID]++
		state.TodayCheckInCount++
		triggered = append(triggered, rule)
		slog.Info("engine.Evaluate: rule triggered", "circle_id", state.CircleID,
			"rule_id", rule.ID, "type", rule.Type, "priority", rule.Priority,
			"today_count", state.TodayCheckInCount)
	}
	return triggered
}

// eligible applies the gating checks that precede condition evaluation, in
// precedence order: enabled/category, time window (urgent exempt), one active
// check-in per rule, cooldown, per-rule and global daily caps, quiet hours
// (urgent exempt).
func (e *Evaluator) eligible(
	localNow time.Time,
	rule models.ProactiveRule,
	state *models.EngineState,
	prefs models.ProactivePreferences,
	pendingByRule map[string]bool,
) bool {
	urgent := rule.Priority == models.PriorityUrgent

	if !rule.Enabled || !prefs.CategoryAllowed(rule.Type) {
		return false
	}
	if rule.TimeWindow != nil && !urgent && !rule.TimeWindow.Contains(localNow) {
		slog.Debug("engine: rule outside time window", "rule_id", rule.ID, "hour", localNow.Hour())
		return false
	}
	if pendingByRule[rule.ID] {
		// A rule cannot fire again until its prior check-in is resolved.
		slog.Debug("engine: rule has an active check-in", "rule_id", rule.ID)
		return false
	}
	if last, ok := state.LastRuleTriggers[rule.ID]; ok {
		if localNow.Sub(last) < rule.Cooldown() {
			slog.Debug("engine: rule in cooldown", "rule_id", rule.ID, "last", last)
			return false
		}
	}
	if rule.MaxPerDay > 0 && state.TodayRuleCounts[rule.ID] >= rule.MaxPerDay {
		slog.Debug("engine: rule hit daily cap", "rule_id", rule.ID, "max_per_day", rule.MaxPerDay)
		return false
	}
	if state.TodayCheckInCount >= prefs.NudgeCap() {
		slog.Debug("engine: global nudge cap reached", "rule_id", rule.ID, "cap", prefs.NudgeCap())
		return false
	}
	if prefs.QuietHours != nil && !urgent && prefs.QuietHours.Contains(localNow) {
		slog.Debug("engine: inside quiet hours", "rule_id", rule.ID, "hour", localNow.Hour())
		return false
	}
	return true
}

// conditionsHold evaluates every rule condition against the snapshot. All
// conditions must hold; a missing signal or malformed condition fails closed.
func (e *Evaluator) conditionsHold(rule models.ProactiveRule, snapshot map[models.SignalType]models.Signal) bool {
	for _, cond := range rule.Conditions {
		sig, ok := snapshot[cond.SignalType]
		if !ok {
			slog.Debug("engine: condition signal missing", "rule_id", rule.ID, "signal_type", cond.SignalType)
			return false
		}
		ok, err := evalCondition(cond, sig)
		if err != nil {
			slog.Warn("engine: malformed condition treated as unsatisfied",
				"rule_id", rule.ID, "signal_type", cond.SignalType, "operator", cond.Operator, "error", err)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// evalCondition applies one operator to the selected signal field. Returns an
// error for unknown operators or irreconcilable type mismatches; the caller
// treats both as condition-false.
func evalCondition(cond models.RuleCondition, sig models.Signal) (bool, error) {
	if sig.Value == nil {
		return false, nil
	}
	actual, ok := sig.Value[cond.Field]
	if !ok {
		return false, nil
	}

	switch cond.Operator {
	case models.OperatorLT, models.OperatorGT, models.OperatorLTE, models.OperatorGTE:
		a, err := toFloat(actual)
		if err != nil {
			return false, err
		}
		b, err := toFloat(cond.Value)
		if err != nil {
			return false, err
		}
		switch cond.Operator {
		case models.OperatorLT:
			return a < b, nil
		case models.OperatorGT:
			return a > b, nil
		case models.OperatorLTE:
			return a <= b, nil
		default:
			return a >= b, nil
		}

	case models.OperatorBetween:
		a, err := toFloat(actual)
		if err != nil {
			return false, err
		}
		lo, err := toFloat(cond.Value)
		if err != nil {
			return false, err
		}
		hi, err := toFloat(cond.SecondaryValue)
		if err != nil {
			return false, err
		}
		return a >= lo && a <= hi, nil

	case models.OperatorEQ:
		// Numbers compare numerically so 2 == 2.0; everything else by
		// string form.
		if a, errA := toFloat(actual); errA == nil {
			if b, errB := toFloat(cond.Value); errB == nil {
				return a == b, nil
			}
		}
		return stringify(actual) == stringify(cond.Value), nil

	case models.OperatorContains:
		needle := stringify(cond.Value)
		switch v := actual.(type) {
		case string:
			return strings.Contains(v, needle), nil
		case []any:
			for _, item := range v {
				if stringify(item) == needle {
					return true, nil
				}
			}
			return false, nil
		case []string:
			for _, item := range v {
				if item == needle {
					return true, nil
				}
			}
			return false, nil
		default:
			return false, fmt.Errorf("contains operator needs a string or list, got %T", actual)
		}

	default:
		return false, fmt.Errorf("unknown operator %q", cond.Operator)
	}
}

// toFloat coerces JSON-decoded numeric representations to float64.
func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if f, err := toFloat(v); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}
