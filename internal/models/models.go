// Package models defines the core data structures for the Karuna proactive
// check-in engine.
//
// It includes types for life-signals, trigger rules, check-ins and caregiver
// alerts, which are shared across modules.
package models

import (
	"errors"
	"fmt"
	"time"
)

// SignalType identifies one life-signal data source.
type SignalType string

const (
	// SignalTypeSteps carries the step count reported by the activity tracker.
	SignalTypeSteps SignalType = "steps"
	// SignalTypeWeather carries current weather conditions.
	SignalTypeWeather SignalType = "weather"
	// SignalTypeCalendar carries upcoming calendar events.
	SignalTypeCalendar SignalType = "calendar"
	// SignalTypeMedication carries medication adherence state.
	SignalTypeMedication SignalType = "medication"
	// SignalTypeInactivity carries time-since-last-activity observations.
	SignalTypeInactivity SignalType = "inactivity"
	// SignalTypeWellbeing carries self-reported or inferred wellbeing state.
	SignalTypeWellbeing SignalType = "wellbeing"
)

// IsValidSignalType checks if the given signal type is supported.
func IsValidSignalType(st SignalType) bool {
	switch st {
	case SignalTypeSteps, SignalTypeWeather, SignalTypeCalendar,
		SignalTypeMedication, SignalTypeInactivity, SignalTypeWellbeing:
		return true
	default:
		return false
	}
}

// Signal is a timestamped observation from one collector. Value holds the
// collector-specific payload keyed by field name (e.g. "count" for steps,
// "pendingDoses" for medication).
type Signal struct {
	Type      SignalType        `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Value     map[string]any    `json:"value"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Validate checks that a signal is well-formed for ingestion.
func (s *Signal) Validate() error {
	if !IsValidSignalType(s.Type) {
		return ErrInvalidSignalType
	}
	if s.Timestamp.IsZero() {
		return ErrMissingSignalTimestamp
	}
	return nil
}

// CheckInType categorizes the check-ins a rule may emit.
type CheckInType string

const (
	CheckInTypeMorningGreeting    CheckInType = "morning_greeting"
	CheckInTypeMedicationReminder CheckInType = "medication_reminder"
	CheckInTypeWeatherAdvisory    CheckInType = "weather_advisory"
	CheckInTypeActivityNudge      CheckInType = "activity_nudge"
	CheckInTypeInactivityCheck    CheckInType = "inactivity_check"
	CheckInTypeWellbeingCheck     CheckInType = "wellbeing_check"
	CheckInTypeCalendarReminder   CheckInType = "calendar_reminder"
	CheckInTypeEveningReflection  CheckInType = "evening_reflection"
)

// IsValidCheckInType checks if the given check-in type is supported.
func IsValidCheckInType(ct CheckInType) bool {
	switch ct {
	case CheckInTypeMorningGreeting, CheckInTypeMedicationReminder,
		CheckInTypeWeatherAdvisory, CheckInTypeActivityNudge,
		CheckInTypeInactivityCheck, CheckInTypeWellbeingCheck,
		CheckInTypeCalendarReminder, CheckInTypeEveningReflection:
		return true
	default:
		return false
	}
}

// Priority orders rules and check-ins. Urgent check-ins bypass quiet hours
// and rule time windows.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank returns a numeric ordering for priorities (higher is more important).
// Unknown priorities rank below low so malformed rules sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// IsValidPriority checks if the given priority is supported.
func IsValidPriority(p Priority) bool {
	return p.Rank() > 0
}

// ConditionOperator is the closed set of comparison operators a rule
// condition may use.
type ConditionOperator string

const (
	OperatorLT       ConditionOperator = "lt"
	OperatorGT       ConditionOperator = "gt"
	OperatorEQ       ConditionOperator = "eq"
	OperatorLTE      ConditionOperator = "lte"
	OperatorGTE      ConditionOperator = "gte"
	OperatorBetween  ConditionOperator = "between"
	OperatorContains ConditionOperator = "contains"
)

// IsValidOperator checks if the given condition operator is supported.
func IsValidOperator(op ConditionOperator) bool {
	switch op {
	case OperatorLT, OperatorGT, OperatorEQ, OperatorLTE, OperatorGTE,
		OperatorBetween, OperatorContains:
		return true
	default:
		return false
	}
}

// RuleCondition evaluates one field of the current signal of the matching
// type. SecondaryValue is only used by the "between" operator.
type RuleCondition struct {
	SignalType     SignalType        `json:"signal_type" yaml:"signal_type"`
	Field          string            `json:"field" yaml:"field"`
	Operator       ConditionOperator `json:"operator" yaml:"operator"`
	Value          any               `json:"value" yaml:"value"`
	SecondaryValue any               `json:"secondary_value,omitempty" yaml:"secondary_value,omitempty"`
}

// TimeWindow restricts activity to local hours [StartHour, EndHour). A window
// that wraps midnight (StartHour > EndHour) is supported, e.g. 22..7 for
// overnight quiet hours.
type TimeWindow struct {
	StartHour int `json:"start_hour" yaml:"start_hour"`
	EndHour   int `json:"end_hour" yaml:"end_hour"`
}

// Contains reports whether the hour of t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	h := t.Hour()
	if w.StartHour <= w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	// Wrapping window, e.g. 22:00-07:00.
	return h >= w.StartHour || h < w.EndHour
}

// ActionKind marks the sentiment of a check-in action. Negative actions on
// wellbeing and inactivity checks feed caregiver escalation.
type ActionKind string

const (
	ActionKindPositive ActionKind = "positive"
	ActionKindNeutral  ActionKind = "neutral"
	ActionKindNegative ActionKind = "negative"
)

// CheckInAction is a selectable response option attached to a check-in.
type CheckInAction struct {
	ID    string     `json:"id" yaml:"id"`
	Label string     `json:"label" yaml:"label"`
	Kind  ActionKind `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// ProactiveRule is an immutable declarative trigger: when all conditions hold
// against the current signals (and cooldown, caps and time window allow), the
// engine emits one check-in of the rule's type.
type ProactiveRule struct {
	ID              string          `json:"id" yaml:"id"`
	Name            string          `json:"name" yaml:"name"`
	Type            CheckInType     `json:"type" yaml:"type"`
	Priority        Priority        `json:"priority" yaml:"priority"`
	Enabled         bool            `json:"enabled" yaml:"enabled"`
	Conditions      []RuleCondition `json:"conditions" yaml:"conditions"`
	CooldownMinutes int             `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	MaxPerDay       int             `json:"max_per_day" yaml:"max_per_day"`
	TimeWindow      *TimeWindow     `json:"time_window,omitempty" yaml:"time_window,omitempty"`
	Title           string          `json:"title" yaml:"title"`
	MessageTemplate string          `json:"message_template" yaml:"message_template"`
	Suggestion      string          `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	Actions         []CheckInAction `json:"actions,omitempty" yaml:"actions,omitempty"`
	// ExpiryMinutes overrides the default check-in expiry (24h, 1h for
	// urgent) when non-zero.
	ExpiryMinutes int `json:"expiry_minutes,omitempty" yaml:"expiry_minutes,omitempty"`
}

// Validation constants for rule configuration.
const (
	// MaxMessageLength defines the maximum rendered check-in message length.
	MaxMessageLength = 480
	// MaxRuleConditions defines the maximum number of conditions per rule.
	MaxRuleConditions = 10
)

// Error variables for better error handling and testability.
var (
	ErrInvalidSignalType      = errors.New("invalid signal type")
	ErrMissingSignalTimestamp = errors.New("signal timestamp is required")
	ErrEmptyRuleID            = errors.New("rule id cannot be empty")
	ErrInvalidCheckInType     = errors.New("invalid check-in type")
	ErrInvalidPriority        = errors.New("invalid priority")
	ErrNoRuleConditions       = errors.New("rule must have at least one condition")
	ErrTooManyRuleConditions  = errors.New("rule has too many conditions")
	ErrMissingMessageTemplate = errors.New("message template is required")
	ErrNegativeCooldown       = errors.New("cooldown minutes cannot be negative")
	ErrInvalidTimeWindow      = errors.New("time window hours must be within 0-23")

	ErrUnknownCheckIn  = errors.New("check-in not found")
	ErrCheckInTerminal = errors.New("check-in is already in a terminal state")
	ErrUnknownAction   = errors.New("action id does not match any check-in action")
)

// Validate performs comprehensive validation on a rule configuration.
func (r *ProactiveRule) Validate() error {
	if r.ID == "" {
		return ErrEmptyRuleID
	}
	if !IsValidCheckInType(r.Type) {
		return fmt.Errorf("rule %s: %w: %q", r.ID, ErrInvalidCheckInType, r.Type)
	}
	if !IsValidPriority(r.Priority) {
		return fmt.Errorf("rule %s: %w: %q", r.ID, ErrInvalidPriority, r.Priority)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("rule %s: %w", r.ID, ErrNoRuleConditions)
	}
	if len(r.Conditions) > MaxRuleConditions {
		return fmt.Errorf("rule %s: %w", r.ID, ErrTooManyRuleConditions)
	}
	if r.MessageTemplate == "" {
		return fmt.Errorf("rule %s: %w", r.ID, ErrMissingMessageTemplate)
	}
	if r.CooldownMinutes < 0 {
		return fmt.Errorf("rule %s: %w", r.ID, ErrNegativeCooldown)
	}
	for _, c := range r.Conditions {
		if !IsValidSignalType(c.SignalType) {
			return fmt.Errorf("rule %s: %w: %q", r.ID, ErrInvalidSignalType, c.SignalType)
		}
		if !IsValidOperator(c.Operator) {
			return fmt.Errorf("rule %s: invalid operator %q", r.ID, c.Operator)
		}
	}
	if r.TimeWindow != nil {
		if err := validateWindow(*r.TimeWindow); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}
	return nil
}

func validateWindow(w TimeWindow) error {
	if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 23 {
		return ErrInvalidTimeWindow
	}
	return nil
}

// Expiry returns the lifetime of check-ins emitted by this rule.
func (r *ProactiveRule) Expiry() time.Duration {
	if r.ExpiryMinutes > 0 {
		return time.Duration(r.ExpiryMinutes) * time.Minute
	}
	if r.Priority == PriorityUrgent {
		return time.Hour
	}
	return 24 * time.Hour
}

// Cooldown returns the rule cooldown as a duration.
func (r *ProactiveRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}
