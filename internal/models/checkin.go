// Package models defines check-in lifecycle structures for the proactive engine.
package models

import "time"

// CheckInStatus represents the lifecycle state of a check-in.
type CheckInStatus string

const (
	// CheckInStatusPending indicates the check-in is awaiting a response.
	CheckInStatusPending CheckInStatus = "pending"
	// CheckInStatusResponded indicates the user selected an action.
	CheckInStatusResponded CheckInStatus = "responded"
	// CheckInStatusDismissed indicates the user dismissed the check-in.
	CheckInStatusDismissed CheckInStatus = "dismissed"
	// CheckInStatusExpired indicates the check-in lapsed unanswered.
	CheckInStatusExpired CheckInStatus = "expired"
)

// IsTerminal reports whether the status permits no further mutation.
func (s CheckInStatus) IsTerminal() bool {
	return s == CheckInStatusResponded || s == CheckInStatusDismissed || s == CheckInStatusExpired
}

// CheckInResponse records the user's reaction to a check-in. Attached once,
// immutable afterward.
type CheckInResponse struct {
	ActionID  string    `json:"action_id"`
	Timestamp time.Time `json:"timestamp"`
	FollowUp  string    `json:"follow_up,omitempty"`
}

// CheckIn is a generated proactive message shown to the end user. Check-ins
// are never deleted; terminal ones are retained for history and analytics.
type CheckIn struct {
	ID             string           `json:"id"`
	RuleID         string           `json:"rule_id"`
	Type           CheckInType      `json:"type"`
	Priority       Priority         `json:"priority"`
	Title          string           `json:"title"`
	Message        string           `json:"message"`
	Suggestion     string           `json:"suggestion,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	ExpiresAt      time.Time        `json:"expires_at,omitempty"`
	TriggerSignals []SignalType     `json:"trigger_signals,omitempty"`
	Actions        []CheckInAction  `json:"actions,omitempty"`
	Status         CheckInStatus    `json:"status"`
	Dismissed      bool             `json:"dismissed"`
	DismissedAt    *time.Time       `json:"dismissed_at,omitempty"`
	Response       *CheckInResponse `json:"response,omitempty"`
}

// Action returns the action with the given id, if any.
func (c *CheckIn) Action(actionID string) (CheckInAction, bool) {
	for _, a := range c.Actions {
		if a.ID == actionID {
			return a, true
		}
	}
	return CheckInAction{}, false
}

// AlertReason explains why a caregiver alert was raised.
type AlertReason string

const (
	// AlertReasonNegativeResponse indicates the user reacted negatively or
	// dismissed a concern probe.
	AlertReasonNegativeResponse AlertReason = "negative_response"
	// AlertReasonExpiredUnanswered indicates a severe check-in lapsed with no
	// response at all.
	AlertReasonExpiredUnanswered AlertReason = "expired_unanswered"
)

// CaregiverAlert is the escalation payload handed to the care-circle
// notification collaborator. Delivery guarantees are owned by that
// collaborator, not the engine.
type CaregiverAlert struct {
	ID          string      `json:"id"`
	CircleID    string      `json:"circle_id"`
	CheckInID   string      `json:"check_in_id"`
	CheckInType CheckInType `json:"check_in_type"`
	Priority    Priority    `json:"priority"`
	Reason      AlertReason `json:"reason"`
	Message     string      `json:"message"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ProactivePreferences is per-circle configuration, read-only input to the
// evaluator. Zero-value categories in CategoryEnabled are treated as enabled
// so new check-in types do not silently disappear.
type ProactivePreferences struct {
	CircleID                string               `json:"circle_id"`
	Enabled                 bool                 `json:"enabled"`
	MaxNudgesPerDay         int                  `json:"max_nudges_per_day"`
	QuietHours              *TimeWindow          `json:"quiet_hours,omitempty"`
	CategoryEnabled         map[CheckInType]bool `json:"category_enabled,omitempty"`
	CaregiverAlertThreshold Priority             `json:"caregiver_alert_threshold"`
	Timezone                string               `json:"timezone,omitempty"`
}

// DefaultMaxNudgesPerDay caps daily check-ins when preferences do not say
// otherwise.
const DefaultMaxNudgesPerDay = 6

// DefaultPreferences returns a permissive preference set for circles without
// stored configuration.
func DefaultPreferences(circleID string) ProactivePreferences {
	return ProactivePreferences{
		CircleID:                circleID,
		Enabled:                 true,
		MaxNudgesPerDay:         DefaultMaxNudgesPerDay,
		QuietHours:              &TimeWindow{StartHour: 22, EndHour: 7},
		CaregiverAlertThreshold: PriorityHigh,
	}
}

// CategoryAllowed reports whether check-ins of the given type are enabled.
func (p *ProactivePreferences) CategoryAllowed(ct CheckInType) bool {
	if p.CategoryEnabled == nil {
		return true
	}
	enabled, ok := p.CategoryEnabled[ct]
	if !ok {
		return true
	}
	return enabled
}

// NudgeCap returns the effective global daily cap.
func (p *ProactivePreferences) NudgeCap() int {
	if p.MaxNudgesPerDay <= 0 {
		return DefaultMaxNudgesPerDay
	}
	return p.MaxNudgesPerDay
}

// Location resolves the circle's timezone, falling back to server local time.
func (p *ProactivePreferences) Location() *time.Location {
	if p.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// EngineState is the per-circle mutable evaluation state. One instance exists
// per monitored circle; counters reset at the circle's local midnight.
type EngineState struct {
	CircleID          string               `json:"circle_id"`
	IsRunning         bool                 `json:"is_running"`
	LastCheckTime     time.Time            `json:"last_check_time"`
	TodayCheckInCount int                  `json:"today_check_in_count"`
	// CounterDay is the local date (YYYY-MM-DD) the daily counters belong to.
	CounterDay       string               `json:"counter_day"`
	LastRuleTriggers map[string]time.Time `json:"last_rule_triggers"`
	TodayRuleCounts  map[string]int       `json:"today_rule_counts"`
}

// NewEngineState creates a fresh state for a circle.
func NewEngineState(circleID string) *EngineState {
	return &EngineState{
		CircleID:         circleID,
		LastRuleTriggers: make(map[string]time.Time),
		TodayRuleCounts:  make(map[string]int),
	}
}

// Clone returns a deep copy. Callers that hand state to another goroutine
// must clone it first; the maps are mutated on every evaluation.
func (s *EngineState) Clone() EngineState {
	copied := *s
	copied.LastRuleTriggers = make(map[string]time.Time, len(s.LastRuleTriggers))
	for k, v := range s.LastRuleTriggers {
		copied.LastRuleTriggers[k] = v
	}
	copied.TodayRuleCounts = make(map[string]int, len(s.TodayRuleCounts))
	for k, v := range s.TodayRuleCounts {
		copied.TodayRuleCounts[k] = v
	}
	return copied
}

// ResetDailyCounters clears the per-day counters and records the day they now
// belong to. Rule trigger times are kept so cooldowns span midnight.
func (s *EngineState) ResetDailyCounters(day string) {
	s.TodayCheckInCount = 0
	s.TodayRuleCounts = make(map[string]int)
	s.CounterDay = day
}

// LocalDay formats t as the counter-day key in the given location.
func LocalDay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
