package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Karuna-AI/karuna-proactive/internal/models"
)

// checkInSelect is the shared column list for check-in queries; scanCheckIn
// and scanCheckInRow depend on this order.
const checkInSelect = `
	SELECT id, rule_id, type, priority, title, message, suggestion, status,
	       created_at, expires_at, dismissed, dismissed_at, trigger_signals, actions, response
	FROM check_ins`

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nilIfZeroTime returns nil for the zero time, for nullable timestamp columns.
func nilIfZeroTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// checkInRow holds the JSON-encoded nested columns of a check-in.
type checkInRow struct {
	triggerSignals interface{}
	actions        interface{}
	response       interface{}
}

// encodeCheckIn serializes the nested check-in structures to JSON columns.
func encodeCheckIn(checkIn models.CheckIn) (checkInRow, error) {
	var row checkInRow
	if len(checkIn.TriggerSignals) > 0 {
		data, err := json.Marshal(checkIn.TriggerSignals)
		if err != nil {
			return row, fmt.Errorf("encode trigger signals: %w", err)
		}
		row.triggerSignals = string(data)
	}
	if len(checkIn.Actions) > 0 {
		data, err := json.Marshal(checkIn.Actions)
		if err != nil {
			return row, fmt.Errorf("encode actions: %w", err)
		}
		row.actions = string(data)
	}
	if checkIn.Response != nil {
		data, err := json.Marshal(checkIn.Response)
		if err != nil {
			return row, fmt.Errorf("encode response: %w", err)
		}
		row.response = string(data)
	}
	return row, nil
}

// scanner abstracts sql.Row and sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCheckInFields(sc scanner) (models.CheckIn, error) {
	var (
		checkIn        models.CheckIn
		suggestion     sql.NullString
		expiresAt      sql.NullTime
		dismissedAt    sql.NullTime
		triggerSignals sql.NullString
		actions        sql.NullString
		response       sql.NullString
	)
	err := sc.Scan(
		&checkIn.ID, &checkIn.RuleID, &checkIn.Type, &checkIn.Priority,
		&checkIn.Title, &checkIn.Message, &suggestion, &checkIn.Status,
		&checkIn.CreatedAt, &expiresAt, &checkIn.Dismissed, &dismissedAt,
		&triggerSignals, &actions, &response,
	)
	if err != nil {
		return checkIn, err
	}
	checkIn.Suggestion = suggestion.String
	if expiresAt.Valid {
		checkIn.ExpiresAt = expiresAt.Time
	}
	if dismissedAt.Valid {
		t := dismissedAt.Time
		checkIn.DismissedAt = &t
	}
	if triggerSignals.String != "" {
		if err := json.Unmarshal([]byte(triggerSignals.String), &checkIn.TriggerSignals); err != nil {
			return checkIn, fmt.Errorf("decode trigger signals: %w", err)
		}
	}
	if actions.String != "" {
		if err := json.Unmarshal([]byte(actions.String), &checkIn.Actions); err != nil {
			return checkIn, fmt.Errorf("decode actions: %w", err)
		}
	}
	if response.String != "" {
		var resp models.CheckInResponse
		if err := json.Unmarshal([]byte(response.String), &resp); err != nil {
			return checkIn, fmt.Errorf("decode response: %w", err)
		}
		checkIn.Response = &resp
	}
	return checkIn, nil
}

// scanCheckIn scans a check-in from sql.Rows.
func scanCheckIn(rows *sql.Rows) (models.CheckIn, error) {
	checkIn, err := scanCheckInFields(rows)
	if err != nil {
		return checkIn, fmt.Errorf("scan check-in failed: %w", err)
	}
	return checkIn, nil
}

// scanCheckInRow scans a check-in from a single sql.Row.
func scanCheckInRow(row *sql.Row) (models.CheckIn, error) {
	return scanCheckInFields(row)
}

// encodeEngineState serializes the engine state maps to JSON columns.
func encodeEngineState(state models.EngineState) (triggers, counts string, err error) {
	if len(state.LastRuleTriggers) > 0 {
		data, err := json.Marshal(state.LastRuleTriggers)
		if err != nil {
			return "", "", fmt.Errorf("encode rule triggers: %w", err)
		}
		triggers = string(data)
	}
	if len(state.TodayRuleCounts) > 0 {
		data, err := json.Marshal(state.TodayRuleCounts)
		if err != nil {
			return "", "", fmt.Errorf("encode rule counts: %w", err)
		}
		counts = string(data)
	}
	return triggers, counts, nil
}

// decodeEngineState restores the engine state maps from JSON columns.
func decodeEngineState(state *models.EngineState, triggersJSON, countsJSON string) error {
	state.LastRuleTriggers = make(map[string]time.Time)
	state.TodayRuleCounts = make(map[string]int)
	if triggersJSON != "" {
		if err := json.Unmarshal([]byte(triggersJSON), &state.LastRuleTriggers); err != nil {
			return fmt.Errorf("decode rule triggers: %w", err)
		}
	}
	if countsJSON != "" {
		if err := json.Unmarshal([]byte(countsJSON), &state.TodayRuleCounts); err != nil {
			return fmt.Errorf("decode rule counts: %w", err)
		}
	}
	return nil
}

// encodePreferences serializes preferences to a JSON payload column.
func encodePreferences(prefs models.ProactivePreferences) (string, error) {
	data, err := json.Marshal(prefs)
	if err != nil {
		return "", fmt.Errorf("encode preferences: %w", err)
	}
	return string(data), nil
}

// decodePreferences restores preferences from a JSON payload column.
func decodePreferences(circleID, payload string) (models.ProactivePreferences, error) {
	var prefs models.ProactivePreferences
	if err := json.Unmarshal([]byte(payload), &prefs); err != nil {
		return models.ProactivePreferences{}, fmt.Errorf("decode preferences: %w", err)
	}
	prefs.CircleID = circleID
	return prefs, nil
}
