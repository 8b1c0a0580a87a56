// Package store provides storage backends for the proactive engine.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/Karuna-AI/karuna-proactive/internal/models"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists engine data in a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// SaveCheckIn inserts or updates a check-in for a circle.
func (s *PostgresStore) SaveCheckIn(circleID string, checkIn models.CheckIn) error {
	row, err := encodeCheckIn(checkIn)
	if err != nil {
		slog.Error("PostgresStore SaveCheckIn encode failed", "error", err, "check_in_id", checkIn.ID)
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO check_ins
		(id, circle_id, rule_id, type, priority, title, message, suggestion, status,
		 created_at, expires_at, dismissed, dismissed_at, trigger_signals, actions, response)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			dismissed = EXCLUDED.dismissed,
			dismissed_at = EXCLUDED.dismissed_at,
			response = EXCLUDED.response`,
		checkIn.ID, circleID, checkIn.RuleID, checkIn.Type, checkIn.Priority,
		checkIn.Title, checkIn.Message, nilIfEmpty(checkIn.Suggestion), checkIn.Status,
		checkIn.CreatedAt, nilIfZeroTime(checkIn.ExpiresAt), checkIn.Dismissed, checkIn.DismissedAt,
		row.triggerSignals, row.actions, row.response)
	if err != nil {
		slog.Error("PostgresStore SaveCheckIn failed", "error", err, "check_in_id", checkIn.ID)
		return fmt.Errorf("failed to save check-in %s: %w", checkIn.ID, err)
	}
	return nil
}

// GetCheckIn retrieves one check-in by id.
func (s *PostgresStore) GetCheckIn(circleID, checkInID string) (*models.CheckIn, error) {
	row := s.db.QueryRow(checkInSelect+` WHERE circle_id = $1 AND id = $2`, circleID, checkInID)
	checkIn, err := scanCheckInRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetCheckIn failed", "error", err, "check_in_id", checkInID)
		return nil, err
	}
	return &checkIn, nil
}

// ListCheckIns returns all check-ins for a circle, oldest first.
func (s *PostgresStore) ListCheckIns(circleID string) ([]models.CheckIn, error) {
	rows, err := s.db.Query(checkInSelect+` WHERE circle_id = $1 ORDER BY created_at ASC`, circleID)
	if err != nil {
		slog.Error("PostgresStore ListCheckIns query failed", "error", err, "circle_id", circleID)
		return nil, fmt.Errorf("failed to query check-ins: %w", err)
	}
	defer rows.Close()

	var checkIns []models.CheckIn
	for rows.Next() {
		checkIn, err := scanCheckIn(rows)
		if err != nil {
			slog.Error("PostgresStore ListCheckIns scan failed", "error", err)
			return nil, err
		}
		checkIns = append(checkIns, checkIn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate check-in rows: %w", err)
	}
	return checkIns, nil
}

// SaveEngineState persists the per-circle engine state.
func (s *PostgresStore) SaveEngineState(state models.EngineState) error {
	triggers, counts, err := encodeEngineState(state)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO engine_states
		(circle_id, last_check_time, today_check_in_count, counter_day, last_rule_triggers, today_rule_counts, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (circle_id) DO UPDATE SET
			last_check_time = EXCLUDED.last_check_time,
			today_check_in_count = EXCLUDED.today_check_in_count,
			counter_day = EXCLUDED.counter_day,
			last_rule_triggers = EXCLUDED.last_rule_triggers,
			today_rule_counts = EXCLUDED.today_rule_counts,
			updated_at = NOW()`,
		state.CircleID, nilIfZeroTime(state.LastCheckTime), state.TodayCheckInCount,
		nilIfEmpty(state.CounterDay), nilIfEmpty(triggers), nilIfEmpty(counts))
	if err != nil {
		slog.Error("PostgresStore SaveEngineState failed", "error", err, "circle_id", state.CircleID)
		return fmt.Errorf("failed to save engine state for %s: %w", state.CircleID, err)
	}
	return nil
}

// GetEngineState retrieves engine state for a circle; nil when absent.
func (s *PostgresStore) GetEngineState(circleID string) (*models.EngineState, error) {
	var (
		state        models.EngineState
		triggersJSON sql.NullString
		countsJSON   sql.NullString
		lastCheck    sql.NullTime
		counterDay   sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT circle_id, last_check_time, today_check_in_count, counter_day, last_rule_triggers, today_rule_counts
		FROM engine_states WHERE circle_id = $1`, circleID).
		Scan(&state.CircleID, &lastCheck, &state.TodayCheckInCount, &counterDay, &triggersJSON, &countsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetEngineState failed", "error", err, "circle_id", circleID)
		return nil, err
	}
	if lastCheck.Valid {
		state.LastCheckTime = lastCheck.Time
	}
	state.CounterDay = counterDay.String
	if err := decodeEngineState(&state, triggersJSON.String, countsJSON.String); err != nil {
		return nil, err
	}
	return &state, nil
}

// SavePreferences persists per-circle proactive preferences.
func (s *PostgresStore) SavePreferences(prefs models.ProactivePreferences) error {
	payload, err := encodePreferences(prefs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO preferences (circle_id, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (circle_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`,
		prefs.CircleID, payload)
	if err != nil {
		slog.Error("PostgresStore SavePreferences failed", "error", err, "circle_id", prefs.CircleID)
		return fmt.Errorf("failed to save preferences for %s: %w", prefs.CircleID, err)
	}
	return nil
}

// GetPreferences retrieves preferences for a circle, defaulting when absent.
func (s *PostgresStore) GetPreferences(circleID string) (models.ProactivePreferences, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM preferences WHERE circle_id = $1`, circleID).Scan(&payload)
	if err == sql.ErrNoRows {
		return models.DefaultPreferences(circleID), nil
	}
	if err != nil {
		slog.Error("PostgresStore GetPreferences failed", "error", err, "circle_id", circleID)
		return models.ProactivePreferences{}, err
	}
	return decodePreferences(circleID, payload)
}

// LogCaregiverAlert records an emitted caregiver alert for audit.
func (s *PostgresStore) LogCaregiverAlert(alert models.CaregiverAlert) error {
	_, err := s.db.Exec(`
		INSERT INTO caregiver_alerts (id, circle_id, check_in_id, check_in_type, priority, reason, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		alert.ID, alert.CircleID, alert.CheckInID, alert.CheckInType, alert.Priority, alert.Reason, alert.Message, alert.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore LogCaregiverAlert failed", "error", err, "alert_id", alert.ID)
		return fmt.Errorf("failed to log caregiver alert %s: %w", alert.ID, err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL connection pool")
	return s.db.Close()
}
