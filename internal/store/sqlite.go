// Package store provides storage backends for the proactive engine.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Karuna-AI/karuna-proactive/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists engine data in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveCheckIn inserts or updates a check-in for a circle.
func (s *SQLiteStore) SaveCheckIn(circleID string, checkIn models.CheckIn) error {
	row, err := encodeCheckIn(checkIn)
	if err != nil {
		slog.Error("SQLiteStore SaveCheckIn encode failed", "error", err, "check_in_id", checkIn.ID)
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO check_ins
		(id, circle_id, rule_id, type, priority, title, message, suggestion, status,
		 created_at, expires_at, dismissed, dismissed_at, trigger_signals, actions, response)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		checkIn.ID, circleID, checkIn.RuleID, checkIn.Type, checkIn.Priority,
		checkIn.Title, checkIn.Message, nilIfEmpty(checkIn.Suggestion), checkIn.Status,
		checkIn.CreatedAt, nilIfZeroTime(checkIn.ExpiresAt), checkIn.Dismissed, checkIn.DismissedAt,
		row.triggerSignals, row.actions, row.response)
	if err != nil {
		slog.Error("SQLiteStore SaveCheckIn failed", "error", err, "check_in_id", checkIn.ID)
		return fmt.Errorf("failed to save check-in %s: %w", checkIn.ID, err)
	}
	slog.Debug("SQLiteStore SaveCheckIn succeeded", "check_in_id", checkIn.ID, "status", checkIn.Status)
	return nil
}

// GetCheckIn retrieves one check-in by id.
func (s *SQLiteStore) GetCheckIn(circleID, checkInID string) (*models.CheckIn, error) {
	row := s.db.QueryRow(checkInSelect+` WHERE circle_id = ? AND id = ?`, circleID, checkInID)
	checkIn, err := scanCheckInRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetCheckIn failed", "error", err, "check_in_id", checkInID)
		return nil, err
	}
	return &checkIn, nil
}

// ListCheckIns returns all check-ins for a circle, oldest first.
func (s *SQLiteStore) ListCheckIns(circleID string) ([]models.CheckIn, error) {
	rows, err := s.db.Query(checkInSelect+` WHERE circle_id = ? ORDER BY created_at ASC`, circleID)
	if err != nil {
		slog.Error("SQLiteStore ListCheckIns query failed", "error", err, "circle_id", circleID)
		return nil, fmt.Errorf("failed to query check-ins: %w", err)
	}
	defer rows.Close()

	var checkIns []models.CheckIn
	for rows.Next() {
		checkIn, err := scanCheckIn(rows)
		if err != nil {
			slog.Error("SQLiteStore ListCheckIns scan failed", "error", err)
			return nil, err
		}
		checkIns = append(checkIns, checkIn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate check-in rows: %w", err)
	}
	slog.Debug("SQLiteStore ListCheckIns succeeded", "circle_id", circleID, "count", len(checkIns))
	return checkIns, nil
}

// SaveEngineState persists the per-circle engine state.
func (s *SQLiteStore) SaveEngineState(state models.EngineState) error {
	triggers, counts, err := encodeEngineState(state)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO engine_states
		(circle_id, last_check_time, today_check_in_count, counter_day, last_rule_triggers, today_rule_counts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		state.CircleID, state.LastCheckTime, state.TodayCheckInCount, state.CounterDay, triggers, counts)
	if err != nil {
		slog.Error("SQLiteStore SaveEngineState failed", "error", err, "circle_id", state.CircleID)
		return fmt.Errorf("failed to save engine state for %s: %w", state.CircleID, err)
	}
	slog.Debug("SQLiteStore SaveEngineState succeeded", "circle_id", state.CircleID)
	return nil
}

// GetEngineState retrieves engine state for a circle; nil when absent.
func (s *SQLiteStore) GetEngineState(circleID string) (*models.EngineState, error) {
	var (
		state        models.EngineState
		triggersJSON sql.NullString
		countsJSON   sql.NullString
		lastCheck    sql.NullTime
		counterDay   sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT circle_id, last_check_time, today_check_in_count, counter_day, last_rule_triggers, today_rule_counts
		FROM engine_states WHERE circle_id = ?`, circleID).
		Scan(&state.CircleID, &lastCheck, &state.TodayCheckInCount, &counterDay, &triggersJSON, &countsJSON)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetEngineState not found", "circle_id", circleID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetEngineState failed", "error", err, "circle_id", circleID)
		return nil, err
	}
	if lastCheck.Valid {
		state.LastCheckTime = lastCheck.Time
	}
	state.CounterDay = counterDay.String
	if err := decodeEngineState(&state, triggersJSON.String, countsJSON.String); err != nil {
		slog.Error("SQLiteStore GetEngineState decode failed", "error", err, "circle_id", circleID)
		return nil, err
	}
	return &state, nil
}

// SavePreferences persists per-circle proactive preferences.
func (s *SQLiteStore) SavePreferences(prefs models.ProactivePreferences) error {
	payload, err := encodePreferences(prefs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO preferences (circle_id, payload, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)`, prefs.CircleID, payload)
	if err != nil {
		slog.Error("SQLiteStore SavePreferences failed", "error", err, "circle_id", prefs.CircleID)
		return fmt.Errorf("failed to save preferences for %s: %w", prefs.CircleID, err)
	}
	return nil
}

// GetPreferences retrieves preferences for a circle, defaulting when absent.
func (s *SQLiteStore) GetPreferences(circleID string) (models.ProactivePreferences, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM preferences WHERE circle_id = ?`, circleID).Scan(&payload)
	if err == sql.ErrNoRows {
		return models.DefaultPreferences(circleID), nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetPreferences failed", "error", err, "circle_id", circleID)
		return models.ProactivePreferences{}, err
	}
	return decodePreferences(circleID, payload)
}

// LogCaregiverAlert records an emitted caregiver alert for audit.
func (s *SQLiteStore) LogCaregiverAlert(alert models.CaregiverAlert) error {
	_, err := s.db.Exec(`
		INSERT INTO caregiver_alerts (id, circle_id, check_in_id, check_in_type, priority, reason, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.CircleID, alert.CheckInID, alert.CheckInType, alert.Priority, alert.Reason, alert.Message, alert.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore LogCaregiverAlert failed", "error", err, "alert_id", alert.ID)
		return fmt.Errorf("failed to log caregiver alert %s: %w", alert.ID, err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
