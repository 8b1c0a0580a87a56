// Package store provides storage backends for the proactive engine.
//
// It persists check-ins, engine state, preferences and caregiver alerts at
// defined load/save points. Backends: in-memory (tests and DSN-less runs),
// SQLite and PostgreSQL.
package store

import (
	"strings"
	"sync"

	"github.com/Karuna-AI/karuna-proactive/internal/models"
)

// Store is the persistence surface used by the engine, queue and API.
type Store interface {
	// SaveCheckIn inserts or updates a check-in for a circle.
	SaveCheckIn(circleID string, checkIn models.CheckIn) error

	// GetCheckIn retrieves one check-in by id.
	GetCheckIn(circleID, checkInID string) (*models.CheckIn, error)

	// ListCheckIns returns all check-ins for a circle, oldest first.
	ListCheckIns(circleID string) ([]models.CheckIn, error)

	// SaveEngineState persists the per-circle engine state.
	SaveEngineState(state models.EngineState) error

	// GetEngineState retrieves engine state for a circle; nil when absent.
	GetEngineState(circleID string) (*models.EngineState, error)

	// SavePreferences persists per-circle proactive preferences.
	SavePreferences(prefs models.ProactivePreferences) error

	// GetPreferences retrieves preferences for a circle, falling back to
	// defaults when none are stored.
	GetPreferences(circleID string) (models.ProactivePreferences, error)

	// LogCaregiverAlert records an emitted caregiver alert for audit.
	LogCaregiverAlert(alert models.CaregiverAlert) error

	// Close releases backend resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN configures a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite3". File paths are
// assumed to be SQLite databases.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// InMemoryStore keeps everything in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	checkIns map[string][]models.CheckIn // circleID -> insertion order
	states   map[string]models.EngineState
	prefs    map[string]models.ProactivePreferences
	alerts   []models.CaregiverAlert
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		checkIns: make(map[string][]models.CheckIn),
		states:   make(map[string]models.EngineState),
		prefs:    make(map[string]models.ProactivePreferences),
	}
}

// SaveCheckIn inserts or updates a check-in for a circle.
func (s *InMemoryStore) SaveCheckIn(circleID string, checkIn models.CheckIn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.checkIns[circleID]
	for i, existing := range list {
		if existing.ID == checkIn.ID {
			list[i] = checkIn
			return nil
		}
	}
	s.checkIns[circleID] = append(list, checkIn)
	return nil
}

// GetCheckIn retrieves one check-in by id.
func (s *InMemoryStore) GetCheckIn(circleID, checkInID string) (*models.CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, checkIn := range s.checkIns[circleID] {
		if checkIn.ID == checkInID {
			copied := checkIn
			return &copied, nil
		}
	}
	return nil, nil
}

// ListCheckIns returns all check-ins for a circle, oldest first.
func (s *InMemoryStore) ListCheckIns(circleID string) ([]models.CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CheckIn, len(s.checkIns[circleID]))
	copy(out, s.checkIns[circleID])
	return out, nil
}

// SaveEngineState persists the per-circle engine state.
func (s *InMemoryStore) SaveEngineState(state models.EngineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.CircleID] = state
	return nil
}

// GetEngineState retrieves engine state for a circle; nil when absent.
func (s *InMemoryStore) GetEngineState(circleID string) (*models.EngineState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[circleID]
	if !ok {
		return nil, nil
	}
	copied := state
	return &copied, nil
}

// SavePreferences persists per-circle proactive preferences.
func (s *InMemoryStore) SavePreferences(prefs models.ProactivePreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[prefs.CircleID] = prefs
	return nil
}

// GetPreferences retrieves preferences for a circle, defaulting when absent.
func (s *InMemoryStore) GetPreferences(circleID string) (models.ProactivePreferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefs, ok := s.prefs[circleID]
	if !ok {
		return models.DefaultPreferences(circleID), nil
	}
	return prefs, nil
}

// LogCaregiverAlert records an emitted caregiver alert for audit.
func (s *InMemoryStore) LogCaregiverAlert(alert models.CaregiverAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

// GetCaregiverAlerts returns all logged alerts (for tests).
func (s *InMemoryStore) GetCaregiverAlerts() []models.CaregiverAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CaregiverAlert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
