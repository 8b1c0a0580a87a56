// Package recovery restores engine state after application restarts.
//
// Ticks are cron-driven, so there are no per-check-in timers to re-arm; the
// work is to reload pending check-ins, rebuild daily counters, and sweep
// anything that expired while the process was down.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Karuna-AI/karuna-proactive/internal/engine"
	"github.com/Karuna-AI/karuna-proactive/internal/models"
	"github.com/Karuna-AI/karuna-proactive/internal/store"
)

// Manager orchestrates startup recovery for engine instances.
type Manager struct {
	store store.Store
}

// NewManager creates a recovery manager backed by the given store.
func NewManager(st store.Store) *Manager {
	return &Manager{store: st}
}

// RecoverEngine restores one circle's engine from persisted state: loads the
// engine state of the last run, reloads history into the queue, rebuilds the
// daily counters when the stored ones belong to a previous day, and sweeps
// check-ins that expired during downtime so stale escalations still fire.
func (m *Manager) RecoverEngine(ctx context.Context, circleID string, eng *engine.Engine) error {
	prefs, err := m.store.GetPreferences(circleID)
	if err != nil {
		return fmt.Errorf("recovery: failed to load preferences for %s: %w", circleID, err)
	}

	checkIns, err := m.store.ListCheckIns(circleID)
	if err != nil {
		return fmt.Errorf("recovery: failed to load check-ins for %s: %w", circleID, err)
	}
	for _, checkIn := range checkIns {
		eng.Queue().Restore(checkIn)
	}
	slog.Info("recovery: check-in history restored", "circle_id", circleID, "count", len(checkIns))

	state, err := m.store.GetEngineState(circleID)
	if err != nil {
		return fmt.Errorf("recovery: failed to load engine state for %s: %w", circleID, err)
	}
	if state == nil {
		state = models.NewEngineState(circleID)
		slog.Debug("recovery: no persisted engine state, starting fresh", "circle_id", circleID)
	}

	now := time.Now()
	today := models.LocalDay(now, prefs.Location())
	if state.CounterDay != today {
		// Counters belong to a previous day; rebuild them from the
		// check-ins actually created today.
		total, perRule := eng.Queue().CountCreatedOn(today, prefs.Location())
		state.ResetDailyCounters(today)
		state.TodayCheckInCount = total
		state.TodayRuleCounts = perRule
		slog.Info("recovery: daily counters rebuilt", "circle_id", circleID,
			"day", today, "today_count", total)
	}
	eng.RestoreState(state)

	// Transition anything that lapsed while the process was down.
	expired := eng.Queue().SweepExpired(ctx, now, prefs.CaregiverAlertThreshold)
	if expired > 0 {
		slog.Info("recovery: swept check-ins expired during downtime",
			"circle_id", circleID, "count", expired)
	}
	return nil
}
