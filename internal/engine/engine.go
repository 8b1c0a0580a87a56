// Package engine runs the per-circle proactive check-in loop: signal snapshot,
// rule evaluation, message composition and queue mutation happen as one
// logical, non-reentrant tick.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Karuna-AI/karuna-proactive/internal/composer"
	"github.com/Karuna-AI/karuna-proactive/internal/models"
	"github.com/Karuna-AI/karuna-proactive/internal/queue"
	"github.com/Karuna-AI/karuna-proactive/internal/rules"
	"github.com/Karuna-AI/karuna-proactive/internal/signals"
)

// Tick timing defaults.
const (
	// DefaultTickInterval is how often the engine evaluates rules.
	DefaultTickInterval = 5 * time.Minute
	// DefaultTickBudget bounds one tick, including composer enhancement calls.
	DefaultTickBudget = 30 * time.Second
)

// PreferencesSource supplies per-circle preferences, loaded at tick start.
type PreferencesSource interface {
	GetPreferences(circleID string) (models.ProactivePreferences, error)
}

// StateSaver persists engine state after each tick. A nil saver keeps state
// memory-only.
type StateSaver interface {
	SaveEngineState(state models.EngineState) error
}

// Opts holds configuration options for an engine instance.
type Opts struct {
	TickInterval time.Duration
	TickBudget   time.Duration
	StateSaver   StateSaver
}

// Option defines a configuration option for an engine instance.
type Option func(*Opts)

// WithTickInterval overrides the evaluation interval.
func WithTickInterval(d time.Duration) Option {
	return func(o *Opts) { o.TickInterval = d }
}

// WithTickBudget overrides the per-tick time budget.
func WithTickBudget(d time.Duration) Option {
	return func(o *Opts) { o.TickBudget = d }
}

// WithStateSaver persists engine state after each tick.
func WithStateSaver(s StateSaver) Option {
	return func(o *Opts) { o.StateSaver = s }
}

// Engine evaluates the rule set for one monitored circle. Circles run
// independent engine instances with no shared mutable state.
type Engine struct {
	circleID  string
	signals   *signals.Store
	rules     *rules.Set
	evaluator *Evaluator
	composer  *composer.Composer
	queue     *queue.Queue
	prefs     PreferencesSource
	saver     StateSaver

	tickInterval time.Duration
	tickBudget   time.Duration

	// tickMu makes ticks non-reentrant: an overlapping tick attempt is
	// skipped rather than queued, preventing duplicate triggers.
	tickMu   sync.Mutex
	stateMu  sync.Mutex
	state    *models.EngineState
	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates an engine for the given circle.
func New(circleID string, sigStore *signals.Store, ruleSet *rules.Set, comp *composer.Composer, q *queue.Queue, prefs PreferencesSource, opts ...Option) *Engine {
	cfg := Opts{
		TickInterval: DefaultTickInterval,
		TickBudget:   DefaultTickBudget,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{
		circleID:     circleID,
		signals:      sigStore,
		rules:        ruleSet,
		evaluator:    NewEvaluator(),
		composer:     comp,
		queue:        q,
		prefs:        prefs,
		saver:        cfg.StateSaver,
		tickInterval: cfg.TickInterval,
		tickBudget:   cfg.TickBudget,
		state:        models.NewEngineState(circleID),
		stopped:      make(chan struct{}),
	}
}

// Queue exposes the engine's check-in queue.
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}

// Signals exposes the engine's signal store.
func (e *Engine) Signals() *signals.Store {
	return e.signals
}

// State returns a copy of the current engine state.
func (e *Engine) State() models.EngineState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state.Clone()
}

// RestoreState replaces the engine state, used by recovery at startup.
func (e *Engine) RestoreState(state *models.EngineState) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if state.LastRuleTriggers == nil {
		state.LastRuleTriggers = make(map[string]time.Time)
	}
	if state.TodayRuleCounts == nil {
		state.TodayRuleCounts = make(map[string]int)
	}
	state.CircleID = e.circleID
	e.state = state
}

// Run ticks on the configured interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.setRunning(true)
	defer e.setRunning(false)
	defer e.stopOnce.Do(func() { close(e.stopped) })

	slog.Info("engine.Run: monitoring started", "circle_id", e.circleID, "interval", e.tickInterval)
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	// Evaluate once immediately so restarts do not wait a full interval.
	e.Tick(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			slog.Info("engine.Run: monitoring stopped", "circle_id", e.circleID)
			return
		case now := <-ticker.C:
			e.Tick(ctx, now)
		}
	}
}

// Done is closed once Run has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.stopped
}

// Tick performs one evaluation cycle. A tick already in progress causes the
// new attempt to be skipped. Returns the check-ins created.
func (e *Engine) Tick(ctx context.Context, now time.Time) []models.CheckIn {
	if !e.tickMu.TryLock() {
		slog.Warn("engine.Tick: previous tick still running, skipping", "circle_id", e.circleID)
		return nil
	}
	defer e.tickMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.tickBudget)
	defer cancel()

	prefs, err := e.loadPreferences()
	if err != nil {
		slog.Error("engine.Tick: failed to load preferences, using defaults",
			"circle_id", e.circleID, "error", err)
		prefs = models.DefaultPreferences(e.circleID)
	}

	// The expiry sweep runs every tick, even when monitoring is disabled,
	// so stale check-ins never remain pending indefinitely.
	e.queue.SweepExpired(ctx, now, prefs.CaregiverAlertThreshold)

	if !prefs.Enabled {
		slog.Debug("engine.Tick: proactive monitoring disabled", "circle_id", e.circleID)
		return nil
	}

	e.stateMu.Lock()
	day := models.LocalDay(now, prefs.Location())
	if e.state.CounterDay != day {
		slog.Info("engine.Tick: resetting daily counters", "circle_id", e.circleID,
			"previous_day", e.state.CounterDay, "day", day)
		e.state.ResetDailyCounters(day)
	}
	e.state.LastCheckTime = now

	snapshot := e.signals.Snapshot()
	triggered := e.evaluator.Evaluate(now, e.rules.Sorted(), snapshot, e.state, prefs, e.queue.PendingByRule())
	// The saver runs outside stateMu, so it must never see the live maps.
	stateCopy := e.state.Clone()
	e.stateMu.Unlock()

	created := make([]models.CheckIn, 0, len(triggered))
	for _, rule := range triggered {
		checkIn := e.compose(ctx, rule, snapshot, now)
		created = append(created, e.queue.Enqueue(checkIn))
	}

	e.saveState(stateCopy)
	slog.Debug("engine.Tick: cycle complete", "circle_id", e.circleID,
		"signals", len(snapshot), "created", len(created))
	return created
}

// compose builds the check-in for a triggered rule. Composition failures are
// impossible by construction: the composer always falls back to the template.
func (e *Engine) compose(ctx context.Context, rule models.ProactiveRule, snapshot map[models.SignalType]models.Signal, now time.Time) models.CheckIn {
	title, message, suggestion := e.composer.Compose(ctx, rule, snapshot)

	triggerSignals := make([]models.SignalType, 0, len(rule.Conditions))
	seen := make(map[models.SignalType]bool)
	for _, cond := range rule.Conditions {
		if !seen[cond.SignalType] {
			seen[cond.SignalType] = true
			triggerSignals = append(triggerSignals, cond.SignalType)
		}
	}

	return models.CheckIn{
		RuleID:         rule.ID,
		Type:           rule.Type,
		Priority:       rule.Priority,
		Title:          title,
		Message:        message,
		Suggestion:     suggestion,
		CreatedAt:      now,
		ExpiresAt:      now.Add(rule.Expiry()),
		TriggerSignals: triggerSignals,
		Actions:        rule.Actions,
		Status:         models.CheckInStatusPending,
	}
}

// ResetDailyCounters forces a counter reset, used by the midnight cron job.
func (e *Engine) ResetDailyCounters(now time.Time) {
	prefs, err := e.loadPreferences()
	if err != nil {
		prefs = models.DefaultPreferences(e.circleID)
	}
	e.stateMu.Lock()
	e.state.ResetDailyCounters(models.LocalDay(now, prefs.Location()))
	stateCopy := e.state.Clone()
	e.stateMu.Unlock()
	e.saveState(stateCopy)
	slog.Info("engine.ResetDailyCounters: counters reset", "circle_id", e.circleID)
}

func (e *Engine) loadPreferences() (models.ProactivePreferences, error) {
	if e.prefs == nil {
		return models.DefaultPreferences(e.circleID), nil
	}
	return e.prefs.GetPreferences(e.circleID)
}

func (e *Engine) setRunning(running bool) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.state.IsRunning = running
}

func (e *Engine) saveState(state models.EngineState) {
	if e.saver == nil {
		return
	}
	if err := e.saver.SaveEngineState(state); err != nil {
		slog.Error("engine: failed to persist state", "circle_id", e.circleID, "error", err)
	}
}
