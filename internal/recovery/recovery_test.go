package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/Karuna-AI/karuna-proactive/internal/alerting"
	"github.com/Karuna-AI/karuna-proactive/internal/composer"
	"github.com/Karuna-AI/karuna-proactive/internal/engine"
	"github.com/Karuna-AI/karuna-proactive/internal/models"
	"github.com/Karuna-AI/karuna-proactive/internal/queue"
	"github.com/Karuna-AI/karuna-proactive/internal/rules"
	"github.com/Karuna-AI/karuna-proactive/internal/signals"
	"github.com/Karuna-AI/karuna-proactive/internal/store"
)

func newEngine(st *store.InMemoryStore, notifier alerting.Notifier) *engine.Engine {
	q := queue.New("circle-1", st, notifier)
	return engine.New("circle-1", signals.NewStore(), rules.NewSet(nil), composer.New(), q, st,
		engine.WithStateSaver(st))
}

func TestRecoverEngineRestoresPendingAndSweeps(t *testing.T) {
	st := store.NewInMemoryStore()
	notifier := alerting.NewMockNotifier()
	now := time.Now()

	// State as a previous run left it: one still-pending check-in, one that
	// expired while the process was down, one already responded.
	pending := models.CheckIn{
		ID: "ci_pending", RuleID: "wellbeing_probe", Type: models.CheckInTypeWellbeingCheck,
		Priority: models.PriorityMedium, CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(11 * time.Hour), Status: models.CheckInStatusPending,
	}
	lapsed := models.CheckIn{
		ID: "ci_lapsed", RuleID: "medication_due", Type: models.CheckInTypeMedicationReminder,
		Priority: models.PriorityHigh, CreatedAt: now.Add(-30 * time.Hour),
		ExpiresAt: now.Add(-6 * time.Hour), Status: models.CheckInStatusPending,
	}
	done := models.CheckIn{
		ID: "ci_done", RuleID: "morning_greeting", Type: models.CheckInTypeMorningGreeting,
		Priority: models.PriorityLow, CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(22 * time.Hour), Status: models.CheckInStatusResponded,
	}
	for _, checkIn := range []models.CheckIn{pending, lapsed, done} {
		if err := st.SaveCheckIn("circle-1", checkIn); err != nil {
			t.Fatal(err)
		}
	}

	eng := newEngine(st, notifier)
	if err := NewManager(st).RecoverEngine(context.Background(), "circle-1", eng); err != nil {
		t.Fatalf("RecoverEngine failed: %v", err)
	}

	if all := eng.Queue().All(); len(all) != 3 {
		t.Fatalf("restored %d check-ins, want 3", len(all))
	}
	got, err := eng.Queue().Get("ci_pending")
	if err != nil || got.Status != models.CheckInStatusPending {
		t.Errorf("pending check-in = %+v, err %v", got, err)
	}
	got, _ = eng.Queue().Get("ci_lapsed")
	if got.Status != models.CheckInStatusExpired {
		t.Errorf("lapsed check-in status = %s, want expired", got.Status)
	}
	got, _ = eng.Queue().Get("ci_done")
	if got.Status != models.CheckInStatusResponded {
		t.Errorf("responded check-in status changed: %s", got.Status)
	}

	// The downtime expiry of a high-priority check-in still escalates.
	if len(notifier.Alerts) != 1 {
		t.Errorf("alerts = %d, want 1", len(notifier.Alerts))
	}
}

func TestRecoverEngineKeepsSameDayState(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Now()
	prefs := models.DefaultPreferences("circle-1")
	prefs.Timezone = "UTC"
	if err := st.SavePreferences(prefs); err != nil {
		t.Fatal(err)
	}

	state := models.NewEngineState("circle-1")
	state.CounterDay = models.LocalDay(now, time.UTC)
	state.TodayCheckInCount = 3
	state.TodayRuleCounts["medication_due"] = 3
	state.LastRuleTriggers["medication_due"] = now.Add(-10 * time.Minute)
	if err := st.SaveEngineState(*state); err != nil {
		t.Fatal(err)
	}

	eng := newEngine(st, nil)
	if err := NewManager(st).RecoverEngine(context.Background(), "circle-1", eng); err != nil {
		t.Fatal(err)
	}

	got := eng.State()
	if got.TodayCheckInCount != 3 || got.TodayRuleCounts["medication_due"] != 3 {
		t.Errorf("same-day counters changed: %+v", got)
	}
	if got.LastRuleTriggers["medication_due"].IsZero() {
		t.Error("rule trigger times lost during recovery")
	}
}

func TestRecoverEngineRebuildsStaleCounters(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Now()
	prefs := models.DefaultPreferences("circle-1")
	prefs.Timezone = "UTC"
	if err := st.SavePreferences(prefs); err != nil {
		t.Fatal(err)
	}

	// Stored counters belong to a previous day.
	state := models.NewEngineState("circle-1")
	state.CounterDay = "2020-01-01"
	state.TodayCheckInCount = 5
	state.TodayRuleCounts["medication_due"] = 5
	if err := st.SaveEngineState(*state); err != nil {
		t.Fatal(err)
	}

	// Two check-ins were actually created today (well before any expiry).
	for _, id := range []string{"ci_a", "ci_b"} {
		if err := st.SaveCheckIn("circle-1", models.CheckIn{
			ID: id, RuleID: "medication_due", Type: models.CheckInTypeMedicationReminder,
			Priority: models.PriorityHigh, CreatedAt: now,
			ExpiresAt: now.Add(24 * time.Hour), Status: models.CheckInStatusPending,
		}); err != nil {
			t.Fatal(err)
		}
	}

	eng := newEngine(st, nil)
	if err := NewManager(st).RecoverEngine(context.Background(), "circle-1", eng); err != nil {
		t.Fatal(err)
	}

	got := eng.State()
	if got.CounterDay != models.LocalDay(now, time.UTC) {
		t.Errorf("counter day = %q", got.CounterDay)
	}
	if got.TodayCheckInCount != 2 || got.TodayRuleCounts["medication_due"] != 2 {
		t.Errorf("rebuilt counters = %d/%v, want 2/2",
			got.TodayCheckInCount, got.TodayRuleCounts)
	}
}

func TestRecoverEngineFreshCircle(t *testing.T) {
	st := store.NewInMemoryStore()
	eng := newEngine(st, nil)
	if err := NewManager(st).RecoverEngine(context.Background(), "circle-1", eng); err != nil {
		t.Fatalf("fresh recovery failed: %v", err)
	}
	got := eng.State()
	if got.TodayCheckInCount != 0 || len(eng.Queue().All()) != 0 {
		t.Errorf("fresh circle state not empty: %+v", got)
	}
}
