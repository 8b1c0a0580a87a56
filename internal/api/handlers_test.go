package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Karuna-AI/karuna-proactive/internal/composer"
	"github.com/Karuna-AI/karuna-proactive/internal/engine"
	"github.com/Karuna-AI/karuna-proactive/internal/models"
	"github.com/Karuna-AI/karuna-proactive/internal/queue"
	"github.com/Karuna-AI/karuna-proactive/internal/rules"
	"github.com/Karuna-AI/karuna-proactive/internal/signals"
	"github.com/Karuna-AI/karuna-proactive/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	ruleSet := rules.NewSet([]models.ProactiveRule{{
		ID:       "medication_due",
		Name:     "Medication reminder",
		Type:     models.CheckInTypeMedicationReminder,
		Priority: models.PriorityHigh,
		Enabled:  true,
		Conditions: []models.RuleCondition{
			{SignalType: models.SignalTypeMedication, Field: "pendingDoses", Operator: models.OperatorGT, Value: 0},
		},
		CooldownMinutes: 60,
		MaxPerDay:       5,
		MessageTemplate: "You have {medication.pendingDoses} doses waiting.",
		Actions: []models.CheckInAction{
			{ID: "done", Label: "Taken", Kind: models.ActionKindPositive},
		},
	}})
	// No quiet hours, so ticks behave the same regardless of wall-clock time.
	prefs := models.DefaultPreferences(DefaultCircleID)
	prefs.QuietHours = nil
	if err := st.SavePreferences(prefs); err != nil {
		t.Fatal(err)
	}
	registry := engine.NewRegistry(func(circleID string) *engine.Engine {
		q := queue.New(circleID, st, nil)
		return engine.New(circleID, signals.NewStore(), ruleSet, composer.New(), q, st,
			engine.WithStateSaver(st))
	})
	return NewServer(registry, st), st
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func postSignal(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/signals", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.signalsHandler(rec, req)
	return rec
}

func TestSignalsHandler(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := postSignal(t, srv, `{"type":"medication","value":{"pendingDoses":2}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if resp := decodeResponse(t, rec); resp.Status != string(models.APIStatusRecorded) {
		t.Errorf("response status = %q", resp.Status)
	}

	// The signal (with a defaulted timestamp) is visible on the engine store.
	eng, ok := srv.registry.Get(DefaultCircleID)
	if !ok {
		t.Fatal("engine not created for default circle")
	}
	sig, ok := eng.Signals().Get(models.SignalTypeMedication)
	if !ok {
		t.Fatal("signal not stored")
	}
	if sig.Timestamp.IsZero() {
		t.Error("missing timestamp was not defaulted")
	}

	// Invalid payloads.
	if rec := postSignal(t, srv, `{bad json`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON status = %d", rec.Code)
	}
	if rec := postSignal(t, srv, `{"type":"heartbeat"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown signal type status = %d", rec.Code)
	}

	// Wrong method.
	req := httptest.NewRequest(http.MethodGet, "/signals", nil)
	rec = httptest.NewRecorder()
	srv.signalsHandler(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /signals status = %d", rec.Code)
	}
}

func TestTickAndCheckInLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	// Ingest a triggering signal, then force a tick.
	postSignal(t, srv, `{"type":"medication","value":{"pendingDoses":2}}`)
	req := httptest.NewRequest(http.MethodPost, "/engine/tick", nil)
	rec := httptest.NewRecorder()
	srv.tickHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("tick status = %d", rec.Code)
	}

	// One pending check-in should exist now.
	req = httptest.NewRequest(http.MethodGet, "/checkins/pending", nil)
	rec = httptest.NewRecorder()
	srv.pendingCheckInsHandler(rec, req)
	var listResp struct {
		Status string           `json:"status"`
		Result []models.CheckIn `json:"result"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listResp); err != nil {
		t.Fatal(err)
	}
	if len(listResp.Result) != 1 {
		t.Fatalf("pending = %d, want 1", len(listResp.Result))
	}
	checkInID := listResp.Result[0].ID

	// Fetch it by id.
	req = httptest.NewRequest(http.MethodGet, "/checkins/"+checkInID, nil)
	rec = httptest.NewRecorder()
	srv.checkInItemHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("get check-in status = %d", rec.Code)
	}

	// Respond with a valid action.
	body, _ := json.Marshal(map[string]string{"action_id": "done"})
	req = httptest.NewRequest(http.MethodPost, "/checkins/"+checkInID+"/respond", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	srv.checkInItemHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("respond status = %d, body %s", rec.Code, rec.Body.String())
	}

	// A second response conflicts.
	req = httptest.NewRequest(http.MethodPost, "/checkins/"+checkInID+"/respond", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	srv.checkInItemHandler(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("second respond status = %d, want 409", rec.Code)
	}

	// Dismissing a responded check-in also conflicts.
	req = httptest.NewRequest(http.MethodPost, "/checkins/"+checkInID+"/dismiss", nil)
	rec = httptest.NewRecorder()
	srv.checkInItemHandler(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("dismiss after respond status = %d, want 409", rec.Code)
	}
}

func TestRespondHandlerErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"action_id": "done"})
	req := httptest.NewRequest(http.MethodPost, "/checkins/ci_missing/respond", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.checkInItemHandler(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown check-in status = %d, want 404", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/checkins/ci_missing/respond", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	srv.checkInItemHandler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing action_id status = %d, want 400", rec.Code)
	}

	// Unknown action on an existing check-in.
	eng := srv.registry.GetOrCreate(DefaultCircleID)
	checkIn := eng.Queue().Enqueue(models.CheckIn{
		RuleID:    "medication_due",
		Type:      models.CheckInTypeMedicationReminder,
		Priority:  models.PriorityHigh,
		CreatedAt: time.Now(),
		Actions:   []models.CheckInAction{{ID: "done", Label: "Taken"}},
	})
	body, _ = json.Marshal(map[string]string{"action_id": "snooze"})
	req = httptest.NewRequest(http.MethodPost, "/checkins/"+checkIn.ID+"/respond", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	srv.checkInItemHandler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown action status = %d, want 400", rec.Code)
	}
}

func TestDismissHandler(t *testing.T) {
	srv, _ := newTestServer(t)
	eng := srv.registry.GetOrCreate(DefaultCircleID)
	checkIn := eng.Queue().Enqueue(models.CheckIn{
		RuleID:    "morning_greeting",
		Type:      models.CheckInTypeMorningGreeting,
		Priority:  models.PriorityLow,
		CreatedAt: time.Now(),
	})

	req := httptest.NewRequest(http.MethodPost, "/checkins/"+checkIn.ID+"/dismiss", nil)
	rec := httptest.NewRecorder()
	srv.checkInItemHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("dismiss status = %d", rec.Code)
	}

	// Dismiss is idempotent at the queue level, so a repeat also succeeds.
	req = httptest.NewRequest(http.MethodPost, "/checkins/"+checkIn.ID+"/dismiss", nil)
	rec = httptest.NewRecorder()
	srv.checkInItemHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("repeat dismiss status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/checkins/ci_missing/dismiss", nil)
	rec = httptest.NewRecorder()
	srv.checkInItemHandler(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown check-in dismiss status = %d, want 404", rec.Code)
	}
}

func TestPreferencesHandler(t *testing.T) {
	srv, st := newTestServer(t)

	// GET without stored preferences returns defaults.
	req := httptest.NewRequest(http.MethodGet, "/preferences", nil)
	req.Header.Set("X-Circle-ID", "circle-7")
	rec := httptest.NewRecorder()
	srv.preferencesHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var getResp struct {
		Result models.ProactivePreferences `json:"result"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&getResp); err != nil {
		t.Fatal(err)
	}
	if !getResp.Result.Enabled || getResp.Result.CircleID != "circle-7" {
		t.Errorf("default prefs = %+v", getResp.Result)
	}

	// PUT pins the circle id from the header, not the payload.
	payload, _ := json.Marshal(models.ProactivePreferences{
		CircleID:        "spoofed",
		Enabled:         true,
		MaxNudgesPerDay: 2,
		Timezone:        "UTC",
	})
	req = httptest.NewRequest(http.MethodPut, "/preferences", bytes.NewReader(payload))
	req.Header.Set("X-Circle-ID", "circle-7")
	rec = httptest.NewRecorder()
	srv.preferencesHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d", rec.Code)
	}
	saved, err := st.GetPreferences("circle-7")
	if err != nil {
		t.Fatal(err)
	}
	if saved.CircleID != "circle-7" || saved.MaxNudgesPerDay != 2 {
		t.Errorf("saved prefs = %+v", saved)
	}
}

func TestStatsHandler(t *testing.T) {
	srv, _ := newTestServer(t)
	eng := srv.registry.GetOrCreate(DefaultCircleID)
	eng.Queue().Enqueue(models.CheckIn{
		RuleID: "morning_greeting", Type: models.CheckInTypeMorningGreeting,
		Priority: models.PriorityLow, CreatedAt: time.Now(),
	})
	eng.Queue().Enqueue(models.CheckIn{
		RuleID: "medication_due", Type: models.CheckInTypeMedicationReminder,
		Priority: models.PriorityHigh, CreatedAt: time.Now(),
	})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	srv.statsHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var resp struct {
		Result statsResult `json:"result"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Result.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Result.Total)
	}
	if resp.Result.ByStatus[models.CheckInStatusPending] != 2 {
		t.Errorf("by_status = %v", resp.Result.ByStatus)
	}
	if resp.Result.ByType[models.CheckInTypeMedicationReminder] != 1 {
		t.Errorf("by_type = %v", resp.Result.ByType)
	}
}

func TestHealthHandler(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.healthHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}

func TestCircleIDResolution(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/checkins", nil)
	if got := srv.circleID(req); got != DefaultCircleID {
		t.Errorf("circleID without header = %q", got)
	}
	req.Header.Set("X-Circle-ID", "circle-42")
	if got := srv.circleID(req); got != "circle-42" {
		t.Errorf("circleID with header = %q", got)
	}
}
