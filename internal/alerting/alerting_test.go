package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Karuna-AI/karuna-proactive/internal/models"
)

func sampleCheckIn() models.CheckIn {
	return models.CheckIn{
		ID:        "ci_test",
		RuleID:    "wellbeing_probe",
		Type:      models.CheckInTypeWellbeingCheck,
		Priority:  models.PriorityHigh,
		Title:     "How are you feeling?",
		CreatedAt: time.Now(),
	}
}

func TestNewAlert(t *testing.T) {
	checkIn := sampleCheckIn()
	alert := NewAlert("circle-1", checkIn, models.AlertReasonNegativeResponse)

	if alert.ID == "" {
		t.Error("alert has no id")
	}
	if alert.CircleID != "circle-1" || alert.CheckInID != checkIn.ID {
		t.Errorf("alert = %+v", alert)
	}
	if alert.CheckInType != checkIn.Type || alert.Priority != checkIn.Priority {
		t.Errorf("alert does not carry check-in type/priority: %+v", alert)
	}
	if !strings.Contains(alert.Message, "concerning response") {
		t.Errorf("negative-response message = %q", alert.Message)
	}

	expired := NewAlert("circle-1", checkIn, models.AlertReasonExpiredUnanswered)
	if !strings.Contains(expired.Message, "unanswered") {
		t.Errorf("expired message = %q", expired.Message)
	}
	if expired.ID == alert.ID {
		t.Error("alert ids must be unique")
	}
}

func TestFanout(t *testing.T) {
	first := NewMockNotifier()
	failing := &MockNotifier{Err: errors.New("line busy")}
	last := NewMockNotifier()
	fanout := Fanout{first, failing, last}

	alert := NewAlert("circle-1", sampleCheckIn(), models.AlertReasonNegativeResponse)
	err := fanout.NotifyCaregiver(context.Background(), alert)
	if err == nil || err.Error() != "line busy" {
		t.Errorf("fanout err = %v, want first failure", err)
	}
	if len(first.Alerts) != 1 || len(last.Alerts) != 1 {
		t.Error("fanout should attempt every notifier despite a failure")
	}
}

// memAlertLog is an in-memory AlertLog.
type memAlertLog struct {
	alerts []models.CaregiverAlert
}

func (m *memAlertLog) LogCaregiverAlert(alert models.CaregiverAlert) error {
	m.alerts = append(m.alerts, alert)
	return nil
}

func TestLogNotifier(t *testing.T) {
	log := &memAlertLog{}
	notifier := &LogNotifier{Log: log}
	alert := NewAlert("circle-1", sampleCheckIn(), models.AlertReasonExpiredUnanswered)
	if err := notifier.NotifyCaregiver(context.Background(), alert); err != nil {
		t.Fatal(err)
	}
	if len(log.alerts) != 1 || log.alerts[0].ID != alert.ID {
		t.Errorf("alert not logged: %+v", log.alerts)
	}
}

func TestNewTwilioNotifierValidation(t *testing.T) {
	// Clear any ambient credentials so validation is deterministic.
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewTwilioNotifier(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewTwilioNotifier(
		WithAccountSID("AC123"), WithAuthToken("token"),
	); err == nil {
		t.Error("expected error without from number")
	}
	if _, err := NewTwilioNotifier(
		WithAccountSID("AC123"), WithAuthToken("token"), WithFromNumber("+15550100"),
	); err == nil {
		t.Error("expected error without caregiver numbers")
	}

	notifier, err := NewTwilioNotifier(
		WithAccountSID("AC123"), WithAuthToken("token"), WithFromNumber("+15550100"),
		WithCaregivers([]string{"+15550101"}),
	)
	if err != nil {
		t.Fatalf("fully configured notifier failed: %v", err)
	}
	if notifier == nil {
		t.Fatal("notifier is nil")
	}
}
