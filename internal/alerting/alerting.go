// Package alerting delivers caregiver alerts for the proactive engine.
//
// The engine only decides when to escalate; delivery guarantees and retries
// are owned by the notification collaborator behind the Notifier interface.
package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Karuna-AI/karuna-proactive/internal/models"
)

// Notifier receives caregiver alerts emitted by check-in escalation.
type Notifier interface {
	NotifyCaregiver(ctx context.Context, alert models.CaregiverAlert) error
}

// NewAlert builds a caregiver alert for an escalated check-in.
func NewAlert(circleID string, checkIn models.CheckIn, reason models.AlertReason) models.CaregiverAlert {
	return models.CaregiverAlert{
		ID:          uuid.NewString(),
		CircleID:    circleID,
		CheckInID:   checkIn.ID,
		CheckInType: checkIn.Type,
		Priority:    checkIn.Priority,
		Reason:      reason,
		Message:     alertMessage(checkIn, reason),
		CreatedAt:   time.Now(),
	}
}

func alertMessage(checkIn models.CheckIn, reason models.AlertReason) string {
	switch reason {
	case models.AlertReasonNegativeResponse:
		return fmt.Sprintf("Karuna alert: a %s check-in (%q) got a concerning response. Please reach out.", checkIn.Type, checkIn.Title)
	case models.AlertReasonExpiredUnanswered:
		return fmt.Sprintf("Karuna alert: a %s check-in (%q) went unanswered until it expired. Please check in.", checkIn.Type, checkIn.Title)
	default:
		return fmt.Sprintf("Karuna alert: check-in %s needs attention.", checkIn.ID)
	}
}

// MockNotifier records alerts for tests.
type MockNotifier struct {
	Alerts []models.CaregiverAlert
	Err    error
}

// NewMockNotifier creates an empty mock notifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// NotifyCaregiver records the alert, returning the configured error if any.
func (m *MockNotifier) NotifyCaregiver(ctx context.Context, alert models.CaregiverAlert) error {
	if m.Err != nil {
		return m.Err
	}
	m.Alerts = append(m.Alerts, alert)
	return nil
}
