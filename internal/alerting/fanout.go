package alerting

import (
	"context"
	"log/slog"

	"github.com/Karuna-AI/karuna-proactive/internal/models"
)

// Fanout delivers an alert to every notifier in order. All notifiers are
// attempted; the first error encountered is returned.
type Fanout []Notifier

// NotifyCaregiver implements Notifier.
func (f Fanout) NotifyCaregiver(ctx context.Context, alert models.CaregiverAlert) error {
	var firstErr error
	for _, n := range f {
		if err := n.NotifyCaregiver(ctx, alert); err != nil {
			slog.Error("alerting.Fanout: notifier failed", "alert_id", alert.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// AlertLog records caregiver alerts for audit. Implemented by store backends.
type AlertLog interface {
	LogCaregiverAlert(alert models.CaregiverAlert) error
}

// LogNotifier writes alerts to an audit log instead of delivering them.
// Combined with a delivery notifier via Fanout.
type LogNotifier struct {
	Log AlertLog
}

// NotifyCaregiver implements Notifier.
func (l *LogNotifier) NotifyCaregiver(ctx context.Context, alert models.CaregiverAlert) error {
	return l.Log.LogCaregiverAlert(alert)
}
