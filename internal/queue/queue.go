// Package queue owns the lifecycle of check-ins after creation.
//
// States: pending -> responded | dismissed | expired. Terminal states are
// immutable. Check-ins are never deleted; terminal ones stay in history for
// analytics and caregiver review.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Karuna-AI/karuna-proactive/internal/alerting"
	"github.com/Karuna-AI/karuna-proactive/internal/models"
	"github.com/Karuna-AI/karuna-proactive/internal/util"
)

// Persister saves check-in mutations. Implemented by store backends; a nil
// persister keeps the queue memory-only.
type Persister interface {
	SaveCheckIn(circleID string, checkIn models.CheckIn) error
}

// Queue tracks pending check-ins and their history for one circle.
type Queue struct {
	mu        sync.Mutex
	circleID  string
	checkIns  map[string]*models.CheckIn
	order     []string // insertion order, for stable listings
	persister Persister
	notifier  alerting.Notifier
}

// New creates a queue for the given circle. persister and notifier may be nil.
func New(circleID string, persister Persister, notifier alerting.Notifier) *Queue {
	return &Queue{
		circleID:  circleID,
		checkIns:  make(map[string]*models.CheckIn),
		persister: persister,
		notifier:  notifier,
	}
}

// Enqueue adds a freshly composed check-in. An ID is assigned when empty and
// a default expiry applied when the composer left none (24h, 1h for urgent).
func (q *Queue) Enqueue(checkIn models.CheckIn) models.CheckIn {
	q.mu.Lock()
	defer q.mu.Unlock()

	if checkIn.ID == "" {
		checkIn.ID = util.GenerateCheckInID()
	}
	if checkIn.Status == "" {
		checkIn.Status = models.CheckInStatusPending
	}
	if checkIn.ExpiresAt.IsZero() {
		expiry := 24 * time.Hour
		if checkIn.Priority == models.PriorityUrgent {
			expiry = time.Hour
		}
		checkIn.ExpiresAt = checkIn.CreatedAt.Add(expiry)
	}

	q.checkIns[checkIn.ID] = &checkIn
	q.order = append(q.order, checkIn.ID)
	q.persist(checkIn)
	slog.Info("queue.Enqueue: check-in created", "circle_id", q.circleID, "check_in_id", checkIn.ID,
		"type", checkIn.Type, "priority", checkIn.Priority, "rule_id", checkIn.RuleID)
	return checkIn
}

// Restore loads a previously persisted check-in into the queue without
// re-persisting it. Used by recovery after restart.
func (q *Queue) Restore(checkIn models.CheckIn) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.checkIns[checkIn.ID]; exists {
		return
	}
	q.checkIns[checkIn.ID] = &checkIn
	q.order = append(q.order, checkIn.ID)
}

// Respond records the user's action on a pending check-in and removes it from
// the pending set. A negative action on a wellbeing or inactivity check
// escalates to the caregiver circle.
func (q *Queue) Respond(ctx context.Context, checkInID, actionID, followUp string) error {
	q.mu.Lock()
	checkIn, ok := q.checkIns[checkInID]
	if !ok {
		q.mu.Unlock()
		return models.ErrUnknownCheckIn
	}
	if checkIn.Status.IsTerminal() {
		q.mu.Unlock()
		return models.ErrCheckInTerminal
	}
	action, ok := checkIn.Action(actionID)
	if !ok {
		q.mu.Unlock()
		return models.ErrUnknownAction
	}

	checkIn.Response = &models.CheckInResponse{
		ActionID:  actionID,
		Timestamp: time.Now(),
		FollowUp:  followUp,
	}
	checkIn.Status = models.CheckInStatusResponded
	snapshot := *checkIn
	q.mu.Unlock()

	q.persist(snapshot)
	slog.Info("queue.Respond: response recorded", "circle_id", q.circleID,
		"check_in_id", checkInID, "action_id", actionID, "kind", action.Kind)

	if action.Kind == models.ActionKindNegative && isConcernProbe(snapshot.Type) {
		q.escalate(ctx, snapshot, models.AlertReasonNegativeResponse)
	}
	return nil
}

// Dismiss marks a pending check-in dismissed. Dismissing twice is a no-op,
// not an error. Dismissal of a wellbeing or inactivity probe counts as a
// negative outcome and escalates.
func (q *Queue) Dismiss(ctx context.Context, checkInID string) error {
	q.mu.Lock()
	checkIn, ok := q.checkIns[checkInID]
	if !ok {
		q.mu.Unlock()
		return models.ErrUnknownCheckIn
	}
	if checkIn.Status == models.CheckInStatusDismissed {
		q.mu.Unlock()
		slog.Debug("queue.Dismiss: already dismissed", "check_in_id", checkInID)
		return nil
	}
	if checkIn.Status.IsTerminal() {
		q.mu.Unlock()
		return models.ErrCheckInTerminal
	}

	now := time.Now()
	checkIn.Dismissed = true
	checkIn.DismissedAt = &now
	checkIn.Status = models.CheckInStatusDismissed
	snapshot := *checkIn
	q.mu.Unlock()

	q.persist(snapshot)
	slog.Info("queue.Dismiss: check-in dismissed", "circle_id", q.circleID, "check_in_id", checkInID)

	if isConcernProbe(snapshot.Type) {
		q.escalate(ctx, snapshot, models.AlertReasonNegativeResponse)
	}
	return nil
}

// SweepExpired transitions pending check-ins past their expiry to expired.
// Expired check-ins at or above severityThreshold escalate as unanswered. It
// runs at least once per engine tick so nothing stays pending indefinitely.
func (q *Queue) SweepExpired(ctx context.Context, now time.Time, severityThreshold models.Priority) int {
	q.mu.Lock()
	var expired []models.CheckIn
	for _, checkIn := range q.checkIns {
		if checkIn.Status != models.CheckInStatusPending {
			continue
		}
		if !checkIn.ExpiresAt.IsZero() && now.After(checkIn.ExpiresAt) {
			checkIn.Status = models.CheckInStatusExpired
			expired = append(expired, *checkIn)
		}
	}
	q.mu.Unlock()

	for _, checkIn := range expired {
		q.persist(checkIn)
		slog.Info("queue.SweepExpired: check-in expired", "circle_id", q.circleID,
			"check_in_id", checkIn.ID, "type", checkIn.Type)
		if checkIn.Priority.Rank() >= severityThreshold.Rank() {
			q.escalate(ctx, checkIn, models.AlertReasonExpiredUnanswered)
		}
	}
	return len(expired)
}

// Pending returns all pending check-ins in insertion order.
func (q *Queue) Pending() []models.CheckIn {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []models.CheckIn
	for _, id := range q.order {
		if c := q.checkIns[id]; c.Status == models.CheckInStatusPending {
			out = append(out, *c)
		}
	}
	return out
}

// PendingByRule maps rule IDs to whether they have an active check-in. The
// evaluator uses this to enforce one active check-in per rule.
func (q *Queue) PendingByRule() map[string]bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]bool)
	for _, checkIn := range q.checkIns {
		if checkIn.Status == models.CheckInStatusPending {
			out[checkIn.RuleID] = true
		}
	}
	return out
}

// All returns every check-in, pending and terminal, in insertion order.
func (q *Queue) All() []models.CheckIn {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.CheckIn, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *q.checkIns[id])
	}
	return out
}

// Get returns one check-in by id.
func (q *Queue) Get(checkInID string) (models.CheckIn, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	checkIn, ok := q.checkIns[checkInID]
	if !ok {
		return models.CheckIn{}, models.ErrUnknownCheckIn
	}
	return *checkIn, nil
}

// CountCreatedOn returns how many check-ins were created on the given local
// day, total and per rule. Recovery uses it to rebuild daily counters.
func (q *Queue) CountCreatedOn(day string, loc *time.Location) (total int, perRule map[string]int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	perRule = make(map[string]int)
	for _, checkIn := range q.checkIns {
		if models.LocalDay(checkIn.CreatedAt, loc) == day {
			total++
			perRule[checkIn.RuleID]++
		}
	}
	return total, perRule
}

func (q *Queue) persist(checkIn models.CheckIn) {
	if q.persister == nil {
		return
	}
	if err := q.persister.SaveCheckIn(q.circleID, checkIn); err != nil {
		// Persistence failures must not block the check-in lifecycle.
		slog.Error("queue: failed to persist check-in", "circle_id", q.circleID,
			"check_in_id", checkIn.ID, "error", err)
	}
}

// escalate hands a caregiver alert to the notification collaborator.
// Delivery failures are logged; retries belong to the collaborator.
func (q *Queue) escalate(ctx context.Context, checkIn models.CheckIn, reason models.AlertReason) {
	if q.notifier == nil {
		return
	}
	alert := alerting.NewAlert(q.circleID, checkIn, reason)
	if err := q.notifier.NotifyCaregiver(ctx, alert); err != nil {
		slog.Error("queue.escalate: caregiver notification failed", "circle_id", q.circleID,
			"check_in_id", checkIn.ID, "reason", reason, "error", err)
		return
	}
	slog.Info("queue.escalate: caregiver alerted", "circle_id", q.circleID,
		"check_in_id", checkIn.ID, "reason", reason)
}

// isConcernProbe reports whether a check-in type probes for wellbeing or
// inactivity concerns, whose negative outcomes warrant caregiver escalation.
func isConcernProbe(t models.CheckInType) bool {
	return t == models.CheckInTypeWellbeingCheck || t == models.CheckInTypeInactivityCheck
}
