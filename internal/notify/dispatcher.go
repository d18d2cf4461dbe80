package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"jobflow/internal/events"
	"jobflow/internal/models"
	"jobflow/internal/store"
	"jobflow/internal/telemetry"
)

// Dispatcher turns workflow events into persisted notifications and
// republishes each one as a NOTIFICATION event for realtime delivery.
type Dispatcher struct {
	store  store.NotificationStore
	events events.Publisher
	logger *slog.Logger
}

var _ events.Subscriber = (*Dispatcher)(nil)

func NewDispatcher(s store.NotificationStore, pub events.Publisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{store: s, events: pub, logger: logger}
}

// Handle builds, stores and forwards the notification for e, if any. A
// storage failure is returned after the notification is still forwarded.
func (d *Dispatcher) Handle(ctx context.Context, e events.Event) error {
	if e.Type == events.Notification {
		return nil
	}
	n, ok := Build(e)
	if !ok {
		return nil
	}

	var storeErr error
	if err := d.store.CreateNotification(ctx, n); err != nil {
		storeErr = models.Persistence("create_notification", err)
	} else {
		telemetry.NotificationsCreated.WithLabelValues(string(n.Priority)).Inc()
	}
	d.logger.Debug("notification dispatched",
		"notification_id", n.ID, "type", n.Type, "priority", n.Priority, "job_ref", e.JobRef)

	d.events.Publish(ctx, events.Event{
		Type:    events.Notification,
		Domain:  events.DomainNotification,
		JobRef:  e.JobRef,
		Actor:   n.CreatedBy,
		Origin:  e.Origin,
		Payload: Payload(n),
	})
	return storeErr
}

// Payload renders a notification as an event payload.
func Payload(n models.Notification) map[string]any {
	p := map[string]any{
		"notificationId": n.ID,
		"type":           n.Type,
		"title":          n.Title,
		"message":        n.Message,
		"priority":       n.Priority,
		"recipients":     n.Recipients,
		"createdBy":      n.CreatedBy,
		"createdAt":      n.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if n.JobRef != nil {
		p["jobRef"] = *n.JobRef
	}
	return p
}

// JobOverdue raises an overdue alert for a job.
func (d *Dispatcher) JobOverdue(ctx context.Context, jobRef string, dueDate time.Time, actor string, recipients ...string) {
	d.raise(ctx, events.JobOverdue, jobRef, actor, recipients, map[string]any{
		"dueDate": dueDate.UTC().Format(time.RFC3339),
	})
}

// DeadlineRisk raises a deadline warning; priority depends on days remaining.
func (d *Dispatcher) DeadlineRisk(ctx context.Context, jobRef string, dueDate time.Time, daysRemaining int, actor string, recipients ...string) {
	d.raise(ctx, events.DeadlineRisk, jobRef, actor, recipients, map[string]any{
		"dueDate":       dueDate.UTC().Format(time.RFC3339),
		"daysRemaining": daysRemaining,
	})
}

func (d *Dispatcher) MaterialShortage(ctx context.Context, jobRef, materialRef, requested, approved, unit, actor string, recipients ...string) {
	d.raise(ctx, events.MaterialShortage, jobRef, actor, recipients, map[string]any{
		"materialRef":       materialRef,
		"quantityRequested": requested,
		"quantityApproved":  approved,
		"unit":              unit,
		"shortage":          shortage(requested, approved),
	})
}

func (d *Dispatcher) QualityIssue(ctx context.Context, jobRef, issue, actor string, recipients ...string) {
	d.raise(ctx, events.QualityIssue, jobRef, actor, recipients, map[string]any{"issue": issue})
}

// EquipmentDown is system-wide unless a job is named.
func (d *Dispatcher) EquipmentDown(ctx context.Context, jobRef, equipment, details, actor string, recipients ...string) {
	d.raise(ctx, events.EquipmentDown, jobRef, actor, recipients, map[string]any{
		"equipment": equipment,
		"details":   details,
	})
}

// List returns notifications newest first.
func (d *Dispatcher) List(ctx context.Context, f store.NotificationFilter) ([]models.Notification, error) {
	out, err := d.store.ListNotifications(ctx, f)
	if err != nil {
		return nil, models.Persistence("list_notifications", err)
	}
	if out == nil {
		out = []models.Notification{}
	}
	return out, nil
}

func (d *Dispatcher) MarkRead(ctx context.Context, id string) error {
	if err := d.store.MarkNotificationRead(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.NotFound("mark_notification_read", "notification "+id+" not found")
		}
		return models.Persistence("mark_notification_read", err)
	}
	return nil
}

func (d *Dispatcher) raise(ctx context.Context, t events.Type, jobRef, actor string, recipients []string, payload map[string]any) {
	if len(recipients) > 0 {
		payload["recipients"] = recipients
	}
	d.events.Publish(ctx, events.Event{
		Type:    t,
		Domain:  events.DomainAlert,
		JobRef:  jobRef,
		Actor:   actor,
		Payload: payload,
	})
}

func shortage(requested, approved string) string {
	r, err := decimal.NewFromString(requested)
	if err != nil {
		return ""
	}
	a, err := decimal.NewFromString(approved)
	if err != nil {
		return ""
	}
	return r.Sub(a).String()
}
