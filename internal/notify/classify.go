package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobflow/internal/events"
	"jobflow/internal/models"
)

// Classify maps a status value to a notification priority.
func Classify(status string) models.NotificationPriority {
	s := strings.ToUpper(status)
	switch {
	case s == string(models.StatusCancelled), s == string(models.StatusOnHold):
		return models.NotifyCritical
	case s == string(models.StatusCompleted), strings.Contains(s, "DELAYED"):
		return models.NotifyHigh
	}
	return models.NotifyMedium
}

// DeadlinePriority is CRITICAL when at most one day remains.
func DeadlinePriority(daysRemaining int) models.NotificationPriority {
	if daysRemaining <= 1 {
		return models.NotifyCritical
	}
	return models.NotifyHigh
}

// Build turns an event into at most one notification.
func Build(e events.Event) (models.Notification, bool) {
	status := str(e.Payload, "status")
	job := e.JobRef
	if job == "" {
		job = "system"
	}

	var (
		title, message string
		priority       models.NotificationPriority
		kind           = string(e.Type)
	)
	switch e.Type {
	case events.JobCreated:
		title = "New job created"
		message = fmt.Sprintf("Job %s was created", job)
		priority = Classify(status)
	case events.StatusChanged:
		title = "Job status changed"
		message = fmt.Sprintf("Job %s moved to %s", job, status)
		priority = Classify(status)
	case events.JobCompleted:
		title = "Job completed"
		message = fmt.Sprintf("Job %s has been completed", job)
		priority = Classify(status)
	case events.JobOnHold:
		title = "Job on hold"
		message = withReason(fmt.Sprintf("Job %s was put on hold", job), str(e.Payload, "reason"))
		priority = Classify(status)
	case events.JobResumed:
		title = "Job resumed"
		message = fmt.Sprintf("Job %s resumed at %s", job, status)
		priority = Classify(status)
	case events.JobCancelled:
		title = "Job cancelled"
		message = withReason(fmt.Sprintf("Job %s was cancelled", job), str(e.Payload, "reason"))
		priority = Classify(status)

	case events.PrepressUpdate, events.InventoryUpdate, events.ProductionUpdate, events.QAUpdate, events.DispatchUpdate,
		events.InventoryStatusUpdated:
		dept := models.Department(str(e.Payload, "department")).DisplayName()
		switch {
		case strings.Contains(strings.ToUpper(status), "DELAYED"):
			title = dept + " delayed"
			message = withReason(fmt.Sprintf("%s for job %s is delayed", dept, job), str(e.Payload, "notes"))
			priority = Classify(status)
		case e.Type == events.QAUpdate && (status == string(models.QAFailed) || status == string(models.QARework)):
			kind = string(events.QualityIssue)
			title = "Quality issue"
			message = withReason(fmt.Sprintf("QA marked job %s as %s", job, status), str(e.Payload, "notes"))
			priority = models.NotifyHigh
		default:
			return models.Notification{}, false
		}

	case events.PrepressDesignerAssigned:
		title = "Prepress job assigned"
		message = fmt.Sprintf("Job %s assigned to designer %s", job, str(e.Payload, "designerId"))
		priority = Classify(status)
	case events.PrepressHODReview:
		title = "Prepress ready for review"
		message = fmt.Sprintf("Design and die/plate are complete for job %s and await HOD review", job)
		priority = Classify(status)
	case events.PrepressStatusUpdated:
		switch models.PrepressStatus(status) {
		case models.PrepressRejected:
			title = "Prepress rejected"
			message = withReason(fmt.Sprintf("HOD rejected prepress for job %s", job), str(e.Payload, "notes"))
		case models.PrepressCompleted:
			title = "Prepress approved"
			message = fmt.Sprintf("HOD approved prepress for job %s", job)
		default:
			return models.Notification{}, false
		}
		priority = Classify(status)

	case events.MaterialShortage:
		title = "Material shortage"
		message = fmt.Sprintf("Only %s of %s %s approved for %s on job %s (short %s)",
			str(e.Payload, "quantityApproved"), str(e.Payload, "quantityRequested"), str(e.Payload, "unit"),
			str(e.Payload, "materialRef"), job, str(e.Payload, "shortage"))
		priority = models.NotifyHigh
	case events.QualityIssue:
		title = "Quality issue"
		message = fmt.Sprintf("Quality issue on job %s: %s", job, str(e.Payload, "issue"))
		priority = models.NotifyHigh
	case events.JobOverdue:
		title = "Job overdue"
		message = fmt.Sprintf("Job %s passed its due date %s", job, str(e.Payload, "dueDate"))
		priority = models.NotifyCritical
	case events.EquipmentDown:
		title = "Equipment down"
		message = withReason(fmt.Sprintf("Equipment %s is down", str(e.Payload, "equipment")), str(e.Payload, "details"))
		priority = models.NotifyCritical
	case events.DeadlineRisk:
		days := num(e.Payload, "daysRemaining")
		title = "Deadline at risk"
		message = fmt.Sprintf("Job %s is due %s (%d day(s) remaining)", job, str(e.Payload, "dueDate"), days)
		priority = DeadlinePriority(days)

	default:
		return models.Notification{}, false
	}

	n := models.Notification{
		ID:         uuid.New().String(),
		Type:       kind,
		Title:      title,
		Message:    message,
		Priority:   priority,
		Recipients: Recipients(e.Payload),
		CreatedBy:  e.Actor,
		CreatedAt:  e.Timestamp,
	}
	if e.JobRef != "" {
		ref := e.JobRef
		n.JobRef = &ref
	}
	if n.CreatedBy == "" {
		n.CreatedBy = "system"
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return n, true
}

// Recipients reads the "recipients" payload entry, which is []string in
// process and []any after a JSON round trip.
func Recipients(payload map[string]any) []string {
	switch v := payload["recipients"].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, r := range v {
			if s, ok := r.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func withReason(msg, reason string) string {
	if reason == "" {
		return msg
	}
	return msg + ": " + reason
}

func str(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func num(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}
