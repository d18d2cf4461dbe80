package events

import (
	"context"
	"time"

	"jobflow/internal/models"
)

// Type names an emitted event.
type Type string

const (
	JobCreated    Type = "JOB_CREATED"
	StatusChanged Type = "STATUS_CHANGED"
	JobCompleted  Type = "JOB_COMPLETED"
	JobOnHold     Type = "JOB_ON_HOLD"
	JobResumed    Type = "JOB_RESUMED"
	JobCancelled  Type = "JOB_CANCELLED"

	PrepressUpdate   Type = "PREPRESS_UPDATE"
	InventoryUpdate  Type = "INVENTORY_UPDATE"
	ProductionUpdate Type = "PRODUCTION_UPDATE"
	QAUpdate         Type = "QA_UPDATE"
	DispatchUpdate   Type = "DISPATCH_UPDATE"

	PrepressJobCreated       Type = "PREPRESS_JOB_CREATED"
	PrepressDesignerAssigned Type = "PREPRESS_DESIGNER_ASSIGNED"
	PrepressCategoryUpdated  Type = "PREPRESS_CATEGORY_UPDATED"
	PrepressHODReview        Type = "PREPRESS_HOD_REVIEW"
	PrepressStatusUpdated    Type = "PREPRESS_STATUS_UPDATED"

	InventoryJobCreated          Type = "INVENTORY_JOB_CREATED"
	InventoryStatusUpdated       Type = "INVENTORY_STATUS_UPDATED"
	MaterialRequestCreated       Type = "MATERIAL_REQUEST_CREATED"
	MaterialRequestApproved      Type = "MATERIAL_REQUEST_APPROVED"
	MaterialIssued               Type = "MATERIAL_ISSUED"
	MaterialProcurementStarted   Type = "MATERIAL_PROCUREMENT_STARTED"
	MaterialProcurementCompleted Type = "MATERIAL_PROCUREMENT_COMPLETED"
	MaterialShortage             Type = "MATERIAL_SHORTAGE"

	JobOverdue    Type = "JOB_OVERDUE"
	DeadlineRisk  Type = "DEADLINE_RISK"
	QualityIssue  Type = "QUALITY_ISSUE"
	EquipmentDown Type = "EQUIPMENT_DOWN"

	Notification Type = "NOTIFICATION"
)

// Domain groups events for broad topic routing.
type Domain string

const (
	DomainJob          Domain = "job"
	DomainPrepress     Domain = "prepress"
	DomainInventory    Domain = "inventory"
	DomainProduction   Domain = "production"
	DomainQA           Domain = "qa"
	DomainDispatch     Domain = "dispatch"
	DomainNotification Domain = "notification"
	DomainAlert        Domain = "alert"
)

// DomainFor maps a department to its event domain.
func DomainFor(d models.Department) Domain {
	return Domain(d)
}

// Department returns the department a domain belongs to, if any.
func (d Domain) Department() models.Department {
	switch d {
	case DomainPrepress, DomainInventory, DomainProduction, DomainQA, DomainDispatch:
		return models.Department(d)
	}
	return ""
}

// Event is a structured record of something that happened in the workflow core.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Domain    Domain         `json:"domain"`
	JobRef    string         `json:"job_ref,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Payload   map[string]any `json:"payload"`
	Origin    string         `json:"origin,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher accepts events emitted by workflow components. Publishing never
// fails from the emitter's point of view.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Subscriber consumes events from a Bus. Returned errors are logged by the bus.
type Subscriber interface {
	Handle(ctx context.Context, e Event) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, e Event) error

func (f SubscriberFunc) Handle(ctx context.Context, e Event) error { return f(ctx, e) }

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, Event) {}
