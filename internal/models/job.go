package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// JobLifecycle is the top-level record tracking a job across departments.
// CurrentStage is advisory and never validated against Status.
type JobLifecycle struct {
	ID               string           `json:"id"`
	JobRef           string           `json:"job_ref"`
	ProductType      string           `json:"product_type,omitempty"`
	Status           OverallStatus    `json:"status"`
	CurrentStage     string           `json:"current_stage"`
	PrepressStatus   PrepressStatus   `json:"prepress_status,omitempty"`
	InventoryStatus  InventoryStatus  `json:"inventory_status,omitempty"`
	ProductionStatus ProductionStatus `json:"production_status,omitempty"`
	QAStatus         QAStatus         `json:"qa_status,omitempty"`
	DispatchStatus   DispatchStatus   `json:"dispatch_status,omitempty"`
	PrepressNotes    string           `json:"prepress_notes,omitempty"`
	InventoryNotes   string           `json:"inventory_notes,omitempty"`
	ProductionNotes  string           `json:"production_notes,omitempty"`
	QANotes          string           `json:"qa_notes,omitempty"`
	DispatchNotes    string           `json:"dispatch_notes,omitempty"`
	Priority         JobPriority      `json:"priority"`
	DueDate          *time.Time       `json:"due_date,omitempty"`
	HeldFrom         *OverallStatus   `json:"held_from,omitempty"`
	CreatedBy        string           `json:"created_by"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	Version          int64            `json:"version"`
}

// LifecycleHistoryEntry is an append-only record of a lifecycle transition.
type LifecycleHistoryEntry struct {
	ID          string        `json:"id"`
	LifecycleID string        `json:"lifecycle_id"`
	Status      OverallStatus `json:"status"`
	Message     string        `json:"message"`
	ChangedBy   string        `json:"changed_by"`
	ChangedAt   time.Time     `json:"changed_at"`
}

// PrepressJob tracks the three prepress categories for one job.
type PrepressJob struct {
	ID                 string         `json:"id"`
	JobRef             string         `json:"job_ref"`
	AssignedDesignerID *string        `json:"assigned_designer_id,omitempty"`
	AssignedAt         *time.Time     `json:"assigned_at,omitempty"`
	Priority           JobPriority    `json:"priority"`
	DueDate            *time.Time     `json:"due_date,omitempty"`
	OverallStatus      PrepressStatus `json:"overall_status"`
	DesignStatus       PrepressStatus `json:"design_status"`
	DiePlateStatus     PrepressStatus `json:"die_plate_status"`
	OtherStatus        PrepressStatus `json:"other_status"`
	DesignNotes        string         `json:"design_notes,omitempty"`
	DiePlateNotes      string         `json:"die_plate_notes,omitempty"`
	OtherNotes         string         `json:"other_notes,omitempty"`
	ReviewNotes        string         `json:"review_notes,omitempty"`
	CreatedBy          string         `json:"created_by"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	Version            int64          `json:"version"`
}

// CategoryStatus returns the current value of a category track.
func (p PrepressJob) CategoryStatus(c PrepressCategory) PrepressStatus {
	switch c {
	case CategoryDesign:
		return p.DesignStatus
	case CategoryDiePlate:
		return p.DiePlateStatus
	case CategoryOther:
		return p.OtherStatus
	}
	return ""
}

// SetCategory writes a category track and, when non-empty, its notes.
func (p *PrepressJob) SetCategory(c PrepressCategory, status PrepressStatus, notes string) {
	switch c {
	case CategoryDesign:
		p.DesignStatus = status
		if notes != "" {
			p.DesignNotes = notes
		}
	case CategoryDiePlate:
		p.DiePlateStatus = status
		if notes != "" {
			p.DiePlateNotes = notes
		}
	case CategoryOther:
		p.OtherStatus = status
		if notes != "" {
			p.OtherNotes = notes
		}
	}
}

// CategoriesComplete is the prepress completion predicate. OTHER does not gate it.
func (p PrepressJob) CategoriesComplete() bool {
	return p.DesignStatus == PrepressDesignCompleted && p.DiePlateStatus == PrepressDiePlateCompleted
}

// Activity is an append-only sub-workflow log row shared by prepress and inventory.
type Activity struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"owner_id"`
	ActivityType string         `json:"activity_type"`
	Description  string         `json:"description"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	UserID       string         `json:"user_id"`
	CreatedAt    time.Time      `json:"created_at"`
}

// InventoryJob is the inventory department's record for a job. Status is set
// by callers and by the most recent material request transition.
type InventoryJob struct {
	ID         string          `json:"id"`
	JobRef     string          `json:"job_ref"`
	AssignedTo string          `json:"assigned_to,omitempty"`
	Priority   JobPriority     `json:"priority"`
	DueDate    *time.Time      `json:"due_date,omitempty"`
	Status     InventoryStatus `json:"status"`
	Notes      string          `json:"notes,omitempty"`
	CreatedBy  string          `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Version    int64           `json:"version"`
}

// MaterialRequest is a request to draw material from stock for an inventory job.
type MaterialRequest struct {
	ID                string                `json:"id"`
	InventoryJobID    string                `json:"inventory_job_id"`
	MaterialRef       string                `json:"material_ref"`
	Unit              string                `json:"unit"`
	QuantityRequested decimal.Decimal       `json:"quantity_requested"`
	QuantityApproved  decimal.Decimal       `json:"quantity_approved"`
	QuantityIssued    decimal.Decimal       `json:"quantity_issued"`
	Status            MaterialRequestStatus `json:"status"`
	RequestedBy       string                `json:"requested_by"`
	ApprovedBy        string                `json:"approved_by,omitempty"`
	IssuedBy          string                `json:"issued_by,omitempty"`
	Notes             string                `json:"notes,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	ApprovedAt        *time.Time            `json:"approved_at,omitempty"`
	IssuedAt          *time.Time            `json:"issued_at,omitempty"`
	UpdatedAt         time.Time             `json:"updated_at"`
	Version           int64                 `json:"version"`
}

// Notification is a prioritized human-readable alert. Only IsRead ever changes.
type Notification struct {
	ID         string               `json:"id"`
	JobRef     *string              `json:"job_ref,omitempty"`
	Type       string               `json:"type"`
	Title      string               `json:"title"`
	Message    string               `json:"message"`
	Priority   NotificationPriority `json:"priority"`
	Recipients []string             `json:"recipients,omitempty"`
	CreatedBy  string               `json:"created_by"`
	CreatedAt  time.Time            `json:"created_at"`
	IsRead     bool                 `json:"is_read"`
}
