package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"jobflow/internal/audit"
	"jobflow/internal/events"
	"jobflow/internal/models"
	"jobflow/internal/store"
	"jobflow/internal/telemetry"
)

// CreateParams describes a new inventory job.
type CreateParams struct {
	JobRef     string
	AssignedTo string
	Priority   models.JobPriority
	DueDate    *time.Time
	CreatedBy  string
}

// Manager owns inventory jobs, their material requests and activity log.
//
// The job-level status is written by callers and by every request
// transition; it reflects whichever write happened last. AggregateStatus
// gives the least-progressed request for callers that need a roll-up.
// Jobs and requests are written compare-and-swap on their version, so
// managers in separate processes can share one store.
type Manager struct {
	store      store.InventoryStore
	audit      *audit.Recorder
	events     events.Publisher
	logger     *slog.Logger
	now        func() time.Time
	maxRetries int
}

func NewManager(s store.InventoryStore, rec *audit.Recorder, pub events.Publisher, logger *slog.Logger, maxRetries int) *Manager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Manager{
		store:      s,
		audit:      rec,
		events:     pub,
		logger:     logger,
		now:        time.Now,
		maxRetries: maxRetries,
	}
}

func (m *Manager) CreateJob(ctx context.Context, p CreateParams) (models.InventoryJob, error) {
	const op = "create_inventory_job"
	if strings.TrimSpace(p.JobRef) == "" {
		return models.InventoryJob{}, models.Validation(op, "job ref is required")
	}
	if p.Priority == "" {
		p.Priority = models.PriorityNormal
	}
	now := m.now().UTC()
	job := models.InventoryJob{
		ID:         uuid.New().String(),
		JobRef:     p.JobRef,
		AssignedTo: p.AssignedTo,
		Priority:   p.Priority,
		DueDate:    p.DueDate,
		Status:     models.InventoryPending,
		CreatedBy:  p.CreatedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if p.AssignedTo != "" {
		job.Status = models.InventoryAssigned
	}

	created, err := m.store.CreateInventoryJob(ctx, job)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return models.InventoryJob{}, models.Conflict(op, "inventory job already exists for "+p.JobRef, err)
		}
		return models.InventoryJob{}, models.Persistence(op, err)
	}

	m.audit.Inventory(ctx, models.Activity{
		OwnerID:      created.ID,
		ActivityType: "JOB_CREATED",
		Description:  fmt.Sprintf("Inventory job created for %s", created.JobRef),
		Metadata:     map[string]any{"assignedTo": p.AssignedTo, "priority": created.Priority},
		UserID:       p.CreatedBy,
	})
	m.publish(ctx, events.InventoryJobCreated, created, p.CreatedBy, map[string]any{
		"status":     created.Status,
		"assignedTo": created.AssignedTo,
	})
	return created, nil
}

// UpdateJobStatus sets the caller-asserted job-level status.
func (m *Manager) UpdateJobStatus(ctx context.Context, id string, status models.InventoryStatus, actor, notes string) (models.InventoryJob, error) {
	const op = "update_inventory_status"
	status, err := models.ParseInventoryStatus(string(status))
	if err != nil {
		return models.InventoryJob{}, err
	}

	var previous models.InventoryStatus
	job, err := m.mutateJob(ctx, op, id, func(j *models.InventoryJob) {
		previous = j.Status
		j.Status = status
		if notes != "" {
			j.Notes = notes
		}
	})
	if err != nil {
		return models.InventoryJob{}, err
	}

	m.audit.Inventory(ctx, models.Activity{
		OwnerID:      job.ID,
		ActivityType: "STATUS_UPDATED",
		Description:  fmt.Sprintf("Inventory status changed from %s to %s", previous, status),
		Metadata:     map[string]any{"from": previous, "to": status, "notes": notes},
		UserID:       actor,
	})
	if status == models.InventoryCompleted {
		m.audit.Forget(job.ID)
	}
	m.publish(ctx, events.InventoryStatusUpdated, job, actor, map[string]any{
		"status":         status,
		"previousStatus": previous,
		"notes":          notes,
	})
	return job, nil
}

// CreateMaterialRequest opens a request against an inventory job.
func (m *Manager) CreateMaterialRequest(ctx context.Context, inventoryJobID, materialRef string, quantity decimal.Decimal, unit, actor, notes string) (models.MaterialRequest, error) {
	const op = "create_material_request"
	if strings.TrimSpace(materialRef) == "" {
		return models.MaterialRequest{}, models.Validation(op, "material ref is required")
	}
	if !quantity.IsPositive() {
		return models.MaterialRequest{}, models.Validation(op, "quantity must be greater than zero")
	}

	job, err := m.store.GetInventoryJob(ctx, inventoryJobID)
	if err != nil {
		return models.MaterialRequest{}, lookupError(op, "inventory job "+inventoryJobID, err)
	}
	now := m.now().UTC()
	req := models.MaterialRequest{
		ID:                uuid.New().String(),
		InventoryJobID:    job.ID,
		MaterialRef:       materialRef,
		Unit:              unit,
		QuantityRequested: quantity,
		QuantityApproved:  decimal.Zero,
		QuantityIssued:    decimal.Zero,
		Status:            models.MaterialPending,
		RequestedBy:       actor,
		Notes:             notes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := checkTransition(op, req.Status, models.MaterialRequestCreated); err != nil {
		return models.MaterialRequest{}, err
	}
	req.Status = models.MaterialRequestCreated

	created, err := m.store.CreateMaterialRequest(ctx, req)
	if err != nil {
		return models.MaterialRequest{}, lookupError(op, "inventory job "+inventoryJobID, err)
	}
	job, err = m.writeJobStatus(ctx, op, job.ID, created.Status)
	if err != nil {
		return models.MaterialRequest{}, err
	}

	m.recordRequest(ctx, job, created, actor, events.MaterialRequestCreated,
		fmt.Sprintf("Material request for %s %s %s", quantity.String(), unit, materialRef), nil)
	return created, nil
}

// ApproveMaterialRequest approves a request. A nil approvedQuantity approves
// the full requested amount; approving less raises a shortage.
func (m *Manager) ApproveMaterialRequest(ctx context.Context, id, approver string, approvedQuantity *decimal.Decimal, notes string) (models.MaterialRequest, error) {
	const op = "approve_material_request"
	var shortage decimal.Decimal
	req, job, err := m.transition(ctx, op, id, models.MaterialRequestApproved, func(r *models.MaterialRequest, now time.Time) error {
		approved := r.QuantityRequested
		if approvedQuantity != nil {
			approved = *approvedQuantity
		}
		if !approved.IsPositive() {
			return models.Validation(op, "approved quantity must be greater than zero")
		}
		if approved.GreaterThan(r.QuantityRequested) {
			return models.Validation(op, fmt.Sprintf("approved quantity %s exceeds requested %s", approved, r.QuantityRequested))
		}
		r.QuantityApproved = approved
		r.ApprovedBy = approver
		r.ApprovedAt = &now
		if notes != "" {
			r.Notes = notes
		}
		shortage = r.QuantityRequested.Sub(approved)
		return nil
	})
	if err != nil {
		return models.MaterialRequest{}, err
	}

	m.recordRequest(ctx, job, req, approver, events.MaterialRequestApproved,
		fmt.Sprintf("Approved %s %s of %s", req.QuantityApproved, req.Unit, req.MaterialRef), nil)
	if shortage.IsPositive() {
		m.logger.Info("material shortage on approval",
			"request_id", req.ID, "material_ref", req.MaterialRef, "shortage", shortage.String())
		m.publish(ctx, events.MaterialShortage, job, approver, map[string]any{
			"requestId":         req.ID,
			"materialRef":       req.MaterialRef,
			"unit":              req.Unit,
			"quantityRequested": req.QuantityRequested.String(),
			"quantityApproved":  req.QuantityApproved.String(),
			"shortage":          shortage.String(),
		})
	}
	return req, nil
}

// IssueMaterials issues part or all of the approved quantity.
func (m *Manager) IssueMaterials(ctx context.Context, id string, quantity decimal.Decimal, actor, notes string) (models.MaterialRequest, error) {
	const op = "issue_materials"
	if !quantity.IsPositive() {
		return models.MaterialRequest{}, models.Validation(op, "issued quantity must be greater than zero")
	}
	req, job, err := m.transitionFn(ctx, op, id, func(r *models.MaterialRequest, now time.Time) (models.MaterialRequestStatus, error) {
		if !r.Status.CanTransition(models.MaterialIssuanceStarted) && !r.Status.CanTransition(models.MaterialIssuanceCompleted) {
			return "", checkTransition(op, r.Status, models.MaterialIssuanceStarted)
		}
		total := r.QuantityIssued.Add(quantity)
		if total.GreaterThan(r.QuantityApproved) {
			return "", models.Validation(op, fmt.Sprintf("issuing %s would exceed approved %s (already issued %s)",
				quantity, r.QuantityApproved, r.QuantityIssued))
		}
		next := models.MaterialIssuanceStarted
		if total.Equal(r.QuantityApproved) {
			next = models.MaterialIssuanceCompleted
		}
		r.QuantityIssued = total
		r.IssuedBy = actor
		r.IssuedAt = &now
		if notes != "" {
			r.Notes = notes
		}
		return next, nil
	})
	if err != nil {
		return models.MaterialRequest{}, err
	}

	m.recordRequest(ctx, job, req, actor, events.MaterialIssued,
		fmt.Sprintf("Issued %s %s of %s (total %s/%s)", quantity, req.Unit, req.MaterialRef, req.QuantityIssued, req.QuantityApproved),
		map[string]any{"issuedNow": quantity.String()})
	return req, nil
}

func (m *Manager) StartProcurement(ctx context.Context, id, actor, notes string) (models.MaterialRequest, error) {
	return m.procurement(ctx, "start_procurement", id, models.MaterialProcurementStarted, events.MaterialProcurementStarted, actor, notes)
}

func (m *Manager) CompleteProcurement(ctx context.Context, id, actor, notes string) (models.MaterialRequest, error) {
	return m.procurement(ctx, "complete_procurement", id, models.MaterialProcurementCompleted, events.MaterialProcurementCompleted, actor, notes)
}

func (m *Manager) procurement(ctx context.Context, op, id string, next models.MaterialRequestStatus, et events.Type, actor, notes string) (models.MaterialRequest, error) {
	req, job, err := m.transition(ctx, op, id, next, func(r *models.MaterialRequest, _ time.Time) error {
		if notes != "" {
			r.Notes = notes
		}
		return nil
	})
	if err != nil {
		return models.MaterialRequest{}, err
	}
	m.recordRequest(ctx, job, req, actor, et, fmt.Sprintf("Procurement of %s: %s", req.MaterialRef, next), nil)
	return req, nil
}

// AggregateStatus returns the least-progressed status among the job's
// requests, or PENDING when there are none. It never writes.
func (m *Manager) AggregateStatus(ctx context.Context, inventoryJobID string) (models.MaterialRequestStatus, error) {
	reqs, err := m.ListRequests(ctx, inventoryJobID)
	if err != nil {
		return "", err
	}
	statuses := make([]models.MaterialRequestStatus, 0, len(reqs))
	for _, r := range reqs {
		statuses = append(statuses, r.Status)
	}
	if agg := models.LeastProgressed(statuses); agg != "" {
		return agg, nil
	}
	return models.MaterialPending, nil
}

// IsComplete is the inventory completion predicate: the caller-asserted
// job-level status is COMPLETED.
func (m *Manager) IsComplete(ctx context.Context, jobRef string) (bool, error) {
	job, err := m.store.GetInventoryJobByJobRef(ctx, jobRef)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, models.Persistence("inventory_is_complete", err)
	}
	return job.Status == models.InventoryCompleted, nil
}

func (m *Manager) Get(ctx context.Context, id string) (models.InventoryJob, error) {
	job, err := m.store.GetInventoryJob(ctx, id)
	if err != nil {
		return models.InventoryJob{}, lookupError("get_inventory_job", "inventory job "+id, err)
	}
	return job, nil
}

func (m *Manager) GetByJobRef(ctx context.Context, jobRef string) (models.InventoryJob, error) {
	job, err := m.store.GetInventoryJobByJobRef(ctx, jobRef)
	if err != nil {
		return models.InventoryJob{}, lookupError("get_inventory_job", "inventory job for "+jobRef, err)
	}
	return job, nil
}

func (m *Manager) GetRequest(ctx context.Context, id string) (models.MaterialRequest, error) {
	req, err := m.store.GetMaterialRequest(ctx, id)
	if err != nil {
		return models.MaterialRequest{}, lookupError("get_material_request", "material request "+id, err)
	}
	return req, nil
}

func (m *Manager) ListRequests(ctx context.Context, inventoryJobID string) ([]models.MaterialRequest, error) {
	if _, err := m.Get(ctx, inventoryJobID); err != nil {
		return nil, err
	}
	reqs, err := m.store.ListMaterialRequests(ctx, inventoryJobID)
	if err != nil {
		return nil, models.Persistence("list_material_requests", err)
	}
	return reqs, nil
}

func (m *Manager) Activities(ctx context.Context, inventoryJobID string) ([]models.Activity, error) {
	if _, err := m.Get(ctx, inventoryJobID); err != nil {
		return nil, err
	}
	return m.audit.InventoryActivities(ctx, inventoryJobID)
}

// transition moves a request to a fixed next status.
func (m *Manager) transition(ctx context.Context, op, id string, next models.MaterialRequestStatus, fn func(*models.MaterialRequest, time.Time) error) (models.MaterialRequest, models.InventoryJob, error) {
	return m.transitionFn(ctx, op, id, func(r *models.MaterialRequest, now time.Time) (models.MaterialRequestStatus, error) {
		if err := checkTransition(op, r.Status, next); err != nil {
			return "", err
		}
		return next, fn(r, now)
	})
}

// transitionFn loads the request, lets fn choose the next status, checks it
// against the transition table, then writes the request and mirrors the
// status onto the owning job. A version conflict reloads the request and
// runs fn again against the fresh state.
func (m *Manager) transitionFn(ctx context.Context, op, id string, fn func(*models.MaterialRequest, time.Time) (models.MaterialRequestStatus, error)) (models.MaterialRequest, models.InventoryJob, error) {
	req, err := m.mutateRequest(ctx, op, id, fn)
	if err != nil {
		return models.MaterialRequest{}, models.InventoryJob{}, err
	}
	job, err := m.writeJobStatus(ctx, op, req.InventoryJobID, req.Status)
	if err != nil {
		return models.MaterialRequest{}, models.InventoryJob{}, err
	}
	return req, job, nil
}

func (m *Manager) mutateRequest(ctx context.Context, op, id string, fn func(*models.MaterialRequest, time.Time) (models.MaterialRequestStatus, error)) (models.MaterialRequest, error) {
	var lastErr error
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		req, err := m.store.GetMaterialRequest(ctx, id)
		if err != nil {
			return models.MaterialRequest{}, lookupError(op, "material request "+id, err)
		}
		expected := req.Version
		now := m.now().UTC()
		from := req.Status
		next, err := fn(&req, now)
		if err != nil {
			return models.MaterialRequest{}, err
		}
		if err := checkTransition(op, from, next); err != nil {
			return models.MaterialRequest{}, err
		}
		req.Status = next
		req.UpdatedAt = now

		updated, err := m.store.UpdateMaterialRequest(ctx, req, expected)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return models.MaterialRequest{}, lookupError(op, "material request "+id, err)
		}
		telemetry.VersionConflicts.WithLabelValues("material_request").Inc()
		lastErr = err
	}
	return models.MaterialRequest{}, models.Conflict(op, "material request "+id+" changed concurrently", lastErr)
}

func (m *Manager) writeJobStatus(ctx context.Context, op, jobID string, status models.MaterialRequestStatus) (models.InventoryJob, error) {
	return m.mutateJob(ctx, op, jobID, func(j *models.InventoryJob) {
		j.Status = models.InventoryStatus(status)
	})
}

func (m *Manager) mutateJob(ctx context.Context, op, id string, fn func(*models.InventoryJob)) (models.InventoryJob, error) {
	var lastErr error
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		job, err := m.store.GetInventoryJob(ctx, id)
		if err != nil {
			return models.InventoryJob{}, lookupError(op, "inventory job "+id, err)
		}
		expected := job.Version
		fn(&job)
		job.UpdatedAt = m.now().UTC()

		updated, err := m.store.UpdateInventoryJob(ctx, job, expected)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return models.InventoryJob{}, lookupError(op, "inventory job "+id, err)
		}
		telemetry.VersionConflicts.WithLabelValues("inventory_job").Inc()
		lastErr = err
	}
	return models.InventoryJob{}, models.Conflict(op, "inventory job "+id+" changed concurrently", lastErr)
}

func (m *Manager) recordRequest(ctx context.Context, job models.InventoryJob, req models.MaterialRequest, actor string, et events.Type, desc string, extra map[string]any) {
	meta := map[string]any{
		"requestId":         req.ID,
		"materialRef":       req.MaterialRef,
		"status":            req.Status,
		"quantityRequested": req.QuantityRequested.String(),
		"quantityApproved":  req.QuantityApproved.String(),
		"quantityIssued":    req.QuantityIssued.String(),
	}
	for k, v := range extra {
		meta[k] = v
	}
	m.audit.Inventory(ctx, models.Activity{
		OwnerID:      job.ID,
		ActivityType: string(et),
		Description:  desc,
		Metadata:     meta,
		UserID:       actor,
	})

	payload := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		payload[k] = v
	}
	payload["unit"] = req.Unit
	payload["notes"] = req.Notes
	m.publish(ctx, et, job, actor, payload)
}

func (m *Manager) publish(ctx context.Context, t events.Type, job models.InventoryJob, actor string, payload map[string]any) {
	payload["inventoryJobId"] = job.ID
	payload["department"] = models.DeptInventory
	if _, ok := payload["jobStatus"]; !ok {
		payload["jobStatus"] = job.Status
	}
	m.events.Publish(ctx, events.Event{
		Type:    t,
		Domain:  events.DomainInventory,
		JobRef:  job.JobRef,
		Actor:   actor,
		Payload: payload,
	})
}

func checkTransition(op string, from, to models.MaterialRequestStatus) error {
	if !from.CanTransition(to) {
		return models.InvalidTransition(op, fmt.Sprintf("material request cannot move from %s to %s", from, to))
	}
	return nil
}

func lookupError(op, what string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return models.NotFound(op, what+" not found")
	}
	return models.Persistence(op, err)
}
