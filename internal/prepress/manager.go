package prepress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobflow/internal/audit"
	"jobflow/internal/events"
	"jobflow/internal/models"
	"jobflow/internal/store"
	"jobflow/internal/telemetry"
)

// CreateParams describes a new prepress job.
type CreateParams struct {
	JobRef     string
	DesignerID string
	Priority   models.JobPriority
	DueDate    *time.Time
	CreatedBy  string
}

// CategoryUpdate sets one category track.
type CategoryUpdate struct {
	Category models.PrepressCategory `json:"category"`
	Status   models.PrepressStatus   `json:"status"`
	Notes    string                  `json:"notes,omitempty"`
}

// CategoryResult reports the state after a category write. Complete is the
// completion predicate; Elevated is true only for the write that moved the
// overall status to HOD_REVIEW.
type CategoryResult struct {
	Job      models.PrepressJob `json:"job"`
	Complete bool               `json:"complete"`
	Elevated bool               `json:"elevated"`
}

// Manager owns prepress jobs and their activity log.
type Manager struct {
	store      store.PrepressStore
	audit      *audit.Recorder
	events     events.Publisher
	logger     *slog.Logger
	maxRetries int
	now        func() time.Time
}

func NewManager(s store.PrepressStore, rec *audit.Recorder, pub events.Publisher, logger *slog.Logger, maxRetries int) *Manager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Manager{
		store:      s,
		audit:      rec,
		events:     pub,
		logger:     logger,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

func (m *Manager) CreateJob(ctx context.Context, p CreateParams) (models.PrepressJob, error) {
	const op = "create_prepress_job"
	if strings.TrimSpace(p.JobRef) == "" {
		return models.PrepressJob{}, models.Validation(op, "job ref is required")
	}
	if p.Priority == "" {
		p.Priority = models.PriorityNormal
	}
	now := m.now().UTC()
	job := models.PrepressJob{
		ID:             uuid.New().String(),
		JobRef:         p.JobRef,
		Priority:       p.Priority,
		DueDate:        p.DueDate,
		OverallStatus:  models.PrepressPending,
		DesignStatus:   models.PrepressPending,
		DiePlateStatus: models.PrepressPending,
		OtherStatus:    models.PrepressPending,
		CreatedBy:      p.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if p.DesignerID != "" {
		designer := p.DesignerID
		job.AssignedDesignerID = &designer
		job.AssignedAt = &now
		job.OverallStatus = models.PrepressAssigned
	}

	created, err := m.store.CreatePrepressJob(ctx, job)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return models.PrepressJob{}, models.Conflict(op, "prepress job already exists for "+p.JobRef, err)
		}
		return models.PrepressJob{}, models.Persistence(op, err)
	}

	m.audit.Prepress(ctx, models.Activity{
		OwnerID:      created.ID,
		ActivityType: "JOB_CREATED",
		Description:  fmt.Sprintf("Prepress job created for %s", created.JobRef),
		Metadata:     map[string]any{"priority": created.Priority, "designerId": p.DesignerID},
		UserID:       p.CreatedBy,
	})
	m.publish(ctx, events.PrepressJobCreated, created, p.CreatedBy, map[string]any{
		"status":     created.OverallStatus,
		"designerId": p.DesignerID,
	})
	return created, nil
}

func (m *Manager) AssignDesigner(ctx context.Context, id, designerID, actor string) (models.PrepressJob, error) {
	const op = "assign_designer"
	if strings.TrimSpace(designerID) == "" {
		return models.PrepressJob{}, models.Validation(op, "designer id is required")
	}
	job, err := m.mutate(ctx, op, id, func(j *models.PrepressJob) error {
		now := m.now().UTC()
		designer := designerID
		j.AssignedDesignerID = &designer
		j.AssignedAt = &now
		j.OverallStatus = models.PrepressAssigned
		return nil
	})
	if err != nil {
		return models.PrepressJob{}, err
	}

	m.audit.Prepress(ctx, models.Activity{
		OwnerID:      job.ID,
		ActivityType: "DESIGNER_ASSIGNED",
		Description:  fmt.Sprintf("Designer %s assigned", designerID),
		Metadata:     map[string]any{"designerId": designerID},
		UserID:       actor,
	})
	m.publish(ctx, events.PrepressDesignerAssigned, job, actor, map[string]any{
		"status":     job.OverallStatus,
		"designerId": designerID,
		"recipients": []string{designerID},
	})
	return job, nil
}

// UpdateCategoryStatus sets a single category track.
func (m *Manager) UpdateCategoryStatus(ctx context.Context, id string, category models.PrepressCategory, status models.PrepressStatus, actor, notes string) (CategoryResult, error) {
	return m.UpdateCategoryStatuses(ctx, id, []CategoryUpdate{{Category: category, Status: status, Notes: notes}}, actor)
}

// UpdateCategoryStatuses applies updates as one write and evaluates the
// completion predicate once, so at most one elevation happens per call.
func (m *Manager) UpdateCategoryStatuses(ctx context.Context, id string, updates []CategoryUpdate, actor string) (CategoryResult, error) {
	const op = "update_category_status"
	if len(updates) == 0 {
		return CategoryResult{}, models.Validation(op, "at least one category update is required")
	}
	for _, u := range updates {
		if _, err := models.ParsePrepressCategory(string(u.Category)); err != nil {
			return CategoryResult{}, err
		}
		if !u.Category.Allows(u.Status) {
			return CategoryResult{}, models.InvalidTransition(op,
				fmt.Sprintf("status %s is not allowed for category %s", u.Status, u.Category))
		}
	}

	var elevated bool
	job, err := m.mutate(ctx, op, id, func(j *models.PrepressJob) error {
		elevated = false
		for _, u := range updates {
			j.SetCategory(u.Category, u.Status, u.Notes)
		}
		if j.CategoriesComplete() && !reviewedOrBeyond(j.OverallStatus) {
			j.OverallStatus = models.PrepressHODReview
			elevated = true
		}
		return nil
	})
	if err != nil {
		return CategoryResult{}, err
	}
	complete := job.CategoriesComplete()

	changes := make([]map[string]any, 0, len(updates))
	descs := make([]string, 0, len(updates))
	for _, u := range updates {
		changes = append(changes, map[string]any{"category": u.Category, "status": u.Status, "notes": u.Notes})
		descs = append(descs, fmt.Sprintf("%s -> %s", u.Category, u.Status))
	}
	m.audit.Prepress(ctx, models.Activity{
		OwnerID:      job.ID,
		ActivityType: "CATEGORY_STATUS_UPDATED",
		Description:  "Category status updated: " + strings.Join(descs, ", "),
		Metadata:     map[string]any{"updates": changes, "complete": complete, "elevated": elevated},
		UserID:       actor,
	})

	for _, u := range updates {
		m.publish(ctx, events.PrepressCategoryUpdated, job, actor, map[string]any{
			"category": u.Category,
			"status":   u.Status,
			"notes":    u.Notes,
			"complete": complete,
		})
	}
	if elevated {
		m.logger.Info("prepress job ready for HOD review", "prepress_job_id", job.ID, "job_ref", job.JobRef)
		m.publish(ctx, events.PrepressHODReview, job, actor, map[string]any{
			"status": job.OverallStatus,
		})
	}
	return CategoryResult{Job: job, Complete: complete, Elevated: elevated}, nil
}

// UpdateOverallStatus sets the overall status directly, typically a reviewer
// moving HOD_REVIEW to COMPLETED or REJECTED.
func (m *Manager) UpdateOverallStatus(ctx context.Context, id string, status models.PrepressStatus, actor, notes string) (models.PrepressJob, error) {
	const op = "update_prepress_status"
	status, err := models.ParsePrepressStatus(string(status))
	if err != nil {
		return models.PrepressJob{}, err
	}
	var previous models.PrepressStatus
	job, err := m.mutate(ctx, op, id, func(j *models.PrepressJob) error {
		previous = j.OverallStatus
		j.OverallStatus = status
		if notes != "" {
			j.ReviewNotes = notes
		}
		return nil
	})
	if err != nil {
		return models.PrepressJob{}, err
	}

	m.audit.Prepress(ctx, models.Activity{
		OwnerID:      job.ID,
		ActivityType: "STATUS_UPDATED",
		Description:  fmt.Sprintf("Prepress status changed from %s to %s", previous, status),
		Metadata:     map[string]any{"from": previous, "to": status, "notes": notes},
		UserID:       actor,
	})
	if status == models.PrepressCompleted || status == models.PrepressRejected {
		m.audit.Forget(job.ID)
	}
	m.publish(ctx, events.PrepressStatusUpdated, job, actor, map[string]any{
		"status":         status,
		"previousStatus": previous,
		"notes":          notes,
	})
	return job, nil
}

// IsComplete is the prepress completion predicate for a job. A job without a
// prepress record, or one that was rejected, is not complete.
func (m *Manager) IsComplete(ctx context.Context, jobRef string) (bool, error) {
	job, err := m.store.GetPrepressJobByJobRef(ctx, jobRef)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, models.Persistence("prepress_is_complete", err)
	}
	return job.CategoriesComplete() && job.OverallStatus != models.PrepressRejected, nil
}

func (m *Manager) Get(ctx context.Context, id string) (models.PrepressJob, error) {
	job, err := m.store.GetPrepressJob(ctx, id)
	if err != nil {
		return models.PrepressJob{}, lookupError("get_prepress_job", "prepress job "+id, err)
	}
	return job, nil
}

func (m *Manager) GetByJobRef(ctx context.Context, jobRef string) (models.PrepressJob, error) {
	job, err := m.store.GetPrepressJobByJobRef(ctx, jobRef)
	if err != nil {
		return models.PrepressJob{}, lookupError("get_prepress_job", "prepress job for "+jobRef, err)
	}
	return job, nil
}

// Activities lists the activity log of a prepress job, oldest first.
func (m *Manager) Activities(ctx context.Context, id string) ([]models.Activity, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return nil, err
	}
	return m.audit.PrepressActivities(ctx, id)
}

// mutate reads the job, applies fn and writes it back with a version check,
// re-reading on conflict.
func (m *Manager) mutate(ctx context.Context, op, id string, fn func(*models.PrepressJob) error) (models.PrepressJob, error) {
	var lastErr error
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		job, err := m.store.GetPrepressJob(ctx, id)
		if err != nil {
			return models.PrepressJob{}, lookupError(op, "prepress job "+id, err)
		}
		expected := job.Version
		if err := fn(&job); err != nil {
			return models.PrepressJob{}, err
		}
		job.UpdatedAt = m.now().UTC()

		updated, err := m.store.UpdatePrepressJob(ctx, job, expected)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return models.PrepressJob{}, lookupError(op, "prepress job "+id, err)
		}
		telemetry.VersionConflicts.WithLabelValues("prepress_job").Inc()
		lastErr = err
	}
	return models.PrepressJob{}, models.Conflict(op, "prepress job "+id+" changed concurrently", lastErr)
}

func (m *Manager) publish(ctx context.Context, t events.Type, job models.PrepressJob, actor string, payload map[string]any) {
	payload["prepressJobId"] = job.ID
	payload["department"] = models.DeptPrepress
	m.events.Publish(ctx, events.Event{
		Type:    t,
		Domain:  events.DomainPrepress,
		JobRef:  job.JobRef,
		Actor:   actor,
		Payload: payload,
	})
}

func reviewedOrBeyond(s models.PrepressStatus) bool {
	return s == models.PrepressHODReview || s == models.PrepressCompleted || s == models.PrepressRejected
}

func lookupError(op, what string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return models.NotFound(op, what+" not found")
	}
	return models.Persistence(op, err)
}
