package lifecycle

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
	"jobflow/internal/inventory"
	"jobflow/internal/models"
	"jobflow/internal/prepress"
	"jobflow/internal/store"
	"jobflow/internal/telemetry"
)

// Stage tags written to JobLifecycle.CurrentStage.
const (
	StageCreated   = "job_created"
	StageCompleted = "job_completed"
	StageOnHold    = "on_hold"
	StageCancelled = "job_cancelled"
)

// PrepressWorkflow is the part of the prepress manager the orchestrator drives.
type PrepressWorkflow interface {
	CreateJob(ctx context.Context, p prepress.CreateParams) (models.PrepressJob, error)
	Get(ctx context.Context, id string) (models.PrepressJob, error)
	GetByJobRef(ctx context.Context, jobRef string) (models.PrepressJob, error)
	IsComplete(ctx context.Context, jobRef string) (bool, error)
	UpdateCategoryStatuses(ctx context.Context, id string, updates []prepress.CategoryUpdate, actor string) (prepress.CategoryResult, error)
	UpdateOverallStatus(ctx context.Context, id string, status models.PrepressStatus, actor, notes string) (models.PrepressJob, error)
}

// InventoryWorkflow is the part of the inventory manager the orchestrator drives.
type InventoryWorkflow interface {
	CreateJob(ctx context.Context, p inventory.CreateParams) (models.InventoryJob, error)
	Get(ctx context.Context, id string) (models.InventoryJob, error)
	GetByJobRef(ctx context.Context, jobRef string) (models.InventoryJob, error)
	UpdateJobStatus(ctx context.Context, id string, status models.InventoryStatus, actor, notes string) (models.InventoryJob, error)
}

// CreateParams describes a new job lifecycle.
type CreateParams struct {
	JobRef      string
	ProductType string
	CreatedBy   string
	Priority    models.JobPriority
	DueDate     *time.Time
}

// AssignPrepressParams hands a job to prepress. When PrepressJobID is empty
// the prepress job is created (or reused) for the job ref.
type AssignPrepressParams struct {
	JobRef        string
	PrepressJobID string
	DesignerID    string
	Actor         string
}

// UpdateResult is returned by the record operations. Complete is the
// department's completion predicate after the write; Cascaded reports
// whether this call advanced the job to the next stage.
type UpdateResult struct {
	Lifecycle models.JobLifecycle `json:"lifecycle"`
	Complete  bool                `json:"complete"`
	Cascaded  bool                `json:"cascaded"`
}

// Orchestrator owns the top-level job state machine.
//
// Every status write is a compare-and-swap on JobLifecycle.Version. Cascades
// only move a job forward and never out of COMPLETED, CANCELLED or ON_HOLD, so
// when two completions race the loser re-reads, sees the target reached and
// does nothing.
type Orchestrator struct {
	store      store.LifecycleStore
	audit      *audit.Recorder
	events     events.Publisher
	prepress   PrepressWorkflow
	inventory  InventoryWorkflow
	logger     *slog.Logger
	maxRetries int
	now        func() time.Time
}

func New(s store.LifecycleStore, rec *audit.Recorder, pub events.Publisher, pp PrepressWorkflow, inv InventoryWorkflow, logger *slog.Logger, maxRetries int) *Orchestrator {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Orchestrator{
		store:      s,
		audit:      rec,
		events:     pub,
		prepress:   pp,
		inventory:  inv,
		logger:     logger,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

func (o *Orchestrator) CreateLifecycle(ctx context.Context, p CreateParams) (models.JobLifecycle, error) {
	const op = "create_lifecycle"
	if strings.TrimSpace(p.JobRef) == "" {
		return models.JobLifecycle{}, models.Validation(op, "job ref is required")
	}
	if p.Priority == "" {
		p.Priority = models.PriorityNormal
	}
	now := o.now().UTC()
	lc := models.JobLifecycle{
		ID:           uuid.New().String(),
		JobRef:       p.JobRef,
		ProductType:  p.ProductType,
		Status:       models.StatusCreated,
		CurrentStage: StageCreated,
		Priority:     p.Priority,
		DueDate:      p.DueDate,
		CreatedBy:    p.CreatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	created, err := o.store.CreateLifecycle(ctx, lc)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return models.JobLifecycle{}, models.Conflict(op, "lifecycle already exists for "+p.JobRef, err)
		}
		return models.JobLifecycle{}, models.Persistence(op, err)
	}
	telemetry.Transitions.WithLabelValues(string(created.Status)).Inc()

	payload := map[string]any{
		"status":      created.Status,
		"stage":       created.CurrentStage,
		"priority":    created.Priority,
		"productType": created.ProductType,
	}
	if created.DueDate != nil {
		payload["dueDate"] = created.DueDate.UTC().Format(time.RFC3339)
	}
	o.announce(ctx, created, p.CreatedBy, events.JobCreated,
		fmt.Sprintf("Job %s created", created.JobRef), payload)
	return created, nil
}

// AssignToPrepress moves the job into prepress, creating the prepress job if needed.
func (o *Orchestrator) AssignToPrepress(ctx context.Context, p AssignPrepressParams) (models.JobLifecycle, error) {
	const op = "assign_to_prepress"
	current, err := o.GetByJob(ctx, p.JobRef)
	if err != nil {
		return models.JobLifecycle{}, err
	}
	if err := checkManual(op, current.Status); err != nil {
		return models.JobLifecycle{}, err
	}

	pj, err := o.ensurePrepressJob(ctx, op, current, p)
	if err != nil {
		return models.JobLifecycle{}, err
	}
	designer := p.DesignerID
	if designer == "" && pj.AssignedDesignerID != nil {
		designer = *pj.AssignedDesignerID
	}
	msg := fmt.Sprintf("Job assigned to prepress (prepress job %s)", pj.ID)
	if designer != "" {
		msg = fmt.Sprintf("Job assigned to prepress (prepress job %s, designer %s)", pj.ID, designer)
	}
	lc, _, err := o.advance(ctx, op, p.JobRef, p.Actor, transition{
		to:      models.StatusAssignedToPrepress,
		message: msg,
		payload: map[string]any{"prepressJobId": pj.ID, "designerId": designer},
		mutate: func(lc *models.JobLifecycle) {
			lc.PrepressStatus = pj.OverallStatus
		},
	})
	return lc, err
}

func (o *Orchestrator) AssignToInventory(ctx context.Context, jobRef, actor string) (models.JobLifecycle, error) {
	lc, _, err := o.assignToInventory(ctx, jobRef, actor, false)
	return lc, err
}

func (o *Orchestrator) AssignToProduction(ctx context.Context, jobRef, actor string) (models.JobLifecycle, error) {
	lc, _, err := o.assignTo(ctx, models.DeptProduction, jobRef, actor, false)
	return lc, err
}

func (o *Orchestrator) AssignToQA(ctx context.Context, jobRef, actor string) (models.JobLifecycle, error) {
	lc, _, err := o.assignTo(ctx, models.DeptQA, jobRef, actor, false)
	return lc, err
}

func (o *Orchestrator) AssignToDispatch(ctx context.Context, jobRef, actor string) (models.JobLifecycle, error) {
	lc, _, err := o.assignTo(ctx, models.DeptDispatch, jobRef, actor, false)
	return lc, err
}

// CompleteJob closes the job. COMPLETED is terminal.
func (o *Orchestrator) CompleteJob(ctx context.Context, jobRef, actor string) (models.JobLifecycle, error) {
	lc, _, err := o.complete(ctx, jobRef, actor, false)
	return lc, err
}

func (o *Orchestrator) assignToInventory(ctx context.Context, jobRef, actor string, cascade bool) (models.JobLifecycle, bool, error) {
	const op = "assign_to_inventory"
	current, err := o.GetByJob(ctx, jobRef)
	if err != nil {
		return models.JobLifecycle{}, false, err
	}
	if cascade && !forward(current.Status, models.StatusAssignedToInventory) {
		return current, false, nil
	}
	if !cascade {
		if err := checkManual(op, current.Status); err != nil {
			return models.JobLifecycle{}, false, err
		}
	}
	inv, err := o.ensureInventoryJob(ctx, current, actor)
	if err != nil {
		return models.JobLifecycle{}, false, err
	}
	return o.advance(ctx, op, jobRef, actor, transition{
		to:      models.StatusAssignedToInventory,
		cascade: cascade,
		message: fmt.Sprintf("Job assigned to inventory (inventory job %s)", inv.ID),
		payload: map[string]any{"inventoryJobId": inv.ID},
		mutate: func(lc *models.JobLifecycle) {
			if lc.InventoryStatus == "" {
				lc.InventoryStatus = inv.Status
			}
		},
	})
}

func (o *Orchestrator) assignTo(ctx context.Context, dept models.Department, jobRef, actor string, cascade bool) (models.JobLifecycle, bool, error) {
	var to models.OverallStatus
	var mutate func(*models.JobLifecycle)
	switch dept {
	case models.DeptProduction:
		to = models.StatusAssignedToProduction
		mutate = func(lc *models.JobLifecycle) {
			if lc.ProductionStatus == "" {
				lc.ProductionStatus = models.ProductionPending
			}
		}
	case models.DeptQA:
		to = models.StatusAssignedToQA
		mutate = func(lc *models.JobLifecycle) {
			if lc.QAStatus == "" {
				lc.QAStatus = models.QAPending
			}
		}
	case models.DeptDispatch:
		to = models.StatusAssignedToDispatch
		mutate = func(lc *models.JobLifecycle) {
			if lc.DispatchStatus == "" {
				lc.DispatchStatus = models.DispatchPending
			}
		}
	default:
		return models.JobLifecycle{}, false, models.Validation("assign", fmt.Sprintf("cannot assign directly to %q", dept))
	}
	return o.advance(ctx, "assign_to_"+string(dept), jobRef, actor, transition{
		to:      to,
		cascade: cascade,
		message: fmt.Sprintf("Job assigned to %s", dept),
		mutate:  mutate,
	})
}

func (o *Orchestrator) complete(ctx context.Context, jobRef, actor string, cascade bool) (models.JobLifecycle, bool, error) {
	lc, changed, err := o.advance(ctx, "complete_job", jobRef, actor, transition{
		to:      models.StatusCompleted,
		stage:   StageCompleted,
		event:   events.JobCompleted,
		cascade: cascade,
		message: "Job completed",
		mutate: func(lc *models.JobLifecycle) {
			lc.HeldFrom = nil
		},
	})
	if err == nil && changed {
		o.audit.Forget(lc.ID)
	}
	return lc, changed, err
}

// HoldJob parks a non-terminal job. Cascades are skipped while on hold.
func (o *Orchestrator) HoldJob(ctx context.Context, jobRef, actor, reason string) (models.JobLifecycle, error) {
	const op = "hold_job"
	msg := "Job put on hold"
	if reason != "" {
		msg += ": " + reason
	}
	lc, _, err := o.advance(ctx, op, jobRef, actor, transition{
		to:      models.StatusOnHold,
		stage:   StageOnHold,
		event:   events.JobOnHold,
		message: msg,
		payload: map[string]any{"reason": reason},
		check: func(from models.OverallStatus) error {
			if from == models.StatusOnHold {
				return models.InvalidTransition(op, "job is already on hold")
			}
			return checkManual(op, from)
		},
		mutate: func(lc *models.JobLifecycle) {
			held := lc.Status
			lc.HeldFrom = &held
		},
	})
	return lc, err
}

// ResumeJob restores the status a job held from, then re-runs that
// department's completion check so work finished during the hold cascades.
func (o *Orchestrator) ResumeJob(ctx context.Context, jobRef, actor string) (UpdateResult, error) {
	const op = "resume_job"
	var from models.OverallStatus
	lc, _, err := o.write(ctx, op, jobRef, func(lc *models.JobLifecycle) (bool, error) {
		if lc.Status != models.StatusOnHold {
			return false, models.InvalidTransition(op, fmt.Sprintf("job is %s, not on hold", lc.Status))
		}
		from = lc.Status
		restored := models.StatusCreated
		if lc.HeldFrom != nil && lc.HeldFrom.Valid() {
			restored = *lc.HeldFrom
		}
		lc.Status = restored
		lc.CurrentStage = stageFor(restored)
		lc.HeldFrom = nil
		return true, nil
	})
	if err != nil {
		return UpdateResult{}, err
	}
	telemetry.Transitions.WithLabelValues(string(lc.Status)).Inc()
	o.announce(ctx, lc, actor, events.JobResumed, fmt.Sprintf("Job resumed at %s", lc.Status), map[string]any{
		"status":         lc.Status,
		"previousStatus": from,
		"stage":          lc.CurrentStage,
		"department":     lc.Status.Department(),
	})

	res := UpdateResult{Lifecycle: lc}
	dept := lc.Status.Department()
	if dept == "" {
		return res, nil
	}
	complete, err := o.departmentComplete(ctx, dept, lc)
	if err != nil {
		return UpdateResult{}, err
	}
	res.Complete = complete
	if complete {
		next, cascaded, err := o.cascadeFrom(ctx, dept, jobRef, actor)
		if err != nil {
			return UpdateResult{}, err
		}
		res.Lifecycle, res.Cascaded = next, cascaded
	}
	return res, nil
}

// CancelJob terminates a job from any non-terminal status, including ON_HOLD.
func (o *Orchestrator) CancelJob(ctx context.Context, jobRef, actor, reason string) (models.JobLifecycle, error) {
	const op = "cancel_job"
	msg := "Job cancelled"
	if reason != "" {
		msg += ": " + reason
	}
	lc, changed, err := o.advance(ctx, op, jobRef, actor, transition{
		to:      models.StatusCancelled,
		stage:   StageCancelled,
		event:   events.JobCancelled,
		message: msg,
		payload: map[string]any{"reason": reason},
		check: func(from models.OverallStatus) error {
			if from.Terminal() {
				return models.InvalidTransition(op, fmt.Sprintf("job is already %s", from))
			}
			return nil
		},
		mutate: func(lc *models.JobLifecycle) {
			lc.HeldFrom = nil
		},
	})
	if err == nil && changed {
		o.audit.Forget(lc.ID)
	}
	return lc, err
}

func (o *Orchestrator) ensurePrepressJob(ctx context.Context, op string, lc models.JobLifecycle, p AssignPrepressParams) (models.PrepressJob, error) {
	if p.PrepressJobID != "" {
		pj, err := o.prepress.Get(ctx, p.PrepressJobID)
		if err != nil {
			return models.PrepressJob{}, err
		}
		if pj.JobRef != lc.JobRef {
			return models.PrepressJob{}, models.Validation(op,
				fmt.Sprintf("prepress job %s belongs to %s, not %s", pj.ID, pj.JobRef, lc.JobRef))
		}
		return pj, nil
	}
	pj, err := o.prepress.CreateJob(ctx, prepress.CreateParams{
		JobRef:     lc.JobRef,
		DesignerID: p.DesignerID,
		Priority:   lc.Priority,
		DueDate:    lc.DueDate,
		CreatedBy:  p.Actor,
	})
	if models.IsKind(err, models.KindConflict) {
		return o.prepress.GetByJobRef(ctx, lc.JobRef)
	}
	return pj, err
}

func (o *Orchestrator) ensureInventoryJob(ctx context.Context, lc models.JobLifecycle, actor string) (models.InventoryJob, error) {
	inv, err := o.inventory.GetByJobRef(ctx, lc.JobRef)
	if err == nil {
		return inv, nil
	}
	if !models.IsKind(err, models.KindNotFound) {
		return models.InventoryJob{}, err
	}
	inv, err = o.inventory.CreateJob(ctx, inventory.CreateParams{
		JobRef:    lc.JobRef,
		Priority:  lc.Priority,
		DueDate:   lc.DueDate,
		CreatedBy: actor,
	})
	if models.IsKind(err, models.KindConflict) {
		return o.inventory.GetByJobRef(ctx, lc.JobRef)
	}
	return inv, err
}

// transition describes one status write.
type transition struct {
	to      models.OverallStatus
	stage   string
	event   events.Type
	message string
	payload map[string]any

	// cascade marks a continuation: it only moves forward and is skipped,
	// not rejected, when the job is elsewhere.
	cascade bool
	// check overrides the default manual precondition.
	check  func(from models.OverallStatus) error
	mutate func(*models.JobLifecycle)
}

// advance performs a transition, then writes history and publishes its
// event. changed is false when a cascade found nothing to do.
func (o *Orchestrator) advance(ctx context.Context, op, jobRef, actor string, t transition) (models.JobLifecycle, bool, error) {
	if t.stage == "" {
		t.stage = stageFor(t.to)
	}
	if t.event == "" {
		t.event = events.StatusChanged
	}
	var from models.OverallStatus
	lc, changed, err := o.write(ctx, op, jobRef, func(lc *models.JobLifecycle) (bool, error) {
		from = lc.Status
		switch {
		case t.cascade:
			if !forward(lc.Status, t.to) {
				return false, nil
			}
		case t.check != nil:
			if err := t.check(lc.Status); err != nil {
				return false, err
			}
		default:
			if err := checkManual(op, lc.Status); err != nil {
				return false, err
			}
		}
		lc.Status = t.to
		lc.CurrentStage = t.stage
		if t.mutate != nil {
			t.mutate(lc)
		}
		return true, nil
	})
	if err != nil || !changed {
		return lc, false, err
	}

	telemetry.Transitions.WithLabelValues(string(lc.Status)).Inc()
	payload := map[string]any{
		"status":         lc.Status,
		"previousStatus": from,
		"stage":          lc.CurrentStage,
		"cascade":        t.cascade,
	}
	if dept := lc.Status.Department(); dept != "" {
		payload["department"] = dept
	}
	for k, v := range t.payload {
		payload[k] = v
	}
	o.announce(ctx, lc, actor, t.event, t.message, payload)
	return lc, true, nil
}

// write runs fn against the latest lifecycle and stores the result with a
// version check, re-reading on conflict. fn returning false skips the write.
func (o *Orchestrator) write(ctx context.Context, op, jobRef string, fn func(*models.JobLifecycle) (bool, error)) (models.JobLifecycle, bool, error) {
	var lastErr error
	for attempt := 0; attempt < o.maxRetries; attempt++ {
		lc, err := o.store.GetLifecycleByJob(ctx, jobRef)
		if err != nil {
			return models.JobLifecycle{}, false, lookupError(op, jobRef, err)
		}
		expected := lc.Version
		apply, err := fn(&lc)
		if err != nil {
			return models.JobLifecycle{}, false, err
		}
		if !apply {
			return lc, false, nil
		}
		lc.UpdatedAt = o.now().UTC()

		updated, err := o.store.UpdateLifecycle(ctx, lc, expected)
		if err == nil {
			return updated, true, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return models.JobLifecycle{}, false, lookupError(op, jobRef, err)
		}
		telemetry.VersionConflicts.WithLabelValues("job_lifecycle").Inc()
		o.logger.Debug("lifecycle version conflict, retrying", "op", op, "job_ref", jobRef, "attempt", attempt+1)
		lastErr = err
	}
	return models.JobLifecycle{}, false, models.Conflict(op, "lifecycle "+jobRef+" changed concurrently", lastErr)
}

// announce appends a history entry and publishes the matching event.
func (o *Orchestrator) announce(ctx context.Context, lc models.JobLifecycle, actor string, et events.Type, message string, payload map[string]any) {
	o.audit.Lifecycle(ctx, models.LifecycleHistoryEntry{
		LifecycleID: lc.ID,
		Status:      lc.Status,
		Message:     message,
		ChangedBy:   actor,
	})
	payload["lifecycleId"] = lc.ID
	payload["message"] = message
	o.events.Publish(ctx, events.Event{
		Type:    et,
		Domain:  events.DomainJob,
		JobRef:  lc.JobRef,
		Actor:   actor,
		Payload: payload,
	})
}

// forward reports whether a cascade from cur to target moves the job ahead.
func forward(cur, target models.OverallStatus) bool {
	if cur.Terminal() || cur == models.StatusOnHold {
		return false
	}
	from, ok := cur.Rank()
	if !ok {
		return false
	}
	to, ok := target.Rank()
	return ok && from < to
}

func checkManual(op string, from models.OverallStatus) error {
	switch {
	case from.Terminal():
		return models.InvalidTransition(op, fmt.Sprintf("job is %s", from))
	case from == models.StatusOnHold:
		return models.InvalidTransition(op, "job is on hold; resume it first")
	}
	return nil
}

func stageFor(s models.OverallStatus) string {
	switch s {
	case models.StatusCreated:
		return StageCreated
	case models.StatusCompleted:
		return StageCompleted
	case models.StatusOnHold:
		return StageOnHold
	case models.StatusCancelled:
		return StageCancelled
	}
	if d := s.Department(); d != "" {
		return string(d) + "_assignment"
	}
	return ""
}

func lookupError(op, jobRef string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return models.NotFound(op, "lifecycle for "+jobRef+" not found")
	}
	return models.Persistence(op, err)
}
