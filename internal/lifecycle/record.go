package lifecycle

import (
	"context"
	"fmt"

	"jobflow/internal/events"
	"jobflow/internal/models"
	"jobflow/internal/prepress"
	"jobflow/internal/telemetry"
)

var updateEvents = map[models.Department]events.Type{
	models.DeptPrepress:   events.PrepressUpdate,
	models.DeptInventory:  events.InventoryUpdate,
	models.DeptProduction: events.ProductionUpdate,
	models.DeptQA:         events.QAUpdate,
	models.DeptDispatch:   events.DispatchUpdate,
}

// departmentUpdate is a sub-status write for one department.
type departmentUpdate struct {
	dept     models.Department
	jobRef   string
	status   string
	notes    string
	actor    string
	category models.PrepressCategory
	apply    func(*models.JobLifecycle)
}

// RecordPrepressUpdate stores the prepress sub-status and cascades to
// inventory when the prepress manager reports the job complete.
func (o *Orchestrator) RecordPrepressUpdate(ctx context.Context, jobRef string, status models.PrepressStatus, category models.PrepressCategory, actor, notes string) (UpdateResult, error) {
	status, err := models.ParsePrepressStatus(string(status))
	if err != nil {
		return UpdateResult{}, err
	}
	if category != "" {
		if category, err = models.ParsePrepressCategory(string(category)); err != nil {
			return UpdateResult{}, err
		}
	}
	return o.record(ctx, departmentUpdate{
		dept: models.DeptPrepress, jobRef: jobRef, status: string(status), notes: notes, actor: actor, category: category,
		apply: func(lc *models.JobLifecycle) {
			lc.PrepressStatus = status
			if notes != "" {
				lc.PrepressNotes = notes
			}
		},
	})
}

// RecordInventoryUpdate stores the inventory sub-status; COMPLETED cascades to production.
func (o *Orchestrator) RecordInventoryUpdate(ctx context.Context, jobRef string, status models.InventoryStatus, actor, notes string) (UpdateResult, error) {
	status, err := models.ParseInventoryStatus(string(status))
	if err != nil {
		return UpdateResult{}, err
	}
	return o.record(ctx, departmentUpdate{
		dept: models.DeptInventory, jobRef: jobRef, status: string(status), notes: notes, actor: actor,
		apply: func(lc *models.JobLifecycle) {
			lc.InventoryStatus = status
			if notes != "" {
				lc.InventoryNotes = notes
			}
		},
	})
}

// RecordProductionUpdate stores the production sub-status; COMPLETED cascades to QA.
func (o *Orchestrator) RecordProductionUpdate(ctx context.Context, jobRef string, status models.ProductionStatus, actor, notes string) (UpdateResult, error) {
	status, err := models.ParseProductionStatus(string(status))
	if err != nil {
		return UpdateResult{}, err
	}
	return o.record(ctx, departmentUpdate{
		dept: models.DeptProduction, jobRef: jobRef, status: string(status), notes: notes, actor: actor,
		apply: func(lc *models.JobLifecycle) {
			lc.ProductionStatus = status
			if notes != "" {
				lc.ProductionNotes = notes
			}
		},
	})
}

// RecordQAUpdate stores the QA sub-status; COMPLETED cascades to dispatch.
func (o *Orchestrator) RecordQAUpdate(ctx context.Context, jobRef string, status models.QAStatus, actor, notes string) (UpdateResult, error) {
	status, err := models.ParseQAStatus(string(status))
	if err != nil {
		return UpdateResult{}, err
	}
	return o.record(ctx, departmentUpdate{
		dept: models.DeptQA, jobRef: jobRef, status: string(status), notes: notes, actor: actor,
		apply: func(lc *models.JobLifecycle) {
			lc.QAStatus = status
			if notes != "" {
				lc.QANotes = notes
			}
		},
	})
}

// RecordDispatchUpdate stores the dispatch sub-status. Only COMPLETED closes
// the job; DISPATCHED leaves it with dispatch.
func (o *Orchestrator) RecordDispatchUpdate(ctx context.Context, jobRef string, status models.DispatchStatus, actor, notes string) (UpdateResult, error) {
	status, err := models.ParseDispatchStatus(string(status))
	if err != nil {
		return UpdateResult{}, err
	}
	return o.record(ctx, departmentUpdate{
		dept: models.DeptDispatch, jobRef: jobRef, status: string(status), notes: notes, actor: actor,
		apply: func(lc *models.JobLifecycle) {
			lc.DispatchStatus = status
			if notes != "" {
				lc.DispatchNotes = notes
			}
		},
	})
}

// UpdatePrepressCategories applies category updates on the prepress job and
// records the result on the owning lifecycle, if there is one.
func (o *Orchestrator) UpdatePrepressCategories(ctx context.Context, prepressJobID string, updates []prepress.CategoryUpdate, actor string) (prepress.CategoryResult, *UpdateResult, error) {
	res, err := o.prepress.UpdateCategoryStatuses(ctx, prepressJobID, updates, actor)
	if err != nil {
		return prepress.CategoryResult{}, nil, err
	}
	if !o.exists(ctx, res.Job.JobRef) {
		return res, nil, nil
	}
	last := updates[len(updates)-1]
	status := last.Status
	if res.Elevated {
		status = res.Job.OverallStatus
	}
	upd, err := o.RecordPrepressUpdate(ctx, res.Job.JobRef, status, last.Category, actor, last.Notes)
	if err != nil {
		return res, nil, err
	}
	return res, &upd, nil
}

// ReviewPrepress sets the prepress overall status (HOD review outcome) and
// records it on the owning lifecycle.
func (o *Orchestrator) ReviewPrepress(ctx context.Context, prepressJobID string, status models.PrepressStatus, actor, notes string) (models.PrepressJob, *UpdateResult, error) {
	pj, err := o.prepress.UpdateOverallStatus(ctx, prepressJobID, status, actor, notes)
	if err != nil {
		return models.PrepressJob{}, nil, err
	}
	if !o.exists(ctx, pj.JobRef) {
		return pj, nil, nil
	}
	upd, err := o.RecordPrepressUpdate(ctx, pj.JobRef, status, "", actor, notes)
	if err != nil {
		return pj, nil, err
	}
	return pj, &upd, nil
}

// UpdateInventoryStatus sets the inventory job status and records it on the
// owning lifecycle, cascading when it is COMPLETED.
func (o *Orchestrator) UpdateInventoryStatus(ctx context.Context, inventoryJobID string, status models.InventoryStatus, actor, notes string) (models.InventoryJob, *UpdateResult, error) {
	inv, err := o.inventory.UpdateJobStatus(ctx, inventoryJobID, status, actor, notes)
	if err != nil {
		return models.InventoryJob{}, nil, err
	}
	if !o.exists(ctx, inv.JobRef) {
		return inv, nil, nil
	}
	upd, err := o.RecordInventoryUpdate(ctx, inv.JobRef, status, actor, notes)
	if err != nil {
		return inv, nil, err
	}
	return inv, &upd, nil
}

func (o *Orchestrator) record(ctx context.Context, u departmentUpdate) (UpdateResult, error) {
	op := "record_" + string(u.dept) + "_update"
	lc, _, err := o.write(ctx, op, u.jobRef, func(lc *models.JobLifecycle) (bool, error) {
		u.apply(lc)
		return true, nil
	})
	if err != nil {
		return UpdateResult{}, err
	}

	msg := fmt.Sprintf("%s status updated to %s", u.dept.DisplayName(), u.status)
	if u.category != "" {
		msg = fmt.Sprintf("%s %s status updated to %s", u.dept.DisplayName(), u.category, u.status)
	}
	if u.notes != "" {
		msg += ": " + u.notes
	}
	o.audit.Lifecycle(ctx, models.LifecycleHistoryEntry{
		LifecycleID: lc.ID,
		Status:      lc.Status,
		Message:     msg,
		ChangedBy:   u.actor,
	})

	complete, err := o.departmentComplete(ctx, u.dept, lc)
	if err != nil {
		return UpdateResult{}, err
	}

	payload := map[string]any{
		"lifecycleId": lc.ID,
		"department":  u.dept,
		"status":      u.status,
		"notes":       u.notes,
		"complete":    complete,
		"jobStatus":   lc.Status,
	}
	if u.category != "" {
		payload["category"] = u.category
	}
	o.events.Publish(ctx, events.Event{
		Type:    updateEvents[u.dept],
		Domain:  events.DomainFor(u.dept),
		JobRef:  lc.JobRef,
		Actor:   u.actor,
		Payload: payload,
	})

	res := UpdateResult{Lifecycle: lc, Complete: complete}
	if !complete {
		return res, nil
	}
	next, cascaded, err := o.cascadeFrom(ctx, u.dept, u.jobRef, u.actor)
	if err != nil {
		return UpdateResult{}, err
	}
	res.Lifecycle, res.Cascaded = next, cascaded
	return res, nil
}

// departmentComplete evaluates the completion predicate for dept. Prepress
// defers to the prepress manager; the others compare the recorded sub-status.
func (o *Orchestrator) departmentComplete(ctx context.Context, dept models.Department, lc models.JobLifecycle) (bool, error) {
	switch dept {
	case models.DeptPrepress:
		return o.prepress.IsComplete(ctx, lc.JobRef)
	case models.DeptInventory:
		return lc.InventoryStatus == models.InventoryCompleted, nil
	case models.DeptProduction:
		return lc.ProductionStatus == models.ProductionCompleted, nil
	case models.DeptQA:
		return lc.QAStatus == models.QACompleted, nil
	case models.DeptDispatch:
		return lc.DispatchStatus == models.DispatchCompleted, nil
	}
	return false, nil
}

// cascadeFrom runs the continuation that follows dept's completion.
func (o *Orchestrator) cascadeFrom(ctx context.Context, dept models.Department, jobRef, actor string) (models.JobLifecycle, bool, error) {
	var (
		lc      models.JobLifecycle
		changed bool
		err     error
	)
	switch dept {
	case models.DeptPrepress:
		lc, changed, err = o.assignToInventory(ctx, jobRef, actor, true)
	case models.DeptInventory:
		lc, changed, err = o.assignTo(ctx, models.DeptProduction, jobRef, actor, true)
	case models.DeptProduction:
		lc, changed, err = o.assignTo(ctx, models.DeptQA, jobRef, actor, true)
	case models.DeptQA:
		lc, changed, err = o.assignTo(ctx, models.DeptDispatch, jobRef, actor, true)
	case models.DeptDispatch:
		lc, changed, err = o.complete(ctx, jobRef, actor, true)
	default:
		return models.JobLifecycle{}, false, fmt.Errorf("no cascade after %q", dept)
	}
	if err != nil {
		return models.JobLifecycle{}, false, err
	}
	if changed {
		telemetry.Cascades.WithLabelValues(string(dept)).Inc()
		o.logger.Info("department cascade",
			"job_ref", jobRef, "from_department", dept, "status", lc.Status)
	}
	return lc, changed, nil
}

func (o *Orchestrator) exists(ctx context.Context, jobRef string) bool {
	_, err := o.store.GetLifecycleByJob(ctx, jobRef)
	return err == nil
}
