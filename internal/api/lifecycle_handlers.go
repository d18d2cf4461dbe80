package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"jobflow/internal/lifecycle"
	"jobflow/internal/models"
)

type createLifecycleRequest struct {
	JobRef      string     `json:"job_ref"`
	ProductType string     `json:"product_type"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
}

func (s *Server) handleCreateLifecycle(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createLifecycleRequest
	if !decode(w, r, &req) {
		return
	}
	priority, err := models.ParseJobPriority(req.Priority)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	lc, err := s.core.Lifecycle.CreateLifecycle(r.Context(), lifecycle.CreateParams{
		JobRef:      req.JobRef,
		ProductType: req.ProductType,
		CreatedBy:   actor,
		Priority:    priority,
		DueDate:     req.DueDate,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lc)
}

func (s *Server) handleListLifecycles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f lifecycle.Filter
	var err error
	if v := q.Get("status"); v != "" {
		if f.Status, err = models.ParseOverallStatus(v); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if v := q.Get("priority"); v != "" {
		if f.Priority, err = models.ParseJobPriority(v); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if v := q.Get("department"); v != "" {
		if f.Department, err = models.ParseDepartment(v); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := s.core.Lifecycle.List(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) handleGetLifecycle(w http.ResponseWriter, r *http.Request) {
	lc, err := s.core.Lifecycle.GetByJob(r.Context(), chi.URLParam(r, "jobRef"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lc)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.core.Lifecycle.History(r.Context(), chi.URLParam(r, "jobRef"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

type assignPrepressRequest struct {
	PrepressJobID string `json:"prepress_job_id"`
	DesignerID    string `json:"designer_id"`
}

func (s *Server) handleAssignPrepress(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req assignPrepressRequest
	if !decode(w, r, &req) {
		return
	}
	lc, err := s.core.Lifecycle.AssignToPrepress(r.Context(), lifecycle.AssignPrepressParams{
		JobRef:        chi.URLParam(r, "jobRef"),
		PrepressJobID: req.PrepressJobID,
		DesignerID:    req.DesignerID,
		Actor:         actor,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lc)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	dept, err := models.ParseDepartment(chi.URLParam(r, "dept"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if dept == models.DeptPrepress {
		s.handleAssignPrepress(w, r)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	ctx, jobRef := r.Context(), chi.URLParam(r, "jobRef")
	var lc models.JobLifecycle
	switch dept {
	case models.DeptInventory:
		lc, err = s.core.Lifecycle.AssignToInventory(ctx, jobRef, actor)
	case models.DeptProduction:
		lc, err = s.core.Lifecycle.AssignToProduction(ctx, jobRef, actor)
	case models.DeptQA:
		lc, err = s.core.Lifecycle.AssignToQA(ctx, jobRef, actor)
	case models.DeptDispatch:
		lc, err = s.core.Lifecycle.AssignToDispatch(ctx, jobRef, actor)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lc)
}

type recordUpdateRequest struct {
	Status   string `json:"status"`
	Category string `json:"category"`
	Notes    string `json:"notes"`
}

func (s *Server) handleRecordUpdate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	dept, err := models.ParseDepartment(chi.URLParam(r, "dept"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req recordUpdateRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, jobRef := r.Context(), chi.URLParam(r, "jobRef")

	var res lifecycle.UpdateResult
	switch dept {
	case models.DeptPrepress:
		var status models.PrepressStatus
		if status, err = models.ParsePrepressStatus(req.Status); err != nil {
			break
		}
		var category models.PrepressCategory
		if req.Category != "" {
			if category, err = models.ParsePrepressCategory(req.Category); err != nil {
				break
			}
		}
		res, err = s.core.Lifecycle.RecordPrepressUpdate(ctx, jobRef, status, category, actor, req.Notes)
	case models.DeptInventory:
		var status models.InventoryStatus
		if status, err = models.ParseInventoryStatus(req.Status); err != nil {
			break
		}
		res, err = s.core.Lifecycle.RecordInventoryUpdate(ctx, jobRef, status, actor, req.Notes)
	case models.DeptProduction:
		var status models.ProductionStatus
		if status, err = models.ParseProductionStatus(req.Status); err != nil {
			break
		}
		res, err = s.core.Lifecycle.RecordProductionUpdate(ctx, jobRef, status, actor, req.Notes)
	case models.DeptQA:
		var status models.QAStatus
		if status, err = models.ParseQAStatus(req.Status); err != nil {
			break
		}
		res, err = s.core.Lifecycle.RecordQAUpdate(ctx, jobRef, status, actor, req.Notes)
	case models.DeptDispatch:
		var status models.DispatchStatus
		if status, err = models.ParseDispatchStatus(req.Status); err != nil {
			break
		}
		res, err = s.core.Lifecycle.RecordDispatchUpdate(ctx, jobRef, status, actor, req.Notes)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	lc, err := s.core.Lifecycle.CompleteJob(r.Context(), chi.URLParam(r, "jobRef"), actor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lc)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleHold(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !decode(w, r, &req) {
		return
	}
	lc, err := s.core.Lifecycle.HoldJob(r.Context(), chi.URLParam(r, "jobRef"), actor, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lc)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	res, err := s.core.Lifecycle.ResumeJob(r.Context(), chi.URLParam(r, "jobRef"), actor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !decode(w, r, &req) {
		return
	}
	lc, err := s.core.Lifecycle.CancelJob(r.Context(), chi.URLParam(r, "jobRef"), actor, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lc)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.core.Lifecycle.Dashboard(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
