package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"jobflow/internal/inventory"
	"jobflow/internal/lifecycle"
	"jobflow/internal/models"
	"jobflow/internal/prepress"
)

type createSubJobRequest struct {
	JobRef     string     `json:"job_ref"`
	DesignerID string     `json:"designer_id"`
	AssignedTo string     `json:"assigned_to"`
	Priority   string     `json:"priority"`
	DueDate    *time.Time `json:"due_date"`
}

// subworkflowResponse pairs a sub-workflow result with the lifecycle update it
// caused, if the job has a lifecycle.
type subworkflowResponse struct {
	Result    any                     `json:"result"`
	Lifecycle *lifecycle.UpdateResult `json:"lifecycle,omitempty"`
}

func (s *Server) handleCreatePrepressJob(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createSubJobRequest
	if !decode(w, r, &req) {
		return
	}
	priority, err := models.ParseJobPriority(req.Priority)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.core.Prepress.CreateJob(r.Context(), prepress.CreateParams{
		JobRef:     req.JobRef,
		DesignerID: req.DesignerID,
		Priority:   priority,
		DueDate:    req.DueDate,
		CreatedBy:  actor,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetPrepressJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.core.Prepress.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleAssignDesigner(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req struct {
		DesignerID string `json:"designer_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	job, err := s.core.Prepress.AssignDesigner(r.Context(), chi.URLParam(r, "id"), req.DesignerID, actor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// categoriesRequest accepts either a batch or a single category update.
type categoriesRequest struct {
	Updates []prepress.CategoryUpdate `json:"updates"`
	prepress.CategoryUpdate
}

func (s *Server) handleUpdateCategories(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req categoriesRequest
	if !decode(w, r, &req) {
		return
	}
	updates := req.Updates
	if len(updates) == 0 && req.Category != "" {
		updates = []prepress.CategoryUpdate{req.CategoryUpdate}
	}
	for i, u := range updates {
		c, err := models.ParsePrepressCategory(string(u.Category))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		st, err := models.ParsePrepressStatus(string(u.Status))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		updates[i].Category, updates[i].Status = c, st
	}
	res, upd, err := s.core.Lifecycle.UpdatePrepressCategories(r.Context(), chi.URLParam(r, "id"), updates, actor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subworkflowResponse{Result: res, Lifecycle: upd})
}

type statusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

func (s *Server) handlePrepressStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	status, err := models.ParsePrepressStatus(req.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	job, upd, err := s.core.Lifecycle.ReviewPrepress(r.Context(), chi.URLParam(r, "id"), status, actor, req.Notes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subworkflowResponse{Result: job, Lifecycle: upd})
}

func (s *Server) handlePrepressActivities(w http.ResponseWriter, r *http.Request) {
	out, err := s.core.Prepress.Activities(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) handleCreateInventoryJob(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createSubJobRequest
	if !decode(w, r, &req) {
		return
	}
	priority, err := models.ParseJobPriority(req.Priority)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.core.Inventory.CreateJob(r.Context(), inventory.CreateParams{
		JobRef:     req.JobRef,
		AssignedTo: req.AssignedTo,
		Priority:   priority,
		DueDate:    req.DueDate,
		CreatedBy:  actor,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetInventoryJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.core.Inventory.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	agg, err := s.core.Inventory.AggregateStatus(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job, "aggregate_status": agg})
}

func (s *Server) handleInventoryStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	status, err := models.ParseInventoryStatus(req.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	job, upd, err := s.core.Lifecycle.UpdateInventoryStatus(r.Context(), chi.URLParam(r, "id"), status, actor, req.Notes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subworkflowResponse{Result: job, Lifecycle: upd})
}

type materialRequestBody struct {
	MaterialRef string          `json:"material_ref"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit"`
	Notes       string          `json:"notes"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req materialRequestBody
	if !decode(w, r, &req) {
		return
	}
	mr, err := s.core.Inventory.CreateMaterialRequest(r.Context(), chi.URLParam(r, "id"),
		req.MaterialRef, req.Quantity, req.Unit, actor, req.Notes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mr)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	out, err := s.core.Inventory.ListRequests(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) handleInventoryActivities(w http.ResponseWriter, r *http.Request) {
	out, err := s.core.Inventory.Activities(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) handleApproveRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req struct {
		ApprovedQuantity *decimal.Decimal `json:"approved_quantity"`
		Notes            string           `json:"notes"`
	}
	if !decode(w, r, &req) {
		return
	}
	mr, err := s.core.Inventory.ApproveMaterialRequest(r.Context(), chi.URLParam(r, "id"), actor, req.ApprovedQuantity, req.Notes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mr)
}

func (s *Server) handleIssueMaterials(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req struct {
		Quantity decimal.Decimal `json:"quantity"`
		Notes    string          `json:"notes"`
	}
	if !decode(w, r, &req) {
		return
	}
	mr, err := s.core.Inventory.IssueMaterials(r.Context(), chi.URLParam(r, "id"), req.Quantity, actor, req.Notes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mr)
}

func (s *Server) handleStartProcurement(w http.ResponseWriter, r *http.Request) {
	s.procurement(w, r, s.core.Inventory.StartProcurement)
}

func (s *Server) handleCompleteProcurement(w http.ResponseWriter, r *http.Request) {
	s.procurement(w, r, s.core.Inventory.CompleteProcurement)
}

func (s *Server) procurement(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id, actor, notes string) (models.MaterialRequest, error)) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if !decode(w, r, &req) {
		return
	}
	mr, err := op(r.Context(), chi.URLParam(r, "id"), actor, req.Notes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mr)
}
