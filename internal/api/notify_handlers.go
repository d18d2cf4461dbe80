package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"jobflow/internal/models"
	"jobflow/internal/store"
)

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	f := store.NotificationFilter{
		JobRef:     q.Get("job_ref"),
		Recipient:  q.Get("recipient"),
		UnreadOnly: q.Get("unread") == "true",
		Limit:      limit,
	}
	out, err := s.core.Notify.List(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.core.Notify.MarkRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

type alertRequest struct {
	JobRef            string           `json:"job_ref"`
	Recipients        []string         `json:"recipients"`
	DueDate           *time.Time       `json:"due_date"`
	DaysRemaining     *int             `json:"days_remaining"`
	MaterialRef       string           `json:"material_ref"`
	QuantityRequested *decimal.Decimal `json:"quantity_requested"`
	QuantityApproved  *decimal.Decimal `json:"quantity_approved"`
	Unit              string           `json:"unit"`
	Issue             string           `json:"issue"`
	Equipment         string           `json:"equipment"`
	Details           string           `json:"details"`
}

// handleAlert raises one of the dedicated alerts. Every kind except
// equipment_down needs a job.
func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req alertRequest
	if !decode(w, r, &req) {
		return
	}
	kind := chi.URLParam(r, "kind")
	if kind != "equipment_down" && req.JobRef == "" {
		s.fail(w, r, models.Validation("raise_alert", "job_ref is required"))
		return
	}
	ctx, d := r.Context(), s.core.Notify
	switch kind {
	case "job_overdue":
		if req.DueDate == nil {
			s.fail(w, r, models.Validation("raise_alert", "due_date is required"))
			return
		}
		d.JobOverdue(ctx, req.JobRef, *req.DueDate, actor, req.Recipients...)
	case "deadline_risk":
		if req.DueDate == nil {
			s.fail(w, r, models.Validation("raise_alert", "due_date is required"))
			return
		}
		days := int(time.Until(*req.DueDate).Hours() / 24)
		if req.DaysRemaining != nil {
			days = *req.DaysRemaining
		}
		d.DeadlineRisk(ctx, req.JobRef, *req.DueDate, days, actor, req.Recipients...)
	case "material_shortage":
		if req.MaterialRef == "" || req.QuantityRequested == nil || req.QuantityApproved == nil {
			s.fail(w, r, models.Validation("raise_alert", "material_ref, quantity_requested and quantity_approved are required"))
			return
		}
		d.MaterialShortage(ctx, req.JobRef, req.MaterialRef, req.QuantityRequested.String(), req.QuantityApproved.String(), req.Unit, actor, req.Recipients...)
	case "quality_issue":
		if req.Issue == "" {
			s.fail(w, r, models.Validation("raise_alert", "issue is required"))
			return
		}
		d.QualityIssue(ctx, req.JobRef, req.Issue, actor, req.Recipients...)
	case "equipment_down":
		if req.Equipment == "" {
			s.fail(w, r, models.Validation("raise_alert", "equipment is required"))
			return
		}
		d.EquipmentDown(ctx, req.JobRef, req.Equipment, req.Details, actor, req.Recipients...)
	default:
		s.fail(w, r, models.NotFound("raise_alert", "unknown alert kind "+kind))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "raised"})
}
