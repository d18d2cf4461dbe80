package lifecycle

import (
	"context"

	"jobflow/internal/models"
	"jobflow/internal/store"
)

// Filter narrows List. Status and Department combine as an intersection.
type Filter struct {
	Status     models.OverallStatus
	Priority   models.JobPriority
	Department models.Department
	Limit      int
}

// Dashboard holds aggregate lifecycle counts.
type Dashboard struct {
	Total        int                          `json:"total"`
	ByStatus     map[models.OverallStatus]int `json:"by_status"`
	ByDepartment map[models.Department]int    `json:"by_department"`
	Active       int                          `json:"active"`
}

func (o *Orchestrator) GetByJob(ctx context.Context, jobRef string) (models.JobLifecycle, error) {
	lc, err := o.store.GetLifecycleByJob(ctx, jobRef)
	if err != nil {
		return models.JobLifecycle{}, lookupError("get_lifecycle", jobRef, err)
	}
	return lc, nil
}

func (o *Orchestrator) List(ctx context.Context, f Filter) ([]models.JobLifecycle, error) {
	sf := store.LifecycleFilter{Priority: f.Priority, Limit: f.Limit}
	switch {
	case f.Status != "" && f.Department != "":
		if f.Status.Department() != f.Department {
			return []models.JobLifecycle{}, nil
		}
		sf.Statuses = []models.OverallStatus{f.Status}
	case f.Status != "":
		sf.Statuses = []models.OverallStatus{f.Status}
	case f.Department != "":
		sf.Statuses = f.Department.Statuses()
	}
	out, err := o.store.ListLifecycles(ctx, sf)
	if err != nil {
		return nil, models.Persistence("list_lifecycles", err)
	}
	if out == nil {
		out = []models.JobLifecycle{}
	}
	return out, nil
}

// History returns the job's lifecycle history in append order.
func (o *Orchestrator) History(ctx context.Context, jobRef string) ([]models.LifecycleHistoryEntry, error) {
	lc, err := o.GetByJob(ctx, jobRef)
	if err != nil {
		return nil, err
	}
	entries, err := o.audit.History(ctx, lc.ID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.LifecycleHistoryEntry{}
	}
	return entries, nil
}

// Dashboard counts lifecycles per status and per department bucket. Every
// status and department is present, zero-filled.
func (o *Orchestrator) Dashboard(ctx context.Context) (Dashboard, error) {
	counts, err := o.store.CountLifecyclesByStatus(ctx)
	if err != nil {
		return Dashboard{}, models.Persistence("dashboard", err)
	}
	d := Dashboard{
		ByStatus:     make(map[models.OverallStatus]int, len(models.AllOverallStatuses)),
		ByDepartment: make(map[models.Department]int, len(models.AllDepartments)),
	}
	for _, s := range models.AllOverallStatuses {
		d.ByStatus[s] = 0
	}
	for _, dept := range models.AllDepartments {
		d.ByDepartment[dept] = 0
	}
	for s, n := range counts {
		d.ByStatus[s] += n
		d.Total += n
		if dept := s.Department(); dept != "" {
			d.ByDepartment[dept] += n
		}
		if !s.Terminal() {
			d.Active += n
		}
	}
	return d, nil
}
