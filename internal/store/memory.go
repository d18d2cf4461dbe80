package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"jobflow/internal/models"
)

// Memory is a mutex-guarded in-process Store used for local development and tests.
type Memory struct {
	mu sync.RWMutex

	lifecycles    map[string]models.JobLifecycle // by job ref
	history       map[string][]models.LifecycleHistoryEntry
	prepressJobs  map[string]models.PrepressJob
	prepressByRef map[string]string
	prepressLog   map[string][]models.Activity
	inventoryJobs map[string]models.InventoryJob
	inventoryRef  map[string]string
	inventoryLog  map[string][]models.Activity
	requests      map[string]models.MaterialRequest
	requestOrder  []string
	notifications []models.Notification
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		lifecycles:    make(map[string]models.JobLifecycle),
		history:       make(map[string][]models.LifecycleHistoryEntry),
		prepressJobs:  make(map[string]models.PrepressJob),
		prepressByRef: make(map[string]string),
		prepressLog:   make(map[string][]models.Activity),
		inventoryJobs: make(map[string]models.InventoryJob),
		inventoryRef:  make(map[string]string),
		inventoryLog:  make(map[string][]models.Activity),
		requests:      make(map[string]models.MaterialRequest),
	}
}

func (m *Memory) Close() {}

func (m *Memory) CreateLifecycle(_ context.Context, lc models.JobLifecycle) (models.JobLifecycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lifecycles[lc.JobRef]; ok {
		return models.JobLifecycle{}, fmt.Errorf("lifecycle %s: %w", lc.JobRef, ErrAlreadyExists)
	}
	lc.Version = 1
	m.lifecycles[lc.JobRef] = lc
	return lc, nil
}

func (m *Memory) GetLifecycleByJob(_ context.Context, jobRef string) (models.JobLifecycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lc, ok := m.lifecycles[jobRef]
	if !ok {
		return models.JobLifecycle{}, fmt.Errorf("lifecycle %s: %w", jobRef, ErrNotFound)
	}
	return lc, nil
}

func (m *Memory) UpdateLifecycle(_ context.Context, lc models.JobLifecycle, expectedVersion int64) (models.JobLifecycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.lifecycles[lc.JobRef]
	if !ok {
		return models.JobLifecycle{}, fmt.Errorf("lifecycle %s: %w", lc.JobRef, ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return models.JobLifecycle{}, fmt.Errorf("lifecycle %s at version %d: %w", lc.JobRef, cur.Version, ErrVersionConflict)
	}
	lc.ID = cur.ID
	lc.CreatedAt = cur.CreatedAt
	lc.Version = expectedVersion + 1
	m.lifecycles[lc.JobRef] = lc
	return lc, nil
}

func (m *Memory) ListLifecycles(_ context.Context, f LifecycleFilter) ([]models.JobLifecycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	statuses := make(map[models.OverallStatus]bool, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses[s] = true
	}
	out := make([]models.JobLifecycle, 0, len(m.lifecycles))
	for _, lc := range m.lifecycles {
		if len(statuses) > 0 && !statuses[lc.Status] {
			continue
		}
		if f.Priority != "" && lc.Priority != f.Priority {
			continue
		}
		out = append(out, lc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) CountLifecyclesByStatus(_ context.Context) (map[models.OverallStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[models.OverallStatus]int)
	for _, lc := range m.lifecycles {
		out[lc.Status]++
	}
	return out, nil
}

func (m *Memory) AppendHistory(_ context.Context, e models.LifecycleHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[e.LifecycleID] = append(m.history[e.LifecycleID], e)
	return nil
}

func (m *Memory) ListHistory(_ context.Context, lifecycleID string) ([]models.LifecycleHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.LifecycleHistoryEntry(nil), m.history[lifecycleID]...), nil
}

func (m *Memory) AppendPrepressActivity(_ context.Context, a models.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prepressLog[a.OwnerID] = append(m.prepressLog[a.OwnerID], a)
	return nil
}

func (m *Memory) ListPrepressActivities(_ context.Context, prepressJobID string) ([]models.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Activity(nil), m.prepressLog[prepressJobID]...), nil
}

func (m *Memory) AppendInventoryActivity(_ context.Context, a models.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inventoryLog[a.OwnerID] = append(m.inventoryLog[a.OwnerID], a)
	return nil
}

func (m *Memory) ListInventoryActivities(_ context.Context, inventoryJobID string) ([]models.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Activity(nil), m.inventoryLog[inventoryJobID]...), nil
}

func (m *Memory) CreatePrepressJob(_ context.Context, j models.PrepressJob) (models.PrepressJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.prepressJobs[j.ID]; ok {
		return models.PrepressJob{}, fmt.Errorf("prepress job %s: %w", j.ID, ErrAlreadyExists)
	}
	if _, ok := m.prepressByRef[j.JobRef]; ok {
		return models.PrepressJob{}, fmt.Errorf("prepress job for %s: %w", j.JobRef, ErrAlreadyExists)
	}
	j.Version = 1
	m.prepressJobs[j.ID] = j
	m.prepressByRef[j.JobRef] = j.ID
	return j, nil
}

func (m *Memory) GetPrepressJob(_ context.Context, id string) (models.PrepressJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.prepressJobs[id]
	if !ok {
		return models.PrepressJob{}, fmt.Errorf("prepress job %s: %w", id, ErrNotFound)
	}
	return j, nil
}

func (m *Memory) GetPrepressJobByJobRef(_ context.Context, jobRef string) (models.PrepressJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.prepressByRef[jobRef]
	if !ok {
		return models.PrepressJob{}, fmt.Errorf("prepress job for %s: %w", jobRef, ErrNotFound)
	}
	return m.prepressJobs[id], nil
}

func (m *Memory) UpdatePrepressJob(_ context.Context, j models.PrepressJob, expectedVersion int64) (models.PrepressJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.prepressJobs[j.ID]
	if !ok {
		return models.PrepressJob{}, fmt.Errorf("prepress job %s: %w", j.ID, ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return models.PrepressJob{}, fmt.Errorf("prepress job %s at version %d: %w", j.ID, cur.Version, ErrVersionConflict)
	}
	j.JobRef = cur.JobRef
	j.CreatedAt = cur.CreatedAt
	j.Version = expectedVersion + 1
	m.prepressJobs[j.ID] = j
	return j, nil
}

func (m *Memory) CreateInventoryJob(_ context.Context, j models.InventoryJob) (models.InventoryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inventoryRef[j.JobRef]; ok {
		return models.InventoryJob{}, fmt.Errorf("inventory job for %s: %w", j.JobRef, ErrAlreadyExists)
	}
	j.Version = 1
	m.inventoryJobs[j.ID] = j
	m.inventoryRef[j.JobRef] = j.ID
	return j, nil
}

func (m *Memory) GetInventoryJob(_ context.Context, id string) (models.InventoryJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.inventoryJobs[id]
	if !ok {
		return models.InventoryJob{}, fmt.Errorf("inventory job %s: %w", id, ErrNotFound)
	}
	return j, nil
}

func (m *Memory) GetInventoryJobByJobRef(_ context.Context, jobRef string) (models.InventoryJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.inventoryRef[jobRef]
	if !ok {
		return models.InventoryJob{}, fmt.Errorf("inventory job for %s: %w", jobRef, ErrNotFound)
	}
	return m.inventoryJobs[id], nil
}

func (m *Memory) UpdateInventoryJob(_ context.Context, j models.InventoryJob, expectedVersion int64) (models.InventoryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.inventoryJobs[j.ID]
	if !ok {
		return models.InventoryJob{}, fmt.Errorf("inventory job %s: %w", j.ID, ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return models.InventoryJob{}, fmt.Errorf("inventory job %s at version %d: %w", j.ID, cur.Version, ErrVersionConflict)
	}
	j.JobRef = cur.JobRef
	j.CreatedAt = cur.CreatedAt
	j.Version = expectedVersion + 1
	m.inventoryJobs[j.ID] = j
	return j, nil
}

func (m *Memory) CreateMaterialRequest(_ context.Context, r models.MaterialRequest) (models.MaterialRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inventoryJobs[r.InventoryJobID]; !ok {
		return models.MaterialRequest{}, fmt.Errorf("inventory job %s: %w", r.InventoryJobID, ErrNotFound)
	}
	r.Version = 1
	m.requests[r.ID] = r
	m.requestOrder = append(m.requestOrder, r.ID)
	return r, nil
}

func (m *Memory) GetMaterialRequest(_ context.Context, id string) (models.MaterialRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return models.MaterialRequest{}, fmt.Errorf("material request %s: %w", id, ErrNotFound)
	}
	return r, nil
}

func (m *Memory) UpdateMaterialRequest(_ context.Context, r models.MaterialRequest, expectedVersion int64) (models.MaterialRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.requests[r.ID]
	if !ok {
		return models.MaterialRequest{}, fmt.Errorf("material request %s: %w", r.ID, ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return models.MaterialRequest{}, fmt.Errorf("material request %s at version %d: %w", r.ID, cur.Version, ErrVersionConflict)
	}
	r.InventoryJobID = cur.InventoryJobID
	r.CreatedAt = cur.CreatedAt
	r.Version = expectedVersion + 1
	m.requests[r.ID] = r
	return r, nil
}

func (m *Memory) ListMaterialRequests(_ context.Context, inventoryJobID string) ([]models.MaterialRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.MaterialRequest
	for _, id := range m.requestOrder {
		if r := m.requests[id]; r.InventoryJobID == inventoryJobID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) CreateNotification(_ context.Context, n models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *Memory) ListNotifications(_ context.Context, f NotificationFilter) ([]models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if f.JobRef != "" && (n.JobRef == nil || *n.JobRef != f.JobRef) {
			continue
		}
		if f.Recipient != "" && !contains(n.Recipients, f.Recipient) {
			continue
		}
		if f.UnreadOnly && n.IsRead {
			continue
		}
		out = append(out, n)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkNotificationRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications {
		if m.notifications[i].ID == id {
			m.notifications[i].IsRead = true
			return nil
		}
	}
	return fmt.Errorf("notification %s: %w", id, ErrNotFound)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
