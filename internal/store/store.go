package store

import (
	"context"
	"errors"
	"fmt"

	"jobflow/internal/models"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrVersionConflict = errors.New("version conflict")
)

// LifecycleFilter narrows ListLifecycles. Empty fields match everything.
type LifecycleFilter struct {
	Statuses []models.OverallStatus
	Priority models.JobPriority
	Limit    int
}

// NotificationFilter narrows ListNotifications.
type NotificationFilter struct {
	JobRef     string
	Recipient  string
	UnreadOnly bool
	Limit      int
}

// LifecycleStore persists JobLifecycle rows. UpdateLifecycle is a
// compare-and-swap on Version and returns the stored row with Version bumped.
type LifecycleStore interface {
	CreateLifecycle(ctx context.Context, lc models.JobLifecycle) (models.JobLifecycle, error)
	GetLifecycleByJob(ctx context.Context, jobRef string) (models.JobLifecycle, error)
	UpdateLifecycle(ctx context.Context, lc models.JobLifecycle, expectedVersion int64) (models.JobLifecycle, error)
	ListLifecycles(ctx context.Context, f LifecycleFilter) ([]models.JobLifecycle, error)
	CountLifecyclesByStatus(ctx context.Context) (map[models.OverallStatus]int, error)
}

// HistoryStore is the append-only audit log. List methods return entries in
// append order.
type HistoryStore interface {
	AppendHistory(ctx context.Context, e models.LifecycleHistoryEntry) error
	ListHistory(ctx context.Context, lifecycleID string) ([]models.LifecycleHistoryEntry, error)
	AppendPrepressActivity(ctx context.Context, a models.Activity) error
	ListPrepressActivities(ctx context.Context, prepressJobID string) ([]models.Activity, error)
	AppendInventoryActivity(ctx context.Context, a models.Activity) error
	ListInventoryActivities(ctx context.Context, inventoryJobID string) ([]models.Activity, error)
}

// PrepressStore persists PrepressJob rows; UpdatePrepressJob is version checked.
type PrepressStore interface {
	CreatePrepressJob(ctx context.Context, j models.PrepressJob) (models.PrepressJob, error)
	GetPrepressJob(ctx context.Context, id string) (models.PrepressJob, error)
	GetPrepressJobByJobRef(ctx context.Context, jobRef string) (models.PrepressJob, error)
	UpdatePrepressJob(ctx context.Context, j models.PrepressJob, expectedVersion int64) (models.PrepressJob, error)
}

// InventoryStore persists inventory jobs and their material requests.
type InventoryStore interface {
	CreateInventoryJob(ctx context.Context, j models.InventoryJob) (models.InventoryJob, error)
	GetInventoryJob(ctx context.Context, id string) (models.InventoryJob, error)
	GetInventoryJobByJobRef(ctx context.Context, jobRef string) (models.InventoryJob, error)
	UpdateInventoryJob(ctx context.Context, j models.InventoryJob, expectedVersion int64) (models.InventoryJob, error)
	CreateMaterialRequest(ctx context.Context, r models.MaterialRequest) (models.MaterialRequest, error)
	GetMaterialRequest(ctx context.Context, id string) (models.MaterialRequest, error)
	UpdateMaterialRequest(ctx context.Context, r models.MaterialRequest, expectedVersion int64) (models.MaterialRequest, error)
	ListMaterialRequests(ctx context.Context, inventoryJobID string) ([]models.MaterialRequest, error)
}

// NotificationStore persists notifications. Only the read flag is mutable.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n models.Notification) error
	ListNotifications(ctx context.Context, f NotificationFilter) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

// Store is the full persistence surface used by the API process.
type Store interface {
	LifecycleStore
	HistoryStore
	PrepressStore
	InventoryStore
	NotificationStore
	Close()
}

// Open returns the backend named by kind ("memory" or "postgres"). The
// Postgres backend is migrated before it is returned.
func Open(ctx context.Context, kind, dsn string) (Store, error) {
	switch kind {
	case "memory":
		return NewMemory(), nil
	case "postgres", "":
		pg, err := NewPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := pg.RunMigrations(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return pg, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", kind)
}
