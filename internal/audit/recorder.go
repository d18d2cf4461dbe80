package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobflow/internal/models"
	"jobflow/internal/store"
	"jobflow/internal/telemetry"
)

// Log names one of the append-only logs kept by the recorder.
type Log string

const (
	LogLifecycle Log = "lifecycle_history"
	LogPrepress  Log = "prepress_activity"
	LogInventory Log = "inventory_activity"
)

// Outcome is the result of a best-effort append. Callers may inspect it but
// the failure has already been logged and counted.
type Outcome struct {
	Log     Log
	ID      string
	OwnerID string
	At      time.Time
	Err     error
}

// OK reports whether the entry was persisted.
func (o Outcome) OK() bool { return o.Err == nil }

// clampRetention is how long an owner's last stamp is remembered. Only a
// clock step backwards larger than this can reorder an idle owner's entries.
const clampRetention = time.Hour

// Recorder appends history and activity entries. Appends never fail from the
// caller's perspective, and timestamps never go backwards for an owner.
type Recorder struct {
	store  store.HistoryStore
	logger *slog.Logger
	now    func() time.Time
	retain time.Duration

	mu    sync.Mutex
	last  map[string]time.Time
	swept time.Time
}

func NewRecorder(s store.HistoryStore, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  s,
		logger: logger,
		now:    time.Now,
		retain: clampRetention,
		last:   make(map[string]time.Time),
	}
}

// Lifecycle appends a lifecycle history entry. ID and ChangedAt are assigned here.
func (r *Recorder) Lifecycle(ctx context.Context, e models.LifecycleHistoryEntry) Outcome {
	e.ID = uuid.New().String()
	e.ChangedAt = r.stamp(string(LogLifecycle), e.LifecycleID)
	err := r.store.AppendHistory(ctx, e)
	return r.finish(Outcome{Log: LogLifecycle, ID: e.ID, OwnerID: e.LifecycleID, At: e.ChangedAt, Err: err})
}

// Prepress appends a prepress activity row.
func (r *Recorder) Prepress(ctx context.Context, a models.Activity) Outcome {
	a = r.prepareActivity(LogPrepress, a)
	err := r.store.AppendPrepressActivity(ctx, a)
	return r.finish(Outcome{Log: LogPrepress, ID: a.ID, OwnerID: a.OwnerID, At: a.CreatedAt, Err: err})
}

// Inventory appends an inventory activity row.
func (r *Recorder) Inventory(ctx context.Context, a models.Activity) Outcome {
	a = r.prepareActivity(LogInventory, a)
	err := r.store.AppendInventoryActivity(ctx, a)
	return r.finish(Outcome{Log: LogInventory, ID: a.ID, OwnerID: a.OwnerID, At: a.CreatedAt, Err: err})
}

// History returns the lifecycle history for lifecycleID in append order.
func (r *Recorder) History(ctx context.Context, lifecycleID string) ([]models.LifecycleHistoryEntry, error) {
	entries, err := r.store.ListHistory(ctx, lifecycleID)
	if err != nil {
		return nil, models.Persistence("list_history", err)
	}
	return entries, nil
}

func (r *Recorder) PrepressActivities(ctx context.Context, prepressJobID string) ([]models.Activity, error) {
	out, err := r.store.ListPrepressActivities(ctx, prepressJobID)
	if err != nil {
		return nil, models.Persistence("list_prepress_activities", err)
	}
	return out, nil
}

func (r *Recorder) InventoryActivities(ctx context.Context, inventoryJobID string) ([]models.Activity, error) {
	out, err := r.store.ListInventoryActivities(ctx, inventoryJobID)
	if err != nil {
		return nil, models.Persistence("list_inventory_activities", err)
	}
	return out, nil
}

// Forget drops the clamp state for an owner that will not be written again.
func (r *Recorder) Forget(ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range []Log{LogLifecycle, LogPrepress, LogInventory} {
		delete(r.last, string(l)+"/"+ownerID)
	}
}

func (r *Recorder) prepareActivity(l Log, a models.Activity) models.Activity {
	a.ID = uuid.New().String()
	a.CreatedAt = r.stamp(string(l), a.OwnerID)
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}
	return a
}

// stamp returns the current time, bumped past the previous stamp for the
// same owner when the wall clock stepped backwards.
func (r *Recorder) stamp(log, ownerID string) time.Time {
	key := log + "/" + ownerID
	now := r.now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(now)
	if prev, ok := r.last[key]; ok && !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	r.last[key] = now
	return now
}

// sweepLocked drops owners idle for longer than the retention, at most once
// per retention period.
func (r *Recorder) sweepLocked(now time.Time) {
	if now.Sub(r.swept) < r.retain {
		return
	}
	cutoff := now.Add(-r.retain)
	for key, at := range r.last {
		if at.Before(cutoff) {
			delete(r.last, key)
		}
	}
	r.swept = now
}

func (r *Recorder) finish(o Outcome) Outcome {
	if o.Err != nil {
		telemetry.HistoryAppendFailure.WithLabelValues(string(o.Log)).Inc()
		r.logger.Warn("history append failed",
			"log", o.Log, "owner_id", o.OwnerID, "entry_id", o.ID, "error", o.Err)
	}
	return o
}
