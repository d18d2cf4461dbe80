package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobflow/internal/models"
	"jobflow/internal/store"
)

type brokenHistory struct {
	*store.Memory
}

func (brokenHistory) AppendHistory(context.Context, models.LifecycleHistoryEntry) error {
	return errors.New("disk full")
}

func newTestRecorder(s store.HistoryStore) *Recorder {
	return NewRecorder(s, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRecorderAppendsInOrder(t *testing.T) {
	mem := store.NewMemory()
	r := newTestRecorder(mem)
	ctx := context.Background()

	for _, st := range []models.OverallStatus{models.StatusCreated, models.StatusAssignedToPrepress} {
		out := r.Lifecycle(ctx, models.LifecycleHistoryEntry{LifecycleID: "lc-1", Status: st, Message: string(st), ChangedBy: "u1"})
		require.True(t, out.OK())
		assert.NotEmpty(t, out.ID)
	}

	entries, err := r.History(ctx, "lc-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.StatusCreated, entries[0].Status)
	assert.Equal(t, models.StatusAssignedToPrepress, entries[1].Status)
}

func TestRecorderClampsBackwardClock(t *testing.T) {
	mem := store.NewMemory()
	r := newTestRecorder(mem)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(-time.Hour), base}
	i := 0
	r.now = func() time.Time {
		t := ticks[i]
		i++
		return t
	}

	var stamps []time.Time
	for range ticks {
		out := r.Prepress(ctx, models.Activity{OwnerID: "pp-1", ActivityType: "x", UserID: "u1"})
		require.True(t, out.OK())
		stamps = append(stamps, out.At)
	}
	for j := 1; j < len(stamps); j++ {
		assert.True(t, stamps[j].After(stamps[j-1]), "stamp %d not after %d", j, j-1)
	}

	acts, err := r.PrepressActivities(ctx, "pp-1")
	require.NoError(t, err)
	require.Len(t, acts, 3)
	assert.NotNil(t, acts[0].Metadata)
}

func TestRecorderClampIsPerOwner(t *testing.T) {
	r := newTestRecorder(store.NewMemory())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	a := r.Inventory(context.Background(), models.Activity{OwnerID: "inv-1"})
	b := r.Inventory(context.Background(), models.Activity{OwnerID: "inv-2"})
	assert.Equal(t, fixed, a.At)
	assert.Equal(t, fixed, b.At)
}

func TestRecorderFailureIsReportedNotReturned(t *testing.T) {
	r := newTestRecorder(brokenHistory{store.NewMemory()})
	out := r.Lifecycle(context.Background(), models.LifecycleHistoryEntry{LifecycleID: "lc-1", Status: models.StatusCreated})
	assert.False(t, out.OK())
	assert.EqualError(t, out.Err, "disk full")
	assert.Equal(t, LogLifecycle, out.Log)
}

func TestRecorderDropsIdleOwners(t *testing.T) {
	r := newTestRecorder(store.NewMemory())
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	r.now = func() time.Time { return clock }

	r.Prepress(ctx, models.Activity{OwnerID: "pp-1", ActivityType: "JOB_CREATED"})
	clock = base.Add(30 * time.Minute)
	r.Inventory(ctx, models.Activity{OwnerID: "inv-1", ActivityType: "JOB_CREATED"})
	require.Len(t, r.last, 2)

	clock = base.Add(80 * time.Minute)
	r.Lifecycle(ctx, models.LifecycleHistoryEntry{LifecycleID: "lc-1", Status: models.StatusCreated})
	assert.Len(t, r.last, 2, "pp-1 is idle past retention")
	_, kept := r.last[string(LogInventory)+"/inv-1"]
	assert.True(t, kept)

	r.Forget("inv-1")
	r.Forget("lc-1")
	assert.Empty(t, r.last)
}
