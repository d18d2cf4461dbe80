package prepress

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobflow/internal/audit"
	"jobflow/internal/events"
	"jobflow/internal/models"
	"jobflow/internal/store"
)

type captured struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captured) Publish(_ context.Context, e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captured) count(t events.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func newTestManager(t *testing.T) (*Manager, *captured, *store.Memory) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := store.NewMemory()
	pub := &captured{}
	return NewManager(mem, audit.NewRecorder(mem, logger), pub, logger, 3), pub, mem
}

func TestCreateJobInitialState(t *testing.T) {
	m, pub, _ := newTestManager(t)
	ctx := context.Background()

	job, err := m.CreateJob(ctx, CreateParams{JobRef: "JC-1", CreatedBy: "u1"})
	require.NoError(t, err)
	assert.Equal(t, models.PrepressPending, job.OverallStatus)
	assert.Equal(t, models.PrepressPending, job.DesignStatus)
	assert.Equal(t, models.PrepressPending, job.DiePlateStatus)
	assert.Equal(t, models.PrepressPending, job.OtherStatus)
	assert.Equal(t, models.PriorityNormal, job.Priority)
	assert.Nil(t, job.AssignedDesignerID)
	assert.Equal(t, 1, pub.count(events.PrepressJobCreated))

	withDesigner, err := m.CreateJob(ctx, CreateParams{JobRef: "JC-2", DesignerID: "designer-9", CreatedBy: "u1"})
	require.NoError(t, err)
	assert.Equal(t, models.PrepressAssigned, withDesigner.OverallStatus)
	require.NotNil(t, withDesigner.AssignedDesignerID)
	assert.Equal(t, "designer-9", *withDesigner.AssignedDesignerID)

	_, err = m.CreateJob(ctx, CreateParams{JobRef: "JC-1", CreatedBy: "u1"})
	assert.True(t, models.IsKind(err, models.KindConflict))
}

func TestAssignDesigner(t *testing.T) {
	m, pub, _ := newTestManager(t)
	ctx := context.Background()
	job, err := m.CreateJob(ctx, CreateParams{JobRef: "JC-1", CreatedBy: "u1"})
	require.NoError(t, err)

	job, err = m.AssignDesigner(ctx, job.ID, "designer-9", "u1")
	require.NoError(t, err)
	assert.Equal(t, models.PrepressAssigned, job.OverallStatus)
	require.NotNil(t, job.AssignedAt)
	assert.Equal(t, 1, pub.count(events.PrepressDesignerAssigned))

	_, err = m.AssignDesigner(ctx, "missing", "designer-9", "u1")
	assert.True(t, models.IsKind(err, models.KindNotFound))
}

func TestCategoryCompletionElevatesOnce(t *testing.T) {
	m, pub, _ := newTestManager(t)
	ctx := context.Background()
	job, err := m.CreateJob(ctx, CreateParams{JobRef: "JC-1", CreatedBy: "u1"})
	require.NoError(t, err)

	res, err := m.UpdateCategoryStatus(ctx, job.ID, models.CategoryDiePlate, models.PrepressDiePlateCompleted, "u1", "")
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.False(t, res.Elevated)

	res, err = m.UpdateCategoryStatus(ctx, job.ID, models.CategoryDesign, models.PrepressDesignCompleted, "u1", "final art")
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.True(t, res.Elevated)
	assert.Equal(t, models.PrepressHODReview, res.Job.OverallStatus)
	assert.Equal(t, "final art", res.Job.DesignNotes)
	assert.Equal(t, models.PrepressPending, res.Job.OtherStatus)

	// Re-completing a category does not elevate again.
	res, err = m.UpdateCategoryStatus(ctx, job.ID, models.CategoryDesign, models.PrepressDesignCompleted, "u1", "")
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.False(t, res.Elevated)
	assert.Equal(t, 1, pub.count(events.PrepressHODReview))
}

func TestCategoryBatchElevatesOnce(t *testing.T) {
	m, pub, _ := newTestManager(t)
	ctx := context.Background()
	job, err := m.CreateJob(ctx, CreateParams{JobRef: "JC-1", CreatedBy: "u1"})
	require.NoError(t, err)

	res, err := m.UpdateCategoryStatuses(ctx, job.ID, []CategoryUpdate{
		{Category: models.CategoryDesign, Status: models.PrepressDesignCompleted},
		{Category: models.CategoryDiePlate, Status: models.PrepressDiePlateCompleted},
	}, "u1")
	require.NoError(t, err)
	assert.True(t, res.Elevated)
	assert.Equal(t, 1, pub.count(events.PrepressHODReview))
	assert.Equal(t, 2, pub.count(events.PrepressCategoryUpdated))

	acts, err := m.Activities(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, acts, 2) // created + one batch update
	assert.Equal(t, "CATEGORY_STATUS_UPDATED", acts[1].ActivityType)
}

func TestCategoryMembershipIsTheOnlyRule(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	job, err := m.CreateJob(ctx, CreateParams{JobRef: "JC-1", CreatedBy: "u1"})
	require.NoError(t, err)

	_, err = m.UpdateCategoryStatus(ctx, job.ID, models.CategoryDesign, models.PrepressDiePlateStarted, "u1", "")
	assert.True(t, models.IsKind(err, models.KindInvalidTransition))

	_, err = m.UpdateCategoryStatus(ctx, job.ID, models.CategoryDesign, models.PrepressHODReview, "u1", "")
	assert.True(t, models.IsKind(err, models.KindInvalidTransition))

	// Skipping ahead and regressing are both permitted.
	_, err = m.UpdateCategoryStatus(ctx, job.ID, models.CategoryOther, models.PrepressOtherCompleted, "u1", "")
	require.NoError(t, err)
	res, err := m.UpdateCategoryStatus(ctx, job.ID, models.CategoryOther, models.PrepressPending, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, models.PrepressPending, res.Job.OtherStatus)

	_, err = m.UpdateCategoryStatuses(ctx, job.ID, nil, "u1")
	assert.True(t, models.IsKind(err, models.KindValidation))
}

func TestOverallStatusAndPredicate(t *testing.T) {
	m, pub, _ := newTestManager(t)
	ctx := context.Background()
	job, err := m.CreateJob(ctx, CreateParams{JobRef: "JC-1", CreatedBy: "u1"})
	require.NoError(t, err)

	done, err := m.IsComplete(ctx, "JC-1")
	require.NoError(t, err)
	assert.False(t, done)

	_, err = m.UpdateCategoryStatuses(ctx, job.ID, []CategoryUpdate{
		{Category: models.CategoryDesign, Status: models.PrepressDesignCompleted},
		{Category: models.CategoryDiePlate, Status: models.PrepressDiePlateCompleted},
	}, "u1")
	require.NoError(t, err)
	done, err = m.IsComplete(ctx, "JC-1")
	require.NoError(t, err)
	assert.True(t, done)

	job, err = m.UpdateOverallStatus(ctx, job.ID, models.PrepressRejected, "hod-1", "wrong pantone")
	require.NoError(t, err)
	assert.Equal(t, models.PrepressRejected, job.OverallStatus)
	assert.Equal(t, "wrong pantone", job.ReviewNotes)
	assert.Equal(t, 1, pub.count(events.PrepressStatusUpdated))

	done, err = m.IsComplete(ctx, "JC-1")
	require.NoError(t, err)
	assert.False(t, done)

	done, err = m.IsComplete(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, done)

	_, err = m.UpdateOverallStatus(ctx, job.ID, models.PrepressStatus("BOGUS"), "hod-1", "")
	assert.True(t, models.IsKind(err, models.KindValidation))
}

func TestUpdateOverallStatusStoresNormalizedStatus(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	job, err := m.CreateJob(ctx, CreateParams{JobRef: "JC-1", CreatedBy: "u1"})
	require.NoError(t, err)

	job, err = m.UpdateOverallStatus(ctx, job.ID, models.PrepressStatus("rejected"), "hod-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.PrepressRejected, job.OverallStatus)

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PrepressRejected, got.OverallStatus)
}

func TestConcurrentCategoryUpdatesBothLand(t *testing.T) {
	m, pub, _ := newTestManager(t)
	m.maxRetries = 50
	ctx := context.Background()
	job, err := m.CreateJob(ctx, CreateParams{JobRef: "JC-1", CreatedBy: "u1"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, u := range []CategoryUpdate{
		{Category: models.CategoryDesign, Status: models.PrepressDesignCompleted},
		{Category: models.CategoryDiePlate, Status: models.PrepressDiePlateCompleted},
	} {
		wg.Add(1)
		go func(u CategoryUpdate) {
			defer wg.Done()
			_, err := m.UpdateCategoryStatus(ctx, job.ID, u.Category, u.Status, "u1", "")
			assert.NoError(t, err)
		}(u)
	}
	wg.Wait()

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PrepressHODReview, got.OverallStatus)
	assert.Equal(t, 1, pub.count(events.PrepressHODReview))
}
