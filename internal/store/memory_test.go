package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobflow/internal/models"
)

func TestMemoryLifecycleCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	lc, err := m.CreateLifecycle(ctx, models.JobLifecycle{ID: "lc-1", JobRef: "JC-1", Status: models.StatusCreated})
	require.NoError(t, err)
	assert.EqualValues(t, 1, lc.Version)

	_, err = m.CreateLifecycle(ctx, models.JobLifecycle{ID: "lc-2", JobRef: "JC-1"})
	assert.True(t, errors.Is(err, ErrAlreadyExists))

	lc.Status = models.StatusAssignedToPrepress
	next, err := m.UpdateLifecycle(ctx, lc, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, next.Version)

	lc.Status = models.StatusCancelled
	_, err = m.UpdateLifecycle(ctx, lc, 1)
	assert.True(t, errors.Is(err, ErrVersionConflict), "stale version must not overwrite")

	got, err := m.GetLifecycleByJob(ctx, "JC-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssignedToPrepress, got.Status)

	_, err = m.GetLifecycleByJob(ctx, "JC-404")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryListFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, lc := range []models.JobLifecycle{
		{ID: "1", JobRef: "JC-1", Status: models.StatusCreated, Priority: models.PriorityHigh},
		{ID: "2", JobRef: "JC-2", Status: models.StatusAssignedToQA, Priority: models.PriorityNormal},
		{ID: "3", JobRef: "JC-3", Status: models.StatusQAInProgress, Priority: models.PriorityHigh},
	} {
		_, err := m.CreateLifecycle(ctx, lc)
		require.NoError(t, err)
	}

	qa, err := m.ListLifecycles(ctx, LifecycleFilter{Statuses: models.DeptQA.Statuses()})
	require.NoError(t, err)
	assert.Len(t, qa, 2)

	high, err := m.ListLifecycles(ctx, LifecycleFilter{Priority: models.PriorityHigh})
	require.NoError(t, err)
	assert.Len(t, high, 2)

	counts, err := m.CountLifecyclesByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.StatusAssignedToQA])
}

func TestMemoryNotificationsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job := "JC-1"
	require.NoError(t, m.CreateNotification(ctx, models.Notification{ID: "n1", JobRef: &job, Recipients: []string{"hod-1"}}))
	require.NoError(t, m.CreateNotification(ctx, models.Notification{ID: "n2", JobRef: &job}))
	require.NoError(t, m.CreateNotification(ctx, models.Notification{ID: "n3"}))

	all, err := m.ListNotifications(ctx, NotificationFilter{JobRef: job})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "n2", all[0].ID)

	mine, err := m.ListNotifications(ctx, NotificationFilter{Recipient: "hod-1"})
	require.NoError(t, err)
	require.Len(t, mine, 1)

	require.NoError(t, m.MarkNotificationRead(ctx, "n1"))
	unread, err := m.ListNotifications(ctx, NotificationFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unread, 2)
	assert.True(t, errors.Is(m.MarkNotificationRead(ctx, "nope"), ErrNotFound))
}

func TestMemoryMaterialRequestCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	job, err := m.CreateInventoryJob(ctx, models.InventoryJob{ID: "inv-1", JobRef: "JC-1", Status: models.InventoryPending})
	require.NoError(t, err)
	assert.EqualValues(t, 1, job.Version)

	req, err := m.CreateMaterialRequest(ctx, models.MaterialRequest{ID: "req-1", InventoryJobID: job.ID, Status: models.MaterialRequestCreated})
	require.NoError(t, err)
	assert.EqualValues(t, 1, req.Version)

	req.Status = models.MaterialRequestApproved
	next, err := m.UpdateMaterialRequest(ctx, req, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, next.Version)

	req.Status = models.MaterialProcurementStarted
	_, err = m.UpdateMaterialRequest(ctx, req, 1)
	assert.True(t, errors.Is(err, ErrVersionConflict), "stale version must not overwrite")

	got, err := m.GetMaterialRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.MaterialRequestApproved, got.Status)

	job.Status = models.InventoryInProgress
	_, err = m.UpdateInventoryJob(ctx, job, 1)
	require.NoError(t, err)
	_, err = m.UpdateInventoryJob(ctx, job, 1)
	assert.True(t, errors.Is(err, ErrVersionConflict))

	_, err = m.UpdateMaterialRequest(ctx, models.MaterialRequest{ID: "nope"}, 1)
	assert.True(t, errors.Is(err, ErrNotFound))
}
