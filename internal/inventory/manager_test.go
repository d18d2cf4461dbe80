package inventory

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
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

func (c *captured) ofType(t events.Type) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestManager(t *testing.T) (*Manager, *captured) {
	t.Helper()
	m, pub := managerOver(store.NewMemory())
	return m, pub
}

func managerOver(mem *store.Memory) (*Manager, *captured) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := &captured{}
	return NewManager(mem, audit.NewRecorder(mem, logger), pub, logger, 5), pub
}

func mustJob(t *testing.T, m *Manager, jobRef string) models.InventoryJob {
	t.Helper()
	job, err := m.CreateJob(context.Background(), CreateParams{JobRef: jobRef, CreatedBy: "u1"})
	require.NoError(t, err)
	return job
}

func TestCreateJob(t *testing.T) {
	m, pub := newTestManager(t)
	job := mustJob(t, m, "JC-1")
	assert.Equal(t, models.InventoryPending, job.Status)
	assert.Len(t, pub.ofType(events.InventoryJobCreated), 1)

	assigned, err := m.CreateJob(context.Background(), CreateParams{JobRef: "JC-2", AssignedTo: "store-1", CreatedBy: "u1"})
	require.NoError(t, err)
	assert.Equal(t, models.InventoryAssigned, assigned.Status)

	_, err = m.CreateJob(context.Background(), CreateParams{JobRef: "JC-1"})
	assert.True(t, models.IsKind(err, models.KindConflict))
}

func TestApproveDefaultsToRequested(t *testing.T) {
	m, pub := newTestManager(t)
	ctx := context.Background()
	job := mustJob(t, m, "JC-1")

	req, err := m.CreateMaterialRequest(ctx, job.ID, "paper-A", decimal.NewFromInt(1000), "sheets", "u1", "")
	require.NoError(t, err)
	assert.Equal(t, models.MaterialRequestCreated, req.Status)

	req, err = m.ApproveMaterialRequest(ctx, req.ID, "approver-1", nil, "")
	require.NoError(t, err)
	assert.Equal(t, models.MaterialRequestApproved, req.Status)
	assert.True(t, req.QuantityApproved.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, "approver-1", req.ApprovedBy)
	require.NotNil(t, req.ApprovedAt)
	assert.Empty(t, pub.ofType(events.MaterialShortage))

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InventoryStatus(models.MaterialRequestApproved), got.Status)
}

func TestPartialApprovalRaisesShortage(t *testing.T) {
	m, pub := newTestManager(t)
	ctx := context.Background()
	job := mustJob(t, m, "JC-1")
	req, err := m.CreateMaterialRequest(ctx, job.ID, "ink-K", decimal.RequireFromString("12.5"), "kg", "u1", "")
	require.NoError(t, err)

	approved := decimal.NewFromInt(10)
	req, err = m.ApproveMaterialRequest(ctx, req.ID, "approver-1", &approved, "short stock")
	require.NoError(t, err)
	assert.True(t, req.QuantityApproved.Equal(approved))

	shortages := pub.ofType(events.MaterialShortage)
	require.Len(t, shortages, 1)
	assert.Equal(t, "2.5", shortages[0].Payload["shortage"])

	over := decimal.NewFromInt(20)
	other, err := m.CreateMaterialRequest(ctx, job.ID, "ink-C", decimal.NewFromInt(5), "kg", "u1", "")
	require.NoError(t, err)
	_, err = m.ApproveMaterialRequest(ctx, other.ID, "approver-1", &over, "")
	assert.True(t, models.IsKind(err, models.KindValidation))
}

func TestIssueMaterialsPartialThenComplete(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	job := mustJob(t, m, "JC-1")
	req, err := m.CreateMaterialRequest(ctx, job.ID, "board", decimal.NewFromInt(100), "sheets", "u1", "")
	require.NoError(t, err)

	_, err = m.IssueMaterials(ctx, req.ID, decimal.NewFromInt(10), "u2", "")
	assert.True(t, models.IsKind(err, models.KindInvalidTransition), "issue before approval")

	_, err = m.ApproveMaterialRequest(ctx, req.ID, "approver-1", nil, "")
	require.NoError(t, err)

	req, err = m.IssueMaterials(ctx, req.ID, decimal.NewFromInt(40), "u2", "")
	require.NoError(t, err)
	assert.Equal(t, models.MaterialIssuanceStarted, req.Status)

	_, err = m.IssueMaterials(ctx, req.ID, decimal.NewFromInt(61), "u2", "")
	assert.True(t, models.IsKind(err, models.KindValidation))

	req, err = m.IssueMaterials(ctx, req.ID, decimal.NewFromInt(60), "u2", "")
	require.NoError(t, err)
	assert.Equal(t, models.MaterialIssuanceCompleted, req.Status)
	assert.True(t, req.QuantityIssued.Equal(decimal.NewFromInt(100)))

	_, err = m.IssueMaterials(ctx, req.ID, decimal.NewFromInt(1), "u2", "")
	assert.True(t, models.IsKind(err, models.KindInvalidTransition))
}

func TestProcurementBranch(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	job := mustJob(t, m, "JC-1")
	req, err := m.CreateMaterialRequest(ctx, job.ID, "foil", decimal.NewFromInt(3), "rolls", "u1", "")
	require.NoError(t, err)

	_, err = m.CompleteProcurement(ctx, req.ID, "u1", "")
	assert.True(t, models.IsKind(err, models.KindInvalidTransition))

	_, err = m.ApproveMaterialRequest(ctx, req.ID, "approver-1", nil, "")
	require.NoError(t, err)
	req, err = m.StartProcurement(ctx, req.ID, "buyer-1", "PO-77")
	require.NoError(t, err)
	assert.Equal(t, models.MaterialProcurementStarted, req.Status)
	req, err = m.CompleteProcurement(ctx, req.ID, "buyer-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.MaterialProcurementCompleted, req.Status)

	req, err = m.IssueMaterials(ctx, req.ID, decimal.NewFromInt(3), "u2", "")
	require.NoError(t, err)
	assert.Equal(t, models.MaterialIssuanceCompleted, req.Status)
}

func TestJobStatusIsLastWriterWins(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	job := mustJob(t, m, "JC-1")

	first, err := m.CreateMaterialRequest(ctx, job.ID, "paper", decimal.NewFromInt(10), "sheets", "u1", "")
	require.NoError(t, err)
	_, err = m.ApproveMaterialRequest(ctx, first.ID, "a", nil, "")
	require.NoError(t, err)
	_, err = m.IssueMaterials(ctx, first.ID, decimal.NewFromInt(10), "u1", "")
	require.NoError(t, err)

	second, err := m.CreateMaterialRequest(ctx, job.ID, "glue", decimal.NewFromInt(2), "l", "u1", "")
	require.NoError(t, err)

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InventoryStatus(models.MaterialRequestCreated), got.Status)

	agg, err := m.AggregateStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Status, agg)
}

func TestUpdateJobStatusAndPredicate(t *testing.T) {
	m, pub := newTestManager(t)
	ctx := context.Background()
	job := mustJob(t, m, "JC-1")

	done, err := m.IsComplete(ctx, "JC-1")
	require.NoError(t, err)
	assert.False(t, done)

	_, err = m.UpdateJobStatus(ctx, job.ID, models.InventoryCompleted, "u1", "all issued")
	require.NoError(t, err)
	done, err = m.IsComplete(ctx, "JC-1")
	require.NoError(t, err)
	assert.True(t, done)
	assert.Len(t, pub.ofType(events.InventoryStatusUpdated), 1)

	_, err = m.UpdateJobStatus(ctx, job.ID, models.InventoryStatus("SHIPPED"), "u1", "")
	assert.True(t, models.IsKind(err, models.KindValidation))

	acts, err := m.Activities(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, acts, 2)
}

func TestCreateRequestValidation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	job := mustJob(t, m, "JC-1")

	_, err := m.CreateMaterialRequest(ctx, job.ID, "paper", decimal.NewFromInt(-5), "sheets", "u1", "")
	assert.True(t, models.IsKind(err, models.KindValidation))
	_, err = m.CreateMaterialRequest(ctx, job.ID, "paper", decimal.Zero, "sheets", "u1", "")
	assert.True(t, models.IsKind(err, models.KindValidation))
	_, err = m.CreateMaterialRequest(ctx, "missing", "paper", decimal.NewFromInt(1), "sheets", "u1", "")
	assert.True(t, models.IsKind(err, models.KindNotFound))

	agg, err := m.AggregateStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MaterialPending, agg)
}

func TestUpdateJobStatusStoresNormalizedStatus(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	job := mustJob(t, m, "JC-1")

	got, err := m.UpdateJobStatus(ctx, job.ID, models.InventoryStatus(" completed "), "u1", "")
	require.NoError(t, err)
	assert.Equal(t, models.InventoryCompleted, got.Status)

	done, err := m.IsComplete(ctx, "JC-1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestIssueMaterialsAcrossManagersNeverOverIssues(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	a, _ := managerOver(mem)
	b, _ := managerOver(mem)

	job := mustJob(t, a, "JC-1")
	req, err := a.CreateMaterialRequest(ctx, job.ID, "board", decimal.NewFromInt(10), "sheets", "u1", "")
	require.NoError(t, err)
	_, err = b.ApproveMaterialRequest(ctx, req.ID, "approver-1", nil, "")
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
	)
	for i, m := range []*Manager{a, b} {
		wg.Add(1)
		go func(i int, m *Manager) {
			defer wg.Done()
			<-start
			_, errs[i] = m.IssueMaterials(ctx, req.ID, decimal.NewFromInt(6), "store-1", "")
		}(i, m)
	}
	close(start)
	wg.Wait()

	var failed int
	for _, err := range errs {
		if err != nil {
			failed++
			assert.True(t, models.IsKind(err, models.KindValidation), "loser must see the first issue: %v", err)
		}
	}
	assert.Equal(t, 1, failed)

	got, err := a.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, got.QuantityIssued.Equal(decimal.NewFromInt(6)), "issued %s", got.QuantityIssued)
	assert.Equal(t, models.MaterialIssuanceStarted, got.Status)
}
