package worker

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobflow/internal/config"
	"jobflow/internal/events"
	"jobflow/internal/models"
	"jobflow/internal/queue"
	"jobflow/internal/store"
)

func TestBackoffWithJitter(t *testing.T) {
	rand.Seed(1)
	base := time.Second
	max := 8 * time.Second

	b1 := backoffWithJitter(base, max, 1)
	if b1 < base/2 || b1 > max {
		t.Fatalf("backoff out of range: %s", b1)
	}

	b3 := backoffWithJitter(base, max, 3)
	if b3 < base || b3 > max {
		t.Fatalf("backoff out of range for attempt 3: %s", b3)
	}

	b10 := backoffWithJitter(base, max, 10)
	if b10 < max/2 || b10 > max {
		t.Fatalf("backoff not capped: %s", b10)
	}
}

func TestDaysRemaining(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, DaysRemaining(now.Add(10*time.Hour), now))
	assert.Equal(t, 2, DaysRemaining(now.Add(47*time.Hour), now))
	assert.Equal(t, 0, DaysRemaining(now, now))
	assert.Equal(t, -1, DaysRemaining(now.Add(-time.Minute), now))
}

type alert struct {
	kind   string
	jobRef string
	days   int
	to     []string
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert
}

func (r *recordingAlerter) JobOverdue(_ context.Context, jobRef string, _ time.Time, _ string, recipients ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert{kind: "overdue", jobRef: jobRef, to: recipients})
}

func (r *recordingAlerter) DeadlineRisk(_ context.Context, jobRef string, _ time.Time, days int, _ string, recipients ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert{kind: "risk", jobRef: jobRef, days: days, to: recipients})
}

type harness struct {
	ctx       context.Context
	store     *store.Memory
	queue     *queue.DeadlineQueue
	alerts    *recordingAlerter
	proc      *Processor
	scheduler *Scheduler
	clock     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.NewDeadlineQueue(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	h := &harness{
		ctx:    context.Background(),
		store:  store.NewMemory(),
		queue:  q,
		alerts: &recordingAlerter{},
		clock:  time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	cfg := config.Config{
		DeadlineBatchSize:     10,
		DeadlineOverdueRepeat: 24 * time.Hour,
		BackoffInitial:        time.Second,
		BackoffMax:            time.Minute,
	}
	h.proc = NewProcessor(cfg, q, h.store, h.alerts, logger)
	h.proc.now = func() time.Time { return h.clock }
	h.scheduler = NewScheduler(q, 48*time.Hour, logger)
	return h
}

func (h *harness) createJob(t *testing.T, jobRef string, due time.Time) {
	t.Helper()
	_, err := h.store.CreateLifecycle(h.ctx, models.JobLifecycle{
		ID: "lc-" + jobRef, JobRef: jobRef, Status: models.StatusCreated, CreatedBy: "planner-1", DueDate: &due,
	})
	require.NoError(t, err)
	require.NoError(t, h.scheduler.Handle(h.ctx, events.Event{
		Type: events.JobCreated, JobRef: jobRef,
		Payload: map[string]any{"dueDate": due.Format(time.RFC3339)},
	}))
}

func TestRiskThenOverdueThenRepeat(t *testing.T) {
	h := newHarness(t)
	due := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	h.createJob(t, "JC-1", due)

	fired, err := h.proc.ProcessDue(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, fired)

	h.clock = due.Add(-40 * time.Hour)
	fired, err = h.proc.ProcessDue(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	require.Len(t, h.alerts.alerts, 1)
	assert.Equal(t, alert{kind: "risk", jobRef: "JC-1", days: 2, to: []string{"planner-1"}}, h.alerts.alerts[0])

	fired, err = h.proc.ProcessDue(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, fired, "each schedule entry fires once")

	h.clock = due.Add(time.Minute)
	fired, err = h.proc.ProcessDue(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Equal(t, "overdue", h.alerts.alerts[1].kind)

	pending, err := h.queue.Pending(h.ctx, "JC-1")
	require.NoError(t, err)
	assert.Equal(t, []queue.CheckKind{queue.CheckOverdue}, pending)

	h.clock = h.clock.Add(25 * time.Hour)
	fired, err = h.proc.ProcessDue(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Len(t, h.alerts.alerts, 3)
}

func TestFinishedJobsAreSkipped(t *testing.T) {
	h := newHarness(t)
	due := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	h.createJob(t, "JC-2", due)

	lc, err := h.store.GetLifecycleByJob(h.ctx, "JC-2")
	require.NoError(t, err)
	lc.Status = models.StatusCompleted
	_, err = h.store.UpdateLifecycle(h.ctx, lc, lc.Version)
	require.NoError(t, err)

	h.clock = due.Add(time.Hour)
	fired, err := h.proc.ProcessDue(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, fired)
	assert.Empty(t, h.alerts.alerts)

	depth, err := h.queue.Depth(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, depth, "terminal jobs are not rescheduled")
}

func TestSchedulerCancelsOnCompletion(t *testing.T) {
	h := newHarness(t)
	due := time.Date(2026, 5, 9, 8, 0, 0, 0, time.UTC)
	h.createJob(t, "JC-3", due)

	require.NoError(t, h.scheduler.Handle(h.ctx, events.Event{Type: events.JobCancelled, JobRef: "JC-3"}))
	pending, err := h.queue.Pending(h.ctx, "JC-3")
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, h.scheduler.Handle(h.ctx, events.Event{Type: events.JobCreated, JobRef: "JC-4", Payload: map[string]any{}}))
	depth, err := h.queue.Depth(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, depth, "jobs without a due date are not scheduled")

	assert.Error(t, h.scheduler.Handle(h.ctx, events.Event{Type: events.JobCreated, JobRef: "JC-5",
		Payload: map[string]any{"dueDate": "next tuesday"}}))
}

func TestMissingLifecycleDropsCheck(t *testing.T) {
	h := newHarness(t)
	due := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	require.NoError(t, h.queue.Schedule(h.ctx, "ghost", due, due.Add(-time.Hour)))

	h.clock = due.Add(time.Hour)
	fired, err := h.proc.ProcessDue(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, fired)
	depth, err := h.queue.Depth(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}
