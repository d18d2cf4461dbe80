package worker

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"jobflow/internal/config"
	"jobflow/internal/models"
	"jobflow/internal/queue"
	"jobflow/internal/store"
	"jobflow/internal/telemetry"
)

// Actor is recorded as the creator of watcher alerts.
const Actor = "deadline-watcher"

// LifecycleReader is the lookup the watcher needs; store.LifecycleStore
// satisfies it.
type LifecycleReader interface {
	GetLifecycleByJob(ctx context.Context, jobRef string) (models.JobLifecycle, error)
}

// Alerter raises deadline alerts; *notify.Dispatcher satisfies it.
type Alerter interface {
	JobOverdue(ctx context.Context, jobRef string, dueDate time.Time, actor string, recipients ...string)
	DeadlineRisk(ctx context.Context, jobRef string, dueDate time.Time, daysRemaining int, actor string, recipients ...string)
}

// Processor drives the deadline watcher loop: it pops due checks from the
// schedule and raises risk or overdue alerts for jobs still in flight.
type Processor struct {
	cfg        config.Config
	queue      *queue.DeadlineQueue
	lifecycles LifecycleReader
	alerts     Alerter
	logger     *slog.Logger
	now        func() time.Time
}

func NewProcessor(cfg config.Config, q *queue.DeadlineQueue, lifecycles LifecycleReader, alerts Alerter, logger *slog.Logger) *Processor {
	if cfg.DeadlineBatchSize <= 0 {
		cfg.DeadlineBatchSize = 100
	}
	if cfg.DeadlinePollInterval <= 0 {
		cfg.DeadlinePollInterval = 5 * time.Second
	}
	return &Processor{
		cfg:        cfg,
		queue:      q,
		lifecycles: lifecycles,
		alerts:     alerts,
		logger:     logger,
		now:        time.Now,
	}
}

// Run polls until context cancellation. Consecutive schedule failures back
// off with jitter.
func (p *Processor) Run(ctx context.Context) error {
	failures := 0
	for {
		wait := p.cfg.DeadlinePollInterval
		if _, err := p.ProcessDue(ctx); err != nil {
			failures++
			wait = backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, failures)
			p.logger.Warn("deadline poll failed", "error", err, "attempt", failures, "retry_in", wait)
		} else {
			failures = 0
		}
		if depth, err := p.queue.Depth(ctx); err == nil {
			telemetry.DeadlineQueueDepth.Set(float64(depth))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// ProcessDue handles one batch of due checks and returns how many alerts fired.
func (p *Processor) ProcessDue(ctx context.Context) (int, error) {
	now := p.now()
	checks, err := p.queue.PopDue(ctx, now, int64(p.cfg.DeadlineBatchSize))
	if err != nil {
		return 0, err
	}
	fired := 0
	for _, c := range checks {
		outcome := p.handle(ctx, c, now)
		telemetry.DeadlineChecks.WithLabelValues(string(c.Kind), outcome).Inc()
		if outcome == "fired" {
			fired++
		}
	}
	return fired, nil
}

func (p *Processor) handle(ctx context.Context, c queue.Check, now time.Time) string {
	lc, err := p.lifecycles.GetLifecycleByJob(ctx, c.JobRef)
	if errors.Is(err, store.ErrNotFound) {
		return "missing"
	}
	if err != nil {
		retry := now.Add(backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, 1))
		if rerr := p.queue.Reschedule(ctx, c, retry); rerr != nil {
			p.logger.Error("deadline check lost", "job_ref", c.JobRef, "kind", c.Kind, "error", rerr)
		}
		p.logger.Warn("deadline check deferred", "job_ref", c.JobRef, "kind", c.Kind, "error", err)
		return "error"
	}
	if lc.Status.Terminal() {
		return "skipped"
	}

	due := c.DueDate
	if lc.DueDate != nil {
		due = *lc.DueDate
	}
	if due.IsZero() {
		return "skipped"
	}

	switch c.Kind {
	case queue.CheckRisk:
		days := DaysRemaining(due, now)
		if days < 0 {
			return "skipped"
		}
		p.alerts.DeadlineRisk(ctx, lc.JobRef, due, days, Actor, lc.CreatedBy)
	case queue.CheckOverdue:
		if now.Before(due) {
			if err := p.queue.Reschedule(ctx, c, due); err != nil {
				p.logger.Error("deadline check lost", "job_ref", c.JobRef, "kind", c.Kind, "error", err)
			}
			return "deferred"
		}
		p.alerts.JobOverdue(ctx, lc.JobRef, due, Actor, lc.CreatedBy)
		if p.cfg.DeadlineOverdueRepeat > 0 {
			if err := p.queue.Reschedule(ctx, c, now.Add(p.cfg.DeadlineOverdueRepeat)); err != nil {
				p.logger.Error("overdue repeat not scheduled", "job_ref", c.JobRef, "error", err)
			}
		}
	default:
		return "skipped"
	}
	p.logger.Info("deadline alert raised", "job_ref", lc.JobRef, "kind", c.Kind, "status", lc.Status)
	return "fired"
}

// DaysRemaining rounds the time left up to whole days; a negative value means
// the due date has passed.
func DaysRemaining(due, now time.Time) int {
	left := due.Sub(now)
	if left < 0 {
		return -1
	}
	return int(math.Ceil(left.Hours() / 24))
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max || wait <= 0 {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}
