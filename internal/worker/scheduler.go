package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"jobflow/internal/events"
	"jobflow/internal/queue"
)

// Scheduler keeps the deadline schedule in step with the lifecycle: a job
// created with a due date gets its checks, a finished job loses them.
type Scheduler struct {
	queue      *queue.DeadlineQueue
	riskWindow time.Duration
	logger     *slog.Logger
}

var _ events.Subscriber = (*Scheduler)(nil)

func NewScheduler(q *queue.DeadlineQueue, riskWindow time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{queue: q, riskWindow: riskWindow, logger: logger}
}

func (s *Scheduler) Handle(ctx context.Context, e events.Event) error {
	switch e.Type {
	case events.JobCreated:
		raw, _ := e.Payload["dueDate"].(string)
		if raw == "" {
			return nil
		}
		due, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("parse due date %q: %w", raw, err)
		}
		if err := s.queue.Schedule(ctx, e.JobRef, due, due.Add(-s.riskWindow)); err != nil {
			return fmt.Errorf("schedule deadline checks: %w", err)
		}
		s.logger.Debug("deadline checks scheduled", "job_ref", e.JobRef, "due_date", due)
	case events.JobCompleted, events.JobCancelled:
		if err := s.queue.Cancel(ctx, e.JobRef); err != nil {
			return fmt.Errorf("cancel deadline checks: %w", err)
		}
	}
	return nil
}
