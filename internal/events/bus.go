package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobflow/internal/telemetry"
)

type namedSubscriber struct {
	name string
	sub  Subscriber
}

// Bus fans events out to subscribers in registration order on the caller's
// goroutine. Subscriber failures are broadcast failures: logged, never returned.
type Bus struct {
	logger *slog.Logger
	origin string

	mu   sync.RWMutex
	subs []namedSubscriber
	now  func() time.Time
}

// NewBus builds a bus stamping events with origin when they have none.
func NewBus(logger *slog.Logger, origin string) *Bus {
	return &Bus{logger: logger, origin: origin, now: time.Now}
}

// Subscribe registers a subscriber under a name used in logs and metrics.
func (b *Bus) Subscribe(name string, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, namedSubscriber{name: name, sub: s})
}

// Publish fills in id, origin and timestamp and delivers e to every subscriber.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Origin == "" {
		e.Origin = b.origin
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now().UTC()
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	if e.JobRef != "" {
		if _, ok := e.Payload["jobRef"]; !ok {
			e.Payload["jobRef"] = e.JobRef
		}
	}
	telemetry.EventsPublished.WithLabelValues(string(e.Domain)).Inc()

	b.mu.RLock()
	subs := make([]namedSubscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.sub.Handle(ctx, e); err != nil {
			telemetry.BroadcastFailures.WithLabelValues(s.name).Inc()
			b.logger.Warn("event subscriber failed",
				"subscriber", s.name, "event_type", e.Type, "job_ref", e.JobRef, "error", err)
		}
	}
}
