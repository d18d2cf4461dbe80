package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishStampsAndDeliversInOrder(t *testing.T) {
	bus := NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)), "api-1")
	fixed := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	bus.now = func() time.Time { return fixed }

	var order []string
	var got Event
	bus.Subscribe("first", SubscriberFunc(func(_ context.Context, e Event) error {
		order = append(order, "first")
		got = e
		return nil
	}))
	bus.Subscribe("second", SubscriberFunc(func(context.Context, Event) error {
		order = append(order, "second")
		return nil
	}))

	bus.Publish(context.Background(), Event{Type: JobCreated, Domain: DomainJob, JobRef: "JC-1"})

	assert.Equal(t, []string{"first", "second"}, order)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "api-1", got.Origin)
	assert.Equal(t, fixed, got.Timestamp)
	assert.Equal(t, "JC-1", got.Payload["jobRef"])
}

func TestPublishKeepsRemoteOrigin(t *testing.T) {
	bus := NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)), "api-1")
	var got Event
	bus.Subscribe("sink", SubscriberFunc(func(_ context.Context, e Event) error {
		got = e
		return nil
	}))
	bus.Publish(context.Background(), Event{ID: "evt-1", Type: JobOverdue, Domain: DomainAlert, Origin: "worker-1"})
	assert.Equal(t, "evt-1", got.ID)
	assert.Equal(t, "worker-1", got.Origin)
	require.NotNil(t, got.Payload)
}

func TestSubscriberFailureDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)), "api-1")
	delivered := 0
	bus.Subscribe("broken", SubscriberFunc(func(context.Context, Event) error {
		return errors.New("socket closed")
	}))
	bus.Subscribe("healthy", SubscriberFunc(func(context.Context, Event) error {
		delivered++
		return nil
	}))

	bus.Publish(context.Background(), Event{Type: StatusChanged, Domain: DomainJob, JobRef: "JC-2"})
	assert.Equal(t, 1, delivered)
}

func TestDomainDepartment(t *testing.T) {
	assert.Equal(t, DomainQA, DomainFor("qa"))
	assert.Equal(t, "prepress", string(DomainPrepress.Department()))
	assert.Empty(t, DomainAlert.Department())
}
