package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"jobflow/internal/events"
)

type Client struct{ nc *nats.Conn }

func Connect(url, name string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}

func (c *Client) SubscribeJSON(subject string, handler func(ctx context.Context, data []byte)) (*nats.Subscription, error) {
	return c.nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		handler(ctx, msg.Data)
	})
}

// Relay mirrors events between processes. Locally originated events are
// published to <prefix>.<domain>; events from other instances are handed to
// deliver only, never back onto the local bus, so they are not processed twice.
type Relay struct {
	client  *Client
	prefix  string
	origin  string
	deliver events.Subscriber
	logger  *slog.Logger
	sub     *nats.Subscription
}

var _ events.Subscriber = (*Relay)(nil)

func NewRelay(client *Client, prefix, origin string, deliver events.Subscriber, logger *slog.Logger) *Relay {
	return &Relay{client: client, prefix: prefix, origin: origin, deliver: deliver, logger: logger}
}

// Subject returns the subject an event is relayed on.
func (r *Relay) Subject(e events.Event) string {
	domain := string(e.Domain)
	if domain == "" {
		domain = "event"
	}
	return r.prefix + "." + domain
}

// Handle publishes locally originated events.
func (r *Relay) Handle(_ context.Context, e events.Event) error {
	if e.Origin != r.origin {
		return nil
	}
	return r.client.PublishJSON(r.Subject(e), e)
}

// Start subscribes to every relayed subject. A nil deliver makes the relay
// publish-only.
func (r *Relay) Start() error {
	if r.deliver == nil {
		return nil
	}
	sub, err := r.client.SubscribeJSON(r.prefix+".>", r.receive)
	if err != nil {
		return err
	}
	r.sub = sub
	return nil
}

func (r *Relay) Stop() {
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
}

func (r *Relay) receive(ctx context.Context, data []byte) {
	var e events.Event
	if err := json.Unmarshal(data, &e); err != nil {
		r.logger.Warn("relay dropped malformed event", "error", err)
		return
	}
	if e.Origin == r.origin {
		return
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	if err := r.deliver.Handle(ctx, e); err != nil {
		r.logger.Warn("relayed event not delivered", "event_type", e.Type, "origin", e.Origin, "error", err)
	}
}
