package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobflow/internal/events"
	"jobflow/internal/models"
	"jobflow/internal/telemetry"
)

const defaultBuffer = 64

// Message is what a connection receives for every delivered event.
type Message struct {
	Topic     string         `json:"topic"`
	Type      events.Type    `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// Identity is the registry entry stored on authenticate.
type Identity struct {
	UserID     string            `json:"user_id"`
	Role       string            `json:"role"`
	Department models.Department `json:"department,omitempty"`
}

// Conn is one subscriber. Messages is closed on Disconnect.
type Conn struct {
	id       string
	out      chan Message
	identity *Identity
	topics   map[string]struct{}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Messages() <-chan Message { return c.out }

// Hub keeps the connection registry and topic membership table and fans
// events out with non-blocking sends. A full connection queue drops.
type Hub struct {
	logger *slog.Logger
	buffer int

	mu     sync.RWMutex
	conns  map[string]*Conn
	topics map[string]map[string]*Conn
}

var _ events.Subscriber = (*Hub)(nil)

func NewHub(logger *slog.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		logger: logger,
		buffer: buffer,
		conns:  make(map[string]*Conn),
		topics: make(map[string]map[string]*Conn),
	}
}

// Connect registers an unauthenticated connection. buffer <= 0 uses the
// hub default.
func (h *Hub) Connect(buffer int) *Conn {
	if buffer <= 0 {
		buffer = h.buffer
	}
	c := &Conn{
		id:     uuid.New().String(),
		out:    make(chan Message, buffer),
		topics: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	telemetry.Connections.Inc()
	return c
}

// Authenticate stores identity and auto-joins role:<ROLE>, dept:<Dept> and
// notify:<userID>. A department outside the workflow is kept on the identity
// but joins no dept topic. Re-authenticating replaces the previous auto topics.
func (h *Hub) Authenticate(connID, userID, role, department string) (Identity, error) {
	userID = strings.TrimSpace(userID)
	role = strings.ToUpper(strings.TrimSpace(role))
	if userID == "" || role == "" {
		return Identity{}, models.Validation("authenticate", "user id and role are required")
	}
	dept := models.Department(strings.TrimSpace(department))
	if d, err := models.ParseDepartment(department); err == nil {
		dept = d
	}
	id := Identity{UserID: userID, Role: role, Department: dept}

	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return Identity{}, models.NotFound("authenticate", "connection "+connID+" not found")
	}
	if c.identity != nil {
		for _, t := range autoTopics(*c.identity) {
			h.leaveLocked(c, t)
		}
	}
	c.identity = &id
	for _, t := range autoTopics(id) {
		h.joinLocked(c, t)
	}
	h.logger.Debug("connection authenticated", "conn_id", connID, "user_id", userID, "role", role, "department", dept)
	return id, nil
}

func (h *Hub) Join(connID, topic string) error {
	if !ValidTopic(topic) {
		return models.Validation("join_topic", fmt.Sprintf("invalid topic %q", topic))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c, err := h.authenticated("join_topic", connID)
	if err != nil {
		return err
	}
	h.joinLocked(c, topic)
	return nil
}

func (h *Hub) Leave(connID, topic string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, err := h.authenticated("leave_topic", connID)
	if err != nil {
		return err
	}
	h.leaveLocked(c, topic)
	return nil
}

// Disconnect purges the registry entry and every membership. Unknown ids
// are ignored.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	for t := range c.topics {
		h.leaveLocked(c, t)
	}
	delete(h.conns, connID)
	close(c.out)
	telemetry.Connections.Dec()
}

// Topics lists the topics a connection is currently a member of.
func (h *Hub) Topics(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

func (h *Hub) Handle(ctx context.Context, e events.Event) error {
	h.Publish(ctx, e)
	return nil
}

// Publish routes e to its topics and returns how many messages were queued.
func (h *Hub) Publish(_ context.Context, e events.Event) int {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	delivered := 0
	for _, topic := range Route(e) {
		delivered += h.Broadcast(Message{Topic: topic, Type: e.Type, Payload: e.Payload, Timestamp: ts})
	}
	return delivered
}

// Broadcast sends m to every member of m.Topic without blocking.
func (h *Hub) Broadcast(m Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for _, c := range h.topics[m.Topic] {
		select {
		case c.out <- m:
			sent++
		default:
			telemetry.BroadcastDropped.Inc()
			h.logger.Warn("broadcast dropped", "conn_id", c.id, "topic", m.Topic, "event_type", m.Type)
		}
	}
	return sent
}

func (h *Hub) authenticated(op, connID string) (*Conn, error) {
	c, ok := h.conns[connID]
	if !ok {
		return nil, models.NotFound(op, "connection "+connID+" not found")
	}
	if c.identity == nil {
		return nil, models.InvalidTransition(op, "connection is not authenticated")
	}
	return c, nil
}

func (h *Hub) joinLocked(c *Conn, topic string) {
	members, ok := h.topics[topic]
	if !ok {
		members = make(map[string]*Conn)
		h.topics[topic] = members
	}
	members[c.id] = c
	c.topics[topic] = struct{}{}
}

func (h *Hub) leaveLocked(c *Conn, topic string) {
	delete(c.topics, topic)
	if members, ok := h.topics[topic]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
}

func autoTopics(id Identity) []string {
	topics := []string{RoleTopic(id.Role), NotifyTopic(id.UserID)}
	if d, err := models.ParseDepartment(string(id.Department)); err == nil {
		topics = append(topics, DeptTopic(d))
	}
	return topics
}
