package services

import (
	"sync"

	"github.com/teamflowhq/teamflow/pkg/logger"
)

// Fanout topics
const (
	TopicProject    = "project"
	TopicTeamMember = "teamMember"
)

// Event is a payload delivered to a subscribed client.
type Event struct {
	Topic       string      `json:"topic"`
	Type        string      `json:"type"`
	OperationID string      `json:"operation_id,omitempty"`
	Payload     interface{} `json:"payload"`
}

// SubOptions carries subscription coordination metadata. MutatorID is the
// connection id of the originating client, so its own echo is suppressed.
type SubOptions struct {
	MutatorID   string
	OperationID string
}

// Subscriber abstracts a streaming client connection.
type Subscriber interface {
	Send(Event) error
	Close()
}

// FanoutHub manages live subscriptions keyed by user id. Each connection
// has its own id so a mutation can skip echoing to the client that
// issued it. Delivery is fire and forget: a failed or slow client never
// blocks the others.
type FanoutHub struct {
	mu      sync.Mutex
	clients map[string]map[string]Subscriber // userID -> connID -> subscriber
}

// NewFanoutHub creates an empty hub. Hubs are constructed at bootstrap
// and injected; there is no process-wide instance.
func NewFanoutHub() *FanoutHub {
	return &FanoutHub{
		clients: make(map[string]map[string]Subscriber),
	}
}

// Subscribe registers a client connection for the given user.
func (h *FanoutHub) Subscribe(userID, connID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[userID]; !ok {
		h.clients[userID] = make(map[string]Subscriber)
	}
	h.clients[userID][connID] = sub
}

// Unsubscribe removes a client connection.
func (h *FanoutHub) Unsubscribe(userID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[userID]; ok {
		if sub, ok := conns[connID]; ok {
			sub.Close()
			delete(conns, connID)
		}
		if len(conns) == 0 {
			delete(h.clients, userID)
		}
	}
}

// Publish delivers the payload to every live connection of the user,
// except the originating one. Failed connections are dropped.
func (h *FanoutHub) Publish(topic, userID, payloadType string, payload interface{}, opts SubOptions) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[userID]
	if !ok {
		return
	}

	event := Event{
		Topic:       topic,
		Type:        payloadType,
		OperationID: opts.OperationID,
		Payload:     payload,
	}

	for connID, sub := range conns {
		if connID == opts.MutatorID {
			continue
		}
		if err := sub.Send(event); err != nil {
			logger.Warn().Err(err).Str("user_id", userID).Str("conn_id", connID).Msg("fanout send failed, dropping client")
			sub.Close()
			delete(conns, connID)
		}
	}
	if len(conns) == 0 {
		delete(h.clients, userID)
	}
}

// IsConnected reports whether the user has at least one live connection.
func (h *FanoutHub) IsConnected(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID]) > 0
}

// ClientCount returns the number of live connections across all users.
func (h *FanoutHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}

// ChannelSubscriber buffers events on a channel for SSE streaming.
// Sends never block: when the buffer is full the event is dropped.
type ChannelSubscriber struct {
	events chan Event
	once   sync.Once
}

// NewChannelSubscriber creates a subscriber with the given buffer size.
func NewChannelSubscriber(buffer int) *ChannelSubscriber {
	if buffer <= 0 {
		buffer = 100
	}
	return &ChannelSubscriber{events: make(chan Event, buffer)}
}

// Events returns the receive side of the buffer.
func (s *ChannelSubscriber) Events() <-chan Event {
	return s.events
}

// Send queues an event without blocking.
func (s *ChannelSubscriber) Send(event Event) error {
	select {
	case s.events <- event:
	default:
		// Client is slow, skip this event
	}
	return nil
}

// Close shuts the event channel.
func (s *ChannelSubscriber) Close() {
	s.once.Do(func() { close(s.events) })
}
