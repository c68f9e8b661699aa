package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/metrics"
	v1 "github.com/Avinash-006/sdp-kubernetes/shared/contracts/realtime/v1"
)

// Hub is the in-process topic router. It keeps no history: an event reaches
// the clients subscribed at the moment it is delivered and nobody else.
//
// Concurrency guarantees:
// - Subscribe/Unsubscribe are safe under concurrent Publish.
// - Publish never blocks on a subscriber (drops under backpressure).
// - Events published sequentially on a topic reach each subscriber in order.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	topics map[string]*topic
}

// NewHub constructs a Hub instance. mt may be nil.
func NewHub(log *slog.Logger, mt *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		metrics: mt,
		topics:  make(map[string]*topic),
	}
}

// Subscribe adds c to topic name. Subscribing twice is a no-op.
func (h *Hub) Subscribe(name string, c *Client) {
	if c == nil || c.ID == "" || name == "" {
		return
	}

	h.mu.Lock()
	t, ok := h.topics[name]
	if !ok {
		t = newTopic(name)
		h.topics[name] = t
	}
	_, dup := t.subs[c.ID]
	t.subs[c.ID] = c
	h.mu.Unlock()

	if !dup {
		h.metrics.SubscriptionAdded()
		h.log.Debug("hub.subscribe", "topic", name, "client_id", c.ID)
	}
}

// Unsubscribe removes a client from topic name. Empty topics are dropped.
func (h *Hub) Unsubscribe(name, clientID string) {
	if name == "" || clientID == "" {
		return
	}

	h.mu.Lock()
	removed := false
	if t, ok := h.topics[name]; ok {
		if _, ok := t.subs[clientID]; ok {
			delete(t.subs, clientID)
			removed = true
		}
		if len(t.subs) == 0 {
			delete(h.topics, name)
		}
	}
	h.mu.Unlock()

	if removed {
		h.metrics.SubscriptionRemoved()
		h.log.Debug("hub.unsubscribe", "topic", name, "client_id", clientID)
	}
}

// Subscribers reports how many clients are subscribed to topic name.
func (h *Hub) Subscribers(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if t, ok := h.topics[name]; ok {
		return len(t.subs)
	}
	return 0
}

// Publish wraps payload in an event envelope and delivers it locally.
func (h *Hub) Publish(ctx context.Context, topicName string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env, err := NewEvent(topicName, payload, time.Now().UTC())
	if err != nil {
		return err
	}
	h.Deliver(env)
	return nil
}

// Deliver fans a ready-made event out to the local subscribers of env.Topic.
func (h *Hub) Deliver(env v1.Envelope) (delivered, dropped int) {
	h.mu.RLock()
	if t, ok := h.topics[env.Topic]; ok {
		delivered, dropped = t.broadcast(env)
	}
	h.mu.RUnlock()

	h.metrics.EventsFannedOut(delivered, dropped)
	if dropped > 0 {
		h.log.Warn("hub.event.dropped", "topic", env.Topic, "dropped", dropped)
	}
	return delivered, dropped
}

// NewEvent builds the event envelope for payload. A json.RawMessage must be
// valid JSON. A []byte that is valid JSON is used as-is; other bytes are sent
// as a base64 JSON string. Anything else is JSON-encoded.
func NewEvent(topicName string, payload any, now time.Time) (v1.Envelope, error) {
	if err := v1.ValidateTopic(topicName); err != nil {
		return v1.Envelope{}, err
	}

	var raw json.RawMessage
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		raw = p
	case []byte:
		if json.Valid(p) {
			raw = json.RawMessage(p)
			break
		}
		b, err := json.Marshal(p)
		if err != nil {
			return v1.Envelope{}, fmt.Errorf("encode payload: %w", err)
		}
		raw = b
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return v1.Envelope{}, fmt.Errorf("encode payload: %w", err)
		}
		raw = b
	}
	if len(raw) > 0 && !json.Valid(raw) {
		return v1.Envelope{}, errors.New("payload is not valid JSON")
	}

	id, err := NewEnvelopeID(now)
	if err != nil {
		return v1.Envelope{}, err
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeEvent,
		ID:      id,
		Topic:   topicName,
		TS:      now,
		Payload: raw,
	}, nil
}
