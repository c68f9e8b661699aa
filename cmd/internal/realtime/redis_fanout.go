package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	v1 "github.com/Avinash-006/sdp-kubernetes/shared/contracts/realtime/v1"
)

// DefaultChannelPrefix namespaces the Redis channels used for relaying events.
const DefaultChannelPrefix = "passshare:events:"

// RedisFanout publishes events to the local Hub and to every other instance
// through Redis pub/sub. Like the Hub it is fire-and-forget: an instance that
// is not subscribed when the message passes simply misses it.
type RedisFanout struct {
	log    *slog.Logger
	rdb    redis.UniversalClient
	hub    *Hub
	prefix string
	origin string
}

type relayMessage struct {
	Origin string      `json:"origin"`
	Event  v1.Envelope `json:"event"`
}

// NewRedisFanout wires hub to rdb. An empty prefix selects DefaultChannelPrefix.
func NewRedisFanout(log *slog.Logger, rdb redis.UniversalClient, hub *Hub, prefix string) (*RedisFanout, error) {
	if rdb == nil || hub == nil {
		return nil, errors.New("realtime: redis fanout needs a client and a hub")
	}
	if log == nil {
		log = slog.Default()
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if strings.ContainsAny(prefix, "*?[]\\") {
		return nil, fmt.Errorf("realtime: channel prefix %q contains glob characters", prefix)
	}

	origin, err := NewConnectionID(time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return &RedisFanout{log: log, rdb: rdb, hub: hub, prefix: prefix, origin: origin}, nil
}

// Publish delivers to local subscribers first, then relays to other instances.
// A relay error is returned after local delivery has already happened.
func (f *RedisFanout) Publish(ctx context.Context, topic string, payload any) error {
	env, err := NewEvent(topic, payload, time.Now().UTC())
	if err != nil {
		return err
	}
	f.hub.Deliver(env)

	b, err := json.Marshal(relayMessage{Origin: f.origin, Event: env})
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}
	if err := f.rdb.Publish(ctx, f.prefix+topic, b).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run relays events published by other instances into the local Hub until
// ctx is done.
func (f *RedisFanout) Run(ctx context.Context) error {
	sub := f.rdb.PSubscribe(ctx, f.prefix+"*")
	defer func() { _ = sub.Close() }()

	// Wait for the subscription confirmation so startup errors surface here.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	f.log.Info("relay.start", "pattern", f.prefix+"*", "origin", f.origin)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			f.log.Info("relay.stop")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			f.handle(msg.Channel, msg.Payload)
		}
	}
}

// handle delivers a relayed event locally. It reports whether the message
// was delivered (own and malformed messages are not).
func (f *RedisFanout) handle(channel, payload string) bool {
	var m relayMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		f.log.Warn("relay.decode.fail", "channel", channel, "err", err)
		return false
	}
	if m.Origin == f.origin {
		return false
	}
	if m.Event.Topic == "" || f.prefix+m.Event.Topic != channel {
		f.log.Warn("relay.topic.mismatch", "channel", channel, "topic", m.Event.Topic)
		return false
	}
	if err := m.Event.Validate(); err != nil || m.Event.Type != v1.TypeEvent {
		f.log.Warn("relay.event.invalid", "channel", channel, "err", err)
		return false
	}

	f.hub.Deliver(m.Event)
	return true
}
