// Package v1 defines the passshare realtime protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol clients must negotiate.
const Subprotocol = "passshare.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a connection handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeSubscribe asks for events on Envelope.Topic (client -> server).
	TypeSubscribe = "subscribe"
	// TypeSubscribed confirms a subscription (server -> client).
	TypeSubscribed = "subscribed"
	// TypeUnsubscribe drops a subscription (client -> server).
	TypeUnsubscribe = "unsubscribe"

	// TypePublish sends a payload to every subscriber of Envelope.Topic (client -> server).
	TypePublish = "publish"
	// TypeEvent carries a published payload (server -> subscribers).
	TypeEvent = "event"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// MaxTopicChars bounds Envelope.Topic in bytes. It fits a session topic for
// the longest passkey the server accepts (128 runes of up to 4 bytes each).
const MaxTopicChars = 1024

// SessionTopicPrefix starts every session topic.
const SessionTopicPrefix = "session/"

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello, TypeHelloAck, TypeError:
		return nil
	case TypeSubscribe, TypeSubscribed, TypeUnsubscribe, TypePublish, TypeEvent:
		return ValidateTopic(e.Topic)
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ValidateTopic checks the shape of a topic: non-empty "/"-separated segments.
func ValidateTopic(topic string) error {
	if topic == "" {
		return errors.New("missing field: topic")
	}
	if len(topic) > MaxTopicChars {
		return fmt.Errorf("topic too long: max=%d", MaxTopicChars)
	}
	for _, seg := range strings.Split(topic, "/") {
		if seg == "" || strings.TrimSpace(seg) != seg {
			return fmt.Errorf("invalid topic: %q", topic)
		}
	}
	return nil
}

// SessionTopic is where the server announces uploads to a session.
func SessionTopic(passkey string) string { return SessionTopicPrefix + passkey }

// TypingTopic is the client-writable topic of a group.
func TypingTopic(groupID string) string { return "group/" + groupID + "/typing" }

// IsTypingTopic reports whether topic has the form group/{id}/typing.
func IsTypingTopic(topic string) bool {
	parts := strings.Split(topic, "/")
	return len(parts) == 3 && parts[0] == "group" && parts[1] != "" && parts[2] == "typing"
}

// ---- Payloads ----

// HelloPayload is sent by the client to initiate a connection.
type HelloPayload struct{}

// HelloAckPayload carries the server-assigned connection id.
type HelloAckPayload struct {
	ConnectionID string `json:"connection_id"`
}

// SubscribedPayload confirms a subscription.
type SubscribedPayload struct {
	Topic string `json:"topic"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
