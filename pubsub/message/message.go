package message

import (
	"time"

	"github.com/GeorgeRitchie/bookstore-orders/runtime/scheme"
	"github.com/google/uuid"
)

// Object is an event or a command that can be sent over the wire.
// All such types must embed ObjectMeta and be registered in the scheme.
type Object = scheme.Object

// ObjectMeta should be embedded in all types that are going to be registered in the scheme
type ObjectMeta = scheme.TypeMeta

type Headers map[string]interface{}

// ReturnsCount reports how many times the message was returned to the queue after a
// failed handling attempt. The header travels both in the envelope and in transport
// headers, so its numeric type depends on the decoding path.
func (h Headers) ReturnsCount() int {
	switch v := h["returnsCount"].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (h Headers) RegisterReturn() {
	h["returnsCount"] = h.ReturnsCount() + 1
}

// ReceivedMessage is a decoded incoming message
type ReceivedMessage struct {
	uid        string
	payload    Object
	headers    Headers
	origin     string
	occurredAt time.Time
	receivedAt time.Time
}

func NewReceivedMessage(uid string, payload Object, headers Headers, occurredAt time.Time, receivedAt time.Time, origin string) *ReceivedMessage {
	return &ReceivedMessage{uid: uid, payload: payload, headers: headers, occurredAt: occurredAt, receivedAt: receivedAt, origin: origin}
}

func (m ReceivedMessage) UID() string {
	return m.uid
}

func (m ReceivedMessage) Payload() Object {
	return m.payload
}

func (m ReceivedMessage) Headers() Headers {
	return m.headers
}

func (m ReceivedMessage) Origin() string {
	return m.origin
}

// OccurredAt is the moment the message was originally recorded by its producer
func (m ReceivedMessage) OccurredAt() time.Time {
	return m.occurredAt
}

func (m ReceivedMessage) ReceivedAt() time.Time {
	return m.receivedAt
}

// OutcomingMessage is a message to be sent out
type OutcomingMessage struct {
	uid        string
	payload    Object
	headers    Headers
	occurredAt time.Time
}

type OutcomingMsgOption func(m *OutcomingMessage)

func WithUID(uid string) OutcomingMsgOption {
	return func(m *OutcomingMessage) {
		m.uid = uid
	}
}

func WithHeaders(headers Headers) OutcomingMsgOption {
	return func(m *OutcomingMessage) {
		m.headers = headers
	}
}

func WithOccurredAt(occurredAt time.Time) OutcomingMsgOption {
	return func(m *OutcomingMessage) {
		m.occurredAt = occurredAt
	}
}

func NewOutcomingMessage(payload Object, options ...OutcomingMsgOption) *OutcomingMessage {
	msg := &OutcomingMessage{
		uid:        uuid.New().String(),
		payload:    payload,
		headers:    make(Headers),
		occurredAt: time.Now().UTC(),
	}

	for _, opt := range options {
		if opt != nil {
			opt(msg)
		}
	}

	return msg
}

// FromReceivedMsg creates an outcoming message out of a received one, keeping its uid and headers
func FromReceivedMsg(received *ReceivedMessage) *OutcomingMessage {
	return NewOutcomingMessage(received.Payload(), WithUID(received.UID()), WithHeaders(received.Headers()), WithOccurredAt(received.OccurredAt()))
}

func (m OutcomingMessage) UID() string {
	return m.uid
}

func (m OutcomingMessage) Payload() Object {
	return m.payload
}

func (m OutcomingMessage) Headers() Headers {
	return m.headers
}

func (m OutcomingMessage) OccurredAt() time.Time {
	return m.occurredAt
}
