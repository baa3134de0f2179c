// Package pubsub carries events between relay instances over Redis, Kafka
// or, for a single instance and tests, an in-process bus.
package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Event is the unit published on a channel. Origin names the publishing
// instance so it can skip its own events.
type Event struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id"`
	Origin    string          `json:"origin,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent stamps an event with the current time. Payloads that are
// already encoded ([]byte, json.RawMessage) are used as they are.
func NewEvent(eventType, roomID string, payload any) (*Event, error) {
	e := &Event{Type: eventType, RoomID: roomID, Timestamp: time.Now()}
	switch p := payload.(type) {
	case json.RawMessage:
		e.Payload = p
	case []byte:
		e.Payload = p
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		e.Payload = data
	}
	return e, nil
}

func (e *Event) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber delivers events until ctx ends or the subscription is
// removed; the returned channel is then closed.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan *Event, error)
	SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error)
	Unsubscribe(ctx context.Context, channel string) error
}

type PubSub interface {
	Publisher
	Subscriber
	Close() error
}
