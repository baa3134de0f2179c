package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMissingType    = errors.New("protocol: missing event type")
	ErrUnknownEvent   = errors.New("protocol: unknown event")
	ErrInvalidPayload = errors.New("protocol: invalid payload")
)

// Envelope is the wire format of every message.
type Envelope struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id,omitempty"`
	Sender  string          `json:"sender,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an envelope for eventType addressed to roomID.
func NewEnvelope(eventType, roomID string, payload any) (*Envelope, error) {
	env := &Envelope{Type: eventType, RoomID: roomID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		env.Payload = data
	}
	return env, nil
}

// Parse decodes a raw message and canonicalizes its event name.
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	env.Type = Canonical(env.Type)
	return &env, nil
}

// Marshal encodes the envelope.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrInvalidPayload, e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, e.Type, err)
	}
	return nil
}

// DeviceID returns the device addressed by a join/leave/start/stop event.
// The payload wins over the envelope room when both are present.
func (e *Envelope) DeviceID() (string, error) {
	if len(e.Payload) > 0 {
		var p DevicePayload
		if err := e.Decode(&p); err != nil {
			return "", err
		}
		if p.DeviceID != "" {
			return p.DeviceID, nil
		}
	}
	if e.RoomID != "" {
		return e.RoomID, nil
	}
	return "", fmt.Errorf("%w: %s requires a device id", ErrInvalidPayload, e.Type)
}
