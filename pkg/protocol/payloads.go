package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// DevicePayload names a device room. On the wire it is either an object
// {"device_id": "..."} or a bare JSON string. Agents also send the camelCase
// key "deviceId".
type DevicePayload struct {
	DeviceID string `json:"device_id"`
}

// UnmarshalJSON accepts the object, the camelCase object and the bare string
// form.
func (p *DevicePayload) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.DeviceID = s
		return nil
	}
	type plain DevicePayload
	var obj struct {
		plain
		CamelDeviceID string `json:"deviceId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*p = DevicePayload(obj.plain)
	if p.DeviceID == "" {
		p.DeviceID = obj.CamelDeviceID
	}
	return nil
}

// Image formats a frame can be encoded in.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

// FramePayload is one captured screen image.
type FramePayload struct {
	DeviceID string `json:"device_id"`
	StreamID string `json:"stream_id,omitempty"`
	Seq      uint64 `json:"seq,omitempty"`
	Format   string `json:"format,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Image    string `json:"image"`
}

// UnmarshalJSON accepts "deviceId" as an alias of "device_id".
func (f *FramePayload) UnmarshalJSON(data []byte) error {
	type plain FramePayload
	var obj struct {
		plain
		CamelDeviceID string `json:"deviceId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*f = FramePayload(obj.plain)
	if f.DeviceID == "" {
		f.DeviceID = obj.CamelDeviceID
	}
	return nil
}

// Validate checks the frame schema. The image is not decoded here; only its
// alphabet is checked so a corrupt frame is rejected before fan-out.
func (f *FramePayload) Validate() error {
	if f.DeviceID == "" {
		return fmt.Errorf("%w: frame without device_id", ErrInvalidPayload)
	}
	if f.Image == "" {
		return fmt.Errorf("%w: frame without image", ErrInvalidPayload)
	}
	switch f.Format {
	case "", FormatJPEG, FormatPNG:
	default:
		return fmt.Errorf("%w: unsupported frame format %q", ErrInvalidPayload, f.Format)
	}
	if f.Width < 0 || f.Height < 0 {
		return fmt.Errorf("%w: negative frame size", ErrInvalidPayload)
	}
	if len(f.Image)%4 != 0 || strings.IndexFunc(f.Image, notBase64) >= 0 {
		return fmt.Errorf("%w: frame image is not base64", ErrInvalidPayload)
	}
	return nil
}

// Bytes decodes the image.
func (f *FramePayload) Bytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(f.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return data, nil
}

// Newer reports whether f supersedes a frame previously seen with
// (streamID, seq). A different stream always supersedes.
func (f *FramePayload) Newer(streamID string, seq uint64) bool {
	if f.StreamID != streamID {
		return true
	}
	return f.Seq > seq
}

func notBase64(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return false
	case r == '+', r == '/', r == '=':
		return false
	}
	return true
}

// RoomJoinedPayload acknowledges a join-server.
type RoomJoinedPayload struct {
	DeviceID     string `json:"device_id"`
	Role         string `json:"role"`
	Viewers      int    `json:"viewers"`
	DeviceOnline bool   `json:"device_online"`
}

// DeviceStatusPayload tells viewers a device agent came or went.
type DeviceStatusPayload struct {
	DeviceID string `json:"device_id"`
	Online   bool   `json:"online"`
}

// ErrorPayload is sent back to a connection whose event was rejected.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

// NewErrorEnvelope builds an error reply.
func NewErrorEnvelope(roomID, code, message, event string) *Envelope {
	env, _ := NewEnvelope(EventError, roomID, &ErrorPayload{Code: code, Message: message, Event: event})
	return env
}
