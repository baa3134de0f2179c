package kafka

import "context"

// ObservationEvent records a change in who is observing a device, or in the
// device's own connection.
type ObservationEvent struct {
	Type      string `json:"type"`
	DeviceID  string `json:"device_id"`
	ViewerID  string `json:"viewer_id,omitempty"`
	Viewers   int    `json:"viewers"`
	Reason    string `json:"reason,omitempty"` // "explicit" | "disconnect"
	Instance  string `json:"instance,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Event types
const (
	EventObservationStarted = "observation_started"
	EventObservationStopped = "observation_stopped"
	EventDeviceOnline       = "device_online"
	EventDeviceOffline      = "device_offline"
)

// Stop reasons
const (
	ReasonExplicit   = "explicit"
	ReasonDisconnect = "disconnect"
)

// ObservationEventProducer publishes observation lifecycle events.
type ObservationEventProducer interface {
	ProduceObservationStarted(ctx context.Context, deviceID, viewerID string, viewers int) error
	ProduceObservationStopped(ctx context.Context, deviceID, viewerID string, viewers int, reason string) error
	ProduceDeviceOnline(ctx context.Context, deviceID string) error
	ProduceDeviceOffline(ctx context.Context, deviceID, reason string) error
	Close() error
}
