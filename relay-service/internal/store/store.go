package store

import (
	"context"
	"time"
)

// DeviceStatus is the presence record of one device agent.
type DeviceStatus struct {
	DeviceID   string    `json:"device_id"`
	Online     bool      `json:"online"`
	InstanceID string    `json:"instance_id,omitempty"`
	Since      time.Time `json:"since,omitempty"`
}

// Store holds viewer interest per room and device presence. With the redis
// driver both are shared by every relay instance.
type Store interface {
	// AddViewer records viewerID's interest in roomID. changed is false when
	// the interest was already recorded; count is the number of interested
	// viewers afterwards.
	AddViewer(ctx context.Context, roomID, viewerID string) (changed bool, count int, err error)
	// RemoveViewer drops viewerID's interest in roomID.
	RemoveViewer(ctx context.Context, roomID, viewerID string) (changed bool, count int, err error)
	ViewerCount(ctx context.Context, roomID string) (int, error)

	SetDeviceOnline(ctx context.Context, deviceID, instanceID string) error
	SetDeviceOffline(ctx context.Context, deviceID string) error
	GetDeviceStatus(ctx context.Context, deviceID string) (*DeviceStatus, error)
	ListOnlineDevices(ctx context.Context) ([]DeviceStatus, error)

	// Refresh extends the lifetime of records owned by this instance: the
	// given online devices and roomID -> viewer ids.
	Refresh(ctx context.Context, devices []string, viewers map[string][]string) error

	Close() error
}
