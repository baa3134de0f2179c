package roster

import (
	"context"
	"errors"
)

var ErrDeviceNotFound = errors.New("device not found")

// Device is a lab machine registered in the lab-management backend.
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Hostname string `json:"hostname"`
	LabID    string `json:"lab_id"`
}

// Roster resolves device ids against the registered devices.
type Roster interface {
	Lookup(ctx context.Context, deviceID string) (*Device, error)
}

// Open accepts every device id. Used when no roster backend is configured.
type Open struct{}

// Lookup returns a bare record for any non-empty id.
func (Open) Lookup(ctx context.Context, deviceID string) (*Device, error) {
	if deviceID == "" {
		return nil, ErrDeviceNotFound
	}
	return &Device{ID: deviceID}, nil
}
