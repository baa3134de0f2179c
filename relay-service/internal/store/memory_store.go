package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryStore keeps state in process for a single relay instance.
type memoryStore struct {
	mu      sync.Mutex
	viewers map[string]map[string]struct{}
	devices map[string]DeviceStatus
}

// NewMemoryStore creates an in-process store.
func NewMemoryStore() Store {
	return &memoryStore{
		viewers: make(map[string]map[string]struct{}),
		devices: make(map[string]DeviceStatus),
	}
}

func (s *memoryStore) AddViewer(ctx context.Context, roomID, viewerID string) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.viewers[roomID]
	if !ok {
		set = make(map[string]struct{})
		s.viewers[roomID] = set
	}
	if _, ok := set[viewerID]; ok {
		return false, len(set), nil
	}
	set[viewerID] = struct{}{}
	return true, len(set), nil
}

func (s *memoryStore) RemoveViewer(ctx context.Context, roomID, viewerID string) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.viewers[roomID]
	if !ok {
		return false, 0, nil
	}
	if _, ok := set[viewerID]; !ok {
		return false, len(set), nil
	}
	delete(set, viewerID)
	n := len(set)
	if n == 0 {
		delete(s.viewers, roomID)
	}
	return true, n, nil
}

func (s *memoryStore) ViewerCount(ctx context.Context, roomID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers[roomID]), nil
}

func (s *memoryStore) SetDeviceOnline(ctx context.Context, deviceID, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[deviceID] = DeviceStatus{
		DeviceID:   deviceID,
		Online:     true,
		InstanceID: instanceID,
		Since:      time.Now().UTC(),
	}
	return nil
}

func (s *memoryStore) SetDeviceOffline(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, deviceID)
	return nil
}

func (s *memoryStore) GetDeviceStatus(ctx context.Context, deviceID string) (*DeviceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.devices[deviceID]; ok {
		return &st, nil
	}
	return &DeviceStatus{DeviceID: deviceID}, nil
}

func (s *memoryStore) ListOnlineDevices(ctx context.Context) ([]DeviceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeviceStatus, 0, len(s.devices))
	for _, st := range s.devices {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (s *memoryStore) Refresh(ctx context.Context, devices []string, viewers map[string][]string) error {
	return nil
}

func (s *memoryStore) Close() error {
	return nil
}
