package domain

import (
	"sync"
	"time"

	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/jwt"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/protocol"
)

// Identity is the authenticated principal behind a connection.
type Identity struct {
	Subject  string
	Username string
	Role     string
	Devices  []string
	// Unrestricted skips room authorization (authentication disabled).
	Unrestricted bool
}

// IdentityFromClaims maps verified token claims onto an Identity.
func IdentityFromClaims(c *jwt.Claims) Identity {
	return Identity{
		Subject:  c.Subject,
		Username: c.Username,
		Role:     c.Role,
		Devices:  append([]string(nil), c.Devices...),
	}
}

// IsDevice reports whether the identity is a kiosk agent.
func (i Identity) IsDevice() bool {
	return i.Role == jwt.RoleDevice
}

// CanJoin reports whether the identity may join the room of deviceID.
// Devices may only join their own room, admins any room, staff the rooms
// listed in their token.
func (i Identity) CanJoin(deviceID string) bool {
	if i.Unrestricted {
		return true
	}
	switch i.Role {
	case jwt.RoleAdmin:
		return true
	case jwt.RoleDevice:
		return i.Subject == deviceID
	case jwt.RoleStaff:
		for _, d := range i.Devices {
			if d == deviceID {
				return true
			}
		}
	}
	return false
}

// RoomRole is the protocol role the identity takes in deviceID's room.
func (i Identity) RoomRole(deviceID string) string {
	if i.IsDevice() && i.Subject == deviceID {
		return protocol.RoleDevice
	}
	return protocol.RoleViewer
}

// Session represents a client's WebSocket session.
type Session struct {
	ID           string
	Identity     Identity
	CreatedAt    time.Time
	LastActiveAt time.Time

	rooms    map[string]string // roomID -> protocol role
	watching map[string]struct{}
	mu       sync.RWMutex
}

// NewSession creates a new session with a unique ID.
func NewSession(id string, identity Identity) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		Identity:     identity,
		CreatedAt:    now,
		LastActiveAt: now,
		rooms:        make(map[string]string),
		watching:     make(map[string]struct{}),
	}
}

// JoinRoom records membership of roomID with role.
func (s *Session) JoinRoom(roomID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = role
	s.LastActiveAt = time.Now()
}

// LeaveRoom forgets roomID. It reports the role held and whether the
// session was watching the room.
func (s *Session) LeaveRoom(roomID string) (role string, watching, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok = s.rooms[roomID]
	_, watching = s.watching[roomID]
	delete(s.rooms, roomID)
	delete(s.watching, roomID)
	s.LastActiveAt = time.Now()
	return role, watching, ok
}

// RoleIn returns the role held in roomID.
func (s *Session) RoleIn(roomID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.rooms[roomID]
	return role, ok
}

// Rooms returns a snapshot of roomID -> role.
func (s *Session) Rooms() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.rooms))
	for k, v := range s.rooms {
		out[k] = v
	}
	return out
}

// StartWatching marks interest in roomID; false if already marked.
func (s *Session) StartWatching(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watching[roomID]; ok {
		return false
	}
	s.watching[roomID] = struct{}{}
	return true
}

// StopWatching clears interest in roomID; false if it was not marked.
func (s *Session) StopWatching(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watching[roomID]; !ok {
		return false
	}
	delete(s.watching, roomID)
	return true
}

// Watching returns the rooms the session is interested in.
func (s *Session) Watching() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.watching))
	for r := range s.watching {
		out = append(out, r)
	}
	return out
}

// UpdateActivity updates the last active timestamp.
func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = time.Now()
}

// LastActive returns the last activity time.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastActiveAt
}
