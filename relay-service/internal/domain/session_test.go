package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/jwt"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/protocol"
)

func TestIdentity_CanJoin(t *testing.T) {
	admin := Identity{Subject: "u1", Role: jwt.RoleAdmin}
	staff := Identity{Subject: "u2", Role: jwt.RoleStaff, Devices: []string{"pc-01"}}
	device := Identity{Subject: "pc-01", Role: jwt.RoleDevice}
	dev := Identity{Subject: "x", Role: jwt.RoleDevice, Unrestricted: true}

	assert.True(t, admin.CanJoin("pc-99"))
	assert.True(t, staff.CanJoin("pc-01"))
	assert.False(t, staff.CanJoin("pc-02"))
	assert.True(t, device.CanJoin("pc-01"))
	assert.False(t, device.CanJoin("pc-02"))
	assert.True(t, dev.CanJoin("pc-02"))
}

func TestIdentity_RoomRole(t *testing.T) {
	device := Identity{Subject: "pc-01", Role: jwt.RoleDevice}
	assert.Equal(t, protocol.RoleDevice, device.RoomRole("pc-01"))
	assert.Equal(t, protocol.RoleViewer, device.RoomRole("pc-02"))
	assert.Equal(t, protocol.RoleViewer, Identity{Role: jwt.RoleAdmin}.RoomRole("pc-01"))
}

func TestSession_RoomsAndWatching(t *testing.T) {
	s := NewSession("c1", Identity{Role: jwt.RoleAdmin})
	s.JoinRoom("pc-01", protocol.RoleViewer)

	assert.True(t, s.StartWatching("pc-01"))
	assert.False(t, s.StartWatching("pc-01"))
	assert.Equal(t, []string{"pc-01"}, s.Watching())

	role, watching, ok := s.LeaveRoom("pc-01")
	assert.True(t, ok)
	assert.True(t, watching)
	assert.Equal(t, protocol.RoleViewer, role)
	assert.Empty(t, s.Watching())
	assert.False(t, s.StopWatching("pc-01"))

	_, _, ok = s.LeaveRoom("pc-01")
	assert.False(t, ok)
}
