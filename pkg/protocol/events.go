// Package protocol defines the room-addressed events exchanged between
// viewers, device agents and the relay, and validates their payloads.
//
// Every message on the wire is an Envelope: a named event, the room (device
// id) it is addressed to, the relay-stamped sender and a JSON payload whose
// schema is fixed per event name.
package protocol

// Room membership and control.
const (
	EventJoinServer   = "join-server"
	EventLeaveServer  = "leave-server"
	EventRoomJoined   = "room-joined"
	EventStartSharing = "start-sharing"
	EventStopSharing  = "stop-sharing"
	EventDeviceStatus = "device-status"
	EventError        = "error"
)

// Device → viewer.
const (
	EventScreenShare = "screen-share"
)

// Viewer → device input.
const (
	EventMouseMove   = "mouse-move"
	EventMouseDown   = "mouse-down"
	EventMouseUp     = "mouse-up"
	EventMouseScroll = "mouse-scroll"
	EventMouseDrag   = "mouse-drag"
	EventKeyboard    = "keyboard-event"
)

// Legacy names still sent by older kiosk and dashboard builds.
var aliases = map[string]string{
	"start-screencast": EventStartSharing,
	"stop-screencast":  EventStopSharing,
	"screencast-data":  EventScreenShare,
}

var inputEvents = map[string]struct{}{
	EventMouseMove:   {},
	EventMouseDown:   {},
	EventMouseUp:     {},
	EventMouseScroll: {},
	EventMouseDrag:   {},
	EventKeyboard:    {},
}

// Canonical maps legacy event names onto their current name.
func Canonical(name string) string {
	if c, ok := aliases[name]; ok {
		return c
	}
	return name
}

// IsInput reports whether name is a viewer input event.
func IsInput(name string) bool {
	_, ok := inputEvents[Canonical(name)]
	return ok
}

// Error codes carried by EventError.
const (
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Roles a connection can hold.
const (
	RoleViewer = "viewer"
	RoleDevice = "device"
)
