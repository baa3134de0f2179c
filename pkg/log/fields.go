package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor (matches pkg/middleware keys)
	FieldUserID   = "user_id"
	FieldUsername = "username"
	FieldRole     = "role"

	// Relay
	FieldClientID = "client_id"
	FieldDeviceID = "device_id"
	FieldRoomID   = "room_id"
	FieldEvent    = "event"
	FieldStreamID = "stream_id"

	// Service
	FieldService   = "service"
	FieldComponent = "component"
)
