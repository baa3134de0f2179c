package wsconn

import "time"

// Status is the lifecycle position of a Client.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	// StatusUnreachable is terminal: the retry ceiling was reached.
	StatusUnreachable Status = "unreachable"
	// StatusClosed is terminal: Close was called or the context ended.
	StatusClosed Status = "closed"
)

// TransportWebSocket is the only transport.
const TransportWebSocket = "websocket"

// State is a snapshot of the connection for local observability.
type State struct {
	Status      Status    `json:"status"`
	Transport   string    `json:"transport"`
	LastError   string    `json:"last_error,omitempty"`
	Attempts    int       `json:"attempts"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
}

// Terminal reports whether no further connection will be attempted.
func (s Status) Terminal() bool {
	return s == StatusUnreachable || s == StatusClosed
}
