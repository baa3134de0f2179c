package service

import (
	"context"

	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/protocol"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/hub"
)

// RelayService applies room rules to events received from connections.
type RelayService interface {
	// HandleJoin authorizes and joins the room named by the event.
	HandleJoin(ctx context.Context, client *hub.Client, env *protocol.Envelope) error

	// HandleLeave leaves one room, releasing interest held in it.
	HandleLeave(ctx context.Context, client *hub.Client, env *protocol.Envelope) error

	// HandleStartSharing registers a viewer's interest in a device's screen.
	HandleStartSharing(ctx context.Context, client *hub.Client, env *protocol.Envelope) error

	// HandleStopSharing withdraws a viewer's interest.
	HandleStopSharing(ctx context.Context, client *hub.Client, env *protocol.Envelope) error

	// HandleFrame forwards a device frame to the room.
	HandleFrame(ctx context.Context, client *hub.Client, env *protocol.Envelope) error

	// HandleInput forwards a viewer input event to the room.
	HandleInput(ctx context.Context, client *hub.Client, env *protocol.Envelope) error

	// HandleDisconnect releases everything the connection held.
	HandleDisconnect(ctx context.Context, client *hub.Client) error

	// Start starts background goroutines (store refresh).
	Start(ctx context.Context) error

	// Stop stops background goroutines.
	Stop() error
}

// Recorder counts relayed and rejected events. Implemented by the metrics
// package.
type Recorder interface {
	EventRelayed(event string)
	EventRejected(code string)
}

type noopRecorder struct{}

func (noopRecorder) EventRelayed(string)  {}
func (noopRecorder) EventRejected(string) {}
