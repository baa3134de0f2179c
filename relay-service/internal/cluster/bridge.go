package cluster

import (
	"context"
	"errors"

	pkglog "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/pubsub"
)

// Emitter delivers a message to the members of a room connected to this
// instance. *hub.Hub satisfies it.
type Emitter interface {
	EmitToRoom(roomID string, message []byte, exclude string, lossy bool) error
}

// Bridge extends room emission across relay instances. Every emission is
// delivered locally and published on the room's fan-out channel; emissions
// published by other instances are delivered to local members.
type Bridge struct {
	local      Emitter
	ps         pubsub.PubSub
	instanceID string
}

// NewBridge creates a bridge. A nil ps makes it a pass-through to local.
func NewBridge(local Emitter, ps pubsub.PubSub, instanceID string) *Bridge {
	return &Bridge{local: local, ps: ps, instanceID: instanceID}
}

// EmitToRoom delivers locally, then publishes for the other instances.
// A publish failure is logged; local members have already been served.
func (b *Bridge) EmitToRoom(roomID string, message []byte, exclude string, lossy bool) error {
	if err := b.local.EmitToRoom(roomID, message, exclude, lossy); err != nil {
		return err
	}
	if b.ps == nil {
		return nil
	}

	event, err := pubsub.NewEvent(pubsub.EventRoomEmit, roomID, pubsub.RoomEmitPayload{
		Message: message,
		Exclude: exclude,
		Lossy:   lossy,
	})
	if err != nil {
		return err
	}
	event.Origin = b.instanceID

	if err := b.ps.Publish(context.Background(), pubsub.RelayFanoutChannel(roomID), event); err != nil {
		l := pkglog.Component("cluster")
		l.Warn().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("failed to publish room emission")
	}
	return nil
}

// Run consumes emissions from other instances until ctx ends.
func (b *Bridge) Run(ctx context.Context) error {
	if b.ps == nil {
		<-ctx.Done()
		return nil
	}

	events, err := b.ps.SubscribePattern(ctx, pubsub.PatternRelayFanout)
	if err != nil {
		return err
	}

	l := pkglog.Component("cluster")
	l.Info().Str("instance_id", b.instanceID).Msg("cluster bridge started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("fan-out subscription closed")
			}
			b.handle(event)
		}
	}
}

func (b *Bridge) handle(event *pubsub.Event) {
	if event.Type != pubsub.EventRoomEmit || event.Origin == b.instanceID {
		return
	}

	var payload pubsub.RoomEmitPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		l := pkglog.Component("cluster")
		l.Warn().Err(err).Str(pkglog.FieldRoomID, event.RoomID).Msg("invalid room emission")
		return
	}
	if err := b.local.EmitToRoom(event.RoomID, payload.Message, payload.Exclude, payload.Lossy); err != nil {
		l := pkglog.Component("cluster")
		l.Debug().Err(err).Str(pkglog.FieldRoomID, event.RoomID).Msg("remote emission not delivered")
	}
}
