package pubsub

import "fmt"

// Channel naming conventions. Channels follow {prefix}:room:{roomID}:{suffix}
// so the Kafka driver can map them onto a topic and a message key.
const (
	// Room emissions shared between relay instances.
	ChannelRelayFanout = "relay:room:%s:fanout"

	// PatternRelayFanout matches the fan-out channel of every room.
	PatternRelayFanout = "relay:room:*:fanout"

	// TopicRelayFanout is the Kafka topic backing ChannelRelayFanout.
	TopicRelayFanout = "relay-fanout"
)

// EventRoomEmit is the event type carried on the fan-out channel.
const EventRoomEmit = "room_emit"

// RelayFanoutChannel returns the fan-out channel for roomID.
func RelayFanoutChannel(roomID string) string {
	return fmt.Sprintf(ChannelRelayFanout, roomID)
}

// RoomEmitPayload is a room emission replayed on other relay instances.
type RoomEmitPayload struct {
	Message []byte `json:"message"`
	Exclude string `json:"exclude,omitempty"`
	Lossy   bool   `json:"lossy,omitempty"`
}
