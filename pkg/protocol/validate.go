package protocol

import "fmt"

// Validate checks that env names a known event and that its payload matches
// the schema for that name. Messages that fail never reach a peer.
func Validate(env *Envelope) error {
	switch env.Type {
	case EventJoinServer, EventLeaveServer, EventStartSharing, EventStopSharing:
		_, err := env.DeviceID()
		return err
	case EventScreenShare:
		var f FramePayload
		if err := env.Decode(&f); err != nil {
			return err
		}
		return f.Validate()
	case EventMouseMove, EventMouseDown, EventMouseUp, EventMouseScroll, EventMouseDrag, EventKeyboard:
		_, err := DecodeInput(env)
		return err
	case EventRoomJoined, EventDeviceStatus, EventError:
		return fmt.Errorf("%w: %s is relay-originated", ErrUnknownEvent, env.Type)
	}
	return fmt.Errorf("%w: %s", ErrUnknownEvent, env.Type)
}
