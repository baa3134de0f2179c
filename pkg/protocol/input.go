package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// InputEvent is one viewer input, normalized to the viewer's viewport.
// Concrete types: MouseMove, MouseDown, MouseUp, MouseScroll, MouseDrag,
// KeyPress.
type InputEvent interface {
	Event() string
	Validate() error
}

// Mouse buttons.
const (
	ButtonLeft   = "left"
	ButtonMiddle = "middle"
	ButtonRight  = "right"
)

// Button is a mouse button. On the wire it is a name ("left") or a DOM
// MouseEvent.button index (0 left, 1 middle, 2 right).
type Button string

// UnmarshalJSON accepts names and DOM indexes.
func (b *Button) UnmarshalJSON(data []byte) error {
	var idx int
	if err := json.Unmarshal(data, &idx); err == nil {
		switch idx {
		case 0:
			*b = ButtonLeft
		case 1:
			*b = ButtonMiddle
		case 2:
			*b = ButtonRight
		default:
			return fmt.Errorf("unknown mouse button %d", idx)
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*b = Button(strings.ToLower(s))
	return nil
}

func (b Button) validate() error {
	switch b {
	case ButtonLeft, ButtonMiddle, ButtonRight:
		return nil
	}
	return fmt.Errorf("%w: unknown mouse button %q", ErrInvalidPayload, string(b))
}

// Drag directions.
const (
	DragDown = "down"
	DragUp   = "up"
)

// MouseMove moves the pointer to a viewport fraction.
type MouseMove struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (MouseMove) Event() string     { return EventMouseMove }
func (m MouseMove) Validate() error { return validatePoint(m.X, m.Y) }

// MouseDown presses a button.
type MouseDown struct {
	Button Button `json:"button"`
}

func (MouseDown) Event() string     { return EventMouseDown }
func (m MouseDown) Validate() error { return m.Button.validate() }

// MouseUp releases a button.
type MouseUp struct {
	Button Button `json:"button"`
}

func (MouseUp) Event() string     { return EventMouseUp }
func (m MouseUp) Validate() error { return m.Button.validate() }

// MouseScroll carries raw wheel deltas.
type MouseScroll struct {
	DeltaX float64 `json:"deltaX"`
	DeltaY float64 `json:"deltaY"`
}

// maxScrollDelta bounds a single wheel event.
const maxScrollDelta = 10000

func (MouseScroll) Event() string { return EventMouseScroll }

func (m MouseScroll) Validate() error {
	for _, d := range []float64{m.DeltaX, m.DeltaY} {
		if math.IsNaN(d) || math.IsInf(d, 0) || math.Abs(d) > maxScrollDelta {
			return fmt.Errorf("%w: scroll delta %v out of range", ErrInvalidPayload, d)
		}
	}
	return nil
}

// MouseDrag is one step of a drag gesture.
type MouseDrag struct {
	Direction string  `json:"direction"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

func (MouseDrag) Event() string { return EventMouseDrag }

func (m MouseDrag) Validate() error {
	if m.Direction != DragDown && m.Direction != DragUp {
		return fmt.Errorf("%w: unknown drag direction %q", ErrInvalidPayload, m.Direction)
	}
	return validatePoint(m.X, m.Y)
}

// KeyPress is a key with optional modifiers.
type KeyPress struct {
	Key       string   `json:"key"`
	Modifiers []string `json:"modifiers,omitempty"`
}

func (KeyPress) Event() string { return EventKeyboard }

func (k KeyPress) Validate() error {
	if strings.TrimSpace(k.Key) == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidPayload)
	}
	for _, m := range k.Modifiers {
		if _, ok := NormalizeModifier(m); !ok {
			return fmt.Errorf("%w: unknown modifier %q", ErrInvalidPayload, m)
		}
	}
	return nil
}

// Modifier tokens after normalization.
const (
	ModShift   = "shift"
	ModControl = "control"
	ModAlt     = "alt"
	ModCommand = "command"
)

var modifierNames = map[string]string{
	"shift":   ModShift,
	"ctrl":    ModControl,
	"control": ModControl,
	"alt":     ModAlt,
	"option":  ModAlt,
	"meta":    ModCommand,
	"cmd":     ModCommand,
	"command": ModCommand,
	"super":   ModCommand,
	"win":     ModCommand,
}

// NormalizeModifier maps the modifier spellings used by browsers and the
// kiosk clients onto one token.
func NormalizeModifier(m string) (string, bool) {
	c, ok := modifierNames[strings.ToLower(strings.TrimSpace(m))]
	return c, ok
}

func validatePoint(x, y float64) error {
	if !isFraction(x) || !isFraction(y) {
		return fmt.Errorf("%w: point (%v, %v) outside [0,1]", ErrInvalidPayload, x, y)
	}
	return nil
}

func isFraction(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// DecodeInput decodes and validates an input envelope.
func DecodeInput(env *Envelope) (InputEvent, error) {
	var ev InputEvent
	switch Canonical(env.Type) {
	case EventMouseMove:
		var m MouseMove
		if err := env.Decode(&m); err != nil {
			return nil, err
		}
		ev = m
	case EventMouseDown:
		var m MouseDown
		if err := env.Decode(&m); err != nil {
			return nil, err
		}
		ev = m
	case EventMouseUp:
		var m MouseUp
		if err := env.Decode(&m); err != nil {
			return nil, err
		}
		ev = m
	case EventMouseScroll:
		var m MouseScroll
		if err := env.Decode(&m); err != nil {
			return nil, err
		}
		ev = m
	case EventMouseDrag:
		var m MouseDrag
		if err := env.Decode(&m); err != nil {
			return nil, err
		}
		ev = m
	case EventKeyboard:
		var k KeyPress
		if err := env.Decode(&k); err != nil {
			return nil, err
		}
		ev = k
	default:
		return nil, fmt.Errorf("%w: %s is not an input event", ErrUnknownEvent, env.Type)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// NewInputEnvelope wraps an input event for roomID.
func NewInputEnvelope(roomID string, ev InputEvent) (*Envelope, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return NewEnvelope(ev.Event(), roomID, ev)
}
