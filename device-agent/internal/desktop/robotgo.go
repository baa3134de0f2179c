// Package desktop binds the agent to the local desktop through robotgo.
package desktop

import (
	"errors"
	"fmt"
	"image"

	"github.com/go-vgo/robotgo"

	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/protocol"
)

// ErrNoDisplay is returned when the desktop reports an empty screen, which
// happens on headless sessions.
var ErrNoDisplay = errors.New("no display available")

// robotgo names the middle button "center".
var buttonNames = map[string]string{
	protocol.ButtonLeft:   "left",
	protocol.ButtonMiddle: "center",
	protocol.ButtonRight:  "right",
}

// Desktop implements capture.Screen, input.Display and input.Synthesizer.
type Desktop struct{}

// New returns the local desktop.
func New() *Desktop { return &Desktop{} }

// Size returns the full main display size in pixels. robotgo has no work
// area query, so taskbars and docks are included. Capture covers the same
// rectangle, so viewport fractions line up with the captured frame.
func (d *Desktop) Size() (int, int) {
	return robotgo.GetScreenSize()
}

// Capture grabs the main display only; other monitors of a multi-head
// desktop are not part of the frame.
func (d *Desktop) Capture() (image.Image, error) {
	w, h := robotgo.GetScreenSize()
	if w <= 0 || h <= 0 {
		return nil, ErrNoDisplay
	}
	img, err := robotgo.CaptureImg()
	if err != nil {
		return nil, fmt.Errorf("capture screen: %w", err)
	}
	if img == nil {
		return nil, ErrNoDisplay
	}
	return img, nil
}

func (d *Desktop) Move(x, y int) error {
	robotgo.Move(x, y)
	return nil
}

func (d *Desktop) Toggle(button string, down bool) error {
	name, ok := buttonNames[button]
	if !ok {
		return fmt.Errorf("unknown mouse button %q", button)
	}
	if down {
		return robotgo.Toggle(name)
	}
	return robotgo.Toggle(name, "up")
}

func (d *Desktop) Scroll(dx, dy int) error {
	robotgo.Scroll(dx, dy)
	return nil
}

// KeyTap taps key with modifiers held for the duration of the tap.
func (d *Desktop) KeyTap(key string, modifiers ...string) error {
	if len(modifiers) == 0 {
		return robotgo.KeyTap(key)
	}
	args := make([]interface{}, len(modifiers))
	for i, m := range modifiers {
		args[i] = m
	}
	return robotgo.KeyTap(key, args...)
}

func (d *Desktop) KeyToggle(key string, down bool) error {
	if down {
		return robotgo.KeyToggle(key, "down")
	}
	return robotgo.KeyToggle(key, "up")
}
