// Package input replays viewer input events on the device's desktop.
package input

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	pkglog "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/protocol"
)

// Display reports the current primary display size in pixels.
type Display interface {
	Size() (width, height int)
}

// Synthesizer injects OS-level input.
type Synthesizer interface {
	Move(x, y int) error
	Toggle(button string, down bool) error
	Scroll(dx, dy int) error
	KeyTap(key string, modifiers ...string) error
	KeyToggle(key string, down bool) error
}

// Relay applies decoded input events through a Synthesizer. Events are
// fire-and-forget: failures are logged and the event is dropped.
type Relay struct {
	display Display
	synth   Synthesizer

	mu       sync.Mutex
	lastDrag string
}

// New creates a relay.
func New(display Display, synth Synthesizer) *Relay {
	return &Relay{display: display, synth: synth}
}

// Handle decodes env and applies it. It never panics and never returns an
// error; it is meant to be registered as a transport event handler.
func (r *Relay) Handle(ctx context.Context, env *protocol.Envelope) {
	l := pkglog.Ctx(ctx)
	defer func() {
		if rec := recover(); rec != nil {
			l.Error().Interface("panic", rec).Str(pkglog.FieldEvent, env.Type).Msg("input synthesis panicked")
		}
	}()

	ev, err := protocol.DecodeInput(env)
	if err != nil {
		l.Warn().Err(err).Str(pkglog.FieldEvent, env.Type).Msg("dropping invalid input event")
		return
	}
	if err := r.Apply(ev); err != nil {
		l.Warn().Err(err).Str(pkglog.FieldEvent, env.Type).Msg("input synthesis failed")
	}
}

// Apply synthesizes one event.
func (r *Relay) Apply(ev protocol.InputEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := ev.(type) {
	case protocol.MouseMove:
		return r.moveTo(e.X, e.Y)
	case protocol.MouseDown:
		return r.synth.Toggle(string(e.Button), true)
	case protocol.MouseUp:
		return r.synth.Toggle(string(e.Button), false)
	case protocol.MouseScroll:
		return r.synth.Scroll(int(math.Round(e.DeltaX)), int(math.Round(e.DeltaY)))
	case protocol.MouseDrag:
		return r.drag(e)
	case protocol.KeyPress:
		return r.key(e)
	}
	return fmt.Errorf("unsupported input event %T", ev)
}

// moveTo maps a viewport fraction onto the display queried now; the
// resolution may change between events. (1,1) lands on (W,H).
func (r *Relay) moveTo(x, y float64) error {
	w, h := r.display.Size()
	if w <= 0 || h <= 0 {
		return fmt.Errorf("invalid display size %dx%d", w, h)
	}
	return r.synth.Move(scale(x, w), scale(y, h))
}

func scale(f float64, size int) int {
	return int(math.Round(f * float64(size)))
}

// drag presses or releases the left button only when the direction
// changes, then moves.
func (r *Relay) drag(e protocol.MouseDrag) error {
	if e.Direction != r.lastDrag {
		if err := r.synth.Toggle(protocol.ButtonLeft, e.Direction == protocol.DragDown); err != nil {
			return err
		}
		r.lastDrag = e.Direction
	}
	return r.moveTo(e.X, e.Y)
}

// key taps the key, holding modifiers for a chord. Modifiers are released
// in reverse order even when the tap fails. A shifted key with no explicit
// modifiers is a single tap with shift.
func (r *Relay) key(e protocol.KeyPress) (err error) {
	token, shift, err := KeyToken(e.Key)
	if err != nil {
		return err
	}
	mods, err := ModifierTokens(e.Modifiers)
	if err != nil {
		return err
	}

	if len(mods) == 0 {
		if shift {
			return r.synth.KeyTap(token, "shift")
		}
		return r.synth.KeyTap(token)
	}
	if shift && !contains(mods, "shift") {
		mods = append(mods, "shift")
	}

	pressed := make([]string, 0, len(mods))
	defer func() {
		for i := len(pressed) - 1; i >= 0; i-- {
			if uerr := r.synth.KeyToggle(pressed[i], false); uerr != nil {
				err = errors.Join(err, uerr)
			}
		}
	}()

	for _, m := range mods {
		if err := r.synth.KeyToggle(m, true); err != nil {
			return err
		}
		pressed = append(pressed, m)
	}
	return r.synth.KeyTap(token)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
