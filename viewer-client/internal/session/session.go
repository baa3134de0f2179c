// Package session is the viewer side of an observation: it asks a device to
// stream, presents the frames it receives and relays the user's pointer and
// keyboard input back to the device.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	pkglog "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/protocol"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/wsconn"
)

var (
	ErrAlreadyConnected = errors.New("session already connected")
	ErrNotConnected     = errors.New("session not connected")
	ErrClosed           = errors.New("session closed")
	// ErrOutsideViewport is returned for pointer events outside the
	// viewport; nothing is sent.
	ErrOutsideViewport = errors.New("pointer outside viewport")
)

// Transport is the relay connection. *wsconn.Client satisfies it.
type Transport interface {
	On(event string, h wsconn.Handler)
	OnConnect(fn func(ctx context.Context))
	Join(room string) error
	Leave(room string) error
	Emit(room, event string, payload any) error
	Open(ctx context.Context) error
	Close() error
	State() wsconn.State
}

// State is the session snapshot exposed to the local UI.
type State struct {
	DeviceID     string       `json:"device_id"`
	Connection   wsconn.State `json:"connection"`
	DeviceOnline bool         `json:"device_online"`
	Viewers      int          `json:"viewers"`
	StreamID     string       `json:"stream_id,omitempty"`
	Seq          uint64       `json:"seq,omitempty"`
	LastFrameAt  *time.Time   `json:"last_frame_at,omitempty"`
	LastError    string       `json:"last_error,omitempty"`
	Viewport     Viewport     `json:"viewport"`
}

// Session observes one device.
type Session struct {
	conn Transport
	sink FrameSink

	mu           sync.Mutex
	deviceID     string
	connected    bool
	closed       bool
	viewport     Viewport
	hasFrame     bool
	streamID     string
	seq          uint64
	lastFrameAt  time.Time
	deviceOnline bool
	viewers      int
	lastError    string

	closeOnce sync.Once
}

// New creates a session that presents frames into sink.
func New(conn Transport, sink FrameSink) *Session {
	return &Session{conn: conn, sink: sink}
}

// Connect joins deviceID's room and asks it to stream. The request is
// repeated after every reconnect, since the relay drops a viewer's interest
// with its connection. The session is closed when ctx ends.
func (s *Session) Connect(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.connected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.connected = true
	s.deviceID = deviceID
	s.mu.Unlock()

	s.conn.On(protocol.EventScreenShare, s.onFrame)
	s.conn.On(protocol.EventRoomJoined, s.onJoined)
	s.conn.On(protocol.EventDeviceStatus, s.onDeviceStatus)
	s.conn.On(protocol.EventError, s.onError)
	s.conn.OnConnect(s.requestStream)

	if err := s.conn.Join(deviceID); err != nil {
		return err
	}
	if err := s.conn.Open(ctx); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return nil
}

// Close stops the stream request, leaves the room and closes the transport.
// It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		deviceID := s.deviceID
		connected := s.connected
		s.mu.Unlock()

		l := pkglog.Component("session")
		if connected {
			if emitErr := s.conn.Emit(deviceID, protocol.EventStopSharing, &protocol.DevicePayload{DeviceID: deviceID}); emitErr != nil && !errors.Is(emitErr, wsconn.ErrNotConnected) {
				l.Warn().Err(emitErr).Str(pkglog.FieldDeviceID, deviceID).Msg("failed to send stop-sharing")
			}
			if leaveErr := s.conn.Leave(deviceID); leaveErr != nil && !errors.Is(leaveErr, wsconn.ErrNotConnected) {
				l.Warn().Err(leaveErr).Str(pkglog.FieldDeviceID, deviceID).Msg("failed to leave room")
			}
		}
		err = s.conn.Close()
		l.Info().Str(pkglog.FieldDeviceID, deviceID).Msg("session closed")
	})
	return err
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	st := State{
		DeviceID:     s.deviceID,
		DeviceOnline: s.deviceOnline,
		Viewers:      s.viewers,
		StreamID:     s.streamID,
		Seq:          s.seq,
		LastError:    s.lastError,
		Viewport:     s.viewport,
	}
	if s.hasFrame {
		t := s.lastFrameAt
		st.LastFrameAt = &t
	}
	s.mu.Unlock()

	st.Connection = s.conn.State()
	return st
}

// SetViewport records where the frame is drawn. Pointer coordinates are
// normalized against the latest viewport.
func (s *Session) SetViewport(v Viewport) error {
	if err := v.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.viewport = v
	s.mu.Unlock()
	return nil
}

func (s *Session) Viewport() Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

// PointerMove sends the pointer position.
func (s *Session) PointerMove(clientX, clientY float64) error {
	x, y, err := s.normalize(clientX, clientY)
	if err != nil {
		return err
	}
	return s.send(protocol.MouseMove{X: x, Y: y})
}

// PointerDown presses button.
func (s *Session) PointerDown(button string) error {
	return s.send(protocol.MouseDown{Button: protocol.Button(button)})
}

// PointerUp releases button.
func (s *Session) PointerUp(button string) error {
	return s.send(protocol.MouseUp{Button: protocol.Button(button)})
}

// Scroll sends raw wheel deltas.
func (s *Session) Scroll(deltaX, deltaY float64) error {
	return s.send(protocol.MouseScroll{DeltaX: deltaX, DeltaY: deltaY})
}

// Drag sends one step of a drag gesture.
func (s *Session) Drag(direction string, clientX, clientY float64) error {
	x, y, err := s.normalize(clientX, clientY)
	if err != nil {
		return err
	}
	return s.send(protocol.MouseDrag{Direction: direction, X: x, Y: y})
}

// Key sends a key press with its held modifiers.
func (s *Session) Key(key string, modifiers []string) error {
	return s.send(protocol.KeyPress{Key: key, Modifiers: modifiers})
}

func (s *Session) normalize(clientX, clientY float64) (float64, float64, error) {
	x, y, ok := s.Viewport().Normalize(clientX, clientY)
	if !ok {
		return 0, 0, ErrOutsideViewport
	}
	return x, y, nil
}

// send validates ev and emits it without waiting for delivery.
func (s *Session) send(ev protocol.InputEvent) error {
	s.mu.Lock()
	deviceID, connected, closed := s.deviceID, s.connected, s.closed
	s.mu.Unlock()

	switch {
	case closed:
		return ErrClosed
	case !connected:
		return ErrNotConnected
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	return s.conn.Emit(deviceID, ev.Event(), ev)
}

func (s *Session) requestStream(ctx context.Context) {
	s.mu.Lock()
	deviceID, closed := s.deviceID, s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	l := pkglog.Ctx(ctx)
	if err := s.conn.Emit(deviceID, protocol.EventStartSharing, &protocol.DevicePayload{DeviceID: deviceID}); err != nil {
		l.Warn().Err(err).Str(pkglog.FieldDeviceID, deviceID).Msg("failed to request stream")
		return
	}
	l.Info().Str(pkglog.FieldDeviceID, deviceID).Msg("stream requested")
}

func (s *Session) onFrame(ctx context.Context, env *protocol.Envelope) {
	l := pkglog.Ctx(ctx)

	var p protocol.FramePayload
	if err := env.Decode(&p); err != nil {
		l.Warn().Err(err).Msg("dropping undecodable frame")
		return
	}
	if err := p.Validate(); err != nil {
		l.Warn().Err(err).Msg("dropping invalid frame")
		return
	}

	s.mu.Lock()
	if p.DeviceID != s.deviceID || s.closed {
		s.mu.Unlock()
		return
	}
	if s.hasFrame && p.StreamID != "" && !p.Newer(s.streamID, s.seq) {
		s.mu.Unlock()
		l.Debug().Str(pkglog.FieldStreamID, p.StreamID).Uint64("seq", p.Seq).Msg("dropping stale frame")
		return
	}
	s.mu.Unlock()

	data, err := p.Bytes()
	if err != nil {
		l.Warn().Err(err).Msg("dropping undecodable frame")
		return
	}

	now := time.Now()
	s.mu.Lock()
	// Re-check: another frame may have been accepted while decoding.
	if s.hasFrame && p.StreamID != "" && !p.Newer(s.streamID, s.seq) {
		s.mu.Unlock()
		return
	}
	s.hasFrame = true
	s.streamID = p.StreamID
	s.seq = p.Seq
	s.lastFrameAt = now
	s.deviceOnline = true
	s.mu.Unlock()

	s.sink.Present(&Frame{
		DeviceID:   p.DeviceID,
		StreamID:   p.StreamID,
		Seq:        p.Seq,
		Format:     p.Format,
		Width:      p.Width,
		Height:     p.Height,
		Data:       data,
		ReceivedAt: now,
	})
}

func (s *Session) onJoined(ctx context.Context, env *protocol.Envelope) {
	var p protocol.RoomJoinedPayload
	if err := env.Decode(&p); err != nil {
		return
	}
	s.mu.Lock()
	if p.DeviceID == s.deviceID {
		s.deviceOnline = p.DeviceOnline
		s.viewers = p.Viewers
	}
	s.mu.Unlock()
}

func (s *Session) onDeviceStatus(ctx context.Context, env *protocol.Envelope) {
	var p protocol.DeviceStatusPayload
	if err := env.Decode(&p); err != nil {
		return
	}
	s.mu.Lock()
	if p.DeviceID == s.deviceID {
		s.deviceOnline = p.Online
	}
	s.mu.Unlock()

	l := pkglog.Ctx(ctx)
	l.Info().Str(pkglog.FieldDeviceID, p.DeviceID).Bool("online", p.Online).Msg("device status changed")
}

func (s *Session) onError(ctx context.Context, env *protocol.Envelope) {
	var p protocol.ErrorPayload
	if err := env.Decode(&p); err != nil {
		return
	}
	s.mu.Lock()
	s.lastError = p.Code + ": " + p.Message
	s.mu.Unlock()

	l := pkglog.Ctx(ctx)
	l.Warn().Str("code", p.Code).Str(pkglog.FieldEvent, p.Event).Msg(p.Message)
}
