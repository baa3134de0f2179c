// Package agent ties the kiosk's relay connection to its capture loop and
// input relay.
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/juliusbiascan/EduInsight-Project-sub000/device-agent/internal/capture"
	pkglog "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/protocol"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/wsconn"
)

// Transport is the relay connection. *wsconn.Client satisfies it.
type Transport interface {
	capture.Publisher
	On(event string, h wsconn.Handler)
	OnConnect(fn func(ctx context.Context))
	OnDisconnect(fn func(err error))
	Join(room string) error
	Open(ctx context.Context) error
	Close() error
	Done() <-chan struct{}
	State() wsconn.State
}

// CaptureLoop is the part of *capture.Loop the agent drives.
type CaptureLoop interface {
	Start(deviceID string) bool
	Stop()
	Running() bool
	StreamID() string
	Stats() capture.Stats
}

// InputHandler applies viewer input. *input.Relay satisfies it.
type InputHandler interface {
	Handle(ctx context.Context, env *protocol.Envelope)
}

var inputEvents = []string{
	protocol.EventMouseMove,
	protocol.EventMouseDown,
	protocol.EventMouseUp,
	protocol.EventMouseScroll,
	protocol.EventMouseDrag,
	protocol.EventKeyboard,
}

// Status is the agent snapshot served on the local status endpoint.
type Status struct {
	DeviceID   string        `json:"device_id"`
	Connection wsconn.State  `json:"connection"`
	Capturing  bool          `json:"capturing"`
	StreamID   string        `json:"stream_id,omitempty"`
	Capture    capture.Stats `json:"capture"`
	Uptime     string        `json:"uptime"`
}

// Agent keeps one device present in its room and streams while the relay
// reports viewer interest.
type Agent struct {
	deviceID string
	conn     Transport
	loop     CaptureLoop
	input    InputHandler
	started  time.Time
}

// New creates an agent and registers its handlers on conn.
func New(deviceID string, conn Transport, loop CaptureLoop, input InputHandler) *Agent {
	a := &Agent{
		deviceID: deviceID,
		conn:     conn,
		loop:     loop,
		input:    input,
		started:  time.Now(),
	}

	conn.On(protocol.EventStartSharing, a.handleStart)
	conn.On(protocol.EventStopSharing, a.handleStop)
	conn.On(protocol.EventRoomJoined, a.handleJoined)
	conn.On(protocol.EventError, a.handleError)
	for _, ev := range inputEvents {
		conn.On(ev, a.handleInput)
	}
	conn.OnConnect(a.connected)
	conn.OnDisconnect(a.disconnected)
	return a
}

// Run connects to the relay and blocks until ctx ends or the relay becomes
// unreachable. Capture is stopped before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	l := pkglog.Component("agent")

	if err := a.conn.Join(a.deviceID); err != nil {
		return err
	}
	if err := a.conn.Open(ctx); err != nil {
		return err
	}
	l.Info().Str(pkglog.FieldDeviceID, a.deviceID).Msg("agent started")

	var err error
	select {
	case <-ctx.Done():
	case <-a.conn.Done():
		if a.conn.State().Status == wsconn.StatusUnreachable {
			err = wsconn.ErrUnreachable
		}
	}

	a.loop.Stop()
	a.conn.Close()
	l.Info().Str(pkglog.FieldDeviceID, a.deviceID).Msg("agent stopped")
	return err
}

// Status returns a snapshot of the agent.
func (a *Agent) Status() Status {
	return Status{
		DeviceID:   a.deviceID,
		Connection: a.conn.State(),
		Capturing:  a.loop.Running(),
		StreamID:   a.loop.StreamID(),
		Capture:    a.loop.Stats(),
		Uptime:     time.Since(a.started).Round(time.Second).String(),
	}
}

func (a *Agent) handleStart(ctx context.Context, env *protocol.Envelope) {
	l := pkglog.Ctx(ctx)
	if !a.addressed(ctx, env) {
		return
	}
	if a.loop.Start(a.deviceID) {
		l.Info().Str(pkglog.FieldDeviceID, a.deviceID).Str("viewer", env.Sender).Msg("viewer interest, streaming")
	}
}

func (a *Agent) handleStop(ctx context.Context, env *protocol.Envelope) {
	l := pkglog.Ctx(ctx)
	if !a.addressed(ctx, env) {
		return
	}
	if a.loop.Running() {
		a.loop.Stop()
		l.Info().Str(pkglog.FieldDeviceID, a.deviceID).Msg("no viewers left, capture stopped")
	}
}

func (a *Agent) handleJoined(ctx context.Context, env *protocol.Envelope) {
	l := pkglog.Ctx(ctx)
	var p protocol.RoomJoinedPayload
	if err := env.Decode(&p); err != nil {
		l.Warn().Err(err).Msg("invalid room-joined payload")
		return
	}
	l.Info().Str(pkglog.FieldRoomID, p.DeviceID).Str(pkglog.FieldRole, p.Role).Int("viewers", p.Viewers).Msg("joined room")
}

func (a *Agent) handleError(ctx context.Context, env *protocol.Envelope) {
	l := pkglog.Ctx(ctx)
	var p protocol.ErrorPayload
	if err := env.Decode(&p); err != nil {
		l.Warn().Err(err).Msg("invalid error payload")
		return
	}
	l.Warn().Str("code", p.Code).Str(pkglog.FieldEvent, p.Event).Msg(p.Message)
}

func (a *Agent) handleInput(ctx context.Context, env *protocol.Envelope) {
	if env.RoomID != "" && env.RoomID != a.deviceID {
		return
	}
	a.input.Handle(ctx, env)
}

func (a *Agent) connected(ctx context.Context) {
	l := pkglog.Ctx(ctx)
	l.Info().Str(pkglog.FieldDeviceID, a.deviceID).Msg("connected to relay")
}

// disconnected stops streaming: the relay forgets this connection's room
// membership, and a reconnect gets a fresh start-sharing if viewers remain.
func (a *Agent) disconnected(err error) {
	l := pkglog.Component("agent")
	a.loop.Stop()

	ev := l.Warn()
	if err == nil || errors.Is(err, context.Canceled) {
		ev = l.Info()
	}
	ev.Err(err).Str(pkglog.FieldDeviceID, a.deviceID).Msg("disconnected from relay, capture stopped")
}

func (a *Agent) addressed(ctx context.Context, env *protocol.Envelope) bool {
	id, err := env.DeviceID()
	if err != nil {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).Str(pkglog.FieldEvent, env.Type).Msg("ignoring control event")
		return false
	}
	return id == a.deviceID
}
