package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juliusbiascan/EduInsight-Project-sub000/device-agent/internal/capture"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/protocol"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/wsconn"
)

type fakeTransport struct {
	mu           sync.Mutex
	handlers     map[string][]wsconn.Handler
	onConnect    []func(context.Context)
	onDisconnect []func(error)
	joined       []string
	opened       bool
	closed       bool
	state        wsconn.State
	done         chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers: make(map[string][]wsconn.Handler),
		state:    wsconn.State{Status: wsconn.StatusConnected, Transport: wsconn.TransportWebSocket},
		done:     make(chan struct{}),
	}
}

func (f *fakeTransport) Emit(room, event string, payload any) error { return nil }

func (f *fakeTransport) On(event string, h wsconn.Handler) {
	f.handlers[event] = append(f.handlers[event], h)
}

func (f *fakeTransport) OnConnect(fn func(ctx context.Context)) { f.onConnect = append(f.onConnect, fn) }
func (f *fakeTransport) OnDisconnect(fn func(err error))        { f.onDisconnect = append(f.onDisconnect, fn) }

func (f *fakeTransport) Join(room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, room)
	return nil
}

func (f *fakeTransport) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) State() wsconn.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) deliver(t *testing.T, event, room string, payload any) {
	t.Helper()
	env, err := protocol.NewEnvelope(event, room, payload)
	require.NoError(t, err)
	for _, h := range f.handlers[protocol.Canonical(event)] {
		h(context.Background(), env)
	}
}

type fakeLoop struct {
	running  bool
	starts   []string
	stops    int
	streamID string
}

func (l *fakeLoop) Start(deviceID string) bool {
	if l.running {
		return false
	}
	l.running = true
	l.streamID = "stream-" + deviceID
	l.starts = append(l.starts, deviceID)
	return true
}

func (l *fakeLoop) Stop() {
	l.stops++
	l.running = false
	l.streamID = ""
}

func (l *fakeLoop) Running() bool        { return l.running }
func (l *fakeLoop) StreamID() string     { return l.streamID }
func (l *fakeLoop) Stats() capture.Stats { return capture.Stats{Captured: 3} }

type recordingInput struct{ events []string }

func (r *recordingInput) Handle(ctx context.Context, env *protocol.Envelope) {
	r.events = append(r.events, env.Type)
}

func newTestAgent() (*Agent, *fakeTransport, *fakeLoop, *recordingInput) {
	tr := newFakeTransport()
	loop := &fakeLoop{}
	in := &recordingInput{}
	return New("pc-01", tr, loop, in), tr, loop, in
}

func TestAgent_StartAndStopSharing(t *testing.T) {
	_, tr, loop, _ := newTestAgent()

	tr.deliver(t, protocol.EventStartSharing, "pc-01", &protocol.DevicePayload{DeviceID: "pc-01"})
	assert.True(t, loop.running)
	assert.Equal(t, []string{"pc-01"}, loop.starts)

	tr.deliver(t, protocol.EventStartSharing, "pc-01", &protocol.DevicePayload{DeviceID: "pc-01"})
	assert.Len(t, loop.starts, 1)

	tr.deliver(t, protocol.EventStopSharing, "pc-01", &protocol.DevicePayload{DeviceID: "pc-01"})
	assert.False(t, loop.running)
	assert.Equal(t, 1, loop.stops)
}

func TestAgent_LegacyEventNames(t *testing.T) {
	_, tr, loop, _ := newTestAgent()

	tr.deliver(t, "start-screencast", "pc-01", nil)
	assert.True(t, loop.running)

	tr.deliver(t, "stop-screencast", "pc-01", nil)
	assert.False(t, loop.running)
}

func TestAgent_IgnoresOtherDevices(t *testing.T) {
	_, tr, loop, in := newTestAgent()

	tr.deliver(t, protocol.EventStartSharing, "pc-02", &protocol.DevicePayload{DeviceID: "pc-02"})
	assert.False(t, loop.running)

	tr.deliver(t, protocol.EventMouseMove, "pc-02", &protocol.MouseMove{X: 0.5, Y: 0.5})
	assert.Empty(t, in.events)
}

func TestAgent_ForwardsInput(t *testing.T) {
	_, tr, _, in := newTestAgent()

	tr.deliver(t, protocol.EventMouseMove, "pc-01", &protocol.MouseMove{X: 0.5, Y: 0.5})
	tr.deliver(t, protocol.EventKeyboard, "pc-01", &protocol.KeyPress{Key: "a"})
	tr.deliver(t, protocol.EventMouseDrag, "pc-01", &protocol.MouseDrag{Direction: protocol.DragDown, X: 0.1, Y: 0.1})

	assert.Equal(t, []string{protocol.EventMouseMove, protocol.EventKeyboard, protocol.EventMouseDrag}, in.events)
}

func TestAgent_DisconnectStopsCapture(t *testing.T) {
	_, tr, loop, _ := newTestAgent()

	tr.deliver(t, protocol.EventStartSharing, "pc-01", nil)
	require.True(t, loop.running)

	for _, fn := range tr.onDisconnect {
		fn(errors.New("read: connection reset"))
	}
	assert.False(t, loop.running)
}

func TestAgent_RunJoinsAndStopsOnCancel(t *testing.T) {
	a, tr, loop, _ := newTestAgent()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.opened
	}, time.Second, 5*time.Millisecond)
	tr.mu.Lock()
	assert.Equal(t, []string{"pc-01"}, tr.joined)
	tr.mu.Unlock()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.True(t, tr.closed)
	assert.GreaterOrEqual(t, loop.stops, 1)
}

func TestAgent_RunReportsUnreachable(t *testing.T) {
	a, tr, _, _ := newTestAgent()
	tr.state.Status = wsconn.StatusUnreachable
	close(tr.done)

	err := a.Run(context.Background())
	assert.ErrorIs(t, err, wsconn.ErrUnreachable)
}

func TestAgent_Status(t *testing.T) {
	a, tr, _, _ := newTestAgent()
	tr.deliver(t, protocol.EventStartSharing, "pc-01", nil)

	st := a.Status()
	assert.Equal(t, "pc-01", st.DeviceID)
	assert.True(t, st.Capturing)
	assert.Equal(t, "stream-pc-01", st.StreamID)
	assert.Equal(t, uint64(3), st.Capture.Captured)
	assert.Equal(t, wsconn.StatusConnected, st.Connection.Status)
}
