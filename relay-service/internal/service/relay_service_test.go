package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/jwt"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/protocol"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/config"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/domain"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/hub"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/roster"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/store"
)

type fakeProducer struct {
	mu     sync.Mutex
	events []string
}

func (p *fakeProducer) record(format string, args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, fmt.Sprintf(format, args...))
	return nil
}

func (p *fakeProducer) ProduceObservationStarted(ctx context.Context, deviceID, viewerID string, viewers int) error {
	return p.record("started:%s:%s", deviceID, viewerID)
}

func (p *fakeProducer) ProduceObservationStopped(ctx context.Context, deviceID, viewerID string, viewers int, reason string) error {
	return p.record("stopped:%s:%s", deviceID, reason)
}

func (p *fakeProducer) ProduceDeviceOnline(ctx context.Context, deviceID string) error {
	return p.record("online:%s", deviceID)
}

func (p *fakeProducer) ProduceDeviceOffline(ctx context.Context, deviceID, reason string) error {
	return p.record("offline:%s:%s", deviceID, reason)
}

func (p *fakeProducer) Close() error { return nil }

func (p *fakeProducer) list() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type mapRoster map[string]bool

func (m mapRoster) Lookup(ctx context.Context, id string) (*roster.Device, error) {
	if !m[id] {
		return nil, roster.ErrDeviceNotFound
	}
	return &roster.Device{ID: id}, nil
}

// frameTap records lossy emissions; the frame slot of a client is not
// reachable from outside the hub package.
type frameTap struct {
	hub    *hub.Hub
	mu     sync.Mutex
	frames []string
}

func (f *frameTap) EmitToRoom(roomID string, message []byte, exclude string, lossy bool) error {
	if lossy {
		f.mu.Lock()
		f.frames = append(f.frames, string(message))
		f.mu.Unlock()
	}
	return f.hub.EmitToRoom(roomID, message, exclude, lossy)
}

func (f *frameTap) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

type fixture struct {
	hub      *hub.Hub
	svc      RelayService
	store    store.Store
	producer *fakeProducer
	tap      *frameTap
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := hub.NewHub(config.WebSocketConfig{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})

	f := &fixture{
		hub:      h,
		store:    store.NewMemoryStore(),
		producer: &fakeProducer{},
		tap:      &frameTap{hub: h},
	}
	f.svc = NewRelayService(Options{
		Hub:        h,
		Emitter:    f.tap,
		Roster:     mapRoster{"pc-01": true, "pc-02": true},
		Store:      f.store,
		Producer:   f.producer,
		InstanceID: "test",
	})
	return f
}

func (f *fixture) connect(t *testing.T, id string, identity domain.Identity) *hub.Client {
	t.Helper()
	c := hub.NewClient(f.hub, nil, domain.NewSession(id, identity))
	require.NoError(t, f.hub.Register(c))
	return c
}

func admin(subject string) domain.Identity {
	return domain.Identity{Subject: subject, Role: jwt.RoleAdmin}
}

func device(id string) domain.Identity {
	return domain.Identity{Subject: id, Role: jwt.RoleDevice}
}

func envelope(t *testing.T, event, room string, payload any) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(event, room, payload)
	require.NoError(t, err)
	return env
}

func join(t *testing.T, f *fixture, c *hub.Client, deviceID string) {
	t.Helper()
	require.NoError(t, f.svc.HandleJoin(context.Background(), c, envelope(t, protocol.EventJoinServer, deviceID, nil)))
	expect(t, c, protocol.EventRoomJoined)
}

func expect(t *testing.T, c *hub.Client, event string) *protocol.Envelope {
	t.Helper()
	select {
	case data := <-c.Send:
		env, err := protocol.Parse(data)
		require.NoError(t, err)
		require.Equal(t, event, env.Type, "payload: %s", env.Payload)
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("client %s: expected %s, got nothing", c.ID, event)
		return nil
	}
}

func expectQuiet(t *testing.T, c *hub.Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("client %s: unexpected message %s", c.ID, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleJoin_AcksViewer(t *testing.T) {
	f := newFixture(t)
	v := f.connect(t, "v1", admin("instructor"))

	require.NoError(t, f.svc.HandleJoin(context.Background(), v, envelope(t, protocol.EventJoinServer, "", "pc-01")))
	ack := expect(t, v, protocol.EventRoomJoined)

	var p protocol.RoomJoinedPayload
	require.NoError(t, ack.Decode(&p))
	assert.Equal(t, protocol.RoomJoinedPayload{DeviceID: "pc-01", Role: protocol.RoleViewer}, p)
	assert.Equal(t, 1, f.hub.RoomSize("pc-01"))
}

func TestHandleJoin_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		identity domain.Identity
		deviceID string
		code     string
	}{
		{"staff outside allowed devices", domain.Identity{Subject: "s", Role: jwt.RoleStaff, Devices: []string{"pc-02"}}, "pc-01", protocol.ErrCodeForbidden},
		{"device joining another device", device("pc-02"), "pc-01", protocol.ErrCodeForbidden},
		{"unknown device", admin("instructor"), "pc-99", protocol.ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.connect(t, "c1", tt.identity)

			err := f.svc.HandleJoin(context.Background(), c, envelope(t, protocol.EventJoinServer, tt.deviceID, nil))
			var rejected *RejectedError
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, tt.code, rejected.Code)

			reply := expect(t, c, protocol.EventError)
			var p protocol.ErrorPayload
			require.NoError(t, reply.Decode(&p))
			assert.Equal(t, tt.code, p.Code)
			assert.Equal(t, 0, f.hub.RoomCount())
		})
	}
}

func TestSharing_ReferenceCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.connect(t, "d", device("pc-01"))
	join(t, f, d, "pc-01")
	a := f.connect(t, "a", admin("alice"))
	join(t, f, a, "pc-01")
	b := f.connect(t, "b", admin("bob"))
	join(t, f, b, "pc-01")

	start := envelope(t, protocol.EventStartSharing, "pc-01", nil)
	stop := envelope(t, protocol.EventStopSharing, "pc-01", nil)

	require.NoError(t, f.svc.HandleStartSharing(ctx, a, start))
	expect(t, d, protocol.EventStartSharing)
	expect(t, b, protocol.EventStartSharing)

	// Second viewer and a repeated start change nothing.
	require.NoError(t, f.svc.HandleStartSharing(ctx, b, start))
	require.NoError(t, f.svc.HandleStartSharing(ctx, a, start))
	expectQuiet(t, d)

	n, err := f.store.ViewerCount(ctx, "pc-01")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Capture continues while one viewer remains.
	require.NoError(t, f.svc.HandleStopSharing(ctx, a, stop))
	expectQuiet(t, d)

	require.NoError(t, f.svc.HandleStopSharing(ctx, b, stop))
	expect(t, d, protocol.EventStopSharing)
	expect(t, a, protocol.EventStopSharing)

	assert.Equal(t, []string{"online:pc-01", "started:pc-01:alice", "stopped:pc-01:explicit"}, f.producer.list())
}

func TestSharing_StartRequiresViewerMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v := f.connect(t, "v", admin("alice"))
	err := f.svc.HandleStartSharing(ctx, v, envelope(t, protocol.EventStartSharing, "pc-01", nil))
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, protocol.ErrCodeForbidden, rejected.Code)
	expect(t, v, protocol.EventError)

	d := f.connect(t, "d", device("pc-01"))
	join(t, f, d, "pc-01")
	err = f.svc.HandleStartSharing(ctx, d, envelope(t, protocol.EventStartSharing, "pc-01", nil))
	require.ErrorAs(t, err, &rejected)
	expect(t, d, protocol.EventError)
}

func TestDisconnect_LastViewerStopsCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.connect(t, "d", device("pc-01"))
	join(t, f, d, "pc-01")
	v := f.connect(t, "v", admin("alice"))
	join(t, f, v, "pc-01")

	require.NoError(t, f.svc.HandleStartSharing(ctx, v, envelope(t, protocol.EventStartSharing, "pc-01", nil)))
	expect(t, d, protocol.EventStartSharing)

	require.NoError(t, f.svc.HandleDisconnect(ctx, v))
	expect(t, d, protocol.EventStopSharing)
	assert.Equal(t, 1, f.hub.RoomSize("pc-01"))
	assert.Contains(t, f.producer.list(), "stopped:pc-01:disconnect")
}

func TestDeviceRejoin_ResumesWhenViewersWaiting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v := f.connect(t, "v", admin("alice"))
	join(t, f, v, "pc-01")
	require.NoError(t, f.svc.HandleStartSharing(ctx, v, envelope(t, protocol.EventStartSharing, "pc-01", nil)))

	d := f.connect(t, "d", device("pc-01"))
	require.NoError(t, f.svc.HandleJoin(ctx, d, envelope(t, protocol.EventJoinServer, "pc-01", nil)))

	ack := expect(t, d, protocol.EventRoomJoined)
	var p protocol.RoomJoinedPayload
	require.NoError(t, ack.Decode(&p))
	assert.Equal(t, protocol.RoleDevice, p.Role)
	assert.Equal(t, 1, p.Viewers)
	expect(t, d, protocol.EventStartSharing)

	status := expect(t, v, protocol.EventDeviceStatus)
	var sp protocol.DeviceStatusPayload
	require.NoError(t, status.Decode(&sp))
	assert.True(t, sp.Online)
}

func TestDeviceDisconnect_NotifiesViewers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v := f.connect(t, "v", admin("alice"))
	join(t, f, v, "pc-01")
	d := f.connect(t, "d", device("pc-01"))
	join(t, f, d, "pc-01")
	expect(t, v, protocol.EventDeviceStatus)

	require.NoError(t, f.svc.HandleDisconnect(ctx, d))

	status := expect(t, v, protocol.EventDeviceStatus)
	var sp protocol.DeviceStatusPayload
	require.NoError(t, status.Decode(&sp))
	assert.Equal(t, protocol.DeviceStatusPayload{DeviceID: "pc-01", Online: false}, sp)

	st, err := f.store.GetDeviceStatus(ctx, "pc-01")
	require.NoError(t, err)
	assert.False(t, st.Online)
	assert.Equal(t, []string{"online:pc-01", "offline:pc-01:disconnect"}, f.producer.list())
}

func TestDeviceDisconnect_StaleConnectionKeepsPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.connect(t, "old", device("pc-01"))
	join(t, f, old, "pc-01")
	fresh := f.connect(t, "fresh", device("pc-01"))
	join(t, f, fresh, "pc-01")
	expect(t, old, protocol.EventDeviceStatus)

	require.NoError(t, f.svc.HandleDisconnect(ctx, old))
	expectQuiet(t, fresh)

	st, err := f.store.GetDeviceStatus(ctx, "pc-01")
	require.NoError(t, err)
	assert.True(t, st.Online)
}

func TestHandleFrame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.connect(t, "d", device("pc-01"))
	join(t, f, d, "pc-01")
	v := f.connect(t, "v", admin("alice"))
	join(t, f, v, "pc-01")

	frame := &protocol.FramePayload{DeviceID: "pc-01", StreamID: "s1", Seq: 1, Format: protocol.FormatJPEG, Image: "aGVsbG8="}

	// Legacy alias, no room on the envelope.
	env, err := protocol.Parse([]byte(`{"type":"screencast-data","payload":{"device_id":"pc-01","stream_id":"s1","seq":1,"format":"jpeg","image":"aGVsbG8="}}`))
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleFrame(ctx, d, env))

	frames := f.tap.list()
	require.Len(t, frames, 1)
	relayed, err := protocol.Parse([]byte(frames[0]))
	require.NoError(t, err)
	assert.Equal(t, protocol.EventScreenShare, relayed.Type)
	assert.Equal(t, "pc-01", relayed.RoomID)
	assert.Equal(t, "d", relayed.Sender)

	var got protocol.FramePayload
	require.NoError(t, relayed.Decode(&got))
	assert.Equal(t, *frame, got)

	// Viewers cannot publish frames.
	err = f.svc.HandleFrame(ctx, v, envelope(t, protocol.EventScreenShare, "pc-01", frame))
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, protocol.ErrCodeForbidden, rejected.Code)
	expect(t, v, protocol.EventError)

	// Corrupt image never reaches the room.
	bad := *frame
	bad.Image = "not base64!"
	err = f.svc.HandleFrame(ctx, d, envelope(t, protocol.EventScreenShare, "pc-01", &bad))
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, protocol.ErrCodeBadRequest, rejected.Code)
	assert.Len(t, f.tap.list(), 1)
}

func TestHandleInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.connect(t, "d", device("pc-01"))
	join(t, f, d, "pc-01")
	v := f.connect(t, "v", admin("alice"))
	join(t, f, v, "pc-01")

	move, err := protocol.NewInputEnvelope("pc-01", protocol.MouseMove{X: 0.5, Y: 0.25})
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleInput(ctx, v, move))

	got := expect(t, d, protocol.EventMouseMove)
	assert.Equal(t, "v", got.Sender)
	ev, err := protocol.DecodeInput(got)
	require.NoError(t, err)
	assert.Equal(t, protocol.MouseMove{X: 0.5, Y: 0.25}, ev)
	expectQuiet(t, v)

	var rejected *RejectedError

	// Out-of-range coordinates.
	bad := &protocol.Envelope{Type: protocol.EventMouseMove, RoomID: "pc-01", Payload: json.RawMessage(`{"x":1.5,"y":0}`)}
	require.ErrorAs(t, f.svc.HandleInput(ctx, v, bad), &rejected)
	assert.Equal(t, protocol.ErrCodeBadRequest, rejected.Code)
	expect(t, v, protocol.EventError)

	// The device cannot drive its own input.
	require.ErrorAs(t, f.svc.HandleInput(ctx, d, move), &rejected)
	assert.Equal(t, protocol.ErrCodeForbidden, rejected.Code)
	expect(t, d, protocol.EventError)
	expectQuiet(t, v)
}

func TestHandleLeave_ReleasesInterest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.connect(t, "d", device("pc-01"))
	join(t, f, d, "pc-01")
	v := f.connect(t, "v", admin("alice"))
	join(t, f, v, "pc-01")
	require.NoError(t, f.svc.HandleStartSharing(ctx, v, envelope(t, protocol.EventStartSharing, "pc-01", nil)))
	expect(t, d, protocol.EventStartSharing)

	require.NoError(t, f.svc.HandleLeave(ctx, v, envelope(t, protocol.EventLeaveServer, "pc-01", nil)))
	expect(t, d, protocol.EventStopSharing)
	assert.Equal(t, []string{"d"}, f.hub.Members("pc-01"))

	// Leaving again is a no-op.
	require.NoError(t, f.svc.HandleLeave(ctx, v, envelope(t, protocol.EventLeaveServer, "pc-01", nil)))
	expectQuiet(t, d)
}
