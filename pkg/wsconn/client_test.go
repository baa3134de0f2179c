package wsconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/protocol"
)

// relayStub accepts websocket connections and records every envelope it
// receives.
type relayStub struct {
	srv      *httptest.Server
	received chan *protocol.Envelope
	conns    chan *websocket.Conn
	accepted atomic.Int32
	auth     atomic.Value
}

func newRelayStub(t *testing.T) *relayStub {
	t.Helper()
	r := &relayStub{
		received: make(chan *protocol.Envelope, 64),
		conns:    make(chan *websocket.Conn, 8),
	}
	upgrader := websocket.Upgrader{}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.auth.Store(req.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.accepted.Add(1)
		r.conns <- conn
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				env, err := protocol.Parse(data)
				if err == nil {
					r.received <- env
				}
			}
		}()
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *relayStub) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func (r *relayStub) next(t *testing.T) *protocol.Envelope {
	t.Helper()
	select {
	case env := <-r.received:
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("relay stub received nothing")
		return nil
	}
}

func (r *relayStub) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-r.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.Reconnect.InitialInterval = 10 * time.Millisecond
	cfg.Reconnect.MaxInterval = 50 * time.Millisecond
	return cfg
}

func TestClient_JoinsRoomsBeforeOnConnect(t *testing.T) {
	stub := newRelayStub(t)
	cfg := testConfig(stub.url())
	cfg.Token = "tkn"
	c := New(cfg)
	defer c.Close()

	require.NoError(t, c.Join("pc-01"))
	c.OnConnect(func(ctx context.Context) {
		assert.NoError(t, c.Emit("pc-01", protocol.EventStartSharing, protocol.DevicePayload{DeviceID: "pc-01"}))
	})
	require.NoError(t, c.Open(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, c.WaitConnected(ctx))

	first := stub.next(t)
	assert.Equal(t, protocol.EventJoinServer, first.Type)
	id, err := first.DeviceID()
	require.NoError(t, err)
	assert.Equal(t, "pc-01", id)

	assert.Equal(t, protocol.EventStartSharing, stub.next(t).Type)
	assert.Equal(t, "Bearer tkn", stub.auth.Load())

	st := c.State()
	assert.Equal(t, StatusConnected, st.Status)
	assert.Equal(t, TransportWebSocket, st.Transport)
	assert.False(t, st.ConnectedAt.IsZero())
}

func TestClient_DispatchesIncomingEvents(t *testing.T) {
	stub := newRelayStub(t)
	c := New(testConfig(stub.url()))
	defer c.Close()

	got := make(chan *protocol.Envelope, 1)
	c.On("screencast-data", func(ctx context.Context, env *protocol.Envelope) {
		got <- env
	})
	require.NoError(t, c.Open(context.Background()))
	server := stub.conn(t)

	require.NoError(t, server.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"screen-share","room_id":"pc-01","payload":{"device_id":"pc-01","image":"AAAA"}}`)))

	select {
	case env := <-got:
		assert.Equal(t, protocol.EventScreenShare, env.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestClient_OnConnectFinishesBeforeDispatch(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// The event is on the wire before the client could run any hook.
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"start-sharing","room_id":"pc-01"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := New(testConfig("ws" + strings.TrimPrefix(srv.URL, "http")))
	defer c.Close()

	var hookDone atomic.Bool
	c.OnConnect(func(context.Context) {
		time.Sleep(100 * time.Millisecond)
		hookDone.Store(true)
	})
	sawHook := make(chan bool, 1)
	c.On(protocol.EventStartSharing, func(ctx context.Context, env *protocol.Envelope) {
		select {
		case sawHook <- hookDone.Load():
		default:
		}
	})
	require.NoError(t, c.Open(context.Background()))

	select {
	case done := <-sawHook:
		assert.True(t, done)
	case <-time.After(3 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestClient_ReconnectsAndRejoins(t *testing.T) {
	stub := newRelayStub(t)
	c := New(testConfig(stub.url()))
	defer c.Close()

	var connects atomic.Int32
	disconnects := make(chan error, 4)
	c.OnConnect(func(context.Context) { connects.Add(1) })
	c.OnDisconnect(func(err error) { disconnects <- err })
	require.NoError(t, c.Join("pc-02"))
	require.NoError(t, c.Open(context.Background()))

	first := stub.conn(t)
	assert.Equal(t, protocol.EventJoinServer, stub.next(t).Type)
	first.Close()

	select {
	case err := <-disconnects:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("disconnect not reported")
	}

	stub.conn(t)
	rejoin := stub.next(t)
	assert.Equal(t, protocol.EventJoinServer, rejoin.Type)
	assert.Equal(t, "pc-02", rejoin.RoomID)

	assert.Eventually(t, func() bool { return connects.Load() == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), stub.accepted.Load())
}

func TestClient_EmitWhileDisconnected(t *testing.T) {
	c := New(testConfig("ws://127.0.0.1:1"))
	assert.ErrorIs(t, c.Emit("pc-01", protocol.EventMouseMove, protocol.MouseMove{X: 0.1, Y: 0.1}), ErrNotConnected)
	assert.NoError(t, c.Join("pc-01"))
	assert.Equal(t, []string{"pc-01"}, c.Rooms())
	assert.NoError(t, c.Close())
	assert.Equal(t, StatusClosed, c.State().Status)
	assert.ErrorIs(t, c.Open(context.Background()), ErrClosed)
}

func TestClient_UnreachableAfterMaxRetries(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	cfg := testConfig(url)
	cfg.Reconnect.MaxRetries = 2
	c := New(cfg)
	defer c.Close()

	var statuses []Status
	statusCh := make(chan Status, 32)
	c.OnStateChange(func(s State) { statusCh <- s.Status })
	require.NoError(t, c.Open(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.ErrorIs(t, c.WaitConnected(ctx), ErrUnreachable)

	st := c.State()
	assert.Equal(t, StatusUnreachable, st.Status)
	assert.Equal(t, 3, st.Attempts)
	assert.NotEmpty(t, st.LastError)

	<-c.Done()
	close(statusCh)
	for s := range statusCh {
		statuses = append(statuses, s)
	}
	assert.Equal(t, StatusUnreachable, statuses[len(statuses)-1])
}

func TestClient_CloseFlushesPendingMessages(t *testing.T) {
	stub := newRelayStub(t)
	c := New(testConfig(stub.url()))
	require.NoError(t, c.Open(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, c.WaitConnected(ctx))

	require.NoError(t, c.Emit("pc-03", protocol.EventStopSharing, protocol.DevicePayload{DeviceID: "pc-03"}))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, protocol.EventStopSharing, stub.next(t).Type)
	assert.Equal(t, StatusClosed, c.State().Status)
	assert.ErrorIs(t, c.Emit("pc-03", protocol.EventStopSharing, nil), ErrNotConnected)
}
