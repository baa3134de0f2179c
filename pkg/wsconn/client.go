// Package wsconn supervises one websocket connection to the relay: it dials,
// re-joins rooms, dispatches incoming events and reconnects with
// exponential backoff until closed or out of retries.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	pkglog "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/protocol"
)

var (
	ErrNotConnected   = errors.New("wsconn: not connected")
	ErrSendBufferFull = errors.New("wsconn: send buffer full")
	ErrAlreadyOpen    = errors.New("wsconn: already open")
	ErrClosed         = errors.New("wsconn: closed")
	ErrUnreachable    = errors.New("wsconn: relay unreachable")
)

// Handler handles one incoming event. Handlers run sequentially on the read
// goroutine; ctx ends when the connection that delivered env ends.
type Handler func(ctx context.Context, env *protocol.Envelope)

// Client owns at most one live websocket at a time.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	mu           sync.RWMutex
	handlers     map[string][]Handler
	onConnect    []func(ctx context.Context)
	onDisconnect []func(err error)
	onState      []func(State)
	rooms        []string
	state        State
	send         chan []byte
	connected    chan struct{}

	opened    bool
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a client. Nothing is dialled until Open.
func New(cfg Config) *Client {
	cfg.withDefaults()
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		handlers:  make(map[string][]Handler),
		state:     State{Status: StatusDisconnected, Transport: TransportWebSocket},
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// On registers h for the named event. Legacy names are canonicalized.
func (c *Client) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	event = protocol.Canonical(event)
	c.handlers[event] = append(c.handlers[event], h)
}

// OnConnect registers fn to run after every successful (re)connect, once all
// rooms have been re-joined and before any incoming event is dispatched.
func (c *Client) OnConnect(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// OnDisconnect registers fn to run whenever an established connection ends.
func (c *Client) OnDisconnect(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = append(c.onDisconnect, fn)
}

// OnStateChange registers fn to observe every state transition.
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, fn)
}

// State returns a snapshot of the connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Rooms returns the rooms re-joined on every connect.
func (c *Client) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.rooms...)
}

// Open starts the connection supervisor. It returns immediately; use
// WaitConnected to block until the first connection is up.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	if c.state.Status == StatusClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.opened = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

// WaitConnected blocks until a connection is established, ctx ends or the
// client reaches a terminal state.
func (c *Client) WaitConnected(ctx context.Context) error {
	for {
		c.mu.RLock()
		status := c.state.Status
		ch := c.connected
		c.mu.RUnlock()

		switch status {
		case StatusConnected:
			return nil
		case StatusUnreachable:
			return ErrUnreachable
		case StatusClosed:
			return ErrClosed
		}

		select {
		case <-ch:
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Done is closed when the supervisor has stopped for good.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close ends the connection and the supervisor. Messages already accepted
// by Emit are flushed before the close frame. Close is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		opened := c.opened
		cancel := c.cancel
		c.mu.Unlock()

		if !opened {
			c.setState(func(s *State) { s.Status = StatusClosed })
			close(c.done)
			return
		}
		cancel()
		<-c.done
	})
	return nil
}

// Join adds room to the active set. When connected the join is sent now;
// otherwise it is sent on the next connect.
func (c *Client) Join(room string) error {
	c.mu.Lock()
	for _, r := range c.rooms {
		if r == room {
			c.mu.Unlock()
			return nil
		}
	}
	c.rooms = append(c.rooms, room)
	send := c.send
	c.mu.Unlock()

	if send == nil {
		return nil
	}
	return c.enqueueControl(send, protocol.EventJoinServer, room)
}

// Leave removes room from the active set and, when connected, tells the
// relay.
func (c *Client) Leave(room string) error {
	c.mu.Lock()
	found := false
	for i, r := range c.rooms {
		if r == room {
			c.rooms = append(c.rooms[:i], c.rooms[i+1:]...)
			found = true
			break
		}
	}
	send := c.send
	c.mu.Unlock()

	if !found || send == nil {
		return nil
	}
	return c.enqueueControl(send, protocol.EventLeaveServer, room)
}

// Emit sends event into room without blocking. A nil payload sends the
// event with no payload.
func (c *Client) Emit(room, event string, payload any) error {
	env, err := protocol.NewEnvelope(event, room, payload)
	if err != nil {
		return err
	}
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	c.mu.RLock()
	send := c.send
	c.mu.RUnlock()
	if send == nil {
		return ErrNotConnected
	}

	select {
	case send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// enqueueControl waits up to the write timeout for buffer space: membership
// changes are not dropped like frames.
func (c *Client) enqueueControl(send chan []byte, event, room string) error {
	data, err := controlMessage(event, room)
	if err != nil {
		return err
	}
	timer := time.NewTimer(c.cfg.WriteTimeout)
	defer timer.Stop()
	select {
	case send <- data:
		return nil
	case <-timer.C:
		return ErrSendBufferFull
	}
}

func controlMessage(event, room string) ([]byte, error) {
	env, err := protocol.NewEnvelope(event, room, protocol.DevicePayload{DeviceID: room})
	if err != nil {
		return nil, err
	}
	return env.Marshal()
}

func (c *Client) setState(mutate func(*State)) {
	c.mu.Lock()
	prev := c.state.Status
	mutate(&c.state)
	s := c.state
	if s.Status == StatusConnected && prev != StatusConnected {
		close(c.connected)
	} else if s.Status != StatusConnected && prev == StatusConnected {
		c.connected = make(chan struct{})
	}
	callbacks := append(([]func(State))(nil), c.onState...)
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(s)
	}
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	l := pkglog.Component("wsconn")

	b := c.cfg.newBackOff()
	everConnected := false

	for {
		status := StatusConnecting
		if everConnected {
			status = StatusReconnecting
		}
		c.setState(func(s *State) { s.Status = status })

		conn, err := c.dial(ctx)
		if err == nil {
			everConnected = true
			b.Reset()
			err = c.serve(ctx, conn)
			c.disconnected(err)
		}
		if ctx.Err() != nil {
			c.setState(func(s *State) { s.Status = StatusClosed })
			return
		}

		wait := b.NextBackOff()
		c.setState(func(s *State) {
			s.Attempts++
			if err != nil {
				s.LastError = err.Error()
			}
		})
		if wait == backoff.Stop {
			l.Error().Err(err).Int("attempts", c.State().Attempts).Msg("giving up on relay")
			c.setState(func(s *State) { s.Status = StatusUnreachable })
			return
		}
		l.Warn().Err(err).Dur("retry_in", wait).Msg("relay connection lost")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			c.setState(func(s *State) { s.Status = StatusClosed })
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	url := c.cfg.URL
	if c.cfg.Endpoint != nil {
		var err error
		if url, err = c.cfg.Endpoint(ctx); err != nil {
			return nil, fmt.Errorf("resolve endpoint: %w", err)
		}
	}

	header := http.Header{}
	for k, v := range c.cfg.Header {
		header[k] = append([]string(nil), v...)
	}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// serve runs one established connection until it fails or ctx ends.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	send := make(chan []byte, c.cfg.SendBuffer)
	errCh := make(chan error, 2)
	writerDone := make(chan struct{})
	readerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		errCh <- c.writePump(connCtx, conn, send)
		cancel()
	}()

	// Rooms are re-joined before anything else can be queued on this
	// connection.
	c.mu.Lock()
	rooms := append([]string(nil), c.rooms...)
	for _, room := range rooms {
		data, err := controlMessage(protocol.EventJoinServer, room)
		if err != nil {
			continue
		}
		select {
		case send <- data:
		case <-connCtx.Done():
		}
	}
	c.send = send
	c.mu.Unlock()

	c.setState(func(s *State) {
		s.Status = StatusConnected
		s.Attempts = 0
		s.LastError = ""
		s.ConnectedAt = time.Now()
	})

	l := pkglog.Component("wsconn")
	l.Info().Strs("rooms", rooms).Msg("connected to relay")

	// Connect hooks finish before the first incoming event is dispatched.
	c.mu.RLock()
	hooks := append(([]func(context.Context))(nil), c.onConnect...)
	c.mu.RUnlock()
	for _, fn := range hooks {
		fn(connCtx)
	}

	go func() {
		defer close(readerDone)
		errCh <- c.readPump(connCtx, conn)
		cancel()
	}()

	<-connCtx.Done()

	c.mu.Lock()
	c.send = nil
	c.mu.Unlock()

	// The writer flushes and sends the close frame; closing the socket then
	// unblocks the reader.
	<-writerDone
	conn.Close()
	<-readerDone

	err := <-errCh
	if err == nil {
		err = ctx.Err()
	}
	return err
}

func (c *Client) disconnected(err error) {
	c.setState(func(s *State) {
		s.Status = StatusDisconnected
		if err != nil {
			s.LastError = err.Error()
		}
	})

	c.mu.RLock()
	hooks := append(([]func(error))(nil), c.onDisconnect...)
	c.mu.RUnlock()
	for _, fn := range hooks {
		fn(err)
	}
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) error {
	l := pkglog.Component("wsconn")

	conn.SetReadLimit(c.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))

		env, err := protocol.Parse(data)
		if err != nil {
			l.Warn().Err(err).Msg("dropping malformed message")
			continue
		}
		c.dispatch(ctx, env)
	}
}

func (c *Client) dispatch(ctx context.Context, env *protocol.Envelope) {
	c.mu.RLock()
	handlers := c.handlers[env.Type]
	c.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l := pkglog.Component("wsconn")
					l.Error().Interface("panic", r).Str(pkglog.FieldEvent, env.Type).Msg("handler panicked")
				}
			}()
			h(ctx, env)
		}()
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) error {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	write := func(mt int, data []byte) error {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		return conn.WriteMessage(mt, data)
	}

	for {
		select {
		case data := <-send:
			if err := write(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		case <-ctx.Done():
			// Flush what callers already handed over, then say goodbye.
			for {
				select {
				case data := <-send:
					if err := write(websocket.TextMessage, data); err != nil {
						return nil
					}
					continue
				default:
				}
				break
			}
			write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}
