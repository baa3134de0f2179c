package hub

import (
	"time"

	"github.com/gorilla/websocket"

	pkglog "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/domain"
)

const defaultSendBuffer = 256

// DisconnectHandler runs once when the read side of a client ends, before
// the hub forgets it.
type DisconnectHandler func(*Client)

// Client is one socket attached to the hub. Send carries control traffic in
// order; frames holds at most the newest undelivered frame.
type Client struct {
	ID      string
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	Session *domain.Session

	frames       chan []byte
	onDisconnect DisconnectHandler
}

// NewClient binds conn to h. Register it and start both pumps afterwards.
func NewClient(h *Hub, conn *websocket.Conn, session *domain.Session) *Client {
	buf := h.config.SendBuffer
	if buf <= 0 {
		buf = defaultSendBuffer
	}
	return &Client{
		ID:      session.ID,
		Hub:     h,
		Conn:    conn,
		Send:    make(chan []byte, buf),
		Session: session,
		frames:  make(chan []byte, 1),
	}
}

func (c *Client) SetDisconnectHandler(fn DisconnectHandler) {
	c.onDisconnect = fn
}

// ReadPump hands every inbound message to handle, one at a time and in
// arrival order, until the socket fails or stops answering pings.
func (c *Client) ReadPump(handle func(*Client, []byte)) {
	defer c.teardown()

	cfg := c.Hub.config
	extend := func() { c.Conn.SetReadDeadline(time.Now().Add(cfg.PongWait)) }

	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	extend()
	c.Conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, msg, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				l := pkglog.Component("hub")
				l.Warn().Err(err).Str(pkglog.FieldClientID, c.ID).Msg("websocket read failed")
			}
			return
		}
		extend()
		if c.Session != nil {
			c.Session.UpdateActivity()
		}
		handle(c, msg)
	}
}

func (c *Client) teardown() {
	if c.onDisconnect != nil {
		c.onDisconnect(c)
	}
	c.Hub.Unregister(c)
	c.Conn.Close()
}

// WritePump drains Send and frames onto the socket and keeps it alive with
// pings. Pending control messages always go out before a pending frame.
func (c *Client) WritePump() {
	cfg := c.Hub.config
	ping := time.NewTicker(cfg.PingInterval)
	defer ping.Stop()
	defer c.Conn.Close()

	for {
		var (
			msg  []byte
			open bool
		)

		select {
		case msg, open = <-c.Send:
		default:
			select {
			case msg, open = <-c.Send:
			case msg, open = <-c.frames:
			case <-ping.C:
				if c.write(websocket.PingMessage, nil) != nil {
					return
				}
				continue
			}
		}

		if !open {
			// The hub closed the queues; say goodbye.
			c.write(websocket.CloseMessage, []byte{})
			return
		}
		if c.write(websocket.TextMessage, msg) != nil {
			return
		}
	}
}

func (c *Client) write(kind int, data []byte) error {
	c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteWait))
	return c.Conn.WriteMessage(kind, data)
}
