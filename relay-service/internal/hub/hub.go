package hub

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	pkglog "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/config"
)

var (
	ErrHubStopped     = errors.New("hub stopped")
	ErrClientNotFound = errors.New("client not found")
)

// Recorder observes delivery losses. Implemented by the metrics package.
type Recorder interface {
	FrameDropped()
	ClientEvicted()
}

type noopRecorder struct{}

func (noopRecorder) FrameDropped()  {}
func (noopRecorder) ClientEvicted() {}

// Hub manages all WebSocket connections and their room memberships.
// It does not interpret payloads.
type Hub struct {
	clients    map[string]*Client
	rooms      map[string]map[string]*Client // room -> member id -> member
	unregister chan *Client
	broadcast  chan *RoomMessage
	done       chan struct{}
	mu         sync.RWMutex
	config     config.WebSocketConfig
	recorder   Recorder
}

// RoomMessage is one fan-out job for the Run loop.
type RoomMessage struct {
	RoomID  string
	Message []byte
	Exclude string // usually the sender
	// Lossy messages go through the single-slot frame queue and replace
	// any frame the client has not received yet.
	Lossy bool
}

// NewHub fills zero websocket timings with working defaults.
func NewHub(cfg config.WebSocketConfig, recorder Recorder) *Hub {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 8 << 20
	}
	queue := cfg.BroadcastQueue
	if queue <= 0 {
		queue = 256
	}
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *RoomMessage, queue),
		done:       make(chan struct{}),
		config:     cfg,
		recorder:   recorder,
	}
}

// Run starts the hub's main loop: unregistration and room fan-out. When ctx
// ends every client is closed.
func (h *Hub) Run(ctx context.Context) {
	l := pkglog.Component("hub")
	for {
		select {
		case client := <-h.unregister:
			h.mu.Lock()
			removed := h.removeLocked(client)
			h.mu.Unlock()
			if removed {
				l.Debug().Str(pkglog.FieldClientID, client.ID).Msg("client unregistered")
			}

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-ctx.Done():
			h.mu.Lock()
			close(h.done)
			for _, client := range h.clients {
				h.removeLocked(client)
			}
			h.mu.Unlock()
			l.Info().Msg("hub stopped")
			return
		}
	}
}

// removeLocked drops client from the connection table and every room.
// The caller holds h.mu.
func (h *Hub) removeLocked(client *Client) bool {
	if _, ok := h.clients[client.ID]; !ok {
		return false
	}
	for roomID := range h.rooms {
		h.dropMemberLocked(roomID, client.ID)
	}
	delete(h.clients, client.ID)
	close(client.Send)
	close(client.frames)
	return true
}

// deliver fans msg out to the room. Sends never block; the read lock keeps
// the client channels open for the duration.
func (h *Hub) deliver(msg *RoomMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, client := range h.rooms[msg.RoomID] {
		if id == msg.Exclude {
			continue
		}
		if msg.Lossy {
			h.offerFrame(client, msg.Message)
			continue
		}
		select {
		case client.Send <- msg.Message:
		default:
			h.evict(client)
		}
	}
}

// offerFrame puts data in the client's frame slot, replacing an undelivered
// frame.
func (h *Hub) offerFrame(client *Client, data []byte) {
	select {
	case client.frames <- data:
		return
	default:
	}
	select {
	case <-client.frames:
		h.recorder.FrameDropped()
	default:
	}
	select {
	case client.frames <- data:
	default:
		h.recorder.FrameDropped()
	}
}

func (h *Hub) evict(client *Client) {
	h.recorder.ClientEvicted()
	l := pkglog.Component("hub")
	l.Warn().Str(pkglog.FieldClientID, client.ID).Msg("evicting slow client")
	go h.Unregister(client)
}

// Register adds a client to the hub. The client can join rooms as soon as
// Register returns.
func (h *Hub) Register(client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	h.clients[client.ID] = client
	return nil
}

// Unregister removes a client from the hub and all its rooms.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// JoinRoom adds a client to a room. Joining twice is a no-op.
func (h *Hub) JoinRoom(client *Client, roomID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return ErrClientNotFound
	}
	members := h.rooms[roomID]
	if members == nil {
		members = make(map[string]*Client)
		h.rooms[roomID] = members
	}
	members[client.ID] = client
	return nil
}

// LeaveRoom removes a client from a room. The room disappears with its last
// member.
func (h *Hub) LeaveRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dropMemberLocked(roomID, client.ID)
}

func (h *Hub) dropMemberLocked(roomID, clientID string) {
	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

// EmitToRoom queues message for every member of roomID except exclude.
// A missing room is not an error. Lossy messages are dropped instead of
// waiting when the broadcast queue is full.
func (h *Hub) EmitToRoom(roomID string, message []byte, exclude string, lossy bool) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	msg := &RoomMessage{RoomID: roomID, Message: message, Exclude: exclude, Lossy: lossy}
	if lossy {
		select {
		case h.broadcast <- msg:
		case <-h.done:
			return ErrHubStopped
		default:
			h.recorder.FrameDropped()
		}
		return nil
	}
	select {
	case h.broadcast <- msg:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// SendToClient queues a control message for one connection. A client whose
// queue is full is evicted.
func (h *Hub) SendToClient(clientID string, message []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}

	select {
	case client.Send <- message:
	default:
		h.evict(client)
	}
	return nil
}

// RoomSize returns the number of local members of roomID.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// RoomCount returns the number of non-empty rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Rooms returns a snapshot of roomID -> member count.
func (h *Hub) Rooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.rooms))
	for id, members := range h.rooms {
		out[id] = len(members)
	}
	return out
}

// Members returns the sorted client ids in roomID.
func (h *Hub) Members(roomID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms[roomID]))
	for id := range h.rooms[roomID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
