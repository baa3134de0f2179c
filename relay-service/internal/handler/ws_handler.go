package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	pkglog "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/middleware"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/protocol"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/response"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/domain"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/hub"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/service"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from other origins on the lab network
	},
}

// ConnRecorder counts connection-level outcomes.
type ConnRecorder interface {
	IncConnections()
	IncAuthFailures()
	EventRejected(code string)
}

type noopConnRecorder struct{}

func (noopConnRecorder) IncConnections()      {}
func (noopConnRecorder) IncAuthFailures()     {}
func (noopConnRecorder) EventRejected(string) {}

// WSHandler handles WebSocket connections.
type WSHandler struct {
	hub      *hub.Hub
	service  service.RelayService
	auth     *middleware.AuthMiddleware
	recorder ConnRecorder
}

// NewWSHandler creates a new WebSocket handler. recorder may be nil.
func NewWSHandler(h *hub.Hub, svc service.RelayService, auth *middleware.AuthMiddleware, recorder ConnRecorder) *WSHandler {
	if recorder == nil {
		recorder = noopConnRecorder{}
	}
	return &WSHandler{
		hub:      h,
		service:  svc,
		auth:     auth,
		recorder: recorder,
	}
}

// HandleWebSocket authenticates the caller, upgrades the connection and
// starts its pumps.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	l := pkglog.Ctx(c.Request.Context())

	claims, err := h.auth.Authenticate(c)
	if err != nil {
		h.recorder.IncAuthFailures()
		l.Warn().Err(err).Msg("websocket authentication failed")
		response.Unauthorized(c, "invalid or missing token")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	identity := domain.IdentityFromClaims(claims)
	identity.Unrestricted = !h.auth.Enabled()

	clientID := uuid.New().String()
	client := hub.NewClient(h.hub, conn, domain.NewSession(clientID, identity))

	client.SetDisconnectHandler(func(c *hub.Client) {
		ctx := pkglog.WithConnection(context.Background(), c.ID, "")
		if err := h.service.HandleDisconnect(ctx, c); err != nil {
			l := pkglog.Ctx(ctx)
			l.Error().Err(err).Msg("disconnect handler error")
		}
	})

	if err := h.hub.Register(client); err != nil {
		l.Warn().Err(err).Msg("hub not accepting connections")
		conn.Close()
		return
	}
	h.recorder.IncConnections()

	l.Info().
		Str(pkglog.FieldClientID, clientID).
		Str(pkglog.FieldUserID, identity.Subject).
		Str(pkglog.FieldRole, identity.Role).
		Msg("client connected")

	go client.WritePump()
	go client.ReadPump(h.handleMessage)
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	env, err := protocol.Parse(message)
	if err != nil {
		h.replyError(client, "", "", protocol.ErrCodeBadRequest, "invalid message format")
		return
	}
	if err := protocol.Validate(env); err != nil {
		msg := err.Error()
		if errors.Is(err, protocol.ErrUnknownEvent) {
			msg = "unknown event"
		}
		h.replyError(client, env.RoomID, env.Type, protocol.ErrCodeBadRequest, msg)
		return
	}

	ctx := pkglog.WithConnection(context.Background(), client.ID, env.RoomID)

	switch {
	case env.Type == protocol.EventJoinServer:
		err = h.service.HandleJoin(ctx, client, env)
	case env.Type == protocol.EventLeaveServer:
		err = h.service.HandleLeave(ctx, client, env)
	case env.Type == protocol.EventStartSharing:
		err = h.service.HandleStartSharing(ctx, client, env)
	case env.Type == protocol.EventStopSharing:
		err = h.service.HandleStopSharing(ctx, client, env)
	case env.Type == protocol.EventScreenShare:
		err = h.service.HandleFrame(ctx, client, env)
	case protocol.IsInput(env.Type):
		err = h.service.HandleInput(ctx, client, env)
	default:
		h.replyError(client, env.RoomID, env.Type, protocol.ErrCodeBadRequest, "unknown event")
		return
	}

	if err != nil {
		l := pkglog.Ctx(ctx)
		var rejected *service.RejectedError
		if errors.As(err, &rejected) {
			l.Debug().Err(err).Str(pkglog.FieldEvent, env.Type).Msg("event rejected")
			return
		}
		l.Error().Err(err).Str(pkglog.FieldEvent, env.Type).Msg("event handling failed")
	}
}

func (h *WSHandler) replyError(client *hub.Client, roomID, event, code, message string) {
	h.recorder.EventRejected(code)
	data, err := protocol.NewErrorEnvelope(roomID, code, message, event).Marshal()
	if err != nil {
		return
	}
	h.hub.SendToClient(client.ID, data)
}

// RegisterRoutes registers the WebSocket route.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.HandleWebSocket)
}
