// Package gateway is the local HTTP bridge between a browser UI and the
// viewer session.
package gateway

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/protocol"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/response"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/wsconn"
	"github.com/juliusbiascan/EduInsight-Project-sub000/viewer-client/internal/session"
)

// Viewer is the session surface driven over HTTP. *session.Session
// satisfies it.
type Viewer interface {
	State() session.State
	SetViewport(v session.Viewport) error
	PointerMove(clientX, clientY float64) error
	PointerDown(button string) error
	PointerUp(button string) error
	Scroll(deltaX, deltaY float64) error
	Drag(direction string, clientX, clientY float64) error
	Key(key string, modifiers []string) error
}

// FrameSource returns the frame on screen. *session.LatestFrame satisfies
// it.
type FrameSource interface {
	Latest() *session.Frame
}

// Pointer actions accepted by POST /input/pointer.
const (
	PointerMove   = "move"
	PointerDown   = "down"
	PointerUp     = "up"
	PointerScroll = "scroll"
	PointerDrag   = "drag"
)

// PointerRequest is one pointer event in client coordinates.
type PointerRequest struct {
	Type      string  `json:"type" binding:"required"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Button    string  `json:"button"`
	DeltaX    float64 `json:"delta_x"`
	DeltaY    float64 `json:"delta_y"`
	Direction string  `json:"direction"`
}

// KeyRequest is one key press.
type KeyRequest struct {
	Key       string   `json:"key" binding:"required"`
	Modifiers []string `json:"modifiers"`
}

// Handler serves the gateway routes.
type Handler struct {
	viewer Viewer
	frames FrameSource
}

// NewHandler creates a new gateway handler.
func NewHandler(v Viewer, frames FrameSource) *Handler {
	return &Handler{viewer: v, frames: frames}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/frame", h.GetFrame)
	r.GET("/state", h.GetState)
	r.PUT("/viewport", h.PutViewport)

	input := r.Group("/input")
	{
		input.POST("/pointer", h.PostPointer)
		input.POST("/key", h.PostKey)
	}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetFrame serves the latest frame image. 204 until the first frame.
func (h *Handler) GetFrame(c *gin.Context) {
	f := h.frames.Latest()
	if f == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("X-Stream-ID", f.StreamID)
	c.Header("X-Frame-Seq", strconv.FormatUint(f.Seq, 10))
	c.Data(http.StatusOK, f.ContentType(), f.Data)
}

// GetState returns the session and connection state.
func (h *Handler) GetState(c *gin.Context) {
	response.Success(c, h.viewer.State())
}

// PutViewport records where the UI draws the frame.
func (h *Handler) PutViewport(c *gin.Context) {
	var v session.Viewport
	if err := c.ShouldBindJSON(&v); err != nil {
		response.BadRequest(c, "invalid viewport: "+err.Error())
		return
	}
	if err := h.viewer.SetViewport(v); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, v)
}

// PostPointer relays one pointer event.
func (h *Handler) PostPointer(c *gin.Context) {
	var req PointerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid pointer event: "+err.Error())
		return
	}

	var err error
	switch req.Type {
	case PointerMove:
		err = h.viewer.PointerMove(req.X, req.Y)
	case PointerDown:
		err = h.viewer.PointerDown(req.Button)
	case PointerUp:
		err = h.viewer.PointerUp(req.Button)
	case PointerScroll:
		err = h.viewer.Scroll(req.DeltaX, req.DeltaY)
	case PointerDrag:
		err = h.viewer.Drag(req.Direction, req.X, req.Y)
	default:
		response.BadRequest(c, "unknown pointer type "+strconv.Quote(req.Type))
		return
	}
	h.relayed(c, err)
}

// PostKey relays one key press.
func (h *Handler) PostKey(c *gin.Context) {
	var req KeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid key event: "+err.Error())
		return
	}
	h.relayed(c, h.viewer.Key(req.Key, req.Modifiers))
}

// relayed maps the outcome of a fire-and-forget input event.
func (h *Handler) relayed(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.Status(http.StatusAccepted)
	case errors.Is(err, session.ErrOutsideViewport):
		c.Status(http.StatusNoContent)
	case errors.Is(err, protocol.ErrInvalidPayload):
		response.BadRequest(c, err.Error())
	case errors.Is(err, wsconn.ErrNotConnected),
		errors.Is(err, wsconn.ErrSendBufferFull),
		errors.Is(err, session.ErrNotConnected),
		errors.Is(err, session.ErrClosed):
		response.Unavailable(c, err.Error())
	default:
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg("failed to relay input")
		response.InternalError(c, "failed to relay input")
	}
}
