package handler

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/jwt"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/middleware"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/response"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/domain"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/hub"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/roster"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/store"
)

// DeviceInfo is the roster entry of a device with its live state.
type DeviceInfo struct {
	roster.Device
	Online     bool   `json:"online"`
	InstanceID string `json:"instance_id,omitempty"`
	Viewers    int    `json:"viewers"`
}

// RoomInfo describes one room on this instance.
type RoomInfo struct {
	DeviceID string   `json:"device_id"`
	Members  []string `json:"members"`
}

// HubSnapshot is the local view of the hub.
type HubSnapshot struct {
	InstanceID string     `json:"instance_id"`
	Clients    int        `json:"clients"`
	Rooms      []RoomInfo `json:"rooms"`
}

// Handler serves the relay's HTTP API.
type Handler struct {
	hub            *hub.Hub
	store          store.Store
	roster         roster.Roster
	authMiddleware *middleware.AuthMiddleware
	metrics        http.Handler
	instanceID     string
}

// NewHandler creates a new HTTP handler. roster and metrics may be nil.
func NewHandler(h *hub.Hub, st store.Store, r roster.Roster, auth *middleware.AuthMiddleware, metrics http.Handler, instanceID string) *Handler {
	return &Handler{
		hub:            h,
		store:          st,
		roster:         r,
		authMiddleware: auth,
		metrics:        metrics,
		instanceID:     instanceID,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := r.Group("/api/v1", h.authMiddleware.RequireAuth())
	{
		devices := api.Group("/devices")
		{
			devices.GET("/online", h.ListOnlineDevices)
			devices.GET("/:id", h.GetDevice)
		}
		api.GET("/rooms", middleware.RequireRole(jwt.RoleAdmin), h.ListRooms)
	}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "instance_id": h.instanceID})
}

// ListOnlineDevices lists connected device agents visible to the caller.
func (h *Handler) ListOnlineDevices(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	devices, err := h.store.ListOnlineDevices(ctx)
	if err != nil {
		l.Error().Err(err).Msg("failed to list online devices")
		response.InternalError(c, "failed to list online devices")
		return
	}

	identity := h.identity(c)
	visible := make([]store.DeviceStatus, 0, len(devices))
	for _, d := range devices {
		if identity.CanJoin(d.DeviceID) {
			visible = append(visible, d)
		}
	}
	response.Success(c, visible)
}

// GetDevice returns the roster entry of a device with its presence and
// viewer count.
func (h *Handler) GetDevice(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	deviceID := c.Param("id")

	if !h.identity(c).CanJoin(deviceID) {
		response.Forbidden(c, "not allowed to observe this device")
		return
	}

	info := DeviceInfo{Device: roster.Device{ID: deviceID}}
	if h.roster != nil {
		device, err := h.roster.Lookup(ctx, deviceID)
		if err != nil {
			if errors.Is(err, roster.ErrDeviceNotFound) {
				response.NotFound(c, "device not found")
				return
			}
			l.Error().Err(err).Str(log.FieldDeviceID, deviceID).Msg("roster lookup failed")
			response.InternalError(c, "failed to look up device")
			return
		}
		info.Device = *device
	}

	status, err := h.store.GetDeviceStatus(ctx, deviceID)
	if err != nil {
		l.Error().Err(err).Str(log.FieldDeviceID, deviceID).Msg("failed to get device status")
		response.InternalError(c, "failed to get device status")
		return
	}
	info.Online = status.Online
	info.InstanceID = status.InstanceID

	if info.Viewers, err = h.store.ViewerCount(ctx, deviceID); err != nil {
		l.Error().Err(err).Str(log.FieldDeviceID, deviceID).Msg("failed to count viewers")
		response.InternalError(c, "failed to count viewers")
		return
	}

	response.Success(c, info)
}

// ListRooms returns this instance's rooms and their members.
func (h *Handler) ListRooms(c *gin.Context) {
	rooms := h.hub.Rooms()
	snapshot := HubSnapshot{
		InstanceID: h.instanceID,
		Clients:    h.hub.ClientCount(),
		Rooms:      make([]RoomInfo, 0, len(rooms)),
	}
	for id := range rooms {
		snapshot.Rooms = append(snapshot.Rooms, RoomInfo{DeviceID: id, Members: h.hub.Members(id)})
	}
	sort.Slice(snapshot.Rooms, func(i, j int) bool { return snapshot.Rooms[i].DeviceID < snapshot.Rooms[j].DeviceID })
	response.Success(c, snapshot)
}

func (h *Handler) identity(c *gin.Context) domain.Identity {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return domain.Identity{}
	}
	identity := domain.IdentityFromClaims(claims)
	identity.Unrestricted = !h.authMiddleware.Enabled()
	return identity
}
