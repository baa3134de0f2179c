package service

import (
	"context"
	"errors"
	"sync"
	"time"

	pkglog "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/protocol"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/cluster"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/hub"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/kafka"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/roster"
	"github.com/juliusbiascan/EduInsight-Project-sub000/relay-service/internal/store"
)

// Options wires a relay service. Roster, Producer and Recorder are
// optional.
type Options struct {
	Hub *hub.Hub
	// Emitter delivers room emissions; defaults to Hub. The cluster bridge
	// is passed here when several relay instances share rooms.
	Emitter         cluster.Emitter
	Roster          roster.Roster
	Store           store.Store
	Producer        kafka.ObservationEventProducer
	Recorder        Recorder
	InstanceID      string
	RefreshInterval time.Duration
}

type relayService struct {
	hub        *hub.Hub
	emitter    cluster.Emitter
	roster     roster.Roster
	store      store.Store
	producer   kafka.ObservationEventProducer
	recorder   Recorder
	instanceID string
	refresh    time.Duration

	// Interest changes are serialized so start-sharing and stop-sharing
	// reach a room in the order the counts changed.
	interestMu sync.Mutex

	mu       sync.Mutex
	devices  map[string]string              // deviceID -> client ID of the local device connection
	watchers map[string]map[string]struct{} // deviceID -> local viewer client IDs

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRelayService creates a new RelayService instance.
func NewRelayService(opts Options) RelayService {
	s := &relayService{
		hub:        opts.Hub,
		emitter:    opts.Emitter,
		roster:     opts.Roster,
		store:      opts.Store,
		producer:   opts.Producer,
		recorder:   opts.Recorder,
		instanceID: opts.InstanceID,
		refresh:    opts.RefreshInterval,
		devices:    make(map[string]string),
		watchers:   make(map[string]map[string]struct{}),
	}
	if s.emitter == nil {
		s.emitter = opts.Hub
	}
	if s.recorder == nil {
		s.recorder = noopRecorder{}
	}
	if s.store == nil {
		s.store = store.NewMemoryStore()
	}
	return s
}

func (s *relayService) HandleJoin(ctx context.Context, c *hub.Client, env *protocol.Envelope) error {
	deviceID, err := env.DeviceID()
	if err != nil {
		return s.reject(c, env.RoomID, env.Type, protocol.ErrCodeBadRequest, "device id required")
	}

	identity := c.Session.Identity
	if !identity.CanJoin(deviceID) {
		return s.reject(c, deviceID, env.Type, protocol.ErrCodeForbidden, "not allowed to join this device")
	}

	if s.roster != nil {
		if _, err := s.roster.Lookup(ctx, deviceID); err != nil {
			if errors.Is(err, roster.ErrDeviceNotFound) {
				return s.reject(c, deviceID, env.Type, protocol.ErrCodeNotFound, "device not found")
			}
			l := pkglog.Ctx(ctx)
			l.Error().Err(err).Str(pkglog.FieldDeviceID, deviceID).Msg("roster lookup failed")
			return s.reject(c, deviceID, env.Type, protocol.ErrCodeInternalError, "failed to look up device")
		}
	}

	role := identity.RoomRole(deviceID)
	_, rejoin := c.Session.RoleIn(deviceID)
	if err := s.hub.JoinRoom(c, deviceID); err != nil {
		return err
	}
	c.Session.JoinRoom(deviceID, role)

	if role == protocol.RoleDevice && !rejoin {
		s.deviceOnline(ctx, c, deviceID)
	}

	viewers, err := s.store.ViewerCount(ctx, deviceID)
	if err != nil {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).Str(pkglog.FieldDeviceID, deviceID).Msg("failed to read viewer count")
	}
	online := role == protocol.RoleDevice
	if !online {
		if st, err := s.store.GetDeviceStatus(ctx, deviceID); err == nil {
			online = st.Online
		}
	}

	ack, err := protocol.NewEnvelope(protocol.EventRoomJoined, deviceID, &protocol.RoomJoinedPayload{
		DeviceID:     deviceID,
		Role:         role,
		Viewers:      viewers,
		DeviceOnline: online,
	})
	if err != nil {
		return err
	}
	if err := s.send(c, ack); err != nil {
		return err
	}

	// A device that (re)joins while viewers are waiting resumes capture
	// without them asking again.
	if role == protocol.RoleDevice && viewers > 0 {
		start, _ := protocol.NewEnvelope(protocol.EventStartSharing, deviceID, &protocol.DevicePayload{DeviceID: deviceID})
		return s.send(c, start)
	}
	return nil
}

func (s *relayService) HandleLeave(ctx context.Context, c *hub.Client, env *protocol.Envelope) error {
	deviceID, err := env.DeviceID()
	if err != nil {
		return s.reject(c, env.RoomID, env.Type, protocol.ErrCodeBadRequest, "device id required")
	}
	s.leave(ctx, c, deviceID, kafka.ReasonExplicit)
	return nil
}

// leave releases c's membership of deviceID and anything held with it.
func (s *relayService) leave(ctx context.Context, c *hub.Client, deviceID, reason string) {
	role, watching, ok := c.Session.LeaveRoom(deviceID)
	if !ok {
		return
	}
	s.hub.LeaveRoom(c, deviceID)

	if watching {
		s.dropInterest(ctx, c, deviceID, reason)
	}
	if role == protocol.RoleDevice {
		s.deviceOffline(ctx, c, deviceID, reason)
	}
}

func (s *relayService) HandleStartSharing(ctx context.Context, c *hub.Client, env *protocol.Envelope) error {
	deviceID, err := env.DeviceID()
	if err != nil {
		return s.reject(c, env.RoomID, env.Type, protocol.ErrCodeBadRequest, "device id required")
	}
	role, ok := c.Session.RoleIn(deviceID)
	if !ok {
		return s.reject(c, deviceID, env.Type, protocol.ErrCodeForbidden, "join the device room first")
	}
	if role != protocol.RoleViewer {
		return s.reject(c, deviceID, env.Type, protocol.ErrCodeForbidden, "only viewers can request the screen")
	}
	if !c.Session.StartWatching(deviceID) {
		return nil
	}

	s.interestMu.Lock()
	defer s.interestMu.Unlock()

	changed, count, err := s.store.AddViewer(ctx, deviceID, c.ID)
	if err != nil {
		c.Session.StopWatching(deviceID)
		l := pkglog.Ctx(ctx)
		l.Error().Err(err).Str(pkglog.FieldDeviceID, deviceID).Msg("failed to record viewer interest")
		return s.reject(c, deviceID, env.Type, protocol.ErrCodeInternalError, "failed to start sharing")
	}
	s.trackWatcher(deviceID, c.ID, true)

	if !changed || count != 1 {
		return nil
	}

	start, _ := protocol.NewEnvelope(protocol.EventStartSharing, deviceID, &protocol.DevicePayload{DeviceID: deviceID})
	start.Sender = c.ID
	if err := s.emit(deviceID, start, c.ID, false); err != nil {
		return err
	}
	if s.producer != nil {
		if err := s.producer.ProduceObservationStarted(ctx, deviceID, c.Session.Identity.Subject, count); err != nil {
			l := pkglog.Ctx(ctx)
			l.Warn().Err(err).Str(pkglog.FieldDeviceID, deviceID).Msg("failed to produce observation_started")
		}
	}
	return nil
}

func (s *relayService) HandleStopSharing(ctx context.Context, c *hub.Client, env *protocol.Envelope) error {
	deviceID, err := env.DeviceID()
	if err != nil {
		return s.reject(c, env.RoomID, env.Type, protocol.ErrCodeBadRequest, "device id required")
	}
	if !c.Session.StopWatching(deviceID) {
		return nil
	}
	s.dropInterest(ctx, c, deviceID, kafka.ReasonExplicit)
	return nil
}

// dropInterest removes c's interest in deviceID and stops capture when it
// was the last one.
func (s *relayService) dropInterest(ctx context.Context, c *hub.Client, deviceID, reason string) {
	s.interestMu.Lock()
	defer s.interestMu.Unlock()

	s.trackWatcher(deviceID, c.ID, false)

	l := pkglog.Ctx(ctx)
	changed, count, err := s.store.RemoveViewer(ctx, deviceID, c.ID)
	if err != nil {
		l.Error().Err(err).Str(pkglog.FieldDeviceID, deviceID).Msg("failed to remove viewer interest")
		return
	}
	if !changed || count != 0 {
		return
	}

	stop, _ := protocol.NewEnvelope(protocol.EventStopSharing, deviceID, &protocol.DevicePayload{DeviceID: deviceID})
	stop.Sender = c.ID
	if err := s.emit(deviceID, stop, c.ID, false); err != nil {
		l.Warn().Err(err).Str(pkglog.FieldDeviceID, deviceID).Msg("failed to emit stop-sharing")
	}
	if s.producer != nil {
		if err := s.producer.ProduceObservationStopped(ctx, deviceID, c.Session.Identity.Subject, count, reason); err != nil {
			l.Warn().Err(err).Str(pkglog.FieldDeviceID, deviceID).Msg("failed to produce observation_stopped")
		}
	}
}

func (s *relayService) HandleFrame(ctx context.Context, c *hub.Client, env *protocol.Envelope) error {
	var frame protocol.FramePayload
	if err := env.Decode(&frame); err != nil {
		return s.reject(c, env.RoomID, env.Type, protocol.ErrCodeBadRequest, "invalid frame")
	}
	if err := frame.Validate(); err != nil {
		return s.reject(c, env.RoomID, env.Type, protocol.ErrCodeBadRequest, err.Error())
	}
	if env.RoomID != "" && env.RoomID != frame.DeviceID {
		return s.reject(c, env.RoomID, env.Type, protocol.ErrCodeBadRequest, "frame device does not match room")
	}
	if role, ok := c.Session.RoleIn(frame.DeviceID); !ok || role != protocol.RoleDevice {
		return s.reject(c, frame.DeviceID, env.Type, protocol.ErrCodeForbidden, "only the device can share its screen")
	}

	env.RoomID = frame.DeviceID
	env.Sender = c.ID
	return s.emit(frame.DeviceID, env, c.ID, true)
}

func (s *relayService) HandleInput(ctx context.Context, c *hub.Client, env *protocol.Envelope) error {
	if env.RoomID == "" {
		return s.reject(c, "", env.Type, protocol.ErrCodeBadRequest, "room_id required")
	}
	if _, err := protocol.DecodeInput(env); err != nil {
		return s.reject(c, env.RoomID, env.Type, protocol.ErrCodeBadRequest, err.Error())
	}
	if role, ok := c.Session.RoleIn(env.RoomID); !ok || role != protocol.RoleViewer {
		return s.reject(c, env.RoomID, env.Type, protocol.ErrCodeForbidden, "only viewers in the room can send input")
	}

	env.Sender = c.ID
	return s.emit(env.RoomID, env, c.ID, false)
}

func (s *relayService) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	for deviceID := range c.Session.Rooms() {
		s.leave(ctx, c, deviceID, kafka.ReasonDisconnect)
	}
	return nil
}

func (s *relayService) deviceOnline(ctx context.Context, c *hub.Client, deviceID string) {
	s.mu.Lock()
	s.devices[deviceID] = c.ID
	s.mu.Unlock()

	l := pkglog.Ctx(ctx)
	if err := s.store.SetDeviceOnline(ctx, deviceID, s.instanceID); err != nil {
		l.Warn().Err(err).Str(pkglog.FieldDeviceID, deviceID).Msg("failed to record device presence")
	}
	s.emitStatus(deviceID, c.ID, true)
	if s.producer != nil {
		if err := s.producer.ProduceDeviceOnline(ctx, deviceID); err != nil {
			l.Warn().Err(err).Str(pkglog.FieldDeviceID, deviceID).Msg("failed to produce device_online")
		}
	}
	l.Info().Str(pkglog.FieldDeviceID, deviceID).Str(pkglog.FieldClientID, c.ID).Msg("device online")
}

// deviceOffline is skipped when a newer connection of the same device has
// already taken over.
func (s *relayService) deviceOffline(ctx context.Context, c *hub.Client, deviceID, reason string) {
	s.mu.Lock()
	if s.devices[deviceID] != c.ID {
		s.mu.Unlock()
		return
	}
	delete(s.devices, deviceID)
	s.mu.Unlock()

	l := pkglog.Ctx(ctx)
	if st, err := s.store.GetDeviceStatus(ctx, deviceID); err == nil && st.Online && st.InstanceID != "" && st.InstanceID != s.instanceID {
		// Reconnected through another relay instance.
		return
	}
	if err := s.store.SetDeviceOffline(ctx, deviceID); err != nil {
		l.Warn().Err(err).Str(pkglog.FieldDeviceID, deviceID).Msg("failed to clear device presence")
	}
	s.emitStatus(deviceID, c.ID, false)
	if s.producer != nil {
		if err := s.producer.ProduceDeviceOffline(ctx, deviceID, reason); err != nil {
			l.Warn().Err(err).Str(pkglog.FieldDeviceID, deviceID).Msg("failed to produce device_offline")
		}
	}
	l.Info().Str(pkglog.FieldDeviceID, deviceID).Str("reason", reason).Msg("device offline")
}

func (s *relayService) emitStatus(deviceID, sender string, online bool) {
	env, _ := protocol.NewEnvelope(protocol.EventDeviceStatus, deviceID, &protocol.DeviceStatusPayload{
		DeviceID: deviceID,
		Online:   online,
	})
	if err := s.emit(deviceID, env, sender, false); err != nil {
		l := pkglog.Component("relay")
		l.Warn().Err(err).Str(pkglog.FieldDeviceID, deviceID).Msg("failed to emit device status")
	}
}

func (s *relayService) trackWatcher(deviceID, clientID string, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.watchers[deviceID]
	if add {
		if set == nil {
			set = make(map[string]struct{})
			s.watchers[deviceID] = set
		}
		set[clientID] = struct{}{}
		return
	}
	delete(set, clientID)
	if len(set) == 0 {
		delete(s.watchers, deviceID)
	}
}

func (s *relayService) emit(roomID string, env *protocol.Envelope, exclude string, lossy bool) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	if err := s.emitter.EmitToRoom(roomID, data, exclude, lossy); err != nil {
		return err
	}
	s.recorder.EventRelayed(env.Type)
	return nil
}

func (s *relayService) send(c *hub.Client, env *protocol.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	return s.hub.SendToClient(c.ID, data)
}

// reject replies with an error envelope and returns the matching error.
func (s *relayService) reject(c *hub.Client, roomID, event, code, message string) error {
	s.recorder.EventRejected(code)
	if err := s.send(c, protocol.NewErrorEnvelope(roomID, code, message, event)); err != nil {
		return err
	}
	return &RejectedError{Code: code, Event: event, Message: message}
}

func (s *relayService) Start(ctx context.Context) error {
	if s.refresh <= 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.refreshStore(ctx)
			}
		}
	}()

	l := pkglog.Component("relay")
	l.Info().Dur("interval", s.refresh).Msg("relay service started")
	return nil
}

// refreshStore extends the store records held by this instance's
// connections.
func (s *relayService) refreshStore(ctx context.Context) {
	s.mu.Lock()
	devices := make([]string, 0, len(s.devices))
	for id := range s.devices {
		devices = append(devices, id)
	}
	viewers := make(map[string][]string, len(s.watchers))
	for room, set := range s.watchers {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		viewers[room] = ids
	}
	s.mu.Unlock()

	if err := s.store.Refresh(ctx, devices, viewers); err != nil && ctx.Err() == nil {
		l := pkglog.Component("relay")
		l.Warn().Err(err).Msg("failed to refresh store")
	}
}

func (s *relayService) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}
