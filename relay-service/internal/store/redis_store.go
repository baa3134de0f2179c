package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key patterns:
// relay:room:{room_id}:viewers   ZSET<viewer_id>  score = expiry (unix ms)
// relay:device:{device_id}       HASH             presence of one agent, TTL
//   - instance_id: relay instance holding the connection
//   - since: unix ms
// relay:devices:online           SET<device_id>   index of online devices

const onlineDevicesKey = "relay:devices:online"

func roomViewersKey(roomID string) string {
	return fmt.Sprintf("relay:room:%s:viewers", roomID)
}

func deviceKey(deviceID string) string {
	return fmt.Sprintf("relay:device:%s", deviceID)
}

// redisStore implements Store using Redis. Viewer entries carry their own
// expiry so interest held by a crashed instance lapses without cleanup.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed store sharing client.
func NewRedisStore(client *redis.Client, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &redisStore{client: client, ttl: ttl, now: time.Now}
}

func (s *redisStore) expiry() float64 {
	return float64(s.now().Add(s.ttl).UnixMilli())
}

func (s *redisStore) staleBound() string {
	return "(" + strconv.FormatInt(s.now().UnixMilli(), 10)
}

func (s *redisStore) AddViewer(ctx context.Context, roomID, viewerID string) (bool, int, error) {
	key := roomViewersKey(roomID)
	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", s.staleBound())
	added := pipe.ZAdd(ctx, key, redis.Z{Score: s.expiry(), Member: viewerID})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("add viewer: %w", err)
	}
	return added.Val() == 1, int(card.Val()), nil
}

func (s *redisStore) RemoveViewer(ctx context.Context, roomID, viewerID string) (bool, int, error) {
	key := roomViewersKey(roomID)
	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", s.staleBound())
	removed := pipe.ZRem(ctx, key, viewerID)
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("remove viewer: %w", err)
	}
	return removed.Val() == 1, int(card.Val()), nil
}

func (s *redisStore) ViewerCount(ctx context.Context, roomID string) (int, error) {
	n, err := s.client.ZCount(ctx, roomViewersKey(roomID), strconv.FormatInt(s.now().UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("viewer count: %w", err)
	}
	return int(n), nil
}

func (s *redisStore) SetDeviceOnline(ctx context.Context, deviceID, instanceID string) error {
	key := deviceKey(deviceID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"instance_id": instanceID,
		"since":       s.now().UnixMilli(),
	})
	pipe.Expire(ctx, key, s.ttl)
	pipe.SAdd(ctx, onlineDevicesKey, deviceID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) SetDeviceOffline(ctx context.Context, deviceID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, deviceKey(deviceID))
	pipe.SRem(ctx, onlineDevicesKey, deviceID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) GetDeviceStatus(ctx context.Context, deviceID string) (*DeviceStatus, error) {
	fields, err := s.client.HGetAll(ctx, deviceKey(deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("device status: %w", err)
	}
	return statusFromHash(deviceID, fields), nil
}

func statusFromHash(deviceID string, fields map[string]string) *DeviceStatus {
	st := &DeviceStatus{DeviceID: deviceID}
	if len(fields) == 0 {
		return st
	}
	st.Online = true
	st.InstanceID = fields["instance_id"]
	if ms, err := strconv.ParseInt(fields["since"], 10, 64); err == nil {
		st.Since = time.UnixMilli(ms).UTC()
	}
	return st
}

func (s *redisStore) ListOnlineDevices(ctx context.Context) ([]DeviceStatus, error) {
	ids, err := s.client.SMembers(ctx, onlineDevicesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list online devices: %w", err)
	}
	if len(ids) == 0 {
		return []DeviceStatus{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, deviceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("list online devices: %w", err)
	}

	out := make([]DeviceStatus, 0, len(ids))
	var expired []interface{}
	for i, id := range ids {
		st := statusFromHash(id, cmds[i].Val())
		if !st.Online {
			expired = append(expired, id)
			continue
		}
		out = append(out, *st)
	}
	if len(expired) > 0 {
		s.client.SRem(ctx, onlineDevicesKey, expired...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (s *redisStore) Refresh(ctx context.Context, devices []string, viewers map[string][]string) error {
	if len(devices) == 0 && len(viewers) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, id := range devices {
		pipe.Expire(ctx, deviceKey(id), s.ttl)
		pipe.SAdd(ctx, onlineDevicesKey, id)
	}
	score := s.expiry()
	for roomID, ids := range viewers {
		if len(ids) == 0 {
			continue
		}
		members := make([]redis.Z, len(ids))
		for i, id := range ids {
			members[i] = redis.Z{Score: score, Member: id}
		}
		key := roomViewersKey(roomID)
		pipe.ZAddXX(ctx, key, members...)
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) Close() error {
	return nil
}
