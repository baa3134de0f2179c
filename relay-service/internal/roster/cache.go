package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
)

// CachedRoster is a Redis read-through cache in front of another Roster.
// Misses are cached too, for a shorter time, so unknown ids cannot hammer
// the database. Concurrent misses for one device share a single lookup.
type CachedRoster struct {
	next    Roster
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	missTTL time.Duration
	group   singleflight.Group
}

type cacheEntry struct {
	Device  *Device `json:"device,omitempty"`
	Missing bool    `json:"missing,omitempty"`
}

// NewCachedRoster wraps next.
func NewCachedRoster(next Roster, client *redis.Client, ttl time.Duration) *CachedRoster {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRoster{
		next:    next,
		client:  client,
		prefix:  "relay:roster",
		ttl:     ttl,
		missTTL: ttl / 10,
	}
}

func (c *CachedRoster) key(deviceID string) string {
	return fmt.Sprintf("%s:id:%s", c.prefix, deviceID)
}

// Lookup serves from Redis when possible. Cache failures fall through to
// the backing roster.
func (c *CachedRoster) Lookup(ctx context.Context, deviceID string) (*Device, error) {
	l := log.Ctx(ctx)
	key := c.key(deviceID)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var entry cacheEntry
		if jsonErr := json.Unmarshal(data, &entry); jsonErr == nil {
			if entry.Missing {
				return nil, ErrDeviceNotFound
			}
			if entry.Device != nil {
				return entry.Device, nil
			}
		}
	case !errors.Is(err, redis.Nil):
		l.Warn().Err(err).Str(log.FieldDeviceID, deviceID).Msg("roster cache read failed")
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.fill(ctx, key, deviceID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Device), nil
}

func (c *CachedRoster) fill(ctx context.Context, key, deviceID string) (*Device, error) {
	l := log.Ctx(ctx)
	device, err := c.next.Lookup(ctx, deviceID)
	entry := cacheEntry{Device: device}
	ttl := c.ttl
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		entry = cacheEntry{Missing: true}
		ttl = c.missTTL
	case err != nil:
		return nil, err
	}

	if data, mErr := json.Marshal(entry); mErr == nil {
		if sErr := c.client.Set(ctx, key, data, ttl).Err(); sErr != nil {
			l.Warn().Err(sErr).Str(log.FieldDeviceID, deviceID).Msg("roster cache write failed")
		}
	}
	return device, err
}

// Invalidate drops cached entries.
func (c *CachedRoster) Invalidate(ctx context.Context, deviceIDs ...string) error {
	if len(deviceIDs) == 0 {
		return nil
	}
	keys := make([]string, len(deviceIDs))
	for i, id := range deviceIDs {
		keys[i] = c.key(id)
	}
	return c.client.Del(ctx, keys...).Err()
}
