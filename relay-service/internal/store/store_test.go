package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTestStore(t *testing.T) (*redisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, time.Minute).(*redisStore), mr
}

func forEachDriver(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("redis", func(t *testing.T) {
		s, _ := newRedisTestStore(t)
		fn(t, s)
	})
}

func TestStore_ViewerInterestCounts(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		changed, n, err := s.AddViewer(ctx, "pc-01", "v1")
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 1, n)

		changed, n, err = s.AddViewer(ctx, "pc-01", "v1")
		require.NoError(t, err)
		assert.False(t, changed, "repeated start from the same viewer")
		assert.Equal(t, 1, n)

		_, n, err = s.AddViewer(ctx, "pc-01", "v2")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		changed, n, err = s.RemoveViewer(ctx, "pc-01", "v1")
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 1, n)

		changed, _, err = s.RemoveViewer(ctx, "pc-01", "v1")
		require.NoError(t, err)
		assert.False(t, changed)

		_, n, err = s.RemoveViewer(ctx, "pc-01", "v2")
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		count, err := s.ViewerCount(ctx, "pc-01")
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestStore_DevicePresence(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		st, err := s.GetDeviceStatus(ctx, "pc-01")
		require.NoError(t, err)
		assert.False(t, st.Online)

		require.NoError(t, s.SetDeviceOnline(ctx, "pc-02", "relay-a"))
		require.NoError(t, s.SetDeviceOnline(ctx, "pc-01", "relay-b"))

		st, err = s.GetDeviceStatus(ctx, "pc-01")
		require.NoError(t, err)
		assert.True(t, st.Online)
		assert.Equal(t, "relay-b", st.InstanceID)
		assert.False(t, st.Since.IsZero())

		list, err := s.ListOnlineDevices(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "pc-01", list[0].DeviceID)
		assert.Equal(t, "pc-02", list[1].DeviceID)

		require.NoError(t, s.SetDeviceOffline(ctx, "pc-01"))
		list, err = s.ListOnlineDevices(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "pc-02", list[0].DeviceID)

		assert.NoError(t, s.Refresh(ctx, []string{"pc-02"}, map[string][]string{"pc-02": {"v1"}}))
		assert.NoError(t, s.Close())
	})
}

func TestRedisStore_StaleViewerLapses(t *testing.T) {
	s, _ := newRedisTestStore(t)
	ctx := context.Background()
	base := time.Now()
	s.now = func() time.Time { return base }

	_, _, err := s.AddViewer(ctx, "pc-01", "crashed-instance-viewer")
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	n, err := s.ViewerCount(ctx, "pc-01")
	require.NoError(t, err)
	assert.Zero(t, n)

	changed, n, err := s.AddViewer(ctx, "pc-01", "fresh")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, n, "stale entry is pruned before counting")
}

func TestRedisStore_RefreshKeepsViewerAlive(t *testing.T) {
	s, _ := newRedisTestStore(t)
	ctx := context.Background()
	base := time.Now()
	s.now = func() time.Time { return base }

	_, _, err := s.AddViewer(ctx, "pc-01", "v1")
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(50 * time.Second) }
	require.NoError(t, s.Refresh(ctx, nil, map[string][]string{"pc-01": {"v1", "never-added"}}))

	s.now = func() time.Time { return base.Add(100 * time.Second) }
	n, err := s.ViewerCount(ctx, "pc-01")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "refresh extends but never adds")
}

func TestRedisStore_ExpiredDeviceDropsFromList(t *testing.T) {
	s, mr := newRedisTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetDeviceOnline(ctx, "pc-05", "relay-a"))
	mr.FastForward(2 * time.Minute)

	list, err := s.ListOnlineDevices(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	members, _ := mr.Members(onlineDevicesKey)
	assert.Empty(t, members)
}
