package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	mr := miniredis.RunT(t)

	manager, err := NewManager(Config{
		Addr:       mr.Addr(),
		DefaultTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestNewManager_ConnectFailure(t *testing.T) {
	_, err := NewManager(Config{Addr: "127.0.0.1:1"}, nil)
	assert.Error(t, err)
}

func TestManager_SetGetDelete(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", 0))
	v, err := manager.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, manager.Delete(ctx, "k"))
	_, err = manager.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
	assert.NoError(t, manager.Delete(ctx))
}

func TestManager_IncrByFloat(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	total, err := manager.IncrByFloat(ctx, "usage", 1.5, time.Hour)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, total, 1e-9)

	total, err = manager.IncrByFloat(ctx, "usage", 2.25, time.Hour)
	require.NoError(t, err)
	assert.InDelta(t, 3.75, total, 1e-9)
	assert.Equal(t, time.Hour, mr.TTL("usage"))

	f, err := manager.GetFloat(ctx, "usage")
	require.NoError(t, err)
	assert.InDelta(t, 3.75, f, 1e-9)

	zero, err := manager.GetFloat(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, zero)

	require.NoError(t, manager.Set(ctx, "text", "abc", 0))
	_, err = manager.GetFloat(ctx, "text")
	assert.Error(t, err)
}

func TestManager_TTLDefault(t *testing.T) {
	mr, manager := setupTestRedis(t)
	require.NoError(t, manager.Set(context.Background(), "k", "v", 0))
	assert.Equal(t, time.Minute, mr.TTL("k"))

	mr.FastForward(2 * time.Minute)
	_, err := manager.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_ClosedOperations(t *testing.T) {
	_, manager := setupTestRedis(t)
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	ctx := context.Background()
	_, err := manager.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, manager.Set(ctx, "k", "v", 0))
	_, err = manager.IncrByFloat(ctx, "k", 1, 0)
	assert.Error(t, err)
	assert.Error(t, manager.Ping(ctx))
}

func TestManager_HealthCheckFailed(t *testing.T) {
	mr, manager := setupTestRedis(t)
	mr.Close()
	assert.Error(t, manager.Ping(context.Background()))
}

func TestManager_ConcurrentIncr(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.IncrByFloat(ctx, "counter", 0.5, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	f, err := manager.GetFloat(ctx, "counter")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, f, 1e-9)
}

func TestParseInfo(t *testing.T) {
	info := "# Stats\r\nkeyspace_hits:12\r\nkeyspace_misses:3\r\n\r\n# Keyspace\r\ndb0:keys=5,expires=2,avg_ttl=0\r\ndb1:keys=1,expires=0,avg_ttl=0\r\n"
	s := parseInfo(info)
	assert.Equal(t, int64(12), s.Hits)
	assert.Equal(t, int64(3), s.Misses)
	assert.Equal(t, int64(6), s.Keys)
}
