package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry(userID int64, computedAt time.Time, perms ...Permission) *CacheEntry {
	return &CacheEntry{
		UserID:      userID,
		Permissions: NewPermissionSet(perms...),
		ComputedAt:  computedAt,
	}
}

func TestMemoryCache_GetPut(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache(10, time.Hour)
	c.now = func() time.Time { return now }

	_, err := c.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Put(ctx, testEntry(1, now, PermUsersView), time.Minute))

	entry, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, entry.Permissions.Has(PermUsersView))
	assert.Equal(t, now.Add(time.Minute), entry.ExpiresAt)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestMemoryCache_NeverServesExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache(10, time.Hour)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Put(ctx, testEntry(1, now, PermUsersView), time.Minute))

	now = now.Add(time.Minute)
	_, err := c.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, time.Hour)

	require.NoError(t, c.Put(ctx, testEntry(1, time.Now()), time.Minute))
	require.NoError(t, c.Put(ctx, testEntry(2, time.Now()), time.Minute))

	require.NoError(t, c.Invalidate(ctx, 1))
	require.NoError(t, c.Invalidate(ctx, 1), "invalidating twice is harmless")
	_, err := c.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, 2)
	assert.NoError(t, err)

	require.NoError(t, c.InvalidateAll(ctx))
	_, err = c.Get(ctx, 2)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_Bounded(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2, time.Hour)

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, c.Put(ctx, testEntry(id, time.Now()), time.Minute))
	}

	assert.Equal(t, 2, c.Stats().Entries)
	_, err := c.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrCacheMiss, "least recently used entry is evicted")
}

func TestNopCache(t *testing.T) {
	ctx := context.Background()
	var c PermissionCache = NopCache{}

	require.NoError(t, c.Put(ctx, testEntry(1, time.Now()), time.Minute))
	_, err := c.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.NoError(t, c.Invalidate(ctx, 1))
	assert.NoError(t, c.InvalidateAll(ctx))
}

func setupRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisCache(client, "test:perms"), mr
}

func TestRedisCache_GetPut(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedisCache(t)

	_, err := c.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Put(ctx, testEntry(1, time.Now(), PermRolesView, PermUsersView), time.Minute))
	assert.True(t, mr.Exists("test:perms:v0:1"))
	assert.Equal(t, time.Minute, mr.TTL("test:perms:v0:1"))

	entry, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []Permission{PermRolesView, PermUsersView}, entry.Permissions.Sorted())
}

func TestRedisCache_ExpiresWithTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedisCache(t)

	require.NoError(t, c.Put(ctx, testEntry(1, time.Now()), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := c.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c, _ := setupRedisCache(t)

	require.NoError(t, c.Put(ctx, testEntry(1, time.Now()), time.Minute))
	require.NoError(t, c.Put(ctx, testEntry(2, time.Now()), time.Minute))

	require.NoError(t, c.Invalidate(ctx, 1))
	_, err := c.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, 2)
	require.NoError(t, err)

	require.NoError(t, c.InvalidateAll(ctx))
	_, err = c.Get(ctx, 2)
	assert.ErrorIs(t, err, ErrCacheMiss)

	// new generation is writable
	require.NoError(t, c.Put(ctx, testEntry(2, time.Now()), time.Minute))
	_, err = c.Get(ctx, 2)
	assert.NoError(t, err)
}

func TestRedisCache_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedisCache(t)

	require.NoError(t, mr.Set("test:perms:v0:5", "{not json"))

	_, err := c.Get(ctx, 5)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
	assert.False(t, mr.Exists("test:perms:v0:5"), "corrupt entry is deleted")
}

func TestRedisCache_Unavailable(t *testing.T) {
	ctx := context.Background()
	c, mr := setupRedisCache(t)
	mr.Close()

	_, err := c.Get(ctx, 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := DialRedis(context.Background(), RedisOptions{URL: "redis://" + mr.Addr() + "/0"})
	require.NoError(t, err)
	defer client.Close()

	_, err = DialRedis(context.Background(), RedisOptions{URL: "://bad"})
	assert.Error(t, err)
}
