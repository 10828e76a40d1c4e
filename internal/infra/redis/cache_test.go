package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetSet(t *testing.T) {
	client, _ := newTestClient(t)
	cache, err := NewCache[map[string]int](client, "test", time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = cache.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, cache.Set(ctx, "counts", map[string]int{"a": 1, "b": 2}))

	got, err := cache.Get(ctx, "counts")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, *got)

	require.NoError(t, cache.Delete(ctx, "counts"))
	_, err = cache.Get(ctx, "counts")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCache_TTLExpiry(t *testing.T) {
	client, mr := newTestClient(t)
	cache, err := NewCache[string](client, "test", time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cache.SetWithTTL(ctx, "short", "value", time.Second))
	mr.FastForward(2 * time.Second)

	_, err = cache.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestPermissionCache(t *testing.T) {
	client, mr := newTestClient(t)
	pc, err := NewPermissionCache(client, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	perms, found, err := pc.Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, perms)

	want := []string{"drivers:read", "drivers:verify", "trips:read"}
	require.NoError(t, pc.Set(ctx, "p1", want))

	perms, found, err = pc.Get(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, perms)

	require.NoError(t, pc.Invalidate(ctx, "p1"))
	_, found, err = pc.Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, found)

	// Entries lapse on their own; role changes become visible within the
	// TTL without push invalidation.
	require.NoError(t, pc.Set(ctx, "p2", want))
	mr.FastForward(2 * time.Minute)
	_, found, err = pc.Get(ctx, "p2")
	require.NoError(t, err)
	assert.False(t, found)
}
