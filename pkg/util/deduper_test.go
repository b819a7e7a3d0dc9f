package util

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestDeduperAcquireOnce(t *testing.T) {
	mr, rdb := newRedis(t)
	d := NewDeduper(rdb, time.Minute)
	ctx := context.Background()

	assert.True(t, d.AcquireOnce(ctx, "release", "key-1"))
	assert.False(t, d.AcquireOnce(ctx, "release", "key-1"))
	assert.True(t, d.AcquireOnce(ctx, "accept", "key-1"), "scopes are independent")

	mr.FastForward(2 * time.Minute)
	assert.True(t, d.AcquireOnce(ctx, "release", "key-1"), "claims expire with the ttl")
}

func TestDeduperRelease(t *testing.T) {
	_, rdb := newRedis(t)
	d := NewDeduper(rdb, time.Minute)
	ctx := context.Background()

	require.True(t, d.AcquireOnce(ctx, "release", "key-2"))
	d.Release(ctx, "release", "key-2")
	assert.True(t, d.AcquireOnce(ctx, "release", "key-2"))
}

func TestDeduperFailsOpen(t *testing.T) {
	mr, rdb := newRedis(t)
	d := NewDeduper(rdb, time.Minute)
	mr.Close()

	assert.True(t, d.AcquireOnce(context.Background(), "release", "key-3"))
}
