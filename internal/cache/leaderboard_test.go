package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr(), "", time.Minute)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	type entry struct {
		Username string `json:"username"`
		Points   int    `json:"points"`
	}

	var out []entry
	assert.False(t, c.GetJSON(ctx, "board", &out), "empty cache misses")

	c.SetJSON(ctx, "board", []entry{{Username: "alice", Points: 150}})
	require.True(t, c.GetJSON(ctx, "board", &out))
	require.Len(t, out, 1)
	assert.Equal(t, "alice", out[0].Username)
}

func TestCacheInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr(), "", time.Minute)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	c.SetJSON(ctx, "board", map[string]int{"alice": 150})
	c.Invalidate(ctx, "board")

	var out map[string]int
	assert.False(t, c.GetJSON(ctx, "board", &out))
}

func TestCacheTTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr(), "", time.Second)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	c.SetJSON(ctx, "board", 42)
	mr.FastForward(2 * time.Second)

	var out int
	assert.False(t, c.GetJSON(ctx, "board", &out))
}

func TestCacheDisabledWithoutAddr(t *testing.T) {
	c := New("", "", time.Minute)
	ctx := context.Background()

	c.SetJSON(ctx, "board", 42)
	var out int
	assert.False(t, c.GetJSON(ctx, "board", &out))
	c.Invalidate(ctx, "board")
	assert.NoError(t, c.Close())
}

func TestCacheDisabledWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	c := New(addr, "", time.Minute)
	var out int
	assert.False(t, c.GetJSON(context.Background(), "board", &out))
}
