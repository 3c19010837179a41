package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctf-range/pkg/models"
)

func TestRateLimitThresholds(t *testing.T) {
	st := newTestStore(t)
	rl := NewRateLimiter(st, 10, 15, 20, 60)

	// Requests 1..10: allowed, silent.
	for i := 1; i <= 10; i++ {
		res, err := rl.Check("alice")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Empty(t, res.Warning, "request %d", i)
	}

	// Requests 11..14: allowed with soft warning.
	for i := 11; i <= 14; i++ {
		res, err := rl.Check("alice")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Contains(t, res.Warning, "slow down", "request %d", i)
	}

	// Requests 15..19: allowed with strong warning.
	for i := 15; i <= 19; i++ {
		res, err := rl.Check("alice")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Contains(t, res.Warning, "blocked", "request %d", i)
	}

	// Request 20: denied with wait time.
	res, err := rl.Check("alice")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 60, res.WaitSeconds)
}

func TestRateLimitDeniedRequestsNotRecorded(t *testing.T) {
	st := newTestStore(t)
	rl := NewRateLimiter(st, 10, 15, 20, 60)

	for i := 0; i < 19; i++ {
		res, err := rl.Check("bob")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	// Denied attempts must not extend the window.
	for i := 0; i < 5; i++ {
		res, err := rl.Check("bob")
		require.NoError(t, err)
		assert.False(t, res.Allowed)
	}

	var count int64
	require.NoError(t, st.DB().Model(&models.RateLimitEvent{}).
		Where("username = ?", "bob").Count(&count).Error)
	assert.Equal(t, int64(19), count)
}

func TestRateLimitWindowSlides(t *testing.T) {
	st := newTestStore(t)
	rl := NewRateLimiter(st, 10, 15, 20, 60)

	// Seed 19 events just outside the trailing window.
	stale := time.Now().UTC().Add(-61 * time.Second)
	for i := 0; i < 19; i++ {
		require.NoError(t, st.DB().Create(&models.RateLimitEvent{
			Username: "carol", At: stale,
		}).Error)
	}

	res, err := rl.Check("carol")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Empty(t, res.Warning)

	// Stale rows were pruned in the same transaction.
	var count int64
	require.NoError(t, st.DB().Model(&models.RateLimitEvent{}).
		Where("username = ?", "carol").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRateLimitIsolatedPerUser(t *testing.T) {
	st := newTestStore(t)
	rl := NewRateLimiter(st, 10, 15, 20, 60)

	for i := 0; i < 19; i++ {
		res, err := rl.Check("dave")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	denied, err := rl.Check("dave")
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	other, err := rl.Check("erin")
	require.NoError(t, err)
	assert.True(t, other.Allowed)
	assert.Empty(t, other.Warning)
}
