package stats

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctf-range/internal/store"
	"ctf-range/pkg/models"
)

func newTestView(t *testing.T) (*View, *store.Store) {
	t.Helper()
	st, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewView(st), st
}

func seedSolve(t *testing.T, st *store.Store, owner, challengeID, category string, points int, at time.Time) {
	t.Helper()
	require.NoError(t, st.DB().Create(&models.SolveRecord{
		Owner:       owner,
		ChallengeID: challengeID,
		Points:      points,
		Category:    category,
		SolvedAt:    at,
	}).Error)
}

func TestLeaderboardRanking(t *testing.T) {
	v, st := newTestView(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	seedSolve(t, st, "alice", "c1", "web", 100, base)
	seedSolve(t, st, "alice", "c2", "crypto", 50, base.Add(time.Hour))
	seedSolve(t, st, "bob", "c1", "web", 100, base.Add(2*time.Hour))
	seedSolve(t, st, "carol", "c3", "forensics", 200, base.Add(3*time.Hour))

	board, err := v.Leaderboard(10)
	require.NoError(t, err)
	require.Len(t, board, 3)

	assert.Equal(t, "carol", board[0].Username)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, "alice", board[1].Username)
	assert.Equal(t, 150, board[1].Points)
	assert.Equal(t, 2, board[1].Solves)
	assert.Equal(t, "bob", board[2].Username)
}

func TestLeaderboardTieBreaks(t *testing.T) {
	v, st := newTestView(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Same points: more solves wins.
	seedSolve(t, st, "alice", "c1", "web", 50, base.Add(time.Hour))
	seedSolve(t, st, "alice", "c2", "web", 50, base.Add(2*time.Hour))
	seedSolve(t, st, "bob", "c3", "web", 100, base.Add(time.Hour))

	// Same points and solves: earlier first solve wins.
	seedSolve(t, st, "carol", "c4", "crypto", 30, base)
	seedSolve(t, st, "dave", "c4", "crypto", 30, base.Add(time.Minute))

	board, err := v.Leaderboard(10)
	require.NoError(t, err)
	require.Len(t, board, 4)

	assert.Equal(t, "alice", board[0].Username)
	assert.Equal(t, "bob", board[1].Username)
	assert.Equal(t, "carol", board[2].Username)
	assert.Equal(t, "dave", board[3].Username)
}

func TestLeaderboardLimit(t *testing.T) {
	v, st := newTestView(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 15; i++ {
		seedSolve(t, st, fmt.Sprintf("user-%02d", i), "c1", "web", 10*(i+1), base)
	}

	board, err := v.Leaderboard(10)
	require.NoError(t, err)
	assert.Len(t, board, 10)
	assert.Equal(t, "user-14", board[0].Username)
}

func TestUserStats(t *testing.T) {
	v, st := newTestView(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.DB().Create(&models.UserStat{
		Owner:       "alice",
		TotalPoints: 180,
		LabsStarted: 4,
		FirstSeen:   base,
	}).Error)
	seedSolve(t, st, "alice", "c1", "web", 100, base)
	seedSolve(t, st, "alice", "c2", "web", 30, base.Add(time.Hour))
	seedSolve(t, st, "alice", "c3", "crypto", 50, base.Add(2*time.Hour))

	out, err := v.User("alice")
	require.NoError(t, err)
	assert.Equal(t, 180, out.TotalPoints)
	assert.Equal(t, 4, out.LabsStarted)
	assert.Equal(t, 3, out.ChallengesSolved)
	assert.Equal(t, map[string]int{"web": 130, "crypto": 50}, out.Categories)
	require.NotNil(t, out.FirstSeen)
	assert.True(t, out.FirstSeen.Equal(base))
	// Most recent first.
	assert.Equal(t, "c3", out.RecentSolves[0].ChallengeID)
}

func TestUserStatsRecentSolvesCapped(t *testing.T) {
	v, st := newTestView(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 8; i++ {
		seedSolve(t, st, "alice", fmt.Sprintf("c%d", i), "web", 10, base.Add(time.Duration(i)*time.Hour))
	}

	out, err := v.User("alice")
	require.NoError(t, err)
	assert.Equal(t, 8, out.ChallengesSolved)
	assert.Len(t, out.RecentSolves, 5)
	assert.Equal(t, "c7", out.RecentSolves[0].ChallengeID)
}

func TestUserStatsUnknownUser(t *testing.T) {
	v, _ := newTestView(t)

	out, err := v.User("ghost")
	require.NoError(t, err)
	assert.Zero(t, out.TotalPoints)
	assert.Zero(t, out.ChallengesSolved)
	assert.Nil(t, out.FirstSeen)
	assert.Empty(t, out.RecentSolves)
}
