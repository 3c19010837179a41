// Package stats is the read-only aggregation over solve records and lab
// start history. It never mutates state.
package stats

import (
	"sort"
	"time"

	"ctf-range/internal/errs"
	"ctf-range/internal/store"
	"ctf-range/pkg/models"
)

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	Username string `json:"username"`
	Points   int    `json:"points"`
	Solves   int    `json:"solves"`
}

// UserStats is the detailed per-user view.
type UserStats struct {
	Username         string               `json:"username"`
	TotalPoints      int                  `json:"total_points"`
	ChallengesSolved int                  `json:"challenges_solved"`
	LabsStarted      int                  `json:"labs_started"`
	Categories       map[string]int       `json:"categories"`
	RecentSolves     []models.SolveRecord `json:"recent_solves"`
	FirstSeen        *time.Time           `json:"first_seen,omitempty"`
}

// View reads aggregates from the store.
type View struct {
	store *store.Store
}

// NewView builds the read model.
func NewView(st *store.Store) *View {
	return &View{store: st}
}

// Leaderboard ranks users by points descending, ties broken by solve count
// descending, then by earliest first solve.
func (v *View) Leaderboard(limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	var solves []models.SolveRecord
	if err := v.store.DB().Order("solved_at asc").Find(&solves).Error; err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "Could not load the leaderboard.", err)
	}

	type agg struct {
		points     int
		count      int
		firstSolve time.Time
	}
	byOwner := map[string]*agg{}
	for _, s := range solves {
		a, ok := byOwner[s.Owner]
		if !ok {
			a = &agg{firstSolve: s.SolvedAt}
			byOwner[s.Owner] = a
		}
		a.points += s.Points
		a.count++
		if s.SolvedAt.Before(a.firstSolve) {
			a.firstSolve = s.SolvedAt
		}
	}

	owners := make([]string, 0, len(byOwner))
	for owner := range byOwner {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool {
		a, b := byOwner[owners[i]], byOwner[owners[j]]
		if a.points != b.points {
			return a.points > b.points
		}
		if a.count != b.count {
			return a.count > b.count
		}
		return a.firstSolve.Before(b.firstSolve)
	})

	if len(owners) > limit {
		owners = owners[:limit]
	}
	board := make([]LeaderboardEntry, 0, len(owners))
	for i, owner := range owners {
		a := byOwner[owner]
		board = append(board, LeaderboardEntry{
			Rank:     i + 1,
			Username: owner,
			Points:   a.points,
			Solves:   a.count,
		})
	}
	return board, nil
}

// User returns detailed statistics for one user. A user with no history
// gets a zeroed view rather than an error.
func (v *View) User(username string) (*UserStats, error) {
	out := &UserStats{
		Username:   username,
		Categories: map[string]int{},
	}

	var stat models.UserStat
	if err := v.store.DB().Where("owner = ?", username).First(&stat).Error; err == nil {
		out.TotalPoints = stat.TotalPoints
		out.LabsStarted = stat.LabsStarted
		fs := stat.FirstSeen
		out.FirstSeen = &fs
	}

	var solves []models.SolveRecord
	if err := v.store.DB().Where("owner = ?", username).
		Order("solved_at desc").Find(&solves).Error; err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "Could not load your stats.", err)
	}

	out.ChallengesSolved = len(solves)
	for _, s := range solves {
		out.Categories[s.Category] += s.Points
	}
	if len(solves) > 5 {
		solves = solves[:5]
	}
	out.RecentSolves = solves
	return out, nil
}
