package challenge

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"ctf-range/internal/errs"
	"ctf-range/internal/metrics"
	"ctf-range/internal/store"
	"ctf-range/pkg/models"
)

// SolveResult is the outcome of a flag submission.
type SolveResult struct {
	Correct       bool   `json:"correct"`
	PointsAwarded int    `json:"points_awarded,omitempty"`
	TotalPoints   int    `json:"total_points,omitempty"`
	Message       string `json:"message"`
}

// Engine validates flag submissions and awards points exactly once per
// (owner, challenge) pair.
type Engine struct {
	catalog *Catalog
	store   *store.Store
}

// NewEngine builds a scoring engine over the catalog and store.
func NewEngine(catalog *Catalog, st *store.Store) *Engine {
	return &Engine{catalog: catalog, store: st}
}

// Solve checks a submitted flag. The duplicate check, flag comparison, and
// score update run under one lock on the stats record set so a double
// submission can never award twice. Flags compare exactly and
// case-sensitively after stripping outer whitespace only.
func (e *Engine) Solve(owner, challengeID, flag string) (*SolveResult, error) {
	c, ok := e.catalog.Get(challengeID)
	if !ok {
		return nil, errs.Newf(errs.CodeChallengeNotFound, "Challenge not found: %s", challengeID)
	}

	var (
		result  SolveResult
		outcome string
	)
	err := e.store.WithLock(store.RecordStats, func(tx *gorm.DB) error {
		var prior models.SolveRecord
		err := tx.Where("owner = ? AND challenge_id = ?", owner, challengeID).
			First(&prior).Error
		if err == nil {
			outcome = "duplicate"
			result = SolveResult{Correct: false, Message: "You've already solved this challenge."}
			return nil
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}

		if strings.TrimSpace(flag) != c.Flag {
			outcome = "incorrect"
			result = SolveResult{Correct: false, Message: "Incorrect flag. Try again!"}
			return nil
		}
		outcome = "correct"

		now := time.Now().UTC()
		if err := tx.Create(&models.SolveRecord{
			Owner:       owner,
			ChallengeID: challengeID,
			Points:      c.Points,
			Category:    c.Category,
			SolvedAt:    now,
		}).Error; err != nil {
			return err
		}

		var stat models.UserStat
		err = tx.Where("owner = ?", owner).First(&stat).Error
		switch err {
		case gorm.ErrRecordNotFound:
			stat = models.UserStat{Owner: owner, TotalPoints: c.Points, FirstSeen: now}
			if err := tx.Create(&stat).Error; err != nil {
				return err
			}
		case nil:
			stat.TotalPoints += c.Points
			if err := tx.Model(&stat).Update("total_points", stat.TotalPoints).Error; err != nil {
				return err
			}
		default:
			return err
		}

		result = SolveResult{
			Correct:       true,
			PointsAwarded: c.Points,
			TotalPoints:   stat.TotalPoints,
			Message:       fmt.Sprintf("Correct! +%d points", c.Points),
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "Scoring failed. Try again.", err)
	}

	switch outcome {
	case "correct":
		e.store.Audit("FLAG_CORRECT", owner,
			fmt.Sprintf("challenge=%s points=%d", challengeID, result.PointsAwarded))
	case "incorrect":
		e.store.Audit("FLAG_INCORRECT", owner, fmt.Sprintf("challenge=%s", challengeID))
	}
	metrics.Get().FlagSubmissionsTotal.WithLabelValues(outcome).Inc()
	return &result, nil
}

// Catalog exposes the engine's catalog for listing endpoints.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}
