package security

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"ctf-range/internal/store"
	"ctf-range/pkg/models"
)

// RateResult is the outcome of a sliding-window rate check.
type RateResult struct {
	Allowed     bool   `json:"allowed"`
	Warning     string `json:"warning,omitempty"`
	WaitSeconds int    `json:"wait_seconds,omitempty"`
}

// RateLimiter enforces per-user request limits over a trailing 60-second
// window. The window lives in the store, so limits survive restarts and
// hold across independent invocations.
type RateLimiter struct {
	store        *store.Store
	softLimit    int
	warnLimit    int
	hardLimit    int
	blockSeconds int
}

// NewRateLimiter builds a limiter with the configured thresholds.
func NewRateLimiter(st *store.Store, soft, warn, hard, blockSeconds int) *RateLimiter {
	return &RateLimiter{
		store:        st,
		softLimit:    soft,
		warnLimit:    warn,
		hardLimit:    hard,
		blockSeconds: blockSeconds,
	}
}

const window = 60 * time.Second

// Check counts the caller's requests in the trailing window, including this
// one, and records it unless the hard limit is hit. Prune, count, and append
// run under one lock so concurrent checks serialize.
func (rl *RateLimiter) Check(username string) (RateResult, error) {
	var result RateResult

	err := rl.store.WithLock(store.RecordRateLimits, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		cutoff := now.Add(-window)

		if err := tx.Where("username = ? AND at < ?", username, cutoff).
			Delete(&models.RateLimitEvent{}).Error; err != nil {
			return err
		}

		var prior int64
		if err := tx.Model(&models.RateLimitEvent{}).
			Where("username = ?", username).
			Count(&prior).Error; err != nil {
			return err
		}

		n := int(prior) + 1
		if n >= rl.hardLimit {
			result = RateResult{Allowed: false, WaitSeconds: rl.blockSeconds}
			return nil
		}

		if err := tx.Create(&models.RateLimitEvent{Username: username, At: now}).Error; err != nil {
			return err
		}

		result = RateResult{Allowed: true}
		switch {
		case n >= rl.warnLimit:
			result.Warning = "Slow down. A few more requests and you will be blocked."
		case n > rl.softLimit:
			result.Warning = "You're sending commands quickly. Please slow down."
		}
		return nil
	})
	if err != nil {
		return RateResult{}, err
	}

	if !result.Allowed {
		rl.store.Audit("RATE_LIMIT_EXCEEDED", username,
			fmt.Sprintf("blocked for %ds", result.WaitSeconds))
	}
	return result, nil
}
