package models

import (
	"time"
)

// LabStatus is the lifecycle state of a lab instance.
type LabStatus string

const (
	LabStarting LabStatus = "starting"
	LabRunning  LabStatus = "running"
	LabStopping LabStatus = "stopping"
	LabStopped  LabStatus = "stopped"
	LabFailed   LabStatus = "failed"
)

// Active reports whether the instance counts against quotas.
func (s LabStatus) Active() bool {
	return s == LabStarting || s == LabRunning
}

// LabInstance is one running containerized practice environment owned by a
// single user. The record exists only while the container is supposed to
// exist; teardown deletes it rather than archiving it.
type LabInstance struct {
	ID            string    `json:"id" gorm:"primarykey"`
	Owner         string    `json:"owner" gorm:"index;not null"`
	LabType       string    `json:"lab_type" gorm:"index;not null"`
	ContainerID   string    `json:"container_id"`
	ContainerName string    `json:"container_name" gorm:"uniqueIndex"`
	Address       string    `json:"address"`
	Port          int       `json:"port"`
	Status        LabStatus `json:"status" gorm:"index;not null"`
	StartedAt     time.Time `json:"started_at"`
	ExpiresAt     time.Time `json:"expires_at" gorm:"index"`
}

// Uptime returns how long the instance has been up at the given instant.
func (l *LabInstance) Uptime(now time.Time) time.Duration {
	return now.Sub(l.StartedAt)
}

// Remaining returns the time left before expiry, floored at zero.
func (l *LabInstance) Remaining(now time.Time) time.Duration {
	if r := l.ExpiresAt.Sub(now); r > 0 {
		return r
	}
	return 0
}

// Expired reports whether the instance is past its TTL.
func (l *LabInstance) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// RateLimitEvent is a single gated request by a user. The trailing 60-second
// set of these rows is the user's sliding window; stale rows are pruned
// lazily inside the same transaction that reads them.
type RateLimitEvent struct {
	ID       uint      `json:"id" gorm:"primarykey"`
	Username string    `json:"username" gorm:"index;not null"`
	At       time.Time `json:"at" gorm:"index;not null"`
}

// VerifiedUser is an officer-granted access record. Only the verify_member
// action writes these; users can never insert themselves.
type VerifiedUser struct {
	ID         uint      `json:"id" gorm:"primarykey"`
	Username   string    `json:"username" gorm:"uniqueIndex;not null"`
	ExternalID string    `json:"external_id" gorm:"index"`
	VerifiedBy string    `json:"verified_by"`
	VerifiedAt time.Time `json:"verified_at"`
}

// SolveRecord marks a challenge as solved by a user. At most one row exists
// per (owner, challenge) pair; a second correct submission never re-awards.
type SolveRecord struct {
	ID          uint      `json:"id" gorm:"primarykey"`
	Owner       string    `json:"owner" gorm:"uniqueIndex:idx_owner_challenge;not null"`
	ChallengeID string    `json:"challenge_id" gorm:"uniqueIndex:idx_owner_challenge;not null"`
	Points      int       `json:"points"`
	Category    string    `json:"category"`
	SolvedAt    time.Time `json:"solved_at" gorm:"index"`
}

// UserStat is the per-user running aggregate kept alongside the solve
// history. Category breakdowns are derived from SolveRecords on read.
type UserStat struct {
	ID          uint      `json:"id" gorm:"primarykey"`
	Owner       string    `json:"owner" gorm:"uniqueIndex;not null"`
	TotalPoints int       `json:"total_points"`
	LabsStarted int       `json:"labs_started"`
	FirstSeen   time.Time `json:"first_seen"`
}

// AuditEvent is an append-only log entry for security- and lifecycle-relevant
// actions. Rows are never updated or deleted.
type AuditEvent struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	At        time.Time `json:"at" gorm:"index;not null"`
	EventType string    `json:"event_type" gorm:"index;not null"`
	Actor     string    `json:"actor" gorm:"index"`
	Detail    string    `json:"detail"`
}

// LabTypeDef is one entry of the static lab catalog. Loaded once at startup
// and immutable afterwards.
type LabTypeDef struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name"`
	Image       string            `json:"image"`
	Port        int               `json:"port"`
	Category    string            `json:"category"`
	Difficulty  string            `json:"difficulty"`
	Description string            `json:"description"`
	Tmpfs       map[string]string `json:"tmpfs,omitempty"`
}

// Challenge is one entry of the static challenge catalog. The flag never
// leaves the challenge engine.
type Challenge struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Category    string   `json:"category"`
	Difficulty  string   `json:"difficulty"`
	Points      int      `json:"points"`
	Description string   `json:"description"`
	Flag        string   `json:"flag"`
	Hints       []string `json:"hints,omitempty"`
	Resources   []string `json:"resources,omitempty"`
}

// Redacted returns a copy safe to hand to callers.
func (c Challenge) Redacted() Challenge {
	c.Flag = ""
	return c
}
