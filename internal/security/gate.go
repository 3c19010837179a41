// Package security implements the access gate, input sanitizer, and
// per-user sliding-window rate limiter that front every mutating action.
package security

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"ctf-range/internal/store"
	"ctf-range/pkg/models"
)

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Admin   bool   `json:"admin,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Gate resolves a caller's effective role into an allow/deny decision.
// Admin identities come from configuration, never from literals in here.
type Gate struct {
	store        *store.Store
	adminIDs     map[string]bool
	operatorRole string
	officerRole  string
}

// NewGate builds a gate from the configured allowlist and role names.
func NewGate(st *store.Store, adminIDs []string, operatorRole, officerRole string) *Gate {
	ids := make(map[string]bool, len(adminIDs))
	for _, id := range adminIDs {
		ids[id] = true
	}
	return &Gate{
		store:        st,
		adminIDs:     ids,
		operatorRole: operatorRole,
		officerRole:  officerRole,
	}
}

const deniedMessage = "You need to be verified to use the labs.\n\n" +
	"To get access:\n" +
	"1. Ask an officer in the community server\n" +
	"2. They'll grant you the Operator role\n" +
	"3. Then you can start labs!\n\n" +
	"This helps us keep the labs secure."

// CheckAccess validates whether the caller may use operator-tier actions.
func (g *Gate) CheckAccess(username, externalID string, roles []string) Decision {
	if g.adminIDs[externalID] {
		g.store.Audit("ACCESS_GRANTED", username, "admin override")
		return Decision{Allowed: true, Admin: true}
	}

	for _, role := range roles {
		if role == g.operatorRole || role == g.officerRole {
			g.store.Audit("ACCESS_GRANTED", username, fmt.Sprintf("role %s", role))
			return Decision{Allowed: true}
		}
	}

	var verified models.VerifiedUser
	err := g.store.DB().
		Where("username = ? OR external_id = ?", username, externalID).
		First(&verified).Error
	if err == nil {
		g.store.Audit("ACCESS_GRANTED", username, "verified member")
		return Decision{Allowed: true}
	}

	g.store.Audit("UNVERIFIED_ACCESS", username, fmt.Sprintf("external_id=%s roles=%v", externalID, roles))
	return Decision{
		Allowed: false,
		Reason:  "no_role",
		Message: deniedMessage,
	}
}

// CheckOfficer validates officer-tier actions (verify_member, force_cleanup,
// server_stats). Verified membership alone is not enough.
func (g *Gate) CheckOfficer(username, externalID string, roles []string) Decision {
	if g.adminIDs[externalID] {
		g.store.Audit("OFFICER_ACCESS_GRANTED", username, "admin override")
		return Decision{Allowed: true, Admin: true}
	}

	for _, role := range roles {
		if role == g.officerRole {
			g.store.Audit("OFFICER_ACCESS_GRANTED", username, "officer role")
			return Decision{Allowed: true}
		}
	}

	g.store.Audit("OFFICER_ACCESS_DENIED", username, fmt.Sprintf("external_id=%s", externalID))
	return Decision{
		Allowed: false,
		Reason:  "officer_required",
		Message: "This action requires the Officer role.",
	}
}

// VerifyMember grants a user persistent operator-equivalent access. Callers
// must have passed CheckOfficer first; users can never self-escalate.
func (g *Gate) VerifyMember(target, targetExternalID, by string) error {
	err := g.store.WithLock(store.RecordVerified, func(tx *gorm.DB) error {
		var existing models.VerifiedUser
		err := tx.Where("username = ?", target).First(&existing).Error
		if err == nil {
			return nil // already verified, idempotent
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}
		return tx.Create(&models.VerifiedUser{
			Username:   target,
			ExternalID: targetExternalID,
			VerifiedBy: by,
			VerifiedAt: time.Now().UTC(),
		}).Error
	})
	if err != nil {
		return err
	}
	g.store.Audit("MEMBER_VERIFIED", by, fmt.Sprintf("target=%s", target))
	return nil
}
