package models

import (
	"time"

	"github.com/google/uuid"
)

type RevocationReason string

const (
	ReasonLogout         RevocationReason = "logout"
	ReasonPasswordChange RevocationReason = "password_change"
	ReasonSecurityRevoke RevocationReason = "security_revoke"
	ReasonAdminRevoke    RevocationReason = "admin_revoke"

	// Refresh token exchanged for a new pair
	ReasonRotated RevocationReason = "rotated"
)

func (r RevocationReason) Valid() bool {
	switch r {
	case ReasonLogout, ReasonPasswordChange, ReasonSecurityRevoke, ReasonAdminRevoke, ReasonRotated:
		return true
	default:
		return false
	}
}

// Revoked token. Useless once ExpiresAt passed: the token is rejected as expired anyway
type RevocationRecord struct {
	TokenID     string
	Class       TokenClass
	SubjectID   uuid.UUID
	SubjectType SubjectType
	Reason      RevocationReason
	RevokedAt   time.Time
	ExpiresAt   time.Time
}

// Every subject token issued before RevokedBefore is revoked
// Kept until the longest lived token issued before it would expire
type RevocationWatermark struct {
	SubjectID     uuid.UUID
	SubjectType   SubjectType
	Reason        RevocationReason
	RevokedBefore time.Time
	ExpiresAt     time.Time
}

// Signature of an accepted signed request
type UsedSignature struct {
	Signature string
	Endpoint  string
	CreatedAt time.Time
	ExpiresAt time.Time
}
