package models

import (
	"time"

	"github.com/google/uuid"
)

type TokenClass string

const (
	TokenAccess  TokenClass = "access"
	TokenRefresh TokenClass = "refresh"
)

// Claims reconstructed from a verified token
// Token itself is never persisted
type Claims struct {
	TokenID     string
	Class       TokenClass
	SubjectID   uuid.UUID
	SubjectType SubjectType
	IssuedAt    time.Time // millisecond precision
	ExpiresAt   time.Time

	// Display claims, access tokens only
	Email    string
	Username string
}

// Optional display claims put into access token
type DisplayClaims struct {
	Email    string
	Username string
}

type IssuedToken struct {
	ID        string
	Value     string
	ExpiresAt time.Time
}

// Token pair issues by TokenManager, AuthService
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}
