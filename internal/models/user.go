package models

import (
	"time"

	"github.com/google/uuid"
)

// Kind of authenticated subject. Stored as is in tokens and storage
type SubjectType string

const (
	SubjectAdmin    SubjectType = "admin"
	SubjectCustomer SubjectType = "customer"
)

func (t SubjectType) Valid() bool {
	return t == SubjectAdmin || t == SubjectCustomer
}

type User struct {
	ID             uuid.UUID
	Type           SubjectType
	CreatedAt      time.Time
	Username       string
	Email          string
	Mobile         string
	HashedPassword string // empty for customers who use one-time codes only
}

// One-time code issued to a mobile number
// Code itself never stored, only its hash
type OneTimeCode struct {
	Mobile    string
	CodeHash  string
	CreatedAt time.Time
	ExpiresAt time.Time
}
