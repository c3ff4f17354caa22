// In-process storage for development and tests
// Expiry is checked against the time callers pass, data is lost on restart
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/shopguard/internal/models"
	"github.com/nkiryanov/shopguard/internal/repository"
)

type Storage struct {
	mu sync.Mutex

	users      map[uuid.UUID]models.User
	codes      map[string]models.OneTimeCode
	signatures map[string]models.UsedSignature
	revoked    map[string]models.RevocationRecord
	watermarks map[watermarkKey]models.RevocationWatermark
}

type watermarkKey struct {
	id  uuid.UUID
	typ models.SubjectType
}

func NewStorage() *Storage {
	return &Storage{
		users:      make(map[uuid.UUID]models.User),
		codes:      make(map[string]models.OneTimeCode),
		signatures: make(map[string]models.UsedSignature),
		revoked:    make(map[string]models.RevocationRecord),
		watermarks: make(map[watermarkKey]models.RevocationWatermark),
	}
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{s: s}
}

func (s *Storage) OTP() repository.OTPRepo {
	return &OTPRepo{s: s}
}

func (s *Storage) Signature() repository.SignatureRepo {
	return &SignatureRepo{s: s}
}

func (s *Storage) Revocation() repository.RevocationRepo {
	return &RevocationRepo{s: s}
}

func (s *Storage) Watermark() repository.WatermarkRepo {
	return &WatermarkRepo{s: s}
}

// No transactions: every single repo call is atomic, fn runs as is
func (s *Storage) InTx(_ context.Context, fn func(repository.Storage) error) error {
	return fn(s)
}

func deleteExpired[K comparable, V any](m map[K]V, now time.Time, expiresAt func(V) time.Time) int64 {
	var n int64
	for k, v := range m {
		if !expiresAt(v).After(now) {
			delete(m, k)
			n++
		}
	}
	return n
}
