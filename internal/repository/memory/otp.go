package memory

import (
	"context"
	"time"

	"github.com/nkiryanov/shopguard/internal/apperrors"
	"github.com/nkiryanov/shopguard/internal/models"
)

type OTPRepo struct {
	s *Storage
}

func (r *OTPRepo) Save(_ context.Context, code models.OneTimeCode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.codes[code.Mobile] = code
	return nil
}

func (r *OTPRepo) Consume(_ context.Context, mobile string, now time.Time) (models.OneTimeCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	code, ok := r.s.codes[mobile]
	delete(r.s.codes, mobile)

	if !ok || !code.ExpiresAt.After(now) {
		return models.OneTimeCode{}, apperrors.ErrCodeNotFound
	}
	return code, nil
}
