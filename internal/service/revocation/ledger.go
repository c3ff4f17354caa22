package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/shopguard/internal/apperrors"
	"github.com/nkiryanov/shopguard/internal/models"
	"github.com/nkiryanov/shopguard/internal/repository"
)

// Ledger of tokens that must not be honored anymore
//
// Single tokens are recorded by id until they would expire anyway
// Everything issued to a subject is revoked at once by watermark: tokens issued before it are revoked
type Ledger struct {
	records    repository.RevocationRepo
	watermarks repository.WatermarkRepo

	// Longest token lifetime, so watermark outlives every token it covers
	watermarkTTL time.Duration

	now func() time.Time
}

type Config struct {
	WatermarkTTL time.Duration

	// Clock, time.Now if not set
	Now func() time.Time
}

func New(storage repository.SecurityStorage, cfg Config) (*Ledger, error) {
	if cfg.WatermarkTTL <= 0 {
		return nil, errors.New("watermark ttl must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Ledger{
		records:      storage.Revocation(),
		watermarks:   storage.Watermark(),
		watermarkTTL: cfg.WatermarkTTL,
		now:          cfg.Now,
	}, nil
}

// Revoke single token. Idempotent: created is false if the token is revoked already
// Token that expired already is not recorded
func (l *Ledger) RevokeToken(ctx context.Context, rec models.RevocationRecord) (created bool, err error) {
	now := l.now()
	if !rec.ExpiresAt.After(now) {
		return false, nil
	}
	if rec.RevokedAt.IsZero() {
		rec.RevokedAt = now
	}

	created, err = l.records.Insert(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	return created, nil
}

// Revoke token described by verified claims
func (l *Ledger) RevokeClaims(ctx context.Context, claims models.Claims, reason models.RevocationReason) (bool, error) {
	return l.RevokeToken(ctx, models.RevocationRecord{
		TokenID:     claims.TokenID,
		Class:       claims.Class,
		SubjectID:   claims.SubjectID,
		SubjectType: claims.SubjectType,
		Reason:      reason,
		ExpiresAt:   claims.ExpiresAt,
	})
}

// Revoke every token issued to subject up to now, including the current millisecond
// Returns the watermark: tokens issued at or after it stay valid
func (l *Ledger) RevokeAllForSubject(ctx context.Context, subjectID uuid.UUID, subjectType models.SubjectType, reason models.RevocationReason) (time.Time, error) {
	now := l.now()
	revokedBefore := now.Truncate(time.Millisecond).Add(time.Millisecond)

	err := l.watermarks.Set(ctx, models.RevocationWatermark{
		SubjectID:     subjectID,
		SubjectType:   subjectType,
		Reason:        reason,
		RevokedBefore: revokedBefore,
		ExpiresAt:     revokedBefore.Add(l.watermarkTTL),
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("revoke subject: %w", err)
	}
	return revokedBefore, nil
}

// Whether token with the id is revoked individually
// Store error is returned wrapped with apperrors.ErrStorageUnavailable
func (l *Ledger) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	revoked, err := l.records.Exists(ctx, tokenID, l.now())
	if err != nil {
		return true, fmt.Errorf("%w: %w", apperrors.ErrStorageUnavailable, err)
	}
	return revoked, nil
}

// Whether token is revoked individually or by subject watermark
// On store error token reported as revoked
func (l *Ledger) IsTokenRevoked(ctx context.Context, claims models.Claims) (bool, error) {
	revoked, err := l.IsRevoked(ctx, claims.TokenID)
	if err != nil || revoked {
		return true, err
	}

	w, err := l.watermarks.Get(ctx, claims.SubjectID, claims.SubjectType, l.now())
	switch {
	case errors.Is(err, apperrors.ErrWatermarkNotFound):
		return false, nil
	case err != nil:
		return true, fmt.Errorf("%w: %w", apperrors.ErrStorageUnavailable, err)
	default:
		return claims.IssuedAt.Before(w.RevokedBefore), nil
	}
}

// Active revocations of the subject
type Active struct {
	Records   []models.RevocationRecord
	Watermark *models.RevocationWatermark
}

func (l *Ledger) ListActive(ctx context.Context, subjectID uuid.UUID, subjectType models.SubjectType) (Active, error) {
	now := l.now()

	records, err := l.records.ListActive(ctx, subjectID, subjectType, now)
	if err != nil {
		return Active{}, fmt.Errorf("list revocations: %w", err)
	}

	active := Active{Records: records}

	w, err := l.watermarks.Get(ctx, subjectID, subjectType, now)
	switch {
	case err == nil:
		active.Watermark = &w
	case !errors.Is(err, apperrors.ErrWatermarkNotFound):
		return Active{}, fmt.Errorf("get watermark: %w", err)
	}

	return active, nil
}

// Delete expired records and watermarks. Noop for stores with native expiration
func (l *Ledger) SweepExpired(ctx context.Context) (int64, error) {
	now := l.now()

	records, err := l.records.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("sweep revocations: %w", err)
	}
	watermarks, err := l.watermarks.DeleteExpired(ctx, now)
	if err != nil {
		return records, fmt.Errorf("sweep watermarks: %w", err)
	}

	return records + watermarks, nil
}
