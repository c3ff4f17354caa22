package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/shopguard/internal/apperrors"
	"github.com/nkiryanov/shopguard/internal/models"
)

type SignatureRepo struct {
	s *Storage
}

func (r *SignatureRepo) InsertUnique(_ context.Context, sig models.UsedSignature) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if existing, ok := r.s.signatures[sig.Signature]; ok && existing.ExpiresAt.After(sig.CreatedAt) {
		return apperrors.ErrSignatureUsed
	}
	r.s.signatures[sig.Signature] = sig
	return nil
}

func (r *SignatureRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return deleteExpired(r.s.signatures, now, func(s models.UsedSignature) time.Time { return s.ExpiresAt }), nil
}

type RevocationRepo struct {
	s *Storage
}

func (r *RevocationRepo) Insert(_ context.Context, rec models.RevocationRecord) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if existing, ok := r.s.revoked[rec.TokenID]; ok && existing.ExpiresAt.After(rec.RevokedAt) {
		return false, nil
	}
	r.s.revoked[rec.TokenID] = rec
	return true, nil
}

func (r *RevocationRepo) Exists(_ context.Context, tokenID string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.s.revoked[tokenID]
	return ok && rec.ExpiresAt.After(now), nil
}

func (r *RevocationRepo) ListActive(_ context.Context, subjectID uuid.UUID, subjectType models.SubjectType, now time.Time) ([]models.RevocationRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var records []models.RevocationRecord
	for _, rec := range r.s.revoked {
		if rec.SubjectID == subjectID && rec.SubjectType == subjectType && rec.ExpiresAt.After(now) {
			records = append(records, rec)
		}
	}

	slices.SortFunc(records, func(a, b models.RevocationRecord) int {
		if c := a.RevokedAt.Compare(b.RevokedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.TokenID, b.TokenID)
	})
	return records, nil
}

func (r *RevocationRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return deleteExpired(r.s.revoked, now, func(rec models.RevocationRecord) time.Time { return rec.ExpiresAt }), nil
}

type WatermarkRepo struct {
	s *Storage
}

func (r *WatermarkRepo) Set(_ context.Context, w models.RevocationWatermark) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := watermarkKey{id: w.SubjectID, typ: w.SubjectType}
	if existing, ok := r.s.watermarks[key]; ok && !existing.RevokedBefore.Before(w.RevokedBefore) {
		return nil
	}
	r.s.watermarks[key] = w
	return nil
}

func (r *WatermarkRepo) Get(_ context.Context, subjectID uuid.UUID, subjectType models.SubjectType, now time.Time) (models.RevocationWatermark, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.watermarks[watermarkKey{id: subjectID, typ: subjectType}]
	if !ok || !w.ExpiresAt.After(now) {
		return models.RevocationWatermark{}, apperrors.ErrWatermarkNotFound
	}
	return w, nil
}

func (r *WatermarkRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return deleteExpired(r.s.watermarks, now, func(w models.RevocationWatermark) time.Time { return w.ExpiresAt }), nil
}
