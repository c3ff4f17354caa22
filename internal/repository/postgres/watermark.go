package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/shopguard/internal/apperrors"
	"github.com/nkiryanov/shopguard/internal/models"
)

type WatermarkRepo struct {
	DB DBTX
}

// Newer watermark never overwritten by older one
const setWatermark = `-- name: Set watermark
INSERT INTO revocation_watermarks (subject_id, subject_type, reason, revoked_before, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (subject_id, subject_type) DO UPDATE
SET reason = EXCLUDED.reason,
    revoked_before = EXCLUDED.revoked_before,
    expires_at = GREATEST(revocation_watermarks.expires_at, EXCLUDED.expires_at)
WHERE revocation_watermarks.revoked_before < EXCLUDED.revoked_before
`

func (r *WatermarkRepo) Set(ctx context.Context, w models.RevocationWatermark) error {
	_, err := r.DB.Exec(ctx, setWatermark, w.SubjectID, w.SubjectType, w.Reason, w.RevokedBefore, w.ExpiresAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const getWatermark = `-- name: Get watermark
SELECT subject_id, subject_type, reason, revoked_before, expires_at
FROM revocation_watermarks
WHERE subject_id = $1 AND subject_type = $2 AND expires_at > $3
`

func (r *WatermarkRepo) Get(ctx context.Context, subjectID uuid.UUID, subjectType models.SubjectType, now time.Time) (models.RevocationWatermark, error) {
	rows, _ := r.DB.Query(ctx, getWatermark, subjectID, subjectType, now)
	w, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (models.RevocationWatermark, error) {
		var w models.RevocationWatermark
		err := row.Scan(&w.SubjectID, &w.SubjectType, &w.Reason, &w.RevokedBefore, &w.ExpiresAt)
		return w, err
	})

	switch {
	case err == nil:
		return w, nil
	case errors.Is(err, pgx.ErrNoRows):
		return w, fmt.Errorf("repo error: %w", apperrors.ErrWatermarkNotFound)
	default:
		return w, fmt.Errorf("db error: %w", err)
	}
}

const deleteExpiredWatermarks = `-- name: DeleteExpired watermarks
DELETE FROM revocation_watermarks
WHERE expires_at <= $1
`

func (r *WatermarkRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredWatermarks, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}
