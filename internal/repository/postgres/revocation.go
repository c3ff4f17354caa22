package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/shopguard/internal/models"
)

type RevocationRepo struct {
	DB DBTX
}

const insertRevocation = `-- name: Insert revocation record if token not revoked yet
INSERT INTO revoked_tokens (token_id, token_class, subject_id, subject_type, reason, revoked_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (token_id) DO UPDATE
SET token_class = EXCLUDED.token_class,
    subject_id = EXCLUDED.subject_id,
    subject_type = EXCLUDED.subject_type,
    reason = EXCLUDED.reason,
    revoked_at = EXCLUDED.revoked_at,
    expires_at = EXCLUDED.expires_at
WHERE revoked_tokens.expires_at <= EXCLUDED.revoked_at
RETURNING token_id
`

func (r *RevocationRepo) Insert(ctx context.Context, rec models.RevocationRecord) (bool, error) {
	rows, _ := r.DB.Query(ctx, insertRevocation,
		rec.TokenID, rec.Class, rec.SubjectID, rec.SubjectType, rec.Reason, rec.RevokedAt, rec.ExpiresAt,
	)
	_, err := pgx.CollectOneRow(rows, pgx.RowTo[string])

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows): // already revoked
		return false, nil
	default:
		return false, fmt.Errorf("db error: %w", err)
	}
}

const revocationExists = `-- name: Revocation exists
SELECT EXISTS (
	SELECT 1 FROM revoked_tokens
	WHERE token_id = $1 AND expires_at > $2
)
`

func (r *RevocationRepo) Exists(ctx context.Context, tokenID string, now time.Time) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx, revocationExists, tokenID, now).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

const listActiveRevocations = `-- name: ListActive revocations of subject
SELECT token_id, token_class, subject_id, subject_type, reason, revoked_at, expires_at
FROM revoked_tokens
WHERE subject_id = $1 AND subject_type = $2 AND expires_at > $3
ORDER BY revoked_at, token_id
`

func (r *RevocationRepo) ListActive(ctx context.Context, subjectID uuid.UUID, subjectType models.SubjectType, now time.Time) ([]models.RevocationRecord, error) {
	rows, _ := r.DB.Query(ctx, listActiveRevocations, subjectID, subjectType, now)
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.RevocationRecord, error) {
		var rec models.RevocationRecord
		err := row.Scan(&rec.TokenID, &rec.Class, &rec.SubjectID, &rec.SubjectType, &rec.Reason, &rec.RevokedAt, &rec.ExpiresAt)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return records, nil
}

const deleteExpiredRevocations = `-- name: DeleteExpired revocations
DELETE FROM revoked_tokens
WHERE expires_at <= $1
`

func (r *RevocationRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredRevocations, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}
