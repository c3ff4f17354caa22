package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/shopguard/internal/apperrors"
	"github.com/nkiryanov/shopguard/internal/models"
)

type SignatureRepo struct {
	DB DBTX
}

// Insert or take over expired record in one statement
// Nothing returned when not expired record exists: the signature is used
const insertSignature = `-- name: InsertUnique signature
INSERT INTO used_signatures (signature, endpoint, created_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (signature) DO UPDATE
SET endpoint = EXCLUDED.endpoint, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
WHERE used_signatures.expires_at <= EXCLUDED.created_at
RETURNING signature
`

func (r *SignatureRepo) InsertUnique(ctx context.Context, sig models.UsedSignature) error {
	rows, _ := r.DB.Query(ctx, insertSignature, sig.Signature, sig.Endpoint, sig.CreatedAt, sig.ExpiresAt)
	_, err := pgx.CollectOneRow(rows, pgx.RowTo[string])

	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("repo error: %w", apperrors.ErrSignatureUsed)
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

const deleteExpiredSignatures = `-- name: DeleteExpired signatures
DELETE FROM used_signatures
WHERE expires_at <= $1
`

func (r *SignatureRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredSignatures, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}
