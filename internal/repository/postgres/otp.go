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

type OTPRepo struct {
	DB DBTX
}

const saveCode = `-- name: Save one-time code, replace previous one
INSERT INTO one_time_codes (mobile, code_hash, created_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (mobile) DO UPDATE
SET code_hash = EXCLUDED.code_hash, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
`

func (r *OTPRepo) Save(ctx context.Context, code models.OneTimeCode) error {
	_, err := r.DB.Exec(ctx, saveCode, code.Mobile, code.CodeHash, code.CreatedAt, code.ExpiresAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const consumeCode = `-- name: Delete code and return it
DELETE FROM one_time_codes
WHERE mobile = $1
RETURNING mobile, code_hash, created_at, expires_at
`

// Consume code: delete and return it
// Expired code deleted too but reported as not found
func (r *OTPRepo) Consume(ctx context.Context, mobile string, now time.Time) (models.OneTimeCode, error) {
	rows, _ := r.DB.Query(ctx, consumeCode, mobile)
	code, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (models.OneTimeCode, error) {
		var c models.OneTimeCode
		err := row.Scan(&c.Mobile, &c.CodeHash, &c.CreatedAt, &c.ExpiresAt)
		return c, err
	})

	switch {
	case err == nil && code.ExpiresAt.After(now):
		return code, nil
	case err == nil:
		return models.OneTimeCode{}, fmt.Errorf("repo error: %w", apperrors.ErrCodeNotFound)
	case errors.Is(err, pgx.ErrNoRows):
		return code, fmt.Errorf("repo error: %w", apperrors.ErrCodeNotFound)
	default:
		return code, fmt.Errorf("db error: %w", err)
	}
}
