package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nkiryanov/shopguard/internal/apperrors"
	"github.com/nkiryanov/shopguard/internal/models"
)

type SignatureRepo struct {
	client goredis.Cmdable
	prefix string
}

func (r *SignatureRepo) key(signature string) string {
	return fmt.Sprintf("%s:sig:%s", r.prefix, signature)
}

func (r *SignatureRepo) InsertUnique(ctx context.Context, sig models.UsedSignature) error {
	ok, err := r.client.SetNX(ctx, r.key(sig.Signature), sig.Endpoint, ttl(sig.CreatedAt, sig.ExpiresAt)).Result()
	switch {
	case err != nil:
		return fmt.Errorf("redis error: %w", err)
	case !ok:
		return fmt.Errorf("repo error: %w", apperrors.ErrSignatureUsed)
	default:
		return nil
	}
}

func (r *SignatureRepo) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}
