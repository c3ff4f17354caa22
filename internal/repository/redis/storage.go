// Security repositories on Redis
// Records expire natively, so DeleteExpired of every repo has nothing to do
package redis

import (
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nkiryanov/shopguard/internal/repository"
)

const defaultPrefix = "shopguard"

type Storage struct {
	client goredis.Cmdable
	prefix string
}

func NewStorage(client goredis.Cmdable, prefix string) *Storage {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Storage{client: client, prefix: prefix}
}

func (s *Storage) Signature() repository.SignatureRepo {
	return &SignatureRepo{client: s.client, prefix: s.prefix}
}

func (s *Storage) Revocation() repository.RevocationRepo {
	return &RevocationRepo{client: s.client, prefix: s.prefix}
}

func (s *Storage) Watermark() repository.WatermarkRepo {
	return &WatermarkRepo{client: s.client, prefix: s.prefix}
}

// Redis rejects zero or negative expiration for SET
func ttl(from, to time.Time) time.Duration {
	d := to.Sub(from)
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}
