package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nkiryanov/shopguard/internal/apperrors"
	"github.com/nkiryanov/shopguard/internal/models"
	"github.com/nkiryanov/shopguard/internal/repository"
)

const DefaultWindow = 2 * time.Minute

// Guard honors every request signature once within the freshness window
type Guard struct {
	repo   repository.SignatureRepo
	window time.Duration
	now    func() time.Time
}

type Option func(*Guard)

func WithWindow(window time.Duration) Option {
	return func(g *Guard) {
		if window > 0 {
			g.window = window
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

func New(repo repository.SignatureRepo, opts ...Option) *Guard {
	g := &Guard{
		repo:   repo,
		window: DefaultWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) Window() time.Duration {
	return g.window
}

// Check signature freshness and record it as used
//
// Returns:
//   - apperrors.ErrSignatureExpired if signedAt is farther than the window from now, in either direction
//   - apperrors.ErrSignatureUsed if the signature was accepted before and its record not expired
//   - apperrors.ErrStorageUnavailable if store failed. Caller has to reject request as well
//
// Freshness is checked here and not left to store expiration, which may lag
func (g *Guard) CheckAndConsume(ctx context.Context, signature string, endpoint string, signedAt time.Time) error {
	now := g.now()

	age := now.Sub(signedAt)
	if age > g.window || age < -g.window {
		return apperrors.ErrSignatureExpired
	}

	// Record lives until signedAt itself goes stale, timestamps ahead of now included
	err := g.repo.InsertUnique(ctx, models.UsedSignature{
		Signature: signature,
		Endpoint:  endpoint,
		CreatedAt: now,
		ExpiresAt: latest(now, signedAt).Add(g.window),
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperrors.ErrSignatureUsed):
		return apperrors.ErrSignatureUsed
	default:
		return fmt.Errorf("%w: %w", apperrors.ErrStorageUnavailable, err)
	}
}

// Delete expired signature records. Nothing to do for stores with native expiration
func (g *Guard) SweepExpired(ctx context.Context) (int64, error) {
	return g.repo.DeleteExpired(ctx, g.now())
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
