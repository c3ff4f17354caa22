package revocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/shopguard/internal/apperrors"
	"github.com/nkiryanov/shopguard/internal/models"
	"github.com/nkiryanov/shopguard/internal/repository"
	"github.com/nkiryanov/shopguard/internal/repository/memory"
	"github.com/nkiryanov/shopguard/internal/testutil"
)

// Security storage with revocation lookups failing
type brokenStorage struct {
	repository.SecurityStorage
}

type brokenRevocations struct {
	repository.RevocationRepo
}

func (s brokenStorage) Revocation() repository.RevocationRepo {
	return brokenRevocations{s.SecurityStorage.Revocation()}
}

func (brokenRevocations) Exists(context.Context, string, time.Time) (bool, error) {
	return false, errors.New("connection reset")
}

func TestLedger(t *testing.T) {
	start := time.Date(2024, 1, 1, 19, 0, 0, 0, time.UTC)
	refreshTTL := 7 * 24 * time.Hour

	newLedger := func(t *testing.T) (*Ledger, *testutil.Clock) {
		clock := testutil.NewClock(start)
		l, err := New(memory.NewStorage(), Config{WatermarkTTL: refreshTTL, Now: clock.Now})
		require.NoError(t, err)
		return l, clock
	}

	claims := func(issuedAt time.Time) models.Claims {
		return models.Claims{
			TokenID:     uuid.NewString(),
			Class:       models.TokenAccess,
			SubjectID:   uuid.MustParse("0c5b2444-70a2-4c7f-9dd7-8b7a2c5d1f00"),
			SubjectType: models.SubjectCustomer,
			IssuedAt:    issuedAt,
			ExpiresAt:   issuedAt.Add(15 * time.Minute),
		}
	}

	t.Run("watermark ttl required", func(t *testing.T) {
		_, err := New(memory.NewStorage(), Config{})

		require.Error(t, err)
	})

	t.Run("revoke token", func(t *testing.T) {
		l, _ := newLedger(t)
		c := claims(start)

		revoked, err := l.IsTokenRevoked(t.Context(), c)
		require.NoError(t, err)
		require.False(t, revoked)

		created, err := l.RevokeClaims(t.Context(), c, models.ReasonLogout)
		require.NoError(t, err)
		require.True(t, created)

		revoked, err = l.IsTokenRevoked(t.Context(), c)
		require.NoError(t, err)
		require.True(t, revoked)

		revoked, err = l.IsRevoked(t.Context(), c.TokenID)
		require.NoError(t, err)
		require.True(t, revoked)
	})

	t.Run("revoke token idempotent", func(t *testing.T) {
		l, _ := newLedger(t)
		c := claims(start)

		_, err := l.RevokeClaims(t.Context(), c, models.ReasonLogout)
		require.NoError(t, err)
		created, err := l.RevokeClaims(t.Context(), c, models.ReasonAdminRevoke)
		require.NoError(t, err)
		require.False(t, created)

		active, err := l.ListActive(t.Context(), c.SubjectID, c.SubjectType)
		require.NoError(t, err)
		require.Len(t, active.Records, 1)
		assert.Equal(t, models.ReasonLogout, active.Records[0].Reason)
		assert.Equal(t, start, active.Records[0].RevokedAt)
	})

	t.Run("expired token not recorded", func(t *testing.T) {
		l, clock := newLedger(t)
		c := claims(start)
		clock.Advance(16 * time.Minute)

		created, err := l.RevokeClaims(t.Context(), c, models.ReasonLogout)

		require.NoError(t, err)
		require.False(t, created)
	})

	t.Run("record gone once token would expire", func(t *testing.T) {
		l, clock := newLedger(t)
		c := claims(start)
		_, err := l.RevokeClaims(t.Context(), c, models.ReasonLogout)
		require.NoError(t, err)

		clock.Advance(15 * time.Minute)

		revoked, err := l.IsRevoked(t.Context(), c.TokenID)
		require.NoError(t, err)
		require.False(t, revoked)

		n, err := l.SweepExpired(t.Context())
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
	})

	t.Run("revoke all for subject", func(t *testing.T) {
		l, clock := newLedger(t)
		early := claims(start.Add(-time.Hour))
		sameMillisecond := claims(start)
		sameMillisecond.IssuedAt = start.Add(999 * time.Microsecond)

		revokedBefore, err := l.RevokeAllForSubject(t.Context(), early.SubjectID, early.SubjectType, models.ReasonPasswordChange)
		require.NoError(t, err)
		require.Equal(t, start.Add(time.Millisecond), revokedBefore)

		for _, c := range []models.Claims{early, sameMillisecond} {
			revoked, err := l.IsTokenRevoked(t.Context(), c)
			require.NoError(t, err)
			assert.True(t, revoked, "token issued at %s must be revoked", c.IssuedAt)
		}

		clock.Advance(time.Millisecond)
		later := claims(clock.Now())
		revoked, err := l.IsTokenRevoked(t.Context(), later)
		require.NoError(t, err)
		assert.False(t, revoked, "token issued after watermark must stay valid")
	})

	t.Run("watermark is per subject type", func(t *testing.T) {
		l, _ := newLedger(t)
		c := claims(start.Add(-time.Minute))

		_, err := l.RevokeAllForSubject(t.Context(), c.SubjectID, models.SubjectAdmin, models.ReasonSecurityRevoke)
		require.NoError(t, err)

		revoked, err := l.IsTokenRevoked(t.Context(), c)
		require.NoError(t, err)
		assert.False(t, revoked)
	})

	t.Run("watermark outlives refresh tokens", func(t *testing.T) {
		l, clock := newLedger(t)
		c := claims(start.Add(-time.Minute))
		c.Class = models.TokenRefresh
		c.ExpiresAt = c.IssuedAt.Add(refreshTTL)
		_, err := l.RevokeAllForSubject(t.Context(), c.SubjectID, c.SubjectType, models.ReasonSecurityRevoke)
		require.NoError(t, err)

		clock.Advance(refreshTTL - time.Hour)

		revoked, err := l.IsTokenRevoked(t.Context(), c)
		require.NoError(t, err)
		assert.True(t, revoked)

		active, err := l.ListActive(t.Context(), c.SubjectID, c.SubjectType)
		require.NoError(t, err)
		require.NotNil(t, active.Watermark)
		assert.Equal(t, models.ReasonSecurityRevoke, active.Watermark.Reason)
	})

	t.Run("storage failure fails closed", func(t *testing.T) {
		l, err := New(brokenStorage{memory.NewStorage()}, Config{WatermarkTTL: refreshTTL})
		require.NoError(t, err)

		revoked, err := l.IsTokenRevoked(t.Context(), claims(start))

		require.ErrorIs(t, err, apperrors.ErrStorageUnavailable)
		require.True(t, revoked)
	})
}
