package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/shopguard/internal/apperrors"
	"github.com/nkiryanov/shopguard/internal/models"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Claims signed into both token classes
// Refresh tokens carry no display claims
type TokenClaims struct {
	jwt.RegisteredClaims
	SubjectID   uuid.UUID          `json:"uid"`
	SubjectType models.SubjectType `json:"styp"`
	Class       models.TokenClass  `json:"typ"`

	// 'iat' has seconds precision only, subject watermark needs milliseconds
	IssuedAtMs int64 `json:"iat_ms"`

	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

// Consulted after token authenticity is confirmed
type RevocationChecker interface {
	// Must report true together with error if it could not check
	IsTokenRevoked(ctx context.Context, claims models.Claims) (bool, error)
}

// Token manager with sensible default
type Config struct {
	// Secret key to sign tokens
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Clock, time.Now if not set
	Now func() time.Time
}

type TokenManager struct {
	// Secret key to sign tokens
	key []byte

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	// Access and refresh token lifetimes
	accessTTL  time.Duration
	refreshTTL time.Duration

	revocations RevocationChecker

	now func() time.Time
}

func New(cfg Config, revocations RevocationChecker) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("token manager: %w", apperrors.ErrMissingSecret)
	}
	if revocations == nil {
		return nil, errors.New("revocation checker must not be nil")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg := jwt.GetSigningMethod(cfg.Alg)
	if _, ok := alg.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported signing method %q", cfg.Alg)
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &TokenManager{
		key:         []byte(cfg.SecretKey),
		alg:         alg,
		accessTTL:   cfg.AccessTTL,
		refreshTTL:  cfg.RefreshTTL,
		revocations: revocations,
		now:         cfg.Now,
	}, nil
}

func (m *TokenManager) AccessTTL() time.Duration {
	return m.accessTTL
}

func (m *TokenManager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

type issueOptions struct {
	notBefore time.Time
}

type IssueOption func(*issueOptions)

// Issue token as if now were at least t
// Lets tokens issued right after subject watermark stay clear of it
func IssuedNotBefore(t time.Time) IssueOption {
	return func(o *issueOptions) {
		o.notBefore = t
	}
}

func (m *TokenManager) IssueAccessToken(subjectID uuid.UUID, subjectType models.SubjectType, display models.DisplayClaims, opts ...IssueOption) (models.IssuedToken, error) {
	return m.issue(TokenClaims{
		SubjectID:   subjectID,
		SubjectType: subjectType,
		Class:       models.TokenAccess,
		Email:       display.Email,
		Username:    display.Username,
	}, m.accessTTL, opts)
}

func (m *TokenManager) IssueRefreshToken(subjectID uuid.UUID, subjectType models.SubjectType, opts ...IssueOption) (models.IssuedToken, error) {
	return m.issue(TokenClaims{
		SubjectID:   subjectID,
		SubjectType: subjectType,
		Class:       models.TokenRefresh,
	}, m.refreshTTL, opts)
}

func (m *TokenManager) IssuePair(subjectID uuid.UUID, subjectType models.SubjectType, display models.DisplayClaims, opts ...IssueOption) (models.TokenPair, error) {
	var pair models.TokenPair

	access, err := m.IssueAccessToken(subjectID, subjectType, display, opts...)
	if err != nil {
		return pair, err
	}
	refresh, err := m.IssueRefreshToken(subjectID, subjectType, opts...)
	if err != nil {
		return pair, err
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

func (m *TokenManager) issue(claims TokenClaims, ttl time.Duration, opts []IssueOption) (models.IssuedToken, error) {
	var o issueOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !claims.SubjectType.Valid() {
		return models.IssuedToken{}, fmt.Errorf("unknown subject type %q", claims.SubjectType)
	}

	now := m.now().Truncate(time.Millisecond)
	if now.Before(o.notBefore) {
		now = o.notBefore.Truncate(time.Millisecond)
	}

	expiresAt := jwt.NewNumericDate(now.Add(ttl))
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: expiresAt,
	}
	claims.IssuedAtMs = now.UnixMilli()

	value, err := jwt.NewWithClaims(m.alg, claims).SignedString(m.key)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing %s token. Err: %w", claims.Class, err)
	}

	return models.IssuedToken{ID: claims.ID, Value: value, ExpiresAt: expiresAt.Time}, nil
}

// Parse and validate token of expected class
//
// Errors:
//   - apperrors.ErrTokenMalformed if token could not be decoded or has wrong class or claims
//   - apperrors.ErrTokenSignatureInvalid if signature does not match or algorithm not allowed
//   - apperrors.ErrTokenExpired if expired
//   - apperrors.ErrTokenRevoked if revoked or revocation could not be checked
//
// Revocation is consulted only for authentic, not expired tokens
func (m *TokenManager) Verify(ctx context.Context, token string, class models.TokenClass) (models.Claims, error) {
	claims, err := m.Parse(token, class)
	if err != nil {
		return claims, err
	}

	revoked, err := m.revocations.IsTokenRevoked(ctx, claims)
	switch {
	case err != nil:
		return models.Claims{}, fmt.Errorf("%w: %w", apperrors.ErrTokenRevoked, err)
	case revoked:
		return models.Claims{}, apperrors.ErrTokenRevoked
	}

	return claims, nil
}

// Cryptographic validation only, no revocation check
func (m *TokenManager) Parse(token string, class models.TokenClass) (models.Claims, error) {
	var tc TokenClaims

	_, err := jwt.ParseWithClaims(
		token,
		&tc,
		func(t *jwt.Token) (any, error) {
			return m.key, nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return models.Claims{}, apperrors.ErrTokenSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return models.Claims{}, apperrors.ErrTokenExpired
	default:
		return models.Claims{}, apperrors.ErrTokenMalformed
	}

	if tc.Class != class || tc.ID == "" || tc.SubjectID == uuid.Nil || !tc.SubjectType.Valid() || tc.IssuedAtMs == 0 {
		return models.Claims{}, apperrors.ErrTokenMalformed
	}

	return models.Claims{
		TokenID:     tc.ID,
		Class:       tc.Class,
		SubjectID:   tc.SubjectID,
		SubjectType: tc.SubjectType,
		IssuedAt:    time.UnixMilli(tc.IssuedAtMs),
		ExpiresAt:   tc.ExpiresAt.Time,
		Email:       tc.Email,
		Username:    tc.Username,
	}, nil
}
