package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/shopguard/internal/apperrors"
	"github.com/nkiryanov/shopguard/internal/models"
	"github.com/nkiryanov/shopguard/internal/repository"
	"github.com/nkiryanov/shopguard/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/shopguard/internal/service/revocation"
)

const (
	defaultAccessHeaderName  = "Authorization"
	defaultAccessAuthScheme  = "Bearer"
	defaultRefreshCookieName = "refreshtoken"
	defaultCodeTTL           = 5 * time.Minute
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

type tokenManager interface {
	IssuePair(subjectID uuid.UUID, subjectType models.SubjectType, display models.DisplayClaims, opts ...tokenmanager.IssueOption) (models.TokenPair, error)
	Verify(ctx context.Context, token string, class models.TokenClass) (models.Claims, error)
	Parse(token string, class models.TokenClass) (models.Claims, error)
	AccessTTL() time.Duration
	RefreshTTL() time.Duration
}

type revocationLedger interface {
	RevokeToken(ctx context.Context, rec models.RevocationRecord) (bool, error)
	RevokeClaims(ctx context.Context, claims models.Claims, reason models.RevocationReason) (bool, error)
	RevokeAllForSubject(ctx context.Context, subjectID uuid.UUID, subjectType models.SubjectType, reason models.RevocationReason) (time.Time, error)
	ListActive(ctx context.Context, subjectID uuid.UUID, subjectType models.SubjectType) (revocation.Active, error)
}

type Config struct {
	// Hasher for passwords and one-time codes
	// If not set BcryptHasher is used
	Hasher PasswordHasher

	// One-time codes delivery
	CodeSender CodeSender

	// One-time code lifetime
	CodeTTL time.Duration

	// Clock, time.Now if not set
	Now func() time.Time
}

type AuthService struct {
	// Transport of tokens
	accessHeaderName  string
	accessAuthScheme  string
	refreshCookieName string

	hasher PasswordHasher
	codes  CodeSender

	codeTTL time.Duration

	tokens  tokenManager
	ledger  revocationLedger
	storage repository.Storage

	now func() time.Time
}

func NewService(cfg Config, tokens tokenManager, ledger revocationLedger, storage repository.Storage) (*AuthService, error) {
	if cfg.Hasher == nil {
		cfg.Hasher = BcryptHasher{}
	}
	if cfg.CodeTTL == 0 {
		cfg.CodeTTL = defaultCodeTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &AuthService{
		accessHeaderName:  defaultAccessHeaderName,
		accessAuthScheme:  defaultAccessAuthScheme,
		refreshCookieName: defaultRefreshCookieName,

		hasher:  cfg.Hasher,
		codes:   cfg.CodeSender,
		codeTTL: cfg.CodeTTL,

		tokens:  tokens,
		ledger:  ledger,
		storage: storage,

		now: cfg.Now,
	}, nil
}

// Register customer with username and password
func (s *AuthService) Register(ctx context.Context, username string, password string) (models.TokenPair, error) {
	var pair models.TokenPair

	user, err := s.CreateUser(ctx, models.User{Type: models.SubjectCustomer, Username: username}, password)
	if err != nil {
		return pair, err
	}

	return s.issue(user)
}

// Create user with password. Used for customers registration and admin creation
func (s *AuthService) CreateUser(ctx context.Context, user models.User, password string) (models.User, error) {
	if !user.Type.Valid() {
		return user, fmt.Errorf("unknown subject type %q", user.Type)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password, Err: %w", err)
	}
	user.HashedPassword = hash

	user, err = s.storage.User().CreateUser(ctx, user)
	if err != nil {
		return user, fmt.Errorf("can't create user. Err: %w", err)
	}

	return user, nil
}

// Login admin or customer with username and password
// Has to return apperrors.ErrUserNotFound if user not found or password does not match
func (s *AuthService) Login(ctx context.Context, username string, password string) (models.TokenPair, error) {
	var pair models.TokenPair

	user, err := s.storage.User().GetUserByUsername(ctx, username)
	if err != nil {
		return pair, fmt.Errorf("login failed. Err: %w", err)
	}

	// Customers who use one-time codes only have no password
	if user.HashedPassword == "" {
		return pair, apperrors.ErrUserNotFound
	}

	err = s.hasher.Compare(user.HashedPassword, password)
	if err != nil {
		return pair, apperrors.ErrUserNotFound
	}

	return s.issue(user)
}

// Issue one-time code for the mobile and send it
// Previously issued code for the mobile stops working
func (s *AuthService) RequestCode(ctx context.Context, mobile string) error {
	if s.codes == nil {
		return errors.New("one-time code sender is not configured")
	}

	code, err := generateCode()
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(code)
	if err != nil {
		return fmt.Errorf("can't hash code. Err: %w", err)
	}

	now := s.now()
	err = s.storage.OTP().Save(ctx, models.OneTimeCode{
		Mobile:    mobile,
		CodeHash:  hash,
		CreatedAt: now,
		ExpiresAt: now.Add(s.codeTTL),
	})
	if err != nil {
		return fmt.Errorf("can't save code. Err: %w", err)
	}

	return s.codes.SendCode(ctx, mobile, code)
}

// Check one-time code and login customer, registering one on first login
// Has to return apperrors.ErrCodeInvalid if code not found, expired or does not match
// Code can be checked once only
func (s *AuthService) VerifyCode(ctx context.Context, mobile string, code string) (models.TokenPair, error) {
	var pair models.TokenPair

	stored, err := s.storage.OTP().Consume(ctx, mobile, s.now())
	switch {
	case errors.Is(err, apperrors.ErrCodeNotFound):
		return pair, apperrors.ErrCodeInvalid
	case err != nil:
		return pair, fmt.Errorf("can't consume code. Err: %w", err)
	}

	if err := s.hasher.Compare(stored.CodeHash, code); err != nil {
		return pair, apperrors.ErrCodeInvalid
	}

	user, err := s.customerByMobile(ctx, mobile)
	if err != nil {
		return pair, err
	}

	return s.issue(user)
}

func (s *AuthService) customerByMobile(ctx context.Context, mobile string) (models.User, error) {
	repo := s.storage.User()

	user, err := repo.GetUserByMobile(ctx, mobile)
	if !errors.Is(err, apperrors.ErrUserNotFound) {
		return user, err
	}

	user, err = repo.CreateUser(ctx, models.User{Type: models.SubjectCustomer, Mobile: mobile})
	if errors.Is(err, apperrors.ErrUserAlreadyExists) {
		// Concurrent first login with the same mobile
		return repo.GetUserByMobile(ctx, mobile)
	}
	return user, err
}

// Exchange refresh token for a new pair
// Presented token is revoked, so it can be exchanged once only
// Has to return apperrors.ErrTokenRevoked if it was exchanged already
func (s *AuthService) Refresh(ctx context.Context, refresh string) (models.TokenPair, error) {
	var pair models.TokenPair

	claims, err := s.tokens.Verify(ctx, refresh, models.TokenRefresh)
	if err != nil {
		return pair, fmt.Errorf("refresh token rejected. Err: %w", err)
	}

	created, err := s.ledger.RevokeClaims(ctx, claims, models.ReasonRotated)
	switch {
	case err != nil:
		return pair, fmt.Errorf("%w: %w", apperrors.ErrTokenRevoked, err)
	case !created:
		// Somebody exchanged the token in between
		return pair, apperrors.ErrTokenRevoked
	}

	user, err := s.storage.User().GetUserByID(ctx, claims.SubjectID)
	if err != nil {
		return pair, fmt.Errorf("refresh token subject not found. Err: %w", err)
	}

	return s.issue(user)
}

// Revoke tokens of the session: access token from verified claims and refresh token if presented
// Refresh token of another subject is ignored
func (s *AuthService) Logout(ctx context.Context, access models.Claims, refresh string) error {
	if _, err := s.ledger.RevokeClaims(ctx, access, models.ReasonLogout); err != nil {
		return fmt.Errorf("can't revoke access token. Err: %w", err)
	}

	if refresh == "" {
		return nil
	}

	claims, err := s.tokens.Parse(refresh, models.TokenRefresh)
	if err != nil || claims.SubjectID != access.SubjectID || claims.SubjectType != access.SubjectType {
		return nil
	}

	if _, err := s.ledger.RevokeClaims(ctx, claims, models.ReasonLogout); err != nil {
		return fmt.Errorf("can't revoke refresh token. Err: %w", err)
	}
	return nil
}

// Change password and revoke every token of the subject
// Returns a new pair, so the current session continues
func (s *AuthService) ChangePassword(ctx context.Context, claims models.Claims, oldPassword string, newPassword string) (models.TokenPair, error) {
	var pair models.TokenPair

	user, err := s.storage.User().GetUserByID(ctx, claims.SubjectID)
	if err != nil {
		return pair, err
	}

	if user.HashedPassword != "" {
		if err := s.hasher.Compare(user.HashedPassword, oldPassword); err != nil {
			return pair, apperrors.ErrUserNotFound
		}
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return pair, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	// Revoke first: if password update fails afterwards the subject is just logged out
	revokedBefore, err := s.ledger.RevokeAllForSubject(ctx, user.ID, user.Type, models.ReasonPasswordChange)
	if err != nil {
		return pair, fmt.Errorf("can't revoke subject tokens. Err: %w", err)
	}

	err = s.storage.User().UpdatePassword(ctx, user.ID, hash)
	if err != nil {
		return pair, fmt.Errorf("can't update password. Err: %w", err)
	}

	return s.issue(user, tokenmanager.IssuedNotBefore(revokedBefore))
}

// Revoke every token issued to the subject so far
func (s *AuthService) RevokeSubject(ctx context.Context, subjectID uuid.UUID, subjectType models.SubjectType, reason models.RevocationReason) error {
	_, err := s.ledger.RevokeAllForSubject(ctx, subjectID, subjectType, reason)
	return err
}

// Revoke single token by its id
// Token itself is not known here, so record is kept for the longest lifetime of the class
func (s *AuthService) RevokeTokenByID(ctx context.Context, rec models.RevocationRecord) (bool, error) {
	if rec.ExpiresAt.IsZero() {
		ttl := s.tokens.AccessTTL()
		if rec.Class == models.TokenRefresh {
			ttl = s.tokens.RefreshTTL()
		}
		rec.ExpiresAt = s.now().Add(ttl)
	}

	return s.ledger.RevokeToken(ctx, rec)
}

func (s *AuthService) ListRevocations(ctx context.Context, subjectID uuid.UUID, subjectType models.SubjectType) (revocation.Active, error) {
	return s.ledger.ListActive(ctx, subjectID, subjectType)
}

// Get access token from request and verify it
func (s *AuthService) Authenticate(ctx context.Context, r *http.Request) (models.Claims, error) {
	header := r.Header.Get(s.accessHeaderName)

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, s.accessAuthScheme) || token == "" {
		return models.Claims{}, apperrors.ErrTokenMalformed
	}

	return s.tokens.Verify(ctx, strings.TrimSpace(token), models.TokenAccess)
}

// Set auth tokens to response: access token to header, refresh one to cookie
func (s *AuthService) SetTokens(_ context.Context, w http.ResponseWriter, pair models.TokenPair) {
	w.Header().Set(s.accessHeaderName, s.accessAuthScheme+" "+pair.Access.Value)

	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    pair.Refresh.Value,
		Path:     "/",
		MaxAge:   int(pair.Refresh.ExpiresAt.Sub(s.now()).Seconds()),
		HttpOnly: true,
		Secure:   false,
		SameSite: http.SameSiteStrictMode,
	})
}

// Remove refresh cookie
func (s *AuthService) ClearTokens(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// Get refresh token from cookie
func (s *AuthService) GetRefresh(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.refreshCookieName)
	if err != nil {
		return "", fmt.Errorf("refresh cookie not found. Err: %w", err)
	}
	return cookie.Value, nil
}

func (s *AuthService) issue(user models.User, opts ...tokenmanager.IssueOption) (models.TokenPair, error) {
	display := models.DisplayClaims{Email: user.Email, Username: user.Username}

	pair, err := s.tokens.IssuePair(user.ID, user.Type, display, opts...)
	if err != nil {
		return pair, fmt.Errorf("token could not generated, sorry. %w", err)
	}
	return pair, nil
}
