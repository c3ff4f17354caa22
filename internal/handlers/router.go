package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/shopguard/internal/handlers/middleware"
	"github.com/nkiryanov/shopguard/internal/logger"
	"github.com/nkiryanov/shopguard/internal/models"
	"github.com/nkiryanov/shopguard/internal/service/revocation"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	authService authService,
	verifier requestVerifier,
	guard replayGuard,
	logger logger.Logger,
) http.Handler {
	withAuth := middleware.AuthMiddleware(authService, logger)
	withAdmin := func(h http.Handler) http.Handler {
		return chain(h, withAuth, middleware.RequireSubjectType(logger, models.SubjectAdmin))
	}
	withSignature := middleware.SignatureMiddleware(verifier, guard, logger)

	mux := http.NewServeMux()

	mux.Handle("POST /api/auth/register", handleRegister(authService, logger))
	mux.Handle("POST /api/auth/login", handleLogin(authService, logger))
	mux.Handle("POST /api/auth/otp", withSignature(handleRequestCode(authService, logger)))
	mux.Handle("POST /api/auth/otp/verify", handleVerifyCode(authService, logger))
	mux.Handle("POST /api/auth/refresh", handleRefresh(authService, logger))
	mux.Handle("POST /api/auth/logout", withAuth(handleLogout(authService, logger)))
	mux.Handle("POST /api/auth/password", withAuth(handleChangePassword(authService, logger)))
	mux.Handle("GET /api/auth/me", withAuth(handleMe()))

	mux.Handle("POST /api/admin/sessions/revoke", withAdmin(handleRevokeSubject(authService, logger)))
	mux.Handle("POST /api/admin/tokens/revoke", withAdmin(handleRevokeToken(authService, logger)))
	mux.Handle("GET /api/admin/revocations", withAdmin(handleListRevocations(authService, logger)))

	handler := chain(mux,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type authService interface {
	// Register customer with username and password
	// Has to return apperrors.ErrUserAlreadyExists if user already exists
	Register(ctx context.Context, username string, password string) (models.TokenPair, error)

	// Login admin or customer with username and password
	// Has to return apperrors.ErrUserNotFound if user not found or password does not match
	Login(ctx context.Context, username string, password string) (models.TokenPair, error)

	// Issue and send one-time code to the mobile
	RequestCode(ctx context.Context, mobile string) error

	// Login customer with one-time code
	// Has to return apperrors.ErrCodeInvalid if code not found, expired or not match
	VerifyCode(ctx context.Context, mobile string, code string) (models.TokenPair, error)

	// Exchange refresh token for a new pair. Token can be exchanged once only
	Refresh(ctx context.Context, refresh string) (models.TokenPair, error)

	// Revoke the session tokens
	Logout(ctx context.Context, access models.Claims, refresh string) error

	// Has to return apperrors.ErrUserNotFound if old password does not match
	ChangePassword(ctx context.Context, claims models.Claims, oldPassword string, newPassword string) (models.TokenPair, error)

	RevokeSubject(ctx context.Context, subjectID uuid.UUID, subjectType models.SubjectType, reason models.RevocationReason) error
	RevokeTokenByID(ctx context.Context, rec models.RevocationRecord) (bool, error)
	ListRevocations(ctx context.Context, subjectID uuid.UUID, subjectType models.SubjectType) (revocation.Active, error)

	// Get access token from request and verify it
	Authenticate(ctx context.Context, r *http.Request) (models.Claims, error)

	// Set auth tokens (access, refresh) to response
	SetTokens(ctx context.Context, w http.ResponseWriter, pair models.TokenPair)
	ClearTokens(w http.ResponseWriter)

	// Get refresh token from request cookie
	GetRefresh(r *http.Request) (string, error)
}

type requestVerifier interface {
	Verify(fields map[string]any, candidate string) bool
}

type replayGuard interface {
	CheckAndConsume(ctx context.Context, signature string, endpoint string, signedAt time.Time) error
}
