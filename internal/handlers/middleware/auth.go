package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/nkiryanov/shopguard/internal/apperrors"
	"github.com/nkiryanov/shopguard/internal/handlers/render"
	"github.com/nkiryanov/shopguard/internal/handlers/subjectctx"
	"github.com/nkiryanov/shopguard/internal/models"
)

type authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (models.Claims, error)
}

type securityLogger interface {
	Warn(msg string, args ...any)
}

// Verify access token and put its claims to request context
// Every failure is answered with the same 401, the reason goes to log only
func AuthMiddleware(a authenticator, l securityLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := a.Authenticate(r.Context(), r)
			if err != nil {
				l.Warn("Access token rejected", "reason", tokenReason(err), "endpoint", r.URL.Path, "error", err)
				render.Unauthorized(w)
				return
			}

			ctx := subjectctx.New(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Allow subjects of the given types only. Must be used after AuthMiddleware
func RequireSubjectType(l securityLogger, types ...models.SubjectType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := subjectctx.FromContext(r.Context())
			if !ok {
				render.Unauthorized(w)
				return
			}

			if !slices.Contains(types, claims.SubjectType) {
				l.Warn("Subject type not allowed", "reason", "forbidden_subject_type", "endpoint", r.URL.Path, "subject_id", claims.SubjectID)
				render.ServiceError(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func tokenReason(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, apperrors.ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, apperrors.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, apperrors.ErrTokenSignatureInvalid):
		return "token_signature_invalid"
	default:
		return "token_malformed"
	}
}
