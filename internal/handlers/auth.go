package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/shopguard/internal/apperrors"
	"github.com/nkiryanov/shopguard/internal/handlers/render"
	"github.com/nkiryanov/shopguard/internal/handlers/subjectctx"
	"github.com/nkiryanov/shopguard/internal/logger"
	"github.com/nkiryanov/shopguard/internal/models"
)

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Tokens go to body, header and refresh cookie at once
func renderTokens(w http.ResponseWriter, r *http.Request, s authService, pair models.TokenPair) {
	s.SetTokens(r.Context(), w, pair)
	render.JSON(w, tokenResponse{
		AccessToken:      pair.Access.Value,
		AccessExpiresAt:  pair.Access.ExpiresAt,
		RefreshToken:     pair.Refresh.Value,
		RefreshExpiresAt: pair.Refresh.ExpiresAt,
	})
}

func handleRegister(s authService, l logger.Logger) http.Handler {
	type request struct {
		Login    string `json:"login" validate:"required,min=2,max=50"`
		Password string `json:"password" validate:"required,min=8,max=128"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := s.Register(r.Context(), data.Login, data.Password)
		switch {
		case err == nil:
			renderTokens(w, r, s, pair)
		case errors.Is(err, apperrors.ErrUserAlreadyExists):
			render.ServiceError(w, "User already exists", http.StatusConflict)
		default:
			l.Error("Failed to register user", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleLogin(s authService, l logger.Logger) http.Handler {
	type request struct {
		Login    string `json:"login" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := s.Login(r.Context(), data.Login, data.Password)
		switch {
		case err == nil:
			renderTokens(w, r, s, pair)
		case errors.Is(err, apperrors.ErrUserNotFound):
			l.Warn("Login failed", "reason", "bad_credentials", "endpoint", r.URL.Path)
			render.ServiceError(w, "User not found", http.StatusUnauthorized)
		default:
			l.Error("Failed to login user", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

// Body is already authenticated by signature middleware
func handleRequestCode(s authService, l logger.Logger) http.Handler {
	type request struct {
		Mobile    string `json:"mobile" validate:"required,mobile"`
		Timestamp int64  `json:"timestamp" validate:"required"`
	}
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if err := s.RequestCode(r.Context(), data.Mobile); err != nil {
			l.Error("Failed to issue one-time code", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, response{Message: "Code sent"})
	})
}

func handleVerifyCode(s authService, l logger.Logger) http.Handler {
	type request struct {
		Mobile string `json:"mobile" validate:"required,mobile"`
		Code   string `json:"code" validate:"required,len=6,numeric"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := s.VerifyCode(r.Context(), data.Mobile, data.Code)
		switch {
		case err == nil:
			renderTokens(w, r, s, pair)
		case errors.Is(err, apperrors.ErrCodeInvalid):
			l.Warn("One-time code rejected", "reason", "code_invalid", "endpoint", r.URL.Path)
			render.ServiceError(w, "Invalid code", http.StatusUnauthorized)
		default:
			l.Error("Failed to verify one-time code", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

// Refresh token from JSON body {"refresh_token": "..."} or from cookie
// Body may be empty
func refreshFromRequest(s authService, r *http.Request) string {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.RefreshToken != "" {
		return body.RefreshToken
	}

	token, _ := s.GetRefresh(r)
	return token
}

func handleRefresh(s authService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh := refreshFromRequest(s, r)
		if refresh == "" {
			render.ServiceError(w, "Refresh token not found", http.StatusUnauthorized)
			return
		}

		pair, err := s.Refresh(r.Context(), refresh)
		if err != nil {
			l.Warn("Refresh token rejected", "reason", refreshReason(err), "endpoint", r.URL.Path, "error", err)
			s.ClearTokens(w)
			render.ServiceError(w, "Invalid refresh token", http.StatusUnauthorized)
			return
		}

		renderTokens(w, r, s, pair)
	})
}

func refreshReason(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, apperrors.ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, apperrors.ErrTokenExpired):
		return "token_expired"
	default:
		return "token_invalid"
	}
}

func handleLogout(s authService, l logger.Logger) http.Handler {
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := subjectctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if err := s.Logout(r.Context(), claims, refreshFromRequest(s, r)); err != nil {
			l.Error("Failed to logout", "error", err, "subject_id", claims.SubjectID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		s.ClearTokens(w)
		render.JSON(w, response{Message: "Logged out"})
	})
}

func handleChangePassword(s authService, l logger.Logger) http.Handler {
	type request struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password" validate:"required,min=8,max=128"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := subjectctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := s.ChangePassword(r.Context(), claims, data.OldPassword, data.NewPassword)
		switch {
		case err == nil:
			l.Info("Password changed, subject tokens revoked", "subject_id", claims.SubjectID)
			renderTokens(w, r, s, pair)
		case errors.Is(err, apperrors.ErrUserNotFound):
			l.Warn("Password change rejected", "reason", "bad_credentials", "endpoint", r.URL.Path, "subject_id", claims.SubjectID)
			render.ServiceError(w, "Wrong password", http.StatusBadRequest)
		default:
			l.Error("Failed to change password", "error", err, "subject_id", claims.SubjectID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleMe() http.Handler {
	type response struct {
		ID          uuid.UUID          `json:"id"`
		SubjectType models.SubjectType `json:"subject_type"`
		Username    string             `json:"username,omitempty"`
		Email       string             `json:"email,omitempty"`
		IssuedAt    time.Time          `json:"issued_at"`
		ExpiresAt   time.Time          `json:"expires_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, _ := subjectctx.FromContext(r.Context())
		render.JSON(w, response{
			ID:          c.SubjectID,
			SubjectType: c.SubjectType,
			Username:    c.Username,
			Email:       c.Email,
			IssuedAt:    c.IssuedAt,
			ExpiresAt:   c.ExpiresAt,
		})
	})
}
