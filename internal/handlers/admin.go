package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/shopguard/internal/handlers/render"
	"github.com/nkiryanov/shopguard/internal/handlers/subjectctx"
	"github.com/nkiryanov/shopguard/internal/logger"
	"github.com/nkiryanov/shopguard/internal/models"
)

func handleRevokeSubject(s authService, l logger.Logger) http.Handler {
	type request struct {
		SubjectID   string `json:"subject_id" validate:"required,uuid"`
		SubjectType string `json:"subject_type" validate:"required,subject_type"`
		Reason      string `json:"reason" validate:"omitempty,oneof=admin_revoke security_revoke"`
	}
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admin, _ := subjectctx.FromContext(r.Context())

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		reason := models.ReasonAdminRevoke
		if data.Reason != "" {
			reason = models.RevocationReason(data.Reason)
		}
		subjectID := uuid.MustParse(data.SubjectID)

		err = s.RevokeSubject(r.Context(), subjectID, models.SubjectType(data.SubjectType), reason)
		if err != nil {
			l.Error("Failed to revoke subject tokens", "error", err, "subject_id", subjectID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		l.Info("Subject tokens revoked", "subject_id", subjectID, "reason", reason, "admin_id", admin.SubjectID)
		render.JSON(w, response{Message: "Subject tokens revoked"})
	})
}

func handleRevokeToken(s authService, l logger.Logger) http.Handler {
	type request struct {
		TokenID     string `json:"token_id" validate:"required,max=64"`
		Class       string `json:"class" validate:"required,oneof=access refresh"`
		SubjectID   string `json:"subject_id" validate:"required,uuid"`
		SubjectType string `json:"subject_type" validate:"required,subject_type"`

		// Token expiry if known, otherwise record kept for the longest lifetime of the class
		ExpiresAt *time.Time `json:"expires_at"`
	}
	type response struct {
		Created bool `json:"created"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admin, _ := subjectctx.FromContext(r.Context())

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		rec := models.RevocationRecord{
			TokenID:     data.TokenID,
			Class:       models.TokenClass(data.Class),
			SubjectID:   uuid.MustParse(data.SubjectID),
			SubjectType: models.SubjectType(data.SubjectType),
			Reason:      models.ReasonAdminRevoke,
		}
		if data.ExpiresAt != nil {
			rec.ExpiresAt = *data.ExpiresAt
		}

		created, err := s.RevokeTokenByID(r.Context(), rec)
		if err != nil {
			l.Error("Failed to revoke token", "error", err, "subject_id", rec.SubjectID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		l.Info("Token revoked", "subject_id", rec.SubjectID, "token_id", rec.TokenID, "created", created, "admin_id", admin.SubjectID)
		render.JSON(w, response{Created: created})
	})
}

func handleListRevocations(s authService, l logger.Logger) http.Handler {
	type record struct {
		TokenID   string                  `json:"token_id"`
		Class     models.TokenClass       `json:"class"`
		Reason    models.RevocationReason `json:"reason"`
		RevokedAt time.Time               `json:"revoked_at"`
		ExpiresAt time.Time               `json:"expires_at"`
	}
	type watermark struct {
		Reason        models.RevocationReason `json:"reason"`
		RevokedBefore time.Time               `json:"revoked_before"`
		ExpiresAt     time.Time               `json:"expires_at"`
	}
	type response struct {
		Tokens    []record   `json:"tokens"`
		Watermark *watermark `json:"watermark,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subjectID, err := uuid.Parse(r.URL.Query().Get("subject_id"))
		if err != nil {
			render.ServiceError(w, "Query parameter 'subject_id' must be uuid", http.StatusBadRequest)
			return
		}
		subjectType := models.SubjectType(r.URL.Query().Get("subject_type"))
		if !subjectType.Valid() {
			render.ServiceError(w, "Query parameter 'subject_type' must be admin or customer", http.StatusBadRequest)
			return
		}

		active, err := s.ListRevocations(r.Context(), subjectID, subjectType)
		if err != nil {
			l.Error("Failed to list revocations", "error", err, "subject_id", subjectID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		resp := response{Tokens: make([]record, 0, len(active.Records))}
		for _, rec := range active.Records {
			resp.Tokens = append(resp.Tokens, record{
				TokenID:   rec.TokenID,
				Class:     rec.Class,
				Reason:    rec.Reason,
				RevokedAt: rec.RevokedAt,
				ExpiresAt: rec.ExpiresAt,
			})
		}
		if wm := active.Watermark; wm != nil {
			resp.Watermark = &watermark{Reason: wm.Reason, RevokedBefore: wm.RevokedBefore, ExpiresAt: wm.ExpiresAt}
		}

		render.JSON(w, resp)
	})
}
