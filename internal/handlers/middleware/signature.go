package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/nkiryanov/shopguard/internal/apperrors"
	"github.com/nkiryanov/shopguard/internal/handlers/render"
	"github.com/nkiryanov/shopguard/internal/service/signature"
)

const (
	SignatureHeader = "X-Signature"

	maxSignedBodySize = 64 << 10
)

type signatureVerifier interface {
	Verify(fields map[string]any, candidate string) bool
}

type replayGuard interface {
	CheckAndConsume(ctx context.Context, signature string, endpoint string, signedAt time.Time) error
}

type signatureLogger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Accept request once only if its body is signed with shared secret and fresh
//
// Body has to be JSON object with integer 'timestamp' field in unix milliseconds
// Signature of canonical body form is expected in X-Signature header
// Body is restored for the next handler
func SignatureMiddleware(v signatureVerifier, g replayGuard, l signatureLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			endpoint := r.URL.Path
			reject := func(reason string, message string, code int) {
				l.Warn("Signed request rejected", "reason", reason, "endpoint", endpoint)
				render.ServiceError(w, message, code)
			}

			candidate := r.Header.Get(SignatureHeader)
			if candidate == "" {
				reject("signature_missing", "Invalid signature", http.StatusUnauthorized)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodySize+1))
			if err != nil {
				render.ServiceError(w, "Failed to read request", http.StatusBadRequest)
				return
			}
			if len(body) > maxSignedBodySize {
				render.ServiceError(w, "Request is too large", http.StatusRequestEntityTooLarge)
				return
			}

			fields, err := decodeFields(body)
			if err != nil {
				render.DecodeError(w, err)
				return
			}

			signedAt, ok := timestampOf(fields)
			if !ok {
				reject("timestamp_invalid", "Invalid signature", http.StatusUnauthorized)
				return
			}

			// Authenticity first: forged requests must not reach the store
			if !v.Verify(fields, candidate) {
				reject("signature_invalid", "Invalid signature", http.StatusUnauthorized)
				return
			}

			err = g.CheckAndConsume(r.Context(), candidate, endpoint, signedAt)
			switch {
			case err == nil:
			case errors.Is(err, apperrors.ErrSignatureExpired):
				reject("signature_expired", "Request expired", http.StatusUnauthorized)
				return
			case errors.Is(err, apperrors.ErrSignatureUsed):
				reject("signature_used", "Request already processed", http.StatusConflict)
				return
			default:
				l.Error("Replay check failed, request rejected", "reason", "storage_unavailable", "endpoint", endpoint, "error", err)
				render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			next.ServeHTTP(w, r)
		})
	}
}

func decodeFields(body []byte) (map[string]any, error) {
	var fields map[string]any

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("request body must be a JSON object")
	}
	return fields, nil
}

func timestampOf(fields map[string]any) (time.Time, bool) {
	n, ok := fields[signature.TimestampField].(json.Number)
	if !ok {
		return time.Time{}, false
	}
	ms, err := n.Int64()
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
