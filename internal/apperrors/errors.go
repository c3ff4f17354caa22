package apperrors

import (
	"errors"
)

var (
	// Configuration errors. Must stop the app on startup, never returned per request
	ErrMissingSecret = errors.New("secret key must not be empty")

	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	ErrCodeNotFound = errors.New("one-time code not found")
	ErrCodeInvalid  = errors.New("one-time code is invalid")

	ErrTokenMalformed        = errors.New("token is malformed")
	ErrTokenExpired          = errors.New("token is expired")
	ErrTokenSignatureInvalid = errors.New("token signature is invalid")
	ErrTokenRevoked          = errors.New("token is revoked")

	ErrSignatureInvalid = errors.New("request signature is invalid")
	ErrSignatureExpired = errors.New("request signature is expired")
	ErrSignatureUsed    = errors.New("request signature is already used")

	ErrWatermarkNotFound = errors.New("revocation watermark not found")

	// Client side: refresh failed or session was closed, local tokens dropped
	ErrSessionEnded = errors.New("session ended, sign in again")

	// Store could not answer a security check. Callers must treat it as rejection
	ErrStorageUnavailable = errors.New("security storage unavailable")
)
