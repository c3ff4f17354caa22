package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/shopguard/internal/models"
)

// User repository interface
type UserRepo interface {
	// Create user
	// If user with username or mobile exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, user models.User) (models.User, error)

	// Get user by it's id, username or mobile
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	GetUserByMobile(ctx context.Context, mobile string) (models.User, error)

	// Set new password hash
	// If user not found must return apperrors.ErrUserNotFound
	UpdatePassword(ctx context.Context, userID uuid.UUID, hashedPassword string) error
}

// One-time codes repository interface
type OTPRepo interface {
	// Save code for the mobile. Previously issued code for the mobile is replaced
	Save(ctx context.Context, code models.OneTimeCode) error

	// Return the code and delete it in one step, so a code can be checked once only
	// If code not found or expired must return apperrors.ErrCodeNotFound
	Consume(ctx context.Context, mobile string, now time.Time) (models.OneTimeCode, error)
}

// Used request signatures
type SignatureRepo interface {
	// Insert signature if it is not used yet
	// Check and insert must happen as one atomic operation
	// If not expired signature exists must return apperrors.ErrSignatureUsed
	// Expired signature (sig.CreatedAt >= its ExpiresAt) has to be replaced
	InsertUnique(ctx context.Context, sig models.UsedSignature) error

	// Delete expired records. Return number of deleted ones
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Revoked tokens
type RevocationRepo interface {
	// Insert record. Must be idempotent:
	// if not expired record with the token id exists 'created' is false and existing one remains unchanged
	Insert(ctx context.Context, record models.RevocationRecord) (created bool, err error)

	// Whether not expired record with the token id exists
	// Runs on every authenticated request, so has to be indexed lookup
	Exists(ctx context.Context, tokenID string, now time.Time) (bool, error)

	// Not expired records of the subject
	ListActive(ctx context.Context, subjectID uuid.UUID, subjectType models.SubjectType, now time.Time) ([]models.RevocationRecord, error)

	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Per subject "revoke everything issued before" marks
type WatermarkRepo interface {
	// Set watermark. If newer watermark exists it must be kept
	Set(ctx context.Context, watermark models.RevocationWatermark) error

	// If not expired watermark not found must return apperrors.ErrWatermarkNotFound
	Get(ctx context.Context, subjectID uuid.UUID, subjectType models.SubjectType, now time.Time) (models.RevocationWatermark, error)

	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Repositories the security core needs
// May be served by dedicated TTL store
type SecurityStorage interface {
	Signature() SignatureRepo
	Revocation() RevocationRepo
	Watermark() WatermarkRepo
}

type Storage interface {
	SecurityStorage

	User() UserRepo
	OTP() OTPRepo

	// Run fn in transaction (if storage supports it)
	InTx(ctx context.Context, fn func(Storage) error) error
}

// Storage with security repositories served by another backend
// Transactions cover the base storage only
func WithSecurity(base Storage, sec SecurityStorage) Storage {
	return &composed{Storage: base, sec: sec}
}

type composed struct {
	Storage
	sec SecurityStorage
}

func (c *composed) Signature() SignatureRepo {
	return c.sec.Signature()
}

func (c *composed) Revocation() RevocationRepo {
	return c.sec.Revocation()
}

func (c *composed) Watermark() WatermarkRepo {
	return c.sec.Watermark()
}

func (c *composed) InTx(ctx context.Context, fn func(Storage) error) error {
	return c.Storage.InTx(ctx, func(tx Storage) error {
		return fn(WithSecurity(tx, c.sec))
	})
}
