package interfaces

import (
	"context"
	"time"

	"phonereset/internal/models"
)

// OTPQuery selects the newest unverified, unexpired record for a user and
// code.
type OTPQuery struct {
	UserID string
	Code   string
	Now    time.Time
}

// UserDirectory resolves users by phone. FindByPhone returns ErrUserNotFound
// when nothing or more than one user matches.
type UserDirectory interface {
	FindByPhone(ctx context.Context, normalizedPhone string) (*models.User, error)
}

// OTPStore persists OTP records. Methods return *StoreError with
// Unavailable set when the backing table does not exist.
type OTPStore interface {
	Insert(ctx context.Context, otp *models.OTPRecord) error
	FindActive(ctx context.Context, q OTPQuery) (*models.OTPRecord, error)
	// MarkVerified flips verified only if it is still false and returns
	// ErrOTPNotFound when no row changed.
	MarkVerified(ctx context.Context, id string) error
	DeleteVerified(ctx context.Context, userID string) (int64, error)
}

// CredentialUpdater sets a new password for a user id.
type CredentialUpdater interface {
	UpdatePassword(ctx context.Context, userID string, newPassword string) error
}

// ResetBackend is the capability handle every password reset operation
// receives.
type ResetBackend interface {
	UserDirectory
	OTPStore
	CredentialUpdater
}
