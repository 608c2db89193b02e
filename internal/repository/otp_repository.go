package repository

import (
	"context"
	"database/sql"

	"phonereset/internal/interfaces"
	"phonereset/internal/models"
)

type OTPRepository interface {
	Insert(ctx context.Context, otp *models.OTPRecord) error
	FindActive(ctx context.Context, q interfaces.OTPQuery) (*models.OTPRecord, error)
	MarkVerified(ctx context.Context, id string) error
	DeleteVerified(ctx context.Context, userID string) (int64, error)
}

type otpRepository struct {
	db *sql.DB
}

func NewOTPRepository(db *sql.DB) OTPRepository {
	return &otpRepository{db: db}
}

func (r *otpRepository) Insert(ctx context.Context, otp *models.OTPRecord) error {
	query := `
		INSERT INTO password_reset_otps (id, user_id, phone_number, code, created_at, expires_at, verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query, otp.ID, otp.UserID, otp.PhoneNumber, otp.Code, otp.CreatedAt, otp.ExpiresAt, otp.Verified)
	if err != nil {
		return storeError("otp.insert", err)
	}
	return nil
}

func (r *otpRepository) FindActive(ctx context.Context, q interfaces.OTPQuery) (*models.OTPRecord, error) {
	query := `
		SELECT id, user_id, phone_number, code, created_at, expires_at, verified
		FROM password_reset_otps
		WHERE user_id = $1
		AND code = $2
		AND verified = false
		AND expires_at >= $3
		ORDER BY created_at DESC
		LIMIT 1
	`

	var o models.OTPRecord
	err := r.db.QueryRowContext(ctx, query, q.UserID, q.Code, q.Now).
		Scan(&o.ID, &o.UserID, &o.PhoneNumber, &o.Code, &o.CreatedAt, &o.ExpiresAt, &o.Verified)
	if err != nil {
		if isNoRows(err) {
			return nil, interfaces.ErrOTPNotFound
		}
		return nil, storeError("otp.find_active", err)
	}
	return &o, nil
}

// MarkVerified is a conditional update so two concurrent verifications of
// the same code cannot both succeed.
func (r *otpRepository) MarkVerified(ctx context.Context, id string) error {
	query := `UPDATE password_reset_otps SET verified = true WHERE id = $1 AND verified = false`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return storeError("otp.mark_verified", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeError("otp.mark_verified", err)
	}
	if n == 0 {
		return interfaces.ErrOTPNotFound
	}
	return nil
}

func (r *otpRepository) DeleteVerified(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM password_reset_otps WHERE user_id = $1 AND verified = true`, userID)
	if err != nil {
		return 0, storeError("otp.delete_verified", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeError("otp.delete_verified", err)
	}
	return n, nil
}
