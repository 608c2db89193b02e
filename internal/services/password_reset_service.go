package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"phonereset/internal/apperror"
	"phonereset/internal/interfaces"
	"phonereset/internal/models"
)

const (
	DefaultOTPTTL            = 10 * time.Minute
	DefaultResetTokenTTL     = 15 * time.Minute
	DefaultMinPasswordLength = 6
)

type Options struct {
	OTPTTL            time.Duration
	ResetTokenTTL     time.Duration
	MinPasswordLength int
	// AllowDegradedOTP accepts any well-formed code when the OTP store
	// reports it is unavailable. Demo deployments only.
	AllowDegradedOTP bool

	Now          func() time.Time
	GenerateCode func() (string, error)
}

// PasswordResetService runs the three-step phone reset: issue an OTP, trade
// it for a reset token, redeem the token for a new password. It holds no
// mutable state; everything lives behind the backend.
type PasswordResetService struct {
	backend interfaces.ResetBackend
	tokens  ResetTokenCodec
	sender  OTPSender
	log     logrus.FieldLogger

	otpTTL            time.Duration
	tokenTTL          time.Duration
	minPasswordLength int
	allowDegraded     bool
	now               func() time.Time
	generateCode      func() (string, error)
}

func NewPasswordResetService(backend interfaces.ResetBackend, tokens ResetTokenCodec, sender OTPSender, log logrus.FieldLogger, opts Options) *PasswordResetService {
	s := &PasswordResetService{
		backend:           backend,
		tokens:            tokens,
		sender:            sender,
		log:               log,
		otpTTL:            opts.OTPTTL,
		tokenTTL:          opts.ResetTokenTTL,
		minPasswordLength: opts.MinPasswordLength,
		allowDegraded:     opts.AllowDegradedOTP,
		now:               opts.Now,
		generateCode:      opts.GenerateCode,
	}
	if s.otpTTL <= 0 {
		s.otpTTL = DefaultOTPTTL
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = DefaultResetTokenTTL
	}
	if s.minPasswordLength <= 0 {
		s.minPasswordLength = DefaultMinPasswordLength
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.generateCode == nil {
		s.generateCode = GenerateOTPCode
	}
	if s.tokens == nil {
		s.tokens = LegacyTokenCodec{}
	}
	return s
}

// IssueOTP creates a code for the user owning phone. A failing OTP store is
// logged and the caller still gets a success: the code may already be on
// its way through the delivery channel.
func (s *PasswordResetService) IssueOTP(ctx context.Context, phone string) (*models.IssuedOTP, error) {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return nil, apperror.New(apperror.ErrCodeBadRequest, "Phone number is required")
	}

	user, err := s.lookupUser(ctx, normalized)
	if err != nil {
		return nil, err
	}

	code, err := s.generateCode()
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "Failed to generate OTP")
	}

	now := s.now()
	record := &models.OTPRecord{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		PhoneNumber: normalized,
		Code:        code,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.otpTTL),
	}

	log := s.log.WithFields(logrus.Fields{"user_id": user.ID, "phone": MaskPhone(normalized)})
	if err := s.backend.Insert(ctx, record); err != nil {
		if errors.Is(err, interfaces.ErrStoreUnavailable) {
			log.WithError(err).Warn("otp store unavailable, code not persisted")
		} else {
			log.WithError(err).Error("failed to persist otp")
		}
	}

	if err := s.sender.SendOTP(ctx, user, normalized, code, record.ExpiresAt); err != nil {
		log.WithError(err).Warn("otp delivery failed")
	}
	log.Info("otp issued")

	return &models.IssuedOTP{
		MaskedPhone: MaskPhone(normalized),
		ExpiresAt:   record.ExpiresAt,
	}, nil
}

// VerifyOTP consumes the newest matching code and mints a reset token.
func (s *PasswordResetService) VerifyOTP(ctx context.Context, phone, code string) (*models.ResetGrant, error) {
	normalized := NormalizePhone(phone)
	code = strings.TrimSpace(code)
	if normalized == "" || code == "" {
		return nil, apperror.New(apperror.ErrCodeBadRequest, "Phone number and OTP are required")
	}
	if !ValidOTPFormat(code) {
		return nil, apperror.New(apperror.ErrCodeBadRequest, "Invalid OTP format")
	}

	user, err := s.lookupUser(ctx, normalized)
	if err != nil {
		return nil, err
	}

	now := s.now()
	log := s.log.WithFields(logrus.Fields{"user_id": user.ID, "phone": MaskPhone(normalized)})

	record, err := s.backend.FindActive(ctx, interfaces.OTPQuery{UserID: user.ID, Code: code, Now: now})
	switch {
	case err == nil:
	case errors.Is(err, interfaces.ErrOTPNotFound):
		return nil, apperror.New(apperror.ErrCodeInvalidOrExpired, "Invalid or expired OTP")
	case errors.Is(err, interfaces.ErrStoreUnavailable):
		if !s.allowDegraded {
			log.WithError(err).Error("otp store unavailable")
			return nil, apperror.Wrap(err, apperror.ErrCodeStoreUnavailable, "OTP verification is temporarily unavailable")
		}
		// Degraded mode: without a store there is nothing to compare against,
		// so any well-formed code passes.
		log.WithError(err).Warn("otp store unavailable, accepting code in degraded mode")
		return s.grant(user.ID, now)
	default:
		log.WithError(err).Error("failed to query otp")
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "Failed to verify OTP")
	}

	if err := s.backend.MarkVerified(ctx, record.ID); err != nil {
		if errors.Is(err, interfaces.ErrOTPNotFound) {
			// Another request consumed it first.
			return nil, apperror.New(apperror.ErrCodeInvalidOrExpired, "Invalid or expired OTP")
		}
		log.WithError(err).Error("failed to mark otp verified")
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "Failed to verify OTP")
	}

	log.Info("otp verified")
	return s.grant(user.ID, now)
}

// ResetPassword validates the reset token against the phone's owner and
// sets the new password. Checks run in a fixed order and the first failure
// is returned.
func (s *PasswordResetService) ResetPassword(ctx context.Context, phone, resetToken, newPassword string) error {
	if strings.TrimSpace(phone) == "" || strings.TrimSpace(resetToken) == "" || newPassword == "" {
		return apperror.New(apperror.ErrCodeBadRequest, "Phone number, reset token and new password are required")
	}
	if utf8.RuneCountInString(newPassword) < s.minPasswordLength {
		return apperror.New(apperror.ErrCodeWeakCredential, "Password must be at least "+strconv.Itoa(s.minPasswordLength)+" characters long")
	}

	normalized := NormalizePhone(phone)
	if normalized == "" {
		return apperror.New(apperror.ErrCodeBadRequest, "Phone number is required")
	}
	user, err := s.lookupUser(ctx, normalized)
	if err != nil {
		return err
	}

	claims, err := s.tokens.Decode(strings.TrimSpace(resetToken))
	if err != nil {
		if errors.Is(err, ErrTokenSignature) {
			return apperror.New(apperror.ErrCodeInvalidToken, "Invalid reset token")
		}
		return apperror.New(apperror.ErrCodeInvalidTokenFormat, "Invalid reset token format")
	}
	if claims.UserID != user.ID {
		return apperror.New(apperror.ErrCodeInvalidToken, "Invalid reset token")
	}
	if s.now().Sub(claims.IssuedAt) > s.tokenTTL {
		return apperror.New(apperror.ErrCodeTokenExpired, "Reset token has expired")
	}

	log := s.log.WithFields(logrus.Fields{"user_id": user.ID, "phone": MaskPhone(normalized)})
	if err := s.backend.UpdatePassword(ctx, user.ID, newPassword); err != nil {
		log.WithError(err).Error("credential update failed")
		return apperror.Wrap(err, apperror.ErrCodeUpstreamFailure, "Failed to update password")
	}

	if n, err := s.backend.DeleteVerified(ctx, user.ID); err != nil {
		log.WithError(err).Warn("failed to clean up verified otps")
	} else {
		log.WithField("deleted", n).Debug("verified otps cleaned up")
	}

	log.Info("password reset")
	return nil
}

func (s *PasswordResetService) lookupUser(ctx context.Context, normalized string) (*models.User, error) {
	user, err := s.backend.FindByPhone(ctx, normalized)
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			return nil, apperror.New(apperror.ErrCodeNotFound, "User not found")
		}
		s.log.WithError(err).WithField("phone", MaskPhone(normalized)).Error("user lookup failed")
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "Failed to look up user")
	}
	return user, nil
}

func (s *PasswordResetService) grant(userID string, now time.Time) (*models.ResetGrant, error) {
	token, err := s.tokens.Encode(userID, now)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "Failed to issue reset token")
	}
	return &models.ResetGrant{Token: token, ExpiresAt: now.Add(s.tokenTTL)}, nil
}
