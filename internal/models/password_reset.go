package models

import "time"

type RequestOTPRequest struct {
	Phone string `json:"phone" validate:"required"`
}

type RequestOTPResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Phone     string    `json:"phone"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type VerifyOTPRequest struct {
	Phone string `json:"phone" validate:"required"`
	OTP   string `json:"otp" validate:"required"`
}

type VerifyOTPResponse struct {
	Success    bool      `json:"success"`
	ResetToken string    `json:"resetToken"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type ResetPasswordRequest struct {
	Phone       string `json:"phone" validate:"required"`
	ResetToken  string `json:"resetToken" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

type ResetPasswordResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// IssuedOTP is what the issuer hands back to the transport layer. The raw
// code is deliberately absent.
type IssuedOTP struct {
	MaskedPhone string
	ExpiresAt   time.Time
}

type ResetGrant struct {
	Token     string
	ExpiresAt time.Time
}
