package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"phonereset/internal/apperror"
	"phonereset/internal/models"
	"phonereset/internal/services"
)

const maxBodyBytes = 1 << 20

type PasswordResetHandler struct {
	svc *services.PasswordResetService
	log logrus.FieldLogger
	v   *validator.Validate
}

func NewPasswordResetHandler(svc *services.PasswordResetService, log logrus.FieldLogger) *PasswordResetHandler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &PasswordResetHandler{svc: svc, log: log, v: v}
}

// RequestOTP issues a one-time code for the account owning the phone.
func (h *PasswordResetHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req models.RequestOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	issued, err := h.svc.IssueOTP(r.Context(), req.Phone)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.RequestOTPResponse{
		Success:   true,
		Message:   "OTP sent successfully",
		Phone:     issued.MaskedPhone,
		ExpiresAt: issued.ExpiresAt,
	})
}

// VerifyOTP trades a valid code for a reset token.
func (h *PasswordResetHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	grant, err := h.svc.VerifyOTP(r.Context(), req.Phone, req.OTP)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.VerifyOTPResponse{
		Success:    true,
		ResetToken: grant.Token,
		ExpiresAt:  grant.ExpiresAt,
	})
}

// ResetPassword redeems a reset token for a new password.
func (h *PasswordResetHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.svc.ResetPassword(r.Context(), req.Phone, req.ResetToken, req.NewPassword); err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.ResetPasswordResponse{
		Success: true,
		Message: "Password reset successfully",
	})
}

func (h *PasswordResetHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		writeJSONErrorResponse(w, http.StatusBadRequest, string(apperror.ErrCodeBadRequest), "Invalid request body")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONErrorResponse(w, http.StatusBadRequest, string(apperror.ErrCodeBadRequest), "Invalid request body")
		return false
	}
	if err := h.v.Struct(dst); err != nil {
		writeJSONErrorResponse(w, http.StatusBadRequest, string(apperror.ErrCodeBadRequest), validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		names := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			names = append(names, fe.Field())
		}
		return strings.Join(names, ", ") + " required"
	}
	return "Invalid request"
}
