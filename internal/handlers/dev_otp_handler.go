package handlers

import (
	"net/http"

	"phonereset/internal/services"
)

// DevOTPHandler exposes the last issued code per phone. Registered only
// when OTP dev mode is on.
type DevOTPHandler struct {
	store *services.DevOTPStore
}

func NewDevOTPHandler(store *services.DevOTPStore) *DevOTPHandler {
	return &DevOTPHandler{store: store}
}

func (h *DevOTPHandler) GetOTP(w http.ResponseWriter, r *http.Request) {
	phone := services.NormalizePhone(r.URL.Query().Get("phone"))
	if phone == "" {
		writeJSONErrorResponse(w, http.StatusBadRequest, "BAD_REQUEST", "phone query parameter is required")
		return
	}
	code, ok := h.store.Get(phone)
	if !ok {
		writeJSONErrorResponse(w, http.StatusNotFound, "NOT_FOUND", "No active OTP for this phone")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"phone": services.MaskPhone(phone),
		"otp":   code,
	})
}
