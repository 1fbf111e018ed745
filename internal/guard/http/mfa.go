package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/warden/internal/guard/service"
	"github.com/aussiebroadwan/warden/pkg/httpx"
	"github.com/aussiebroadwan/warden/pkg/slogx"
)

type totpCodeRequest struct {
	Code string `json:"code"`
}

// MFAHandler handles all MFA-related endpoints. The principal is always the
// caller; Authn runs first.
type MFAHandler struct {
	MFAService *service.MFAService
}

// HandleEnroll handles POST /v1/mfa/totp/enroll. With ?format=png the QR
// code is returned as an image instead of JSON.
func (h *MFAHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	enrollment, err := h.MFAService.Enroll(ctx, httpx.SubjectFromContext(ctx))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "png" {
		httpx.NoCache(w)
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(enrollment.QRCode)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, enrollment)
}

// HandleConfirm handles POST /v1/mfa/totp/confirm.
func (h *MFAHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	h.withCode(w, r, h.MFAService.Confirm)
}

// HandleDisable handles POST /v1/mfa/totp/disable.
func (h *MFAHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	h.withCode(w, r, h.MFAService.Disable)
}

func (h *MFAHandler) withCode(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, principalID, code string) error) {
	ctx := r.Context()

	var req totpCodeRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadBody(w, r, err)
		return
	}
	if req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	err := fn(ctx, httpx.SubjectFromContext(ctx), req.Code)
	if err != nil {
		// The caller is already authenticated; a bad code here is a bad request.
		if errors.Is(err, service.ErrAuthentication) {
			slogx.FromContext(ctx).Warn("invalid TOTP code", "err", err)
			httpx.WriteError(w, http.StatusBadRequest, "invalid_code", "invalid TOTP code")
			return
		}
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
