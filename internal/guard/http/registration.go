package http

import (
	"net/http"

	"github.com/aussiebroadwan/warden/internal/guard/service"
	"github.com/aussiebroadwan/warden/pkg/httpx"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

// RegistrationHandler serves self-service sign up. Roles always come from
// the service defaults; clients cannot pick their own.
type RegistrationHandler struct {
	AuthService *service.AuthService
}

// HandleRegister handles POST /v1/register. The registration token only
// travels by mail, so the response carries nothing but an acknowledgement.
func (h *RegistrationHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadBody(w, r, err)
		return
	}

	_, err := h.AuthService.Register(r.Context(), service.RegisterParams{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "pending_confirmation"})
}

// HandleFinalize handles POST /v1/register/finalize.
func (h *RegistrationHandler) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadBody(w, r, err)
		return
	}
	if req.Token == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}

	pair, err := h.AuthService.FinalizeRegistration(r.Context(), req.Token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, pair)
}
