package http

import (
	"net/http"

	"github.com/aussiebroadwan/warden/internal/guard/service"
	"github.com/aussiebroadwan/warden/pkg/httpx"
)

type resetRequest struct {
	Email string `json:"email"`
}

type resetFinalizeRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ResetHandler serves the password reset flow.
type ResetHandler struct {
	AuthService *service.AuthService
}

// HandleRequest handles POST /v1/reset. The answer is the same whether or
// not the address is known.
func (h *ResetHandler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadBody(w, r, err)
		return
	}

	if _, err := h.AuthService.SendResetEmail(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent_if_registered"})
}

// HandleFinalize handles POST /v1/reset/finalize.
func (h *ResetHandler) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	var req resetFinalizeRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadBody(w, r, err)
		return
	}
	if req.Token == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}

	if err := h.AuthService.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
