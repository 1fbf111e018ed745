package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/warden/internal/guard/domain"
	"github.com/aussiebroadwan/warden/internal/guard/service"
	"github.com/aussiebroadwan/warden/pkg/httpx"
)

type loginRequest struct {
	// Username also accepts an email address.
	Username string `json:"username"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// AuthHandler serves login and refresh.
type AuthHandler struct {
	AuthService  *service.AuthService
	SetCookie    bool
	SecureCookie bool
}

// HandleLogin handles POST /v1/login.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadBody(w, r, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	pair, err := h.AuthService.Authenticate(r.Context(), req.Username, req.Password, req.TOTPCode)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.writePair(w, pair)
}

// HandleRefresh handles POST /v1/refresh.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadBody(w, r, err)
		return
	}
	if req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	pair, err := h.AuthService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.writePair(w, pair)
}

func (h *AuthHandler) writePair(w http.ResponseWriter, pair domain.TokenPair) {
	if h.SetCookie {
		http.SetCookie(w, &http.Cookie{
			Name:     httpx.AccessTokenCookie,
			Value:    pair.AccessToken,
			Path:     "/",
			Expires:  pair.ExpiresAt,
			MaxAge:   int(time.Until(pair.ExpiresAt).Seconds()),
			HttpOnly: true,
			Secure:   h.SecureCookie,
			SameSite: http.SameSiteStrictMode,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, pair)
}
