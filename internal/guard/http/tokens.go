package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/aussiebroadwan/warden/internal/guard/service"
	"github.com/aussiebroadwan/warden/internal/guard/store"
	"github.com/aussiebroadwan/warden/pkg/httpx"
	"github.com/aussiebroadwan/warden/pkg/jwtx"
	"github.com/aussiebroadwan/warden/pkg/slogx"
)

type revokeRequest struct {
	Token  string `json:"token"`
	Reason string `json:"reason,omitempty"`
}

type revokeResponse struct {
	JTI       string    `json:"jti"`
	Subject   string    `json:"sub"`
	Kind      string    `json:"kind"`
	ExpiresAt time.Time `json:"expires_at"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

type meResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Roles       []string   `json:"roles"`
	TOTPEnabled bool       `json:"totp_enabled"`
	ExpiresAt   time.Time  `json:"expires_at"`
	RefreshExp  *time.Time `json:"refresh_expires_at,omitempty"`
}

// TokenHandler serves revocation and the caller's own profile.
type TokenHandler struct {
	AuthService *service.AuthService
	Users       store.Users
}

// HandleRevoke handles POST /v1/tokens/revoke. Any token may be revoked,
// including expired ones or ones signed by a retired key.
func (h *TokenHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req revokeRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadBody(w, r, err)
		return
	}
	if req.Token == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "revoked by " + httpx.SubjectFromContext(ctx)
	}

	tok, err := h.AuthService.Tokens().Revoke(ctx, req.Token, reason)
	if err != nil {
		if errors.Is(err, service.ErrMalformedToken) {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "token is malformed")
			return
		}
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, revokeResponse{
		JTI:       tok.ID,
		Subject:   tok.Subject,
		Kind:      string(tok.Kind),
		ExpiresAt: tok.ExpiresAt,
	})
}

// HandleLogout handles POST /v1/logout. It revokes the presented access
// token and, if given, a refresh token belonging to the same principal.
func (h *TokenHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	tokens := h.AuthService.Tokens()

	var req logoutRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(w, r, &req); err != nil {
			writeBadBody(w, r, err)
			return
		}
	}

	if req.RefreshToken != "" {
		refresh, err := tokens.Decode(ctx, req.RefreshToken, jwtx.KindRefresh)
		switch {
		case err != nil:
			log.Info("logout with unusable refresh token", "err", err)
		case refresh.Subject != httpx.SubjectFromContext(ctx):
			httpx.WriteError(w, http.StatusForbidden, "invalid_request", "refresh token belongs to another principal")
			return
		default:
			if _, err := tokens.Revoke(ctx, req.RefreshToken, "logout"); err != nil {
				writeServiceError(w, r, err)
				return
			}
		}
	}

	if _, err := tokens.Revoke(ctx, httpx.BearerToken(r), "logout"); err != nil {
		writeServiceError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{Name: httpx.AccessTokenCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe handles GET /v1/me.
func (h *TokenHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tok, _ := httpx.TokenFromContext(ctx)

	p, err := h.Users.GetByID(ctx, tok.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "principal no longer exists")
			return
		}
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, meResponse{
		ID:          p.ID,
		Username:    p.Username,
		Email:       p.Email,
		Roles:       tok.Roles,
		TOTPEnabled: p.HasTOTP(),
		ExpiresAt:   tok.ExpiresAt,
		RefreshExp:  tok.RefreshExpiresAt,
	})
}
