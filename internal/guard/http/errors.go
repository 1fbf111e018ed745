package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/warden/internal/guard/service"
	"github.com/aussiebroadwan/warden/pkg/httpx"
	"github.com/aussiebroadwan/warden/pkg/slogx"
)

// writeServiceError maps the service error taxonomy onto HTTP. Anything
// unknown is a 500 and gets logged; the client never sees its text.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	log := slogx.FromContext(r.Context())

	switch {
	case errors.Is(err, service.ErrTOTPRequired):
		httpx.WriteError(w, http.StatusUnauthorized, "totp_required", "a TOTP code is required")
	case errors.Is(err, service.ErrInactivePrincipal):
		httpx.WriteError(w, http.StatusUnauthorized, "account_inactive", "account is not active")
	case errors.Is(err, service.ErrAuthentication):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "authentication failed")
	case errors.Is(err, service.ErrExpiredToken):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "token expired")
	case service.IsTokenError(err):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "token verification failed")
	case errors.Is(err, service.ErrMissingRole):
		httpx.WriteError(w, http.StatusForbidden, "insufficient_role", err.Error())
	case errors.Is(err, service.ErrIdentifierTaken):
		httpx.WriteError(w, http.StatusConflict, "identifier_taken", "username or email already registered")
	case errors.Is(err, service.ErrTOTPAlreadyEnabled):
		httpx.WriteError(w, http.StatusConflict, "totp_already_enabled", "TOTP is already enabled")
	case errors.Is(err, service.ErrTOTPNotEnrolled):
		httpx.WriteError(w, http.StatusBadRequest, "totp_not_enrolled", "TOTP enrollment has not been started")
	case errors.Is(err, service.ErrWeakPassword), errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrReservedClaim):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, service.ErrConfiguration):
		log.Error("feature not configured", "err", err)
		httpx.WriteError(w, http.StatusNotImplemented, "not_supported", "not supported by this server")
	default:
		log.Error("request failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
	}
}

func writeBadBody(w http.ResponseWriter, r *http.Request, err error) {
	slogx.FromContext(r.Context()).Warn("failed to parse request", "err", err)
	httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
}
