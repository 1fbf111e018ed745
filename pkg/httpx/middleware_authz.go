package httpx

import (
	"net/http"

	"github.com/aussiebroadwan/warden/pkg/jwtx"
	"github.com/aussiebroadwan/warden/pkg/slogx"
)

// Policy decides whether an already authenticated token may proceed.
type Policy interface {
	Check(tok jwtx.Token) error
}

// Authorize evaluates p against the token stored by Authn. It must be
// mounted after Authn; a request without a token is rejected as
// unauthenticated.
func Authorize(p Policy) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := TokenFromContext(r.Context())
			if !ok {
				writeBearerError(w, "missing bearer token")
				return
			}

			if err := p.Check(tok); err != nil {
				slogx.FromContext(r.Context()).Info("authorization denied", "err", err)
				w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_role"`)
				WriteError(w, http.StatusForbidden, "insufficient_role", err.Error())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
