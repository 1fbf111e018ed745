package httpx

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/warden/pkg/jwtx"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Chain applies mw so that the first middleware is the outermost.
func Chain(h http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

type ctxKey struct{}

// WithToken stores the decoded access token of the caller.
func WithToken(ctx context.Context, tok jwtx.Token) context.Context {
	return context.WithValue(ctx, ctxKey{}, tok)
}

// TokenFromContext returns the token stored by Authn.
func TokenFromContext(ctx context.Context) (jwtx.Token, bool) {
	tok, ok := ctx.Value(ctxKey{}).(jwtx.Token)
	return tok, ok
}

// SubjectFromContext returns the authenticated principal id or "".
func SubjectFromContext(ctx context.Context) string {
	tok, _ := TokenFromContext(ctx)
	return tok.Subject
}
