package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/warden/internal/guard/service"
	"github.com/aussiebroadwan/warden/internal/guard/store"
	"github.com/aussiebroadwan/warden/pkg/httpx"
	"github.com/aussiebroadwan/warden/pkg/jwtx"
	"github.com/aussiebroadwan/warden/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeySet
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	store        store.Store

	AuthService *service.AuthService
	MFAService  *service.MFAService

	// Checks are pinged by /readyz in addition to the store.
	Checks map[string]Pinger

	// Gatherer backs /metrics. Nil leaves the endpoint unregistered.
	Gatherer prometheus.Gatherer

	// AdminRole may revoke arbitrary tokens.
	AdminRole string

	// SetCookie makes login and refresh also set the access_token cookie.
	SetCookie    bool
	SecureCookie bool

	LoginLimit  httpx.RateLimitConfig
	PublicLimit httpx.RateLimitConfig
	UserLimit   httpx.RateLimitConfig
}

func NewRouter(keys *jwtx.KeySet, buildVersion string, st store.Store, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		store:        st,
		AdminRole:    "admin",
		LoginLimit:   httpx.StrictLimit,
		PublicLimit:  httpx.PublicLimit,
		UserLimit:    httpx.PublicLimit,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerRegistration()
	r.registerReset()
	r.registerMFA()
	r.registerTokens()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) authn() httpx.Middleware {
	return httpx.Authn(r.AuthService.Tokens())
}

// policy evaluates p through the AuthService so the outcome is counted.
func (r *Router) policy(p service.Policy) httpx.Policy {
	return meteredPolicy{auth: r.AuthService, policy: p}
}

type meteredPolicy struct {
	auth   *service.AuthService
	policy service.Policy
}

func (m meteredPolicy) Check(tok jwtx.Token) error {
	return m.auth.Authorize(tok, m.policy)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{
		AuthService:  r.AuthService,
		SetCookie:    r.SetCookie,
		SecureCookie: r.SecureCookie,
	}

	// Brute force protection is per IP and per username.
	r.Mux.Handle("POST /v1/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByIPAndField(r.LoginLimit, "username"),
		),
	)
	r.Mux.Handle("POST /v1/refresh",
		httpx.Chain(http.HandlerFunc(h.HandleRefresh),
			httpx.RateLimitByIP(r.LoginLimit),
		),
	)
}

func (r *Router) registerRegistration() {
	h := &RegistrationHandler{AuthService: r.AuthService}

	r.Mux.Handle("POST /v1/register",
		httpx.Chain(http.HandlerFunc(h.HandleRegister),
			httpx.RateLimitByIP(r.LoginLimit),
		),
	)
	r.Mux.Handle("POST /v1/register/finalize",
		httpx.Chain(http.HandlerFunc(h.HandleFinalize),
			httpx.RateLimitByIP(r.LoginLimit),
		),
	)
}

func (r *Router) registerReset() {
	h := &ResetHandler{AuthService: r.AuthService}

	r.Mux.Handle("POST /v1/reset",
		httpx.Chain(http.HandlerFunc(h.HandleRequest),
			httpx.RateLimitByIPAndField(r.LoginLimit, "email"),
		),
	)
	r.Mux.Handle("POST /v1/reset/finalize",
		httpx.Chain(http.HandlerFunc(h.HandleFinalize),
			httpx.RateLimitByIP(r.LoginLimit),
		),
	)
}

func (r *Router) registerMFA() {
	if r.MFAService == nil {
		return
	}
	h := &MFAHandler{MFAService: r.MFAService}

	r.Mux.Handle("POST /v1/mfa/totp/enroll",
		httpx.Chain(http.HandlerFunc(h.HandleEnroll),
			r.authn(),
			httpx.RateLimit(r.UserLimit, httpx.SubjectKeyExtractor),
		),
	)

	// Codes are only six digits, so confirm and disable get the strict profile.
	r.Mux.Handle("POST /v1/mfa/totp/confirm",
		httpx.Chain(http.HandlerFunc(h.HandleConfirm),
			r.authn(),
			httpx.RateLimit(r.LoginLimit, httpx.SubjectKeyExtractor),
		),
	)
	r.Mux.Handle("POST /v1/mfa/totp/disable",
		httpx.Chain(http.HandlerFunc(h.HandleDisable),
			r.authn(),
			httpx.RateLimit(r.LoginLimit, httpx.SubjectKeyExtractor),
		),
	)
}

func (r *Router) registerTokens() {
	h := &TokenHandler{
		AuthService: r.AuthService,
		Users:       r.store.Users(),
	}

	r.Mux.Handle("POST /v1/tokens/revoke",
		httpx.Chain(http.HandlerFunc(h.HandleRevoke),
			r.authn(),
			httpx.Authorize(r.policy(service.Required(r.AdminRole))),
			httpx.RateLimit(r.UserLimit, httpx.SubjectKeyExtractor),
		),
	)
	r.Mux.Handle("POST /v1/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout),
			r.authn(),
			httpx.RateLimit(r.UserLimit, httpx.SubjectKeyExtractor),
		),
	)
	r.Mux.Handle("GET /v1/me",
		httpx.Chain(http.HandlerFunc(h.HandleMe),
			r.authn(),
			httpx.RateLimit(r.UserLimit, httpx.SubjectKeyExtractor),
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.keys),
			httpx.RateLimitByIP(r.PublicLimit),
		),
	)
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keys, r.Checks))

	if r.Gatherer != nil {
		r.Mux.Handle("GET /metrics", promhttp.HandlerFor(r.Gatherer, promhttp.HandlerOpts{}))
	}
}
