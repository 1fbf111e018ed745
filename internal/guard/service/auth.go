package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/warden/internal/guard/domain"
	"github.com/aussiebroadwan/warden/internal/guard/store"
	"github.com/aussiebroadwan/warden/pkg/cryptox"
	"github.com/aussiebroadwan/warden/pkg/jwtx"
	"github.com/aussiebroadwan/warden/pkg/mailx"
	"github.com/aussiebroadwan/warden/pkg/slogx"
	"github.com/aussiebroadwan/warden/pkg/totpx"
)

// AuthConfig wires an AuthService.
type AuthConfig struct {
	Store  store.Store
	Tokens *TokenEngine
	Hasher cryptox.PasswordHasher
	TOTP   *totpx.Verifier

	// EnforceTOTP makes a code mandatory for principals with a confirmed
	// secret. When false a supplied code is still checked.
	EnforceTOTP bool

	// IssueRefresh adds a refresh token to every login.
	IssueRefresh bool
	// RefreshRotation revokes the presented refresh token on refresh and
	// issues a new one.
	RefreshRotation bool

	// DefaultRoles are given to registrations that name no roles.
	DefaultRoles []string
	// MinPasswordLength defaults to 8.
	MinPasswordLength int

	Mailer    mailx.Mailer
	Templates Templates

	Metrics *Metrics
	Now     func() time.Time
}

// AuthService authenticates principals and runs the registration and reset
// flows. It holds no mutable state after construction.
type AuthService struct {
	store           store.Store
	tokens          *TokenEngine
	hasher          cryptox.PasswordHasher
	totp            *totpx.Verifier
	enforceTOTP     bool
	issueRefresh    bool
	refreshRotation bool
	defaultRoles    []string
	minPassword     int
	mailer          mailx.Mailer
	templates       *compiledTemplates
	metrics         *Metrics
	now             func() time.Time

	// dummyHash is verified against when the principal does not exist so
	// both failure paths cost the same.
	dummyHash string
}

func NewAuthService(cfg AuthConfig) (*AuthService, error) {
	if cfg.Store == nil || cfg.Tokens == nil || cfg.Hasher == nil {
		return nil, fmt.Errorf("%w: store, token engine and hasher are required", ErrConfiguration)
	}
	if cfg.IssueRefresh {
		if _, ok := cfg.Tokens.Lifetime(jwtx.KindRefresh); !ok {
			return nil, fmt.Errorf("%w: refresh tokens enabled without a refresh lifetime", ErrConfiguration)
		}
		if cfg.RefreshRotation && !cfg.Tokens.CanRevoke() {
			return nil, fmt.Errorf("%w: refresh rotation needs a revocation store", ErrConfiguration)
		}
	}

	tmpl, err := cfg.Templates.compile()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	totp := cfg.TOTP
	if totp == nil {
		totp = &totpx.Verifier{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	minPassword := cfg.MinPasswordLength
	if minPassword <= 0 {
		minPassword = 8
	}

	dummy, err := cfg.Hasher.Hash("warden-dummy-password")
	if err != nil {
		return nil, fmt.Errorf("%w: hasher unusable: %v", ErrConfiguration, err)
	}

	return &AuthService{
		store:           cfg.Store,
		tokens:          cfg.Tokens,
		hasher:          cfg.Hasher,
		totp:            totp,
		enforceTOTP:     cfg.EnforceTOTP,
		issueRefresh:    cfg.IssueRefresh,
		refreshRotation: cfg.RefreshRotation,
		defaultRoles:    jwtx.NormalizeRoles(cfg.DefaultRoles),
		minPassword:     minPassword,
		mailer:          cfg.Mailer,
		templates:       tmpl,
		metrics:         cfg.Metrics,
		now:             now,
		dummyHash:       dummy,
	}, nil
}

// Tokens exposes the engine for the boundary layer.
func (s *AuthService) Tokens() *TokenEngine { return s.tokens }

// Authenticate checks a password and, where needed, a TOTP code and issues
// tokens. Unknown identifiers and wrong passwords fail identically.
func (s *AuthService) Authenticate(ctx context.Context, identifier, password, totpCode string) (domain.TokenPair, error) {
	l := slogx.FromContext(ctx)

	p, err := s.checkPassword(ctx, identifier, password)
	if err != nil {
		s.metrics.authentication(authResult(err))
		return domain.TokenPair{}, err
	}

	if err := s.secondFactor(ctx, p, totpCode); err != nil {
		s.metrics.authentication(authResult(err))
		l.Info("authentication failed", slog.String("sub", p.ID), slog.String("reason", err.Error()))
		return domain.TokenPair{}, err
	}

	s.maybeUpgradeHash(ctx, p, password)

	pair, err := s.issuePair(p, s.issueRefresh, nil)
	if err != nil {
		s.metrics.authentication("error")
		return domain.TokenPair{}, err
	}

	s.metrics.authentication("ok")
	l.Info("authenticated", slog.String("sub", p.ID))
	return pair, nil
}

// AuthenticateTOTP verifies only the second factor of a principal that has
// already passed the password check, and returns the principal.
func (s *AuthService) AuthenticateTOTP(ctx context.Context, identifier, code string) (domain.Principal, error) {
	p, err := s.lookup(ctx, identifier)
	if err != nil {
		return domain.Principal{}, err
	}
	if !p.Active {
		return domain.Principal{}, ErrInactivePrincipal
	}
	if !p.HasTOTP() {
		return domain.Principal{}, fmt.Errorf("%w: %v", ErrAuthentication, ErrTOTPNotEnrolled)
	}
	if strings.TrimSpace(code) == "" {
		return domain.Principal{}, ErrTOTPRequired
	}
	if err := s.verifyTOTP(ctx, p, code); err != nil {
		return domain.Principal{}, err
	}
	return p, nil
}

// Refresh exchanges a refresh token for a new access token. With rotation
// the presented refresh token is revoked and replaced, and only one of
// several concurrent refreshes with the same token succeeds.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	l := slogx.FromContext(ctx)

	tok, err := s.tokens.Decode(ctx, refreshToken, jwtx.KindRefresh)
	if err != nil {
		l.Info("refresh rejected", slog.String("token_fp", cryptox.FingerprintToken(refreshToken)), slog.Any("err", err))
		return domain.TokenPair{}, err
	}

	p, err := s.store.Users().GetByID(ctx, tok.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, ErrAuthentication
		}
		return domain.TokenPair{}, err
	}
	if !p.Active {
		return domain.TokenPair{}, ErrInactivePrincipal
	}

	if s.refreshRotation {
		if err := s.tokens.claim(ctx, tok, "rotated"); err != nil {
			l.Warn("refresh rotation rejected", slog.String("sub", p.ID), slog.Any("err", err))
			return domain.TokenPair{}, err
		}
		return s.issuePair(p, true, nil)
	}

	exp := tok.ExpiresAt
	return s.issuePair(p, false, &exp)
}

// lookup finds a principal by username, or by email when identifier looks
// like one. Lookup failures become ErrAuthentication.
func (s *AuthService) lookup(ctx context.Context, identifier string) (domain.Principal, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return domain.Principal{}, ErrAuthentication
	}

	p, err := s.store.Users().GetByUsername(ctx, identifier)
	if errors.Is(err, store.ErrNotFound) && strings.Contains(identifier, "@") {
		p, err = s.store.Users().GetByEmail(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Principal{}, ErrAuthentication
		}
		return domain.Principal{}, fmt.Errorf("lookup principal: %w", err)
	}
	return p, nil
}

func (s *AuthService) checkPassword(ctx context.Context, identifier, password string) (domain.Principal, error) {
	p, err := s.lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrAuthentication) {
			s.hasher.Verify(password, s.dummyHash)
		}
		return domain.Principal{}, err
	}

	if !s.hasher.Verify(password, p.PasswordHash) {
		return domain.Principal{}, ErrAuthentication
	}
	if !p.Active {
		return domain.Principal{}, ErrInactivePrincipal
	}
	return p, nil
}

func (s *AuthService) secondFactor(ctx context.Context, p domain.Principal, code string) error {
	if !p.HasTOTP() {
		return nil
	}
	if strings.TrimSpace(code) == "" {
		if s.enforceTOTP {
			return ErrTOTPRequired
		}
		return nil
	}
	return s.verifyTOTP(ctx, p, code)
}

// verifyTOTP checks code and persists the matched counter. The store's
// compare-and-swap makes a concurrent replay of the same code lose.
func (s *AuthService) verifyTOTP(ctx context.Context, p domain.Principal, code string) error {
	counter, err := s.totp.Verify(*p.TOTPSecret, code, p.TOTPLastCounter, s.now())
	if err != nil {
		s.metrics.totp(totpResult(err))
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	if err := s.store.Users().AdvanceTOTPCounter(ctx, p.ID, counter); err != nil {
		if errors.Is(err, store.ErrStale) {
			s.metrics.totp("replay")
			return fmt.Errorf("%w: %v", ErrAuthentication, totpx.ErrReplay)
		}
		return fmt.Errorf("persist totp counter: %w", err)
	}

	s.metrics.totp("ok")
	return nil
}

func totpResult(err error) string {
	switch {
	case errors.Is(err, totpx.ErrReplay):
		return "replay"
	case errors.Is(err, totpx.ErrInvalidCode):
		return "invalid"
	default:
		return "error"
	}
}

func authResult(err error) string {
	switch {
	case errors.Is(err, ErrTOTPRequired):
		return "totp_required"
	case errors.Is(err, ErrInactivePrincipal):
		return "inactive"
	case errors.Is(err, ErrAuthentication):
		return "denied"
	default:
		return "error"
	}
}

// maybeUpgradeHash rehashes with the primary scheme after a successful
// login with an older one. Failure is logged and otherwise ignored.
func (s *AuthService) maybeUpgradeHash(ctx context.Context, p domain.Principal, password string) {
	up, ok := s.hasher.(interface{ NeedsUpgrade(string) bool })
	if !ok || !up.NeedsUpgrade(p.PasswordHash) {
		return
	}

	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.store.Users().UpdatePasswordHash(ctx, p.ID, hash)
	}
	if err != nil {
		slogx.FromContext(ctx).Warn("password hash upgrade failed", slog.String("sub", p.ID), slog.Any("err", err))
	}
}

// issuePair signs an access token and, if withRefresh, a refresh token.
// refreshExp carries the expiry of an existing refresh token when none is
// minted.
func (s *AuthService) issuePair(p domain.Principal, withRefresh bool, refreshExp *time.Time) (domain.TokenPair, error) {
	var pair domain.TokenPair

	if withRefresh {
		raw, tok, err := s.tokens.issue(jwtx.KindRefresh, p, nil, nil)
		if err != nil {
			return domain.TokenPair{}, err
		}
		pair.RefreshToken = raw
		exp := tok.ExpiresAt
		refreshExp = &exp
	}

	raw, tok, err := s.tokens.issue(jwtx.KindAccess, p, nil, refreshExp)
	if err != nil {
		return domain.TokenPair{}, err
	}

	pair.AccessToken = raw
	pair.TokenType = "Bearer"
	pair.ExpiresAt = tok.ExpiresAt
	pair.RefreshExpiresAt = refreshExp
	return pair, nil
}

func (s *AuthService) validatePassword(password string) error {
	if len([]rune(password)) < s.minPassword {
		return fmt.Errorf("%w: at least %d characters", ErrWeakPassword, s.minPassword)
	}
	return nil
}
