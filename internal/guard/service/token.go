package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aussiebroadwan/warden/internal/guard/domain"
	"github.com/aussiebroadwan/warden/internal/guard/store"
	"github.com/aussiebroadwan/warden/pkg/durationx"
	"github.com/aussiebroadwan/warden/pkg/jwtx"
	"github.com/aussiebroadwan/warden/pkg/slogx"
)

// SignerSource hands out the signer for the next token. *jwtx.KeyManager
// implements it.
type SignerSource interface {
	GetSigner() jwtx.Signer
}

// TokenConfig configures a TokenEngine.
type TokenConfig struct {
	Signer   SignerSource
	Verifier jwtx.Verifier

	// Issuer is written as iss and, when set, required on decode.
	Issuer string

	// Lifetimes per kind. A kind without a lifetime cannot be encoded.
	Lifetimes map[jwtx.Kind]durationx.Duration

	// Reserved extends the built-in reserved claim names.
	Reserved []string

	// Revocations is consulted on every decode. If it also implements
	// store.Revocations, Revoke can write to it.
	Revocations store.RevocationChecker

	Metrics *Metrics
	Now     func() time.Time
}

// TokenEngine encodes and decodes tokens. It holds no mutable state and is
// safe for concurrent use.
type TokenEngine struct {
	signer    SignerSource
	verifier  jwtx.Verifier
	issuer    string
	lifetimes map[jwtx.Kind]durationx.Duration
	reserved  []string
	revs      store.RevocationChecker
	metrics   *Metrics
	now       func() time.Time
}

func NewTokenEngine(cfg TokenConfig) (*TokenEngine, error) {
	if cfg.Signer == nil || cfg.Verifier == nil {
		return nil, fmt.Errorf("%w: signer and verifier are required", ErrConfiguration)
	}
	if cfg.Lifetimes[jwtx.KindAccess].IsZero() {
		return nil, fmt.Errorf("%w: access token lifetime is required", ErrConfiguration)
	}
	for _, name := range cfg.Reserved {
		if name == "" {
			return nil, fmt.Errorf("%w: empty reserved claim name", ErrConfiguration)
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	lifetimes := make(map[jwtx.Kind]durationx.Duration, len(cfg.Lifetimes))
	for k, d := range cfg.Lifetimes {
		if !k.Valid() {
			return nil, fmt.Errorf("%w: unknown token kind %q", ErrConfiguration, k)
		}
		lifetimes[k] = d
	}

	return &TokenEngine{
		signer:    cfg.Signer,
		verifier:  cfg.Verifier,
		issuer:    cfg.Issuer,
		lifetimes: lifetimes,
		reserved:  slices.Clone(cfg.Reserved),
		revs:      cfg.Revocations,
		metrics:   cfg.Metrics,
		now:       now,
	}, nil
}

// Lifetime returns the configured lifetime for kind.
func (e *TokenEngine) Lifetime(kind jwtx.Kind) (durationx.Duration, bool) {
	d, ok := e.lifetimes[kind]
	return d, ok && !d.IsZero()
}

// CanRevoke reports whether Revoke has somewhere to write.
func (e *TokenEngine) CanRevoke() bool {
	_, ok := e.revs.(store.Revocations)
	return ok
}

// Encode signs a new token of kind for p.
func (e *TokenEngine) Encode(kind jwtx.Kind, p domain.Principal, custom map[string]any) (string, error) {
	raw, _, err := e.issue(kind, p, custom, nil)
	return raw, err
}

// issue signs a token and returns it with its decoded view.
func (e *TokenEngine) issue(kind jwtx.Kind, p domain.Principal, custom map[string]any, refreshExp *time.Time) (string, jwtx.Token, error) {
	ttl, ok := e.Lifetime(kind)
	if !ok {
		return "", jwtx.Token{}, fmt.Errorf("%w: no lifetime configured for %s tokens", ErrConfiguration, kind)
	}

	claims, err := jwtx.Assemble(jwtx.AssembleParams{
		Kind:             kind,
		Subject:          p.ID,
		TTL:              ttl,
		Roles:            p.Roles,
		Issuer:           e.issuer,
		Custom:           custom,
		RefreshExpiresAt: refreshExp,
		Reserved:         e.reserved,
		Now:              e.now(),
	})
	if err != nil {
		return "", jwtx.Token{}, err
	}

	signer := e.signer.GetSigner()
	if signer == nil {
		return "", jwtx.Token{}, fmt.Errorf("%w: no signing key available", ErrConfiguration)
	}

	raw, err := signer.Sign(claims)
	if err != nil {
		return "", jwtx.Token{}, fmt.Errorf("sign %s token: %w", kind, err)
	}

	tok, err := jwtx.Disassemble(claims, e.reserved...)
	if err != nil {
		return "", jwtx.Token{}, fmt.Errorf("disassemble %s token: %w", kind, err)
	}
	return raw, tok, nil
}

// Decode verifies raw and returns its claims. Checks run in a fixed order:
// signature, claim shape, issuer, kind, expiry, revocation. With no
// expected kinds only access tokens are accepted.
func (e *TokenEngine) Decode(ctx context.Context, raw string, expected ...jwtx.Kind) (jwtx.Token, error) {
	if len(expected) == 0 {
		expected = []jwtx.Kind{jwtx.KindAccess}
	}
	label := string(expected[0])

	tok, err := e.decode(ctx, raw, expected)
	e.metrics.decode(label, decodeResult(err))
	return tok, err
}

func (e *TokenEngine) decode(ctx context.Context, raw string, expected []jwtx.Kind) (jwtx.Token, error) {
	claims, err := e.verifier.Verify(raw)
	if err != nil {
		return jwtx.Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	tok, err := jwtx.Disassemble(claims, e.reserved...)
	if err != nil {
		return jwtx.Token{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if e.issuer != "" && tok.Issuer != e.issuer {
		return jwtx.Token{}, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, tok.Issuer)
	}

	if !slices.Contains(expected, tok.Kind) {
		return jwtx.Token{}, fmt.Errorf("%w: got %s", ErrWrongTokenType, tok.Kind)
	}

	if tok.Expired(e.now()) {
		return jwtx.Token{}, ErrExpiredToken
	}

	if e.revs != nil {
		revoked, err := e.revs.IsRevoked(ctx, tok.ID)
		if err != nil {
			slogx.FromContext(ctx).Error("revocation check failed, rejecting token", "jti", tok.ID, "err", err)
			return jwtx.Token{}, fmt.Errorf("%w: revocation check failed: %v", ErrRevokedToken, err)
		}
		if revoked {
			return jwtx.Token{}, ErrRevokedToken
		}
	}

	return tok, nil
}

func decodeResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidToken):
		return "invalid"
	case errors.Is(err, ErrMalformedToken):
		return "malformed"
	case errors.Is(err, ErrWrongTokenType):
		return "wrong_type"
	case errors.Is(err, ErrExpiredToken):
		return "expired"
	case errors.Is(err, ErrRevokedToken):
		return "revoked"
	default:
		return "error"
	}
}

// ExtractUnsafe returns the claims of raw without checking its signature.
// Only use it for maintenance such as revocation, never for access
// decisions.
func (e *TokenEngine) ExtractUnsafe(raw string) (map[string]any, error) {
	claims, err := jwtx.ParseUnverified(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claims, nil
}

// Revoke adds raw's jti to the revocation list. The signature is not
// checked, so expired or foreign-key tokens can still be revoked.
func (e *TokenEngine) Revoke(ctx context.Context, raw, reason string) (jwtx.Token, error) {
	claims, err := e.ExtractUnsafe(raw)
	if err != nil {
		return jwtx.Token{}, err
	}

	tok, err := jwtx.Disassemble(claims, e.reserved...)
	if err != nil {
		return jwtx.Token{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if _, err := e.revoke(ctx, tok, reason); err != nil {
		return jwtx.Token{}, err
	}
	return tok, nil
}

// claim revokes a single-use token that has already been decoded. It fails
// with ErrRevokedToken unless this call is the one that revoked it, so of
// several concurrent consumers only one proceeds.
func (e *TokenEngine) claim(ctx context.Context, tok jwtx.Token, reason string) error {
	if tok.Expired(e.now()) {
		return ErrExpiredToken
	}

	added, err := e.revoke(ctx, tok, reason)
	if err != nil {
		return err
	}
	if !added {
		slogx.FromContext(ctx).Warn("token already consumed", "jti", tok.ID, "sub", tok.Subject, "kind", tok.Kind)
		return ErrRevokedToken
	}
	return nil
}

func (e *TokenEngine) revoke(ctx context.Context, tok jwtx.Token, reason string) (bool, error) {
	writer, ok := e.revs.(store.Revocations)
	if !ok {
		return false, fmt.Errorf("%w: no revocation store configured", ErrConfiguration)
	}

	added, err := writer.Revoke(ctx, domain.Revocation{
		JTI:       tok.ID,
		Subject:   tok.Subject,
		Kind:      string(tok.Kind),
		Reason:    reason,
		ExpiresAt: tok.ExpiresAt,
		RevokedAt: e.now(),
	})
	if err != nil {
		return false, fmt.Errorf("revoke %s: %w", tok.ID, err)
	}
	if !added {
		return false, nil
	}

	e.metrics.revoked()
	slogx.FromContext(ctx).Info("token revoked", "jti", tok.ID, "sub", tok.Subject, "kind", tok.Kind, "reason", reason)
	return true, nil
}
