package jwtx

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/aussiebroadwan/warden/pkg/durationx"
	"github.com/aussiebroadwan/warden/pkg/idx"
	"github.com/golang-jwt/jwt/v5"
)

// Claim names written by Assemble.
const (
	ClaimID            = "id"
	ClaimRoles         = "rls"
	ClaimKind          = "kind"
	ClaimJTI           = "jti"
	ClaimIssuedAt      = "iat"
	ClaimExpiresAt     = "exp"
	ClaimIssuer        = "iss"
	ClaimRefreshExpiry = "rf_exp"
)

// ReservedClaims can never be set through custom claims. sub, nbf and aud
// are not written by Assemble but are reserved so that custom claims cannot
// smuggle in registered JWT semantics.
var ReservedClaims = []string{
	ClaimID, ClaimRoles, ClaimKind, ClaimJTI, ClaimIssuedAt, ClaimExpiresAt,
	ClaimIssuer, ClaimRefreshExpiry, "sub", "nbf", "aud",
}

var (
	ErrReservedClaim  = errors.New("jwtx: custom claim collides with reserved claim")
	ErrInvalidRole    = errors.New("jwtx: invalid role name")
	ErrMalformedClaim = errors.New("jwtx: malformed claims")
)

// Kind distinguishes what a token may be used for.
type Kind string

const (
	KindAccess       Kind = "access"
	KindRefresh      Kind = "refresh"
	KindRegistration Kind = "registration"
	KindReset        Kind = "reset"
)

// Kinds lists every token kind in a stable order.
var Kinds = []Kind{KindAccess, KindRefresh, KindRegistration, KindReset}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool { return slices.Contains(Kinds, k) }

// Token is the decoded, immutable view of a claim set.
type Token struct {
	Kind             Kind
	Subject          string
	Roles            []string
	ID               string // jti
	Issuer           string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	RefreshExpiresAt *time.Time
	Custom           map[string]any
}

// Expired reports whether the token is no longer valid at now. A token is
// expired at its exp instant, not after it.
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// HasRole reports whether role is in the token's role set.
func (t Token) HasRole(role string) bool {
	return slices.Contains(t.Roles, role)
}

// AssembleParams is the input to Assemble.
type AssembleParams struct {
	Kind    Kind
	Subject string
	TTL     durationx.Duration
	Roles   []string
	Issuer  string
	Custom  map[string]any

	// RefreshExpiresAt, when set, is written as rf_exp so clients know how
	// long the paired refresh token stays usable.
	RefreshExpiresAt *time.Time

	// Reserved extends ReservedClaims with application-specific names.
	Reserved []string

	Now time.Time
}

// Assemble builds the claim set for a new token. Timestamps are truncated
// to whole seconds since that is all a JWT can carry.
func Assemble(p AssembleParams) (jwt.MapClaims, error) {
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedClaim, p.Kind)
	}
	if p.Subject == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrMalformedClaim)
	}

	for key := range p.Custom {
		if isReserved(key, p.Reserved) {
			return nil, fmt.Errorf("%w: %q", ErrReservedClaim, key)
		}
	}

	roles := NormalizeRoles(p.Roles)
	for _, r := range roles {
		if strings.Contains(r, ",") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRole, r)
		}
	}

	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	iat := now.UTC().Truncate(time.Second)
	exp := p.TTL.AddTo(iat)

	claims := jwt.MapClaims{}
	for k, v := range p.Custom {
		claims[k] = v
	}

	claims[ClaimID] = p.Subject
	claims[ClaimKind] = string(p.Kind)
	claims[ClaimRoles] = strings.Join(roles, ",")
	claims[ClaimJTI] = NewJTI()
	claims[ClaimIssuedAt] = iat.Unix()
	claims[ClaimExpiresAt] = exp.Unix()
	if p.Issuer != "" {
		claims[ClaimIssuer] = p.Issuer
	}
	if p.RefreshExpiresAt != nil {
		claims[ClaimRefreshExpiry] = p.RefreshExpiresAt.UTC().Unix()
	}

	return claims, nil
}

// Disassemble turns raw claims back into a Token. id, kind, exp and jti are
// mandatory; everything not reserved ends up in Token.Custom.
func Disassemble(raw map[string]any, extraReserved ...string) (Token, error) {
	var tok Token

	subject, ok := raw[ClaimID].(string)
	if !ok || subject == "" {
		return Token{}, fmt.Errorf("%w: missing %s", ErrMalformedClaim, ClaimID)
	}
	tok.Subject = subject

	kind, ok := raw[ClaimKind].(string)
	if !ok || !Kind(kind).Valid() {
		return Token{}, fmt.Errorf("%w: missing or unknown %s", ErrMalformedClaim, ClaimKind)
	}
	tok.Kind = Kind(kind)

	jti, ok := raw[ClaimJTI].(string)
	if !ok || jti == "" {
		return Token{}, fmt.Errorf("%w: missing %s", ErrMalformedClaim, ClaimJTI)
	}
	tok.ID = jti

	exp, ok := numericDate(raw[ClaimExpiresAt])
	if !ok {
		return Token{}, fmt.Errorf("%w: missing %s", ErrMalformedClaim, ClaimExpiresAt)
	}
	tok.ExpiresAt = exp

	if v, present := raw[ClaimIssuedAt]; present {
		iat, ok := numericDate(v)
		if !ok {
			return Token{}, fmt.Errorf("%w: bad %s", ErrMalformedClaim, ClaimIssuedAt)
		}
		tok.IssuedAt = iat
	}

	if v, present := raw[ClaimRefreshExpiry]; present {
		rf, ok := numericDate(v)
		if !ok {
			return Token{}, fmt.Errorf("%w: bad %s", ErrMalformedClaim, ClaimRefreshExpiry)
		}
		tok.RefreshExpiresAt = &rf
	}

	if v, present := raw[ClaimIssuer]; present {
		iss, ok := v.(string)
		if !ok {
			return Token{}, fmt.Errorf("%w: bad %s", ErrMalformedClaim, ClaimIssuer)
		}
		tok.Issuer = iss
	}

	roles, err := roleClaim(raw[ClaimRoles])
	if err != nil {
		return Token{}, err
	}
	tok.Roles = roles

	for k, v := range raw {
		if isReserved(k, extraReserved) {
			continue
		}
		if tok.Custom == nil {
			tok.Custom = make(map[string]any)
		}
		tok.Custom[k] = v
	}

	return tok, nil
}

// NormalizeRoles trims each role, drops empty entries and later duplicates,
// and keeps the original order.
func NormalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" || slices.Contains(out, r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// roleClaim accepts either the comma-joined string we write or a JSON list.
func roleClaim(v any) ([]string, error) {
	switch r := v.(type) {
	case nil:
		return []string{}, nil
	case string:
		return NormalizeRoles(strings.Split(r, ",")), nil
	case []string:
		return NormalizeRoles(r), nil
	case []any:
		roles := make([]string, 0, len(r))
		for _, item := range r {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: non-string role", ErrMalformedClaim)
			}
			roles = append(roles, s)
		}
		return NormalizeRoles(roles), nil
	default:
		return nil, fmt.Errorf("%w: bad %s", ErrMalformedClaim, ClaimRoles)
	}
}

// numericDate reads a JWT NumericDate that may have come straight from
// Assemble (int64) or through a JSON decoder (float64 or json.Number).
func numericDate(v any) (time.Time, bool) {
	var secs int64
	switch n := v.(type) {
	case int64:
		secs = n
	case int:
		secs = int64(n)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return time.Time{}, false
		}
		secs = int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return time.Time{}, false
			}
			i = int64(f)
		}
		secs = i
	default:
		return time.Time{}, false
	}
	return time.Unix(secs, 0).UTC(), true
}

func isReserved(key string, extra []string) bool {
	return slices.Contains(ReservedClaims, key) || slices.Contains(extra, key)
}

// NewJTI returns a fresh, lexically sortable token identifier.
func NewJTI() string {
	return idx.New().String()
}
