package jwtx

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrAlgMismatch = errors.New("jwtx: algorithm mismatch")
	ErrUnknownKID  = errors.New("jwtx: unknown kid")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")
)

// Verifier checks a token's signature and structure and hands back the raw
// claims. It deliberately does not look at exp, nbf or iss: the caller owns
// the clock and decides which claims matter.
type Verifier interface {
	Verify(token string) (jwt.MapClaims, error)
}

// KeySetVerifier verifies tokens against the keys in a KeySet, selecting
// the key by the token's kid header.
type KeySetVerifier struct {
	keys   *KeySet
	parser *jwt.Parser
}

// NewVerifier creates a verifier accepting only the listed algorithms.
func NewVerifier(keys *KeySet, algs ...string) *KeySetVerifier {
	return &KeySetVerifier{
		keys: keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods(algs),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// Verify validates the JWT signature and returns its claims.
func (v *KeySetVerifier) Verify(tokenStr string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}

	token, err := v.parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		// Need the kid to know which key to use
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: missing kid", ErrUnknownKID)
		}

		alg, key, err := v.keys.Get(kid)
		if err != nil {
			return nil, fmt.Errorf("%w %q", ErrUnknownKID, kid)
		}

		// A key is only ever valid for the algorithm it was registered with.
		if t.Method.Alg() != alg {
			return nil, ErrAlgMismatch
		}
		return key, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !token.Valid {
		return nil, ErrInvalidSig
	}

	return claims, nil
}

// classify collapses jwt library errors onto our sentinel errors.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKID):
		return ErrUnknownKID
	case errors.Is(err, ErrAlgMismatch):
		return ErrAlgMismatch
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidSig, err)
	}
}

// ParseUnverified decodes the claims of a compact JWT without checking its
// signature. Never base an access decision on the result.
func ParseUnverified(tokenStr string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return claims, nil
}
