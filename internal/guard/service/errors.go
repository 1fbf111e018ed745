package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aussiebroadwan/warden/pkg/jwtx"
)

var (
	// ErrConfiguration means the engine was built with missing or invalid
	// settings. It is fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	ErrReservedClaim = jwtx.ErrReservedClaim

	ErrMalformedToken = errors.New("malformed token")
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token expired")
	ErrRevokedToken   = errors.New("token revoked")
	ErrWrongTokenType = errors.New("wrong token type")

	// ErrAuthentication is the one error callers see for a failed login,
	// whatever the cause. Refinements below unwrap to it.
	ErrAuthentication = errors.New("authentication failed")

	ErrTOTPRequired      = &authError{msg: "totp code required"}
	ErrInactivePrincipal = &authError{msg: "principal is inactive"}

	ErrMissingRole     = errors.New("missing role")
	ErrIdentifierTaken = errors.New("username or email already taken")

	ErrTOTPAlreadyEnabled = errors.New("totp already enabled")
	ErrTOTPNotEnrolled    = errors.New("totp not enrolled")
	ErrWeakPassword       = errors.New("password does not meet requirements")
	ErrInvalidInput       = errors.New("invalid input")
)

type authError struct{ msg string }

func (e *authError) Error() string { return e.msg }
func (e *authError) Unwrap() error { return ErrAuthentication }

// IsTokenError reports whether err came out of token decoding.
func IsTokenError(err error) bool {
	for _, target := range []error{ErrMalformedToken, ErrInvalidToken, ErrExpiredToken, ErrRevokedToken, ErrWrongTokenType} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// MissingRoleError is returned when a token fails a role policy. For a
// Required policy Missing lists every absent role in requirement order;
// for Accepted it lists all accepted roles.
type MissingRoleError struct {
	Policy  string
	Missing []string
}

func (e *MissingRoleError) Error() string {
	return fmt.Sprintf("missing role: %s requires %s", e.Policy, strings.Join(e.Missing, ", "))
}

func (e *MissingRoleError) Unwrap() error { return ErrMissingRole }
