package domain

import "time"

// Principal is an account that can authenticate.
type Principal struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string   // PHC string, see cryptox.SchemeHasher
	Roles        []string // ordered, duplicates tolerated
	Active       bool

	// TOTPSecret is the confirmed base32 secret. A principal with a secret
	// must present a code when TOTP is enforced.
	TOTPSecret *string
	// TOTPLastCounter is the last accepted time step; it only moves forward.
	TOTPLastCounter *int64
	// TOTPPendingSecret holds an enrolled secret until its first code is
	// confirmed.
	TOTPPendingSecret *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasTOTP reports whether the principal has a confirmed second factor.
func (p Principal) HasTOTP() bool {
	return p.TOTPSecret != nil && *p.TOTPSecret != ""
}
