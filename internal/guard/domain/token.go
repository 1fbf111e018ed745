package domain

import "time"

// TokenPair is the result of a successful authentication. RefreshToken is
// empty when refresh tokens are not issued.
type TokenPair struct {
	AccessToken      string     `json:"access_token"`
	TokenType        string     `json:"token_type"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RefreshToken     string     `json:"refresh_token,omitempty"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at,omitempty"`
}
