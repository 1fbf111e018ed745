package domain

import "time"

// Revocation marks a token id as unusable until the token would have
// expired anyway, after which the record can be purged.
type Revocation struct {
	JTI       string
	Subject   string
	Kind      string
	Reason    string
	ExpiresAt time.Time
	RevokedAt time.Time
}
