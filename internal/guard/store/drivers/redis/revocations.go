// Package redis keeps the revocation list in Redis so several instances
// can share it. Entries expire on their own when the revoked token would
// have expired.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/warden/internal/guard/domain"
	"github.com/aussiebroadwan/warden/internal/guard/store"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "warden:rev:"

type Revocations struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ store.Revocations = (*Revocations)(nil)

// NewRevocations stores entries under prefix, defaulting to "warden:rev:".
func NewRevocations(rdb redis.UniversalClient, prefix string) *Revocations {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Revocations{rdb: rdb, prefix: prefix, now: time.Now}
}

type record struct {
	Subject   string `json:"sub,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Reason    string `json:"reason,omitempty"`
	ExpiresAt int64  `json:"exp"`
	RevokedAt int64  `json:"revoked_at"`
}

func (r *Revocations) key(jti string) string { return r.prefix + jti }

// Revoke stores the entry until rev.ExpiresAt. A token that has already
// expired needs no entry and reports false.
func (r *Revocations) Revoke(ctx context.Context, rev domain.Revocation) (bool, error) {
	now := r.now()
	if !rev.ExpiresAt.After(now) {
		return false, nil
	}

	revokedAt := rev.RevokedAt
	if revokedAt.IsZero() {
		revokedAt = now
	}

	val, err := json.Marshal(record{
		Subject:   rev.Subject,
		Kind:      rev.Kind,
		Reason:    rev.Reason,
		ExpiresAt: rev.ExpiresAt.Unix(),
		RevokedAt: revokedAt.Unix(),
	})
	if err != nil {
		return false, err
	}

	// SET NX answers nil when the key already exists.
	err = r.rdb.SetArgs(ctx, r.key(rev.JTI), val, redis.SetArgs{
		Mode:     "NX",
		ExpireAt: rev.ExpiresAt,
	}).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis: revoke: %w", err)
	}
	return true, nil
}

func (r *Revocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: is revoked: %w", err)
	}
	return n > 0, nil
}

// DeleteExpired has nothing to do: Redis drops entries at their expiry.
func (r *Revocations) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *Revocations) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
