package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/warden/internal/guard/domain"
)

type revocationsRepo struct {
	db  dbtx
	now func() time.Time
}

func (r *revocationsRepo) Revoke(ctx context.Context, rev domain.Revocation) (bool, error) {
	revokedAt := rev.RevokedAt
	if revokedAt.IsZero() {
		revokedAt = r.now()
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO revocations (jti, subject, kind, reason, expires_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (jti) DO NOTHING`,
		rev.JTI, rev.Subject, rev.Kind, rev.Reason, rev.ExpiresAt.Unix(), revokedAt.Unix())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *revocationsRepo) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM revocations WHERE jti = ?`, jti).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *revocationsRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM revocations WHERE expires_at < ?`, now.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
