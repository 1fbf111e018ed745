package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/warden/internal/guard/domain"
	"github.com/aussiebroadwan/warden/internal/guard/store"
)

type usersRepo struct {
	db  dbtx
	now func() time.Time
}

const principalColumns = `id, username, email, password_hash, roles, active,
	totp_secret, totp_last_counter, totp_pending_secret, created_at, updated_at`

func (r *usersRepo) GetByID(ctx context.Context, id string) (domain.Principal, error) {
	return r.getOne(ctx, `SELECT `+principalColumns+` FROM principals WHERE id = ?`, id)
}

func (r *usersRepo) GetByUsername(ctx context.Context, username string) (domain.Principal, error) {
	return r.getOne(ctx, `SELECT `+principalColumns+` FROM principals WHERE username = ?`, username)
}

func (r *usersRepo) GetByEmail(ctx context.Context, email string) (domain.Principal, error) {
	return r.getOne(ctx, `SELECT `+principalColumns+` FROM principals WHERE email = ?`, email)
}

func (r *usersRepo) getOne(ctx context.Context, query string, arg any) (domain.Principal, error) {
	var (
		p                    domain.Principal
		roles                string
		active               int64
		secret, pending      sql.NullString
		counter              sql.NullInt64
		createdAt, updatedAt int64
	)

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&p.ID, &p.Username, &p.Email, &p.PasswordHash, &roles, &active,
		&secret, &counter, &pending, &createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Principal{}, mapNotFound(err)
	}

	if p.Roles, err = decodeRoles(roles); err != nil {
		return domain.Principal{}, err
	}
	p.Active = active != 0
	p.TOTPSecret = mapNullStringPtr(secret)
	p.TOTPLastCounter = mapNullInt64Ptr(counter)
	p.TOTPPendingSecret = mapNullStringPtr(pending)
	p.CreatedAt = unixTime(createdAt)
	p.UpdatedAt = unixTime(updatedAt)
	return p, nil
}

func (r *usersRepo) Create(ctx context.Context, p domain.Principal) error {
	roles, err := encodeRoles(p.Roles)
	if err != nil {
		return err
	}

	now := r.now().Unix()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO principals (`+principalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Username, p.Email, p.PasswordHash, roles, boolInt(p.Active),
		mapOptionalString(p.TOTPSecret), mapOptionalInt64(p.TOTPLastCounter),
		mapOptionalString(p.TOTPPendingSecret), now, now,
	)
	return mapConstraint(err)
}

func (r *usersRepo) SetActive(ctx context.Context, id string, active bool) error {
	return requireRow(r.db.ExecContext(ctx,
		`UPDATE principals SET active = ?, updated_at = ? WHERE id = ?`,
		boolInt(active), r.now().Unix(), id))
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, id string, hash string) error {
	return requireRow(r.db.ExecContext(ctx,
		`UPDATE principals SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, r.now().Unix(), id))
}

func (r *usersRepo) UpdateRoles(ctx context.Context, id string, roles []string) error {
	encoded, err := encodeRoles(roles)
	if err != nil {
		return err
	}
	return requireRow(r.db.ExecContext(ctx,
		`UPDATE principals SET roles = ?, updated_at = ? WHERE id = ?`,
		encoded, r.now().Unix(), id))
}

func (r *usersRepo) SetTOTPSecret(ctx context.Context, id string, secret *string, lastCounter *int64) error {
	return requireRow(r.db.ExecContext(ctx, `
		UPDATE principals
		SET totp_secret = ?, totp_last_counter = ?, totp_pending_secret = NULL, updated_at = ?
		WHERE id = ?`,
		mapOptionalString(secret), mapOptionalInt64(lastCounter), r.now().Unix(), id))
}

func (r *usersRepo) SetPendingTOTPSecret(ctx context.Context, id string, secret *string) error {
	return requireRow(r.db.ExecContext(ctx,
		`UPDATE principals SET totp_pending_secret = ?, updated_at = ? WHERE id = ?`,
		mapOptionalString(secret), r.now().Unix(), id))
}

// AdvanceTOTPCounter is a single conditional UPDATE so two requests racing
// with the same code cannot both succeed.
func (r *usersRepo) AdvanceTOTPCounter(ctx context.Context, id string, counter int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE principals
		SET totp_last_counter = ?, updated_at = ?
		WHERE id = ? AND (totp_last_counter IS NULL OR totp_last_counter < ?)`,
		counter, r.now().Unix(), id, counter)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// Distinguish a missing principal from a lost race.
	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM principals WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return mapNotFound(err)
	}
	return store.ErrStale
}

func (r *usersRepo) Delete(ctx context.Context, id string) error {
	return requireRow(r.db.ExecContext(ctx, `DELETE FROM principals WHERE id = ?`, id))
}

func (r *usersRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM principals`).Scan(&n)
	return n, err
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
