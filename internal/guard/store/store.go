package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/warden/internal/guard/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	// ErrStale is returned by compare-and-swap updates that lost the race.
	ErrStale = errors.New("store: stale update")
)

// Store is the root data access interface. Drivers expose sub-repositories
// so transactions can hand out the same repositories bound to a tx.
type Store interface {
	Users() Users
	Revocations() Revocations

	ApplyMigrations() error

	// WithTx runs fn inside a read/write transaction. fn receives a Store
	// scoped to the transaction; it is committed if fn returns nil and
	// rolled back otherwise. Transactions do not nest.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	Close() error
	Ping(ctx context.Context) error
}

type Users interface {
	GetByID(ctx context.Context, id string) (domain.Principal, error)
	GetByUsername(ctx context.Context, username string) (domain.Principal, error)
	GetByEmail(ctx context.Context, email string) (domain.Principal, error)

	// Create inserts p. Username and email are unique, case-insensitively.
	Create(ctx context.Context, p domain.Principal) error

	SetActive(ctx context.Context, id string, active bool) error
	UpdatePasswordHash(ctx context.Context, id string, hash string) error
	UpdateRoles(ctx context.Context, id string, roles []string) error

	// SetTOTPSecret replaces the confirmed secret and its counter and clears
	// any pending secret. A nil secret disables TOTP.
	SetTOTPSecret(ctx context.Context, id string, secret *string, lastCounter *int64) error

	// SetPendingTOTPSecret stores a secret awaiting confirmation.
	SetPendingTOTPSecret(ctx context.Context, id string, secret *string) error

	// AdvanceTOTPCounter stores counter only if it is greater than the
	// stored one, returning ErrStale otherwise.
	AdvanceTOTPCounter(ctx context.Context, id string, counter int64) error

	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}

// RevocationChecker answers whether a token id has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Revocations is the writable revocation list.
type Revocations interface {
	RevocationChecker

	// Revoke records r and reports whether this call added it. Revoking an
	// already revoked id is not an error; it reports false. At most one of
	// several concurrent calls for the same id reports true.
	Revoke(ctx context.Context, r domain.Revocation) (bool, error)

	// DeleteExpired purges records whose token expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
