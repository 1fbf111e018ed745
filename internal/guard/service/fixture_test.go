package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/warden/internal/guard/domain"
	"github.com/aussiebroadwan/warden/internal/guard/service"
	"github.com/aussiebroadwan/warden/internal/guard/store"
	"github.com/aussiebroadwan/warden/internal/guard/store/drivers/sqlite"
	"github.com/aussiebroadwan/warden/pkg/cryptox"
	"github.com/aussiebroadwan/warden/pkg/durationx"
	"github.com/aussiebroadwan/warden/pkg/idx"
	"github.com/aussiebroadwan/warden/pkg/jwtx"
	"github.com/aussiebroadwan/warden/pkg/mailx"
	"github.com/aussiebroadwan/warden/pkg/totpx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// clock is a settable time source shared by every component of a fixture.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store   *sqlite.Store
	keys    *jwtx.KeyManager
	tokens  *service.TokenEngine
	auth    *service.AuthService
	mfa     *service.MFAService
	mail    *mailx.Recorder
	hasher  cryptox.PasswordHasher
	totp    *totpx.Verifier
	clock   *clock
	metrics *service.Metrics
	reg     *prometheus.Registry
	cfg     service.AuthConfig
}

type fixtureOption func(*service.AuthConfig)

func withoutTOTPEnforcement() fixtureOption {
	return func(c *service.AuthConfig) { c.EnforceTOTP = false }
}

func withoutRotation() fixtureOption {
	return func(c *service.AuthConfig) { c.RefreshRotation = false }
}

func withoutRefresh() fixtureOption {
	return func(c *service.AuthConfig) { c.IssueRefresh = false }
}

var testLifetimes = map[jwtx.Kind]durationx.Duration{
	jwtx.KindAccess:       durationx.MustParse("1 hour"),
	jwtx.KindRefresh:      durationx.MustParse("30 days"),
	jwtx.KindRegistration: durationx.MustParse("1 day"),
	jwtx.KindReset:        durationx.MustParse("30 minutes"),
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	return newFixtureAt(t, time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC), opts...)
}

func newFixtureAt(t *testing.T, now time.Time, opts ...fixtureOption) *fixture {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())
	t.Cleanup(func() { _ = s.Close() })

	keys, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA, NumKeys: 2})
	require.NoError(t, err)

	f := &fixture{
		store:  s,
		keys:   keys,
		mail:   &mailx.Recorder{},
		hasher: cryptox.BcryptHasher{Cost: bcrypt.MinCost},
		totp:   &totpx.Verifier{Issuer: "warden"},
		clock:  newClock(now),
		reg:    prometheus.NewRegistry(),
	}
	f.metrics = service.NewMetrics(f.reg)

	f.tokens, err = service.NewTokenEngine(service.TokenConfig{
		Signer:      keys,
		Verifier:    keys.Verifier,
		Issuer:      "warden-test",
		Lifetimes:   testLifetimes,
		Revocations: s.Revocations(),
		Metrics:     f.metrics,
		Now:         f.clock.Now,
	})
	require.NoError(t, err)

	cfg := service.AuthConfig{
		Store:           s,
		Tokens:          f.tokens,
		Hasher:          f.hasher,
		TOTP:            f.totp,
		EnforceTOTP:     true,
		IssueRefresh:    true,
		RefreshRotation: true,
		DefaultRoles:    []string{"member"},
		Mailer:          f.mail,
		Templates:       service.Templates{ConfirmURL: "https://warden.test/confirm?token={{.Token}}"},
		Metrics:         f.metrics,
		Now:             f.clock.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	f.cfg = cfg
	f.auth, err = service.NewAuthService(cfg)
	require.NoError(t, err)

	f.mfa = &service.MFAService{
		Store:   s,
		TOTP:    f.totp,
		Metrics: f.metrics,
		Now:     f.clock.Now,
	}
	return f
}

// addPrincipal stores an active principal with the given password.
func (f *fixture) addPrincipal(t *testing.T, username, password string, roles ...string) domain.Principal {
	t.Helper()

	hash, err := f.hasher.Hash(password)
	require.NoError(t, err)

	p := domain.Principal{
		ID:           idx.New().String(),
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Roles:        roles,
		Active:       true,
	}
	require.NoError(t, f.store.Users().Create(context.Background(), p))
	return p
}

// enableTOTP gives p a confirmed secret with the given last counter.
func (f *fixture) enableTOTP(t *testing.T, p domain.Principal, lastCounter *int64) string {
	t.Helper()

	enrollment, err := f.totp.Generate(p.Username)
	require.NoError(t, err)
	require.NoError(t, f.store.Users().SetTOTPSecret(context.Background(), p.ID, &enrollment.Secret, lastCounter))
	return enrollment.Secret
}

func (f *fixture) code(t *testing.T, secret string, counter int64) string {
	t.Helper()
	code, err := f.totp.Code(secret, counter)
	require.NoError(t, err)
	return code
}

func ptr[T any](v T) *T { return &v }

// withRevocations returns an AuthService configured like f.auth whose token
// engine reads and writes revs instead of the fixture store.
func (f *fixture) withRevocations(t *testing.T, revs store.Revocations) *service.AuthService {
	t.Helper()

	tokens, err := service.NewTokenEngine(service.TokenConfig{
		Signer:      f.keys,
		Verifier:    f.keys.Verifier,
		Issuer:      "warden-test",
		Lifetimes:   testLifetimes,
		Revocations: revs,
		Now:         f.clock.Now,
	})
	require.NoError(t, err)

	cfg := f.cfg
	cfg.Tokens = tokens
	cfg.Metrics = nil
	auth, err := service.NewAuthService(cfg)
	require.NoError(t, err)
	return auth
}

// lockstepRevocations holds every IsRevoked call until n of them have
// answered, so n consumers all pass the revocation check before any of them
// writes.
type lockstepRevocations struct {
	store.Revocations
	checked sync.WaitGroup
}

func newLockstepRevocations(inner store.Revocations, n int) *lockstepRevocations {
	l := &lockstepRevocations{Revocations: inner}
	l.checked.Add(n)
	return l
}

func (l *lockstepRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	revoked, err := l.Revocations.IsRevoked(ctx, jti)
	l.checked.Done()
	l.checked.Wait()
	return revoked, err
}

// failingRevocations answers checks from the wrapped list but refuses
// every write.
type failingRevocations struct {
	store.Revocations
}

func (failingRevocations) Revoke(context.Context, domain.Revocation) (bool, error) {
	return false, errors.New("revocation list unavailable")
}

// concurrently runs fn n times at once and collects the errors.
func concurrently(n int, fn func() error) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fn()
		}()
	}
	wg.Wait()
	return errs
}

// requireOneWinner asserts exactly one nil error, with the rest rejected
// as already revoked.
func requireOneWinner(t *testing.T, errs []error) {
	t.Helper()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, service.ErrRevokedToken)
	}
	require.Equal(t, 1, ok)
}
