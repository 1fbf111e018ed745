package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aussiebroadwan/warden/internal/guard/service"
	"github.com/aussiebroadwan/warden/internal/guard/store"
	"github.com/aussiebroadwan/warden/pkg/jwtx"
	"github.com/aussiebroadwan/warden/pkg/mailx"
	"github.com/stretchr/testify/require"
)

func TestRegister_AndFinalize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, err := f.auth.Register(ctx, service.RegisterParams{
		Username: "donny",
		Email:    "donny@example.com",
		Password: "you're out of your element",
	})
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	p, err := f.store.Users().GetByUsername(ctx, "donny")
	require.NoError(t, err)
	require.False(t, p.Active)
	require.Equal(t, []string{"member"}, p.Roles)

	// Not active yet.
	_, err = f.auth.Authenticate(ctx, "donny", "you're out of your element", "")
	require.ErrorIs(t, err, service.ErrInactivePrincipal)

	sent := f.mail.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "donny@example.com", sent[0].To)
	require.Equal(t, "Confirm your account", sent[0].Subject)
	require.Contains(t, sent[0].Body, "https://warden.test/confirm?token="+raw)

	pair, err := f.auth.FinalizeRegistration(ctx, raw)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)

	p, err = f.store.Users().GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, p.Active)

	_, err = f.auth.FinalizeRegistration(ctx, raw)
	require.ErrorIs(t, err, service.ErrRevokedToken)

	_, err = f.auth.Authenticate(ctx, "donny", "you're out of your element", "")
	require.NoError(t, err)
}

func TestRegister_ExplicitRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.auth.Register(ctx, service.RegisterParams{
		Username: "maude",
		Email:    "maude@example.com",
		Password: "vaginal-art",
		Roles:    []string{"artist", "admin", "artist"},
	})
	require.NoError(t, err)

	p, err := f.store.Users().GetByUsername(ctx, "maude")
	require.NoError(t, err)
	require.Equal(t, []string{"artist", "admin"}, p.Roles)
}

func TestRegister_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addPrincipal(t, "the_dude", "abides", "operator")

	tests := []struct {
		name   string
		params service.RegisterParams
		err    error
	}{
		{"empty username", service.RegisterParams{Email: "a@example.com", Password: "long enough"}, service.ErrInvalidInput},
		{"username with space", service.RegisterParams{Username: "the dude", Email: "a@example.com", Password: "long enough"}, service.ErrInvalidInput},
		{"bad email", service.RegisterParams{Username: "bunny", Email: "bunny", Password: "long enough"}, service.ErrInvalidInput},
		{"display name email", service.RegisterParams{Username: "bunny", Email: "Bunny <bunny@example.com>", Password: "long enough"}, service.ErrInvalidInput},
		{"short password", service.RegisterParams{Username: "bunny", Email: "bunny@example.com", Password: "toe"}, service.ErrWeakPassword},
		{"taken username", service.RegisterParams{Username: "THE_DUDE", Email: "other@example.com", Password: "long enough"}, service.ErrIdentifierTaken},
		{"taken email", service.RegisterParams{Username: "other", Email: "the_dude@example.com", Password: "long enough"}, service.ErrIdentifierTaken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.auth.Register(ctx, tt.params)
			require.ErrorIs(t, err, tt.err)
		})
	}

	require.Empty(t, f.mail.Sent())
	n, err := f.store.Users().Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

type failingMailer struct{}

func (failingMailer) Send(context.Context, mailx.Message) error {
	return errors.New("relay down")
}

func TestRegister_MailFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	auth, err := service.NewAuthService(service.AuthConfig{
		Store:  f.store,
		Tokens: f.tokens,
		Hasher: f.hasher,
		Mailer: failingMailer{},
		Now:    f.clock.Now,
	})
	require.NoError(t, err)

	_, err = auth.Register(ctx, service.RegisterParams{Username: "bunny", Email: "bunny@example.com", Password: "toe-for-ransom"})
	require.Error(t, err)

	_, err = f.store.Users().GetByUsername(ctx, "bunny")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRegister_WithoutMailer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	auth, err := service.NewAuthService(service.AuthConfig{
		Store:  f.store,
		Tokens: f.tokens,
		Hasher: f.hasher,
		Now:    f.clock.Now,
	})
	require.NoError(t, err)

	raw, err := auth.Register(ctx, service.RegisterParams{Username: "bunny", Email: "bunny@example.com", Password: "toe-for-ransom"})
	require.NoError(t, err)
	require.True(t, strings.Count(raw, ".") == 2)
}

func TestFinalizeRegistration_ConcurrentUseHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, err := f.auth.Register(ctx, service.RegisterParams{
		Username: "donny",
		Email:    "donny@example.com",
		Password: "you're out of your element",
	})
	require.NoError(t, err)

	const n = 3
	auth := f.withRevocations(t, newLockstepRevocations(f.store.Revocations(), n))
	requireOneWinner(t, concurrently(n, func() error {
		_, err := auth.FinalizeRegistration(ctx, raw)
		return err
	}))
}

func TestFinalizeRegistration_StaysInactiveWhenRevocationFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, err := f.auth.Register(ctx, service.RegisterParams{
		Username: "donny",
		Email:    "donny@example.com",
		Password: "you're out of your element",
	})
	require.NoError(t, err)

	auth := f.withRevocations(t, failingRevocations{f.store.Revocations()})
	_, err = auth.FinalizeRegistration(ctx, raw)
	require.Error(t, err)

	p, err := f.store.Users().GetByUsername(ctx, "donny")
	require.NoError(t, err)
	require.False(t, p.Active)
}

func TestFinalizeRegistration_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addPrincipal(t, "the_dude", "abides", "operator")

	access, err := f.tokens.Encode(jwtx.KindAccess, p, nil)
	require.NoError(t, err)
	_, err = f.auth.FinalizeRegistration(ctx, access)
	require.ErrorIs(t, err, service.ErrWrongTokenType)

	reg, err := f.tokens.Encode(jwtx.KindRegistration, p, nil)
	require.NoError(t, err)
	require.NoError(t, f.store.Users().Delete(ctx, p.ID))
	_, err = f.auth.FinalizeRegistration(ctx, reg)
	require.ErrorIs(t, err, service.ErrInvalidToken)
}

func TestProvision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.auth.Provision(ctx, service.RegisterParams{
		Username: " maude ",
		Email:    "maude@example.com",
		Password: "vaginal-art",
		Roles:    []string{"admin", "operator"},
	})
	require.NoError(t, err)
	require.True(t, p.Active)
	require.Equal(t, "maude", p.Username)
	require.Empty(t, f.mail.Sent())

	pair, err := f.auth.Authenticate(ctx, "maude", "vaginal-art", "")
	require.NoError(t, err)

	tok, err := f.auth.Tokens().Decode(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, []string{"admin", "operator"}, tok.Roles)

	_, err = f.auth.Provision(ctx, service.RegisterParams{
		Username: "maude",
		Email:    "other@example.com",
		Password: "vaginal-art",
	})
	require.ErrorIs(t, err, service.ErrIdentifierTaken)
}
