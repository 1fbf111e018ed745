package service_test

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"github.com/aussiebroadwan/warden/internal/guard/service"
	"github.com/stretchr/testify/require"
)

func TestMFA_EnrollConfirmLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addPrincipal(t, "the_dude", "abides", "operator")

	enrollment, err := f.mfa.Enroll(ctx, p.ID)
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.Secret)
	require.Contains(t, enrollment.URI, "otpauth://totp/")
	require.Equal(t, "warden", enrollment.Issuer)
	require.Equal(t, "the_dude", enrollment.Account)

	_, err = png.Decode(bytes.NewReader(enrollment.QRCode))
	require.NoError(t, err)

	// Pending secrets are not enforced.
	_, err = f.auth.Authenticate(ctx, "the_dude", "abides", "")
	require.NoError(t, err)

	step := f.totp.Counter(f.clock.Now())
	require.ErrorIs(t, f.mfa.Confirm(ctx, p.ID, f.code(t, enrollment.Secret, step+5)), service.ErrAuthentication)

	code := f.code(t, enrollment.Secret, step)
	require.NoError(t, f.mfa.Confirm(ctx, p.ID, code))

	stored, err := f.store.Users().GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, stored.HasTOTP())
	require.Nil(t, stored.TOTPPendingSecret)
	require.Equal(t, step, *stored.TOTPLastCounter)

	// The confirming code cannot be reused to log in.
	_, err = f.auth.Authenticate(ctx, "the_dude", "abides", code)
	require.ErrorIs(t, err, service.ErrAuthentication)

	_, err = f.auth.Authenticate(ctx, "the_dude", "abides", "")
	require.ErrorIs(t, err, service.ErrTOTPRequired)

	_, err = f.mfa.Enroll(ctx, p.ID)
	require.ErrorIs(t, err, service.ErrTOTPAlreadyEnabled)
	require.ErrorIs(t, f.mfa.Confirm(ctx, p.ID, code), service.ErrTOTPAlreadyEnabled)
}

func TestMFA_ConfirmWithoutEnroll(t *testing.T) {
	f := newFixture(t)
	p := f.addPrincipal(t, "the_dude", "abides", "operator")

	require.ErrorIs(t, f.mfa.Confirm(context.Background(), p.ID, "123456"), service.ErrTOTPNotEnrolled)
}

func TestMFA_Disable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addPrincipal(t, "the_dude", "abides", "operator")

	require.ErrorIs(t, f.mfa.Disable(ctx, p.ID, "123456"), service.ErrTOTPNotEnrolled)

	step := f.totp.Counter(f.clock.Now())
	secret := f.enableTOTP(t, p, ptr(step))

	// The current step was already used.
	require.ErrorIs(t, f.mfa.Disable(ctx, p.ID, f.code(t, secret, step)), service.ErrAuthentication)

	require.NoError(t, f.mfa.Disable(ctx, p.ID, f.code(t, secret, step+1)))

	stored, err := f.store.Users().GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, stored.HasTOTP())
	require.Nil(t, stored.TOTPLastCounter)

	_, err = f.auth.Authenticate(ctx, "the_dude", "abides", "")
	require.NoError(t, err)
}
