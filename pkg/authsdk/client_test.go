package authsdk_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/warden/internal/guard/app"
	"github.com/aussiebroadwan/warden/internal/guard/service"
	"github.com/aussiebroadwan/warden/pkg/authsdk"
	"github.com/aussiebroadwan/warden/pkg/jwtx"
	"github.com/aussiebroadwan/warden/pkg/totpx"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *authsdk.SDKClient {
	t.Helper()

	a, err := app.New(app.Config{
		Env:          "test",
		LogLevel:     "error",
		DatabaseFile: ":memory:",
		PepperFile:   filepath.Join(t.TempDir(), "pepper"),
		Tokens: app.TokensConfig{
			Issuer:          "warden-test",
			Algorithm:       jwtx.AlgorithmEdDSA,
			NumKeys:         1,
			AccessTTL:       "15 minutes",
			RefreshTTL:      "7 days",
			RegistrationTTL: "1 day",
			ResetTTL:        "30 minutes",
			DefaultRoles:    []string{"member"},
		},
		TOTP:       app.TOTPConfig{Issuer: "warden-test", Window: "1"},
		Revocation: app.RevocationConfig{Backend: app.BackendSQLite},
		HTTP:       app.HTTPConfig{AdminRole: "admin"},
	}, app.WithLogOutput(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	for _, p := range []service.RegisterParams{
		{Username: "walter", Email: "walter@example.com", Password: "shomer-shabbos", Roles: []string{"admin"}},
		{Username: "donny", Email: "donny@example.com", Password: "phone-is-ringing", Roles: []string{"member"}},
	} {
		_, err := a.AuthService().Provision(context.Background(), p)
		require.NoError(t, err)
	}

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	return authsdk.NewSDKClient(srv.URL + "/")
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	client := newServer(t)

	_, err := client.Login(ctx, "walter", "wrong-password", "")
	require.ErrorIs(t, err, authsdk.ErrInvalidCredentials)

	var apiErr *authsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	session, err := client.Login(ctx, "walter", "shomer-shabbos", "")
	require.NoError(t, err)
	require.NotEmpty(t, session.AccessToken())
	require.NotEmpty(t, session.RefreshToken())

	me, err := session.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, "walter", me.Username)
	require.Equal(t, []string{"admin"}, me.Roles)
	require.False(t, me.TOTPEnabled)
	require.NotNil(t, me.RefreshExpiresAt)
}

func TestSession_RefreshesExpiredAccessToken(t *testing.T) {
	ctx := context.Background()
	client := newServer(t)

	session, err := client.Login(ctx, "walter", "shomer-shabbos", "")
	require.NoError(t, err)

	stale := client.NewSession(authsdk.TokenPair{
		AccessToken:  "stale",
		RefreshToken: session.RefreshToken(),
		ExpiresAt:    time.Now(),
	})

	// Concurrent callers share a single refresh; with rotation a second
	// refresh using the old token would be rejected.
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := stale.Me(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.NotEqual(t, "stale", stale.AccessToken())
	require.NotEqual(t, session.RefreshToken(), stale.RefreshToken())

	// The rotated refresh token is spent.
	_, err = client.Refresh(ctx, session.RefreshToken())
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)

	restored, err := client.AuthenticateWithRefreshToken(ctx, stale.RefreshToken())
	require.NoError(t, err)
	_, err = restored.Me(ctx)
	require.NoError(t, err)

	noRefresh := client.NewSession(authsdk.TokenPair{AccessToken: "stale", ExpiresAt: time.Now()})
	_, err = noRefresh.Me(ctx)
	require.Error(t, err)
}

func TestSession_TOTP(t *testing.T) {
	ctx := context.Background()
	client := newServer(t)

	session, err := client.Login(ctx, "walter", "shomer-shabbos", "")
	require.NoError(t, err)

	err = session.ConfirmTOTP(ctx, "123456")
	require.ErrorIs(t, err, authsdk.ErrTOTPNotEnrolled)

	enrollment, err := session.EnrollTOTP(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.Secret)
	require.Equal(t, "warden-test", enrollment.Issuer)

	png, err := session.EnrollTOTPQRCode(ctx)
	require.NoError(t, err)
	require.Equal(t, "\x89PNG", string(png[:4]))

	// The PNG call replaced the pending secret, so enroll once more.
	enrollment, err = session.EnrollTOTP(ctx)
	require.NoError(t, err)

	v := &totpx.Verifier{}
	counter := v.Counter(time.Now())
	code, err := v.Code(enrollment.Secret, counter)
	require.NoError(t, err)

	require.ErrorIs(t, session.ConfirmTOTP(ctx, "abcdef"), authsdk.ErrInvalidCode)
	require.NoError(t, session.ConfirmTOTP(ctx, code))

	me, err := session.Me(ctx)
	require.NoError(t, err)
	require.True(t, me.TOTPEnabled)

	_, err = session.EnrollTOTP(ctx)
	require.ErrorIs(t, err, authsdk.ErrTOTPAlreadyEnabled)

	_, err = client.Login(ctx, "walter", "shomer-shabbos", "")
	require.ErrorIs(t, err, authsdk.ErrTOTPRequired)

	// The confirming code is spent; the next step is inside the window.
	next, err := v.Code(enrollment.Secret, counter+1)
	require.NoError(t, err)
	_, err = client.Login(ctx, "walter", "shomer-shabbos", next)
	require.NoError(t, err)

	require.ErrorIs(t, session.DisableTOTP(ctx, "abcdef"), authsdk.ErrInvalidCode)
}

func TestSession_RevokeAndLogout(t *testing.T) {
	ctx := context.Background()
	client := newServer(t)

	admin, err := client.Login(ctx, "walter", "shomer-shabbos", "")
	require.NoError(t, err)
	member, err := client.Login(ctx, "donny", "phone-is-ringing", "")
	require.NoError(t, err)

	_, err = member.RevokeToken(ctx, admin.RefreshToken(), "")
	require.ErrorIs(t, err, authsdk.ErrInsufficientRole)

	var apiErr *authsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusForbidden, apiErr.StatusCode)

	revoked, err := admin.RevokeToken(ctx, member.RefreshToken(), "shut up, donny")
	require.NoError(t, err)
	require.Equal(t, string(jwtx.KindRefresh), revoked.Kind)
	require.NotEmpty(t, revoked.JTI)

	_, err = client.Refresh(ctx, member.RefreshToken())
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)

	_, err = admin.RevokeToken(ctx, "not-a-jwt", "")
	require.ErrorIs(t, err, authsdk.ErrInvalidRequest)

	refresh := admin.RefreshToken()
	require.NoError(t, admin.Logout(ctx))
	require.Empty(t, admin.RefreshToken())

	_, err = admin.Me(ctx)
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)
	_, err = client.Refresh(ctx, refresh)
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)
}

func TestRegistrationAndReset(t *testing.T) {
	ctx := context.Background()
	client := newServer(t)

	require.NoError(t, client.Register(ctx, "theodore", "theodore@example.com", "surfing-the-pacific"))

	err := client.Register(ctx, "walter", "other@example.com", "surfing-the-pacific")
	require.ErrorIs(t, err, authsdk.ErrIdentifierTaken)

	err = client.Register(ctx, "bunny", "not-an-email", "surfing-the-pacific")
	require.ErrorIs(t, err, authsdk.ErrInvalidRequest)

	// Pending accounts cannot log in until they are confirmed.
	_, err = client.Login(ctx, "theodore", "surfing-the-pacific", "")
	require.ErrorIs(t, err, authsdk.ErrAccountInactive)

	_, err = client.FinalizeRegistration(ctx, "garbage")
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)

	require.NoError(t, client.RequestPasswordReset(ctx, "walter@example.com"))
	require.NoError(t, client.RequestPasswordReset(ctx, "nobody@example.com"))

	err = client.ResetPassword(ctx, "garbage", "a-brand-new-password")
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)
}

func TestSystemEndpoints(t *testing.T) {
	ctx := context.Background()
	client := newServer(t)

	jwks, err := client.GetJWKS(ctx)
	require.NoError(t, err)
	require.Len(t, jwks.Keys, 1)

	live, err := client.GetLiveness(ctx)
	require.NoError(t, err)
	require.Equal(t, app.BuildVersion, live.Version)

	ready, err := client.GetReadiness(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", ready.Checks["database"])
}

func TestParseErrorResponse_NonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := authsdk.NewSDKClient(srv.URL).GetLiveness(context.Background())

	var apiErr *authsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	require.Equal(t, authsdk.ErrorCodeServerError, apiErr.Code)
}
