package authsdk

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/warden/pkg/jwtx"
)

// SDKClient is a client for the warden service.
// It provides access to unauthenticated operations and can create authenticated Sessions.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSDKClient creates a new client for the service at baseURL.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Login authenticates with a username and password. When the principal has
// TOTP enabled and totpCode is empty the error matches ErrTOTPRequired.
func (c *SDKClient) Login(ctx context.Context, username, password, totpCode string) (*Session, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/login", loginRequest{
		Username: username,
		Password: password,
		TOTPCode: totpCode,
	})
	if err != nil {
		return nil, err
	}

	var pair TokenPair
	if err := decodeJSON(resp, &pair, http.StatusOK); err != nil {
		return nil, err
	}
	return c.NewSession(pair), nil
}

// Refresh exchanges a refresh token for a new token pair.
func (c *SDKClient) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/refresh", refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, err
	}

	var pair TokenPair
	if err := decodeJSON(resp, &pair, http.StatusOK); err != nil {
		return nil, err
	}
	return &pair, nil
}

// AuthenticateWithRefreshToken creates a session from a stored refresh token.
func (c *SDKClient) AuthenticateWithRefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	pair, err := c.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return c.NewSession(*pair), nil
}

// Register starts self-service registration. The confirmation token is
// delivered by mail, never in the response.
func (c *SDKClient) Register(ctx context.Context, username, email, password string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/register", registerRequest{
		Username: username,
		Email:    email,
		Password: password,
	})
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil, http.StatusAccepted)
}

// FinalizeRegistration activates the account named by a registration token
// and logs it in.
func (c *SDKClient) FinalizeRegistration(ctx context.Context, token string) (*Session, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/register/finalize", tokenRequest{Token: token})
	if err != nil {
		return nil, err
	}

	var pair TokenPair
	if err := decodeJSON(resp, &pair, http.StatusOK); err != nil {
		return nil, err
	}
	return c.NewSession(pair), nil
}

// RequestPasswordReset asks for a reset mail. The server answers the same
// way whether or not the address is registered.
func (c *SDKClient) RequestPasswordReset(ctx context.Context, email string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/reset", resetRequest{Email: email})
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil, http.StatusAccepted)
}

// ResetPassword sets a new password using a reset token.
func (c *SDKClient) ResetPassword(ctx context.Context, token, password string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/reset/finalize", tokenRequest{
		Token:    token,
		Password: password,
	})
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// GetJWKS fetches the public keys used to verify tokens.
func (c *SDKClient) GetJWKS(ctx context.Context) (*jwtx.JWKS, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/.well-known/jwks.json", nil)
	if err != nil {
		return nil, err
	}

	var jwks jwtx.JWKS
	if err := decodeJSON(resp, &jwks, http.StatusOK); err != nil {
		return nil, err
	}
	return &jwks, nil
}

// GetLiveness reports whether the process is up.
func (c *SDKClient) GetLiveness(ctx context.Context) (*HealthResponse, error) {
	return c.health(ctx, "/livez")
}

// GetReadiness reports whether the service and its dependencies are ready.
// A degraded service returns an *APIError with status 503.
func (c *SDKClient) GetReadiness(ctx context.Context) (*HealthResponse, error) {
	return c.health(ctx, "/readyz")
}

func (c *SDKClient) health(ctx context.Context, path string) (*HealthResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var health HealthResponse
	if err := decodeJSON(resp, &health, http.StatusOK); err != nil {
		return nil, err
	}
	return &health, nil
}

// NewSession wraps an existing token pair, for example one restored from
// storage. The session still refreshes automatically.
func (c *SDKClient) NewSession(pair TokenPair) *Session {
	return &Session{
		client:       c,
		accessToken:  pair.AccessToken,
		refreshToken: pair.RefreshToken,
		expiresAt:    pair.ExpiresAt.Add(-refreshBuffer),
	}
}
