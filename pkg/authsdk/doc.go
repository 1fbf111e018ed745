/*
Package authsdk is a Go client for the warden HTTP API.

# SDKClient vs Session

  - SDKClient: public endpoints (login, registration, password reset, health, JWKS)
  - Session: endpoints that need a bearer token, with automatic refresh

	client := authsdk.NewSDKClient("https://auth.example.com")

	session, err := client.Login(ctx, "walter", "shomer-shabbos", "")
	if errors.Is(err, authsdk.ErrTOTPRequired) {
		session, err = client.Login(ctx, "walter", "shomer-shabbos", code)
	}

	me, err := session.Me(ctx)

A Session refreshes its access token 30 seconds before it expires, as long
as the server issued a refresh token. Sessions are safe for concurrent use.

# Errors

Every non-success response is returned as an *APIError carrying the HTTP
status and the server's error code. The exported sentinels compare by code,
so errors.Is works against any response:

	if errors.Is(err, authsdk.ErrInvalidCredentials) { ... }
*/
package authsdk
