/*
Package accountsdk is a client for the accounts service.

# Client vs Session

Client covers the public endpoints: join, login, refresh, email
verification, password reset, bootstrap and health. Session wraps a token
pair and covers everything that needs a bearer token. It refreshes the
access token shortly before it expires and keeps the rotated refresh token.

	client := accountsdk.NewClient("https://accounts.example.com")

	awt, err := client.Login(ctx, accountsdk.LoginRequest{
		Identifier: "alice@example.com",
		Password:   password,
	})
	if accountsdk.IsMFARequired(err) {
		// ask for a TOTP or backup code and log in again with OTP set
	}

	session := client.NewSession(awt)
	me, err := session.Me(ctx)

A stored pair can be resumed with NewSessionFromTokens. Once the refresh
token expires every call returns ErrSessionExpired.

# Errors

Every non-2xx response becomes an *APIError carrying the stable error code
from the response body. Use HasCode or errors.As to branch on it:

	var apiErr *accountsdk.APIError
	if errors.As(err, &apiErr) && apiErr.Code == accountsdk.ErrorCodeConflict {
		// email or username already taken
	}

The server writes errors with the same type, so both sides share the codes.
*/
package accountsdk
