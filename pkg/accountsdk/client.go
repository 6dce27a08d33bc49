package accountsdk

import (
	"net/http"
	"strings"
	"time"
)

// refreshBuffer refreshes the access token slightly before it expires.
const refreshBuffer = 30 * time.Second

// Client is a client for the accounts service. It covers the public
// endpoints and creates authenticated Sessions.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// UserAgent is sent on every request and recorded on new sessions.
	UserAgent string
}

// NewClient creates a client with a 10 second request timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		UserAgent: "accountsdk",
	}
}

// NewSession wraps the result of Join, Login or Bootstrap in a Session.
func (c *Client) NewSession(awt *AccountWithToken) *Session {
	return c.NewSessionFromTokens(awt.Token)
}

// NewSessionFromTokens resumes a session from stored tokens. The session
// refreshes the access token on demand.
func (c *Client) NewSessionFromTokens(t Token) *Session {
	return &Session{
		client:           c,
		accessToken:      t.Access,
		refreshToken:     t.Refresh,
		expiresAt:        t.ExpiredAt.Add(-refreshBuffer),
		refreshableUntil: t.RefreshableUntil,
	}
}
