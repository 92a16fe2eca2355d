package model

import "time"

// PlatformConnection binds a user to one platform-side account. Token fields
// hold plaintext only in memory; the connection repository seals them through
// the secret store before they touch the database, and opens them on read.
type PlatformConnection struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Platform       PlatformID `json:"platform"`
	AccountID      string     `json:"account_id"`
	DisplayName    string     `json:"display_name"`
	Scopes         []string   `json:"scopes"`
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt time.Time  `json:"token_expires_at"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TokenFresh reports whether the stored access token remains valid for at
// least window beyond now.
func (c *PlatformConnection) TokenFresh(now time.Time, window time.Duration) bool {
	return c.TokenExpiresAt.After(now.Add(window))
}

// TokenBundle is what an adapter hands back from a code exchange or refresh:
// access token, optional refresh token, expiry, granted scopes.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// AuthRequest starts an authorization-code flow. CodeVerifier is only set by
// platforms that bind the flow with PKCE; the caller must carry it through to
// the code exchange.
type AuthRequest struct {
	URL          string
	CodeVerifier string
}

// OAuth1Credential is the app-level signing credential used by platforms
// whose media endpoints predate OAuth 2.0.
type OAuth1Credential struct {
	APIKey            string
	APISecret         string
	AccessToken       string
	AccessTokenSecret string
}

// PublishAuth carries everything one publish attempt may need: the user
// access token, plus the app credential on dual-credential platforms.
type PublishAuth struct {
	AccessToken string
	App         *OAuth1Credential
}
