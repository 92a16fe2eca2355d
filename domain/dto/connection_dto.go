package dto

// BeginConnectRequest represents request for starting an OAuth connect flow
type BeginConnectRequest struct {
	UserID   string `json:"user_id"`
	Platform string `json:"platform"`
}

// BeginConnectResponse carries the consent URL the user is sent to
type BeginConnectResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

// CompleteConnectRequest represents the OAuth callback payload
type CompleteConnectRequest struct {
	State string `json:"state"`
	Code  string `json:"code"`
}

// ConnectionResponse represents a platform connection without its secrets
type ConnectionResponse struct {
	ID              string   `json:"id"`
	Platform        string   `json:"platform"`
	AccountID       string   `json:"account_id,omitempty"`
	AccountName     string   `json:"account_name,omitempty"`
	Scopes          []string `json:"scopes,omitempty"`
	Active          bool     `json:"active"`
	TokenExpiresAt  string   `json:"token_expires_at,omitempty"`
	ConnectedAt     string   `json:"connected_at"`
	LastRefreshedAt string   `json:"last_refreshed_at,omitempty"`
}

// DisconnectRequest represents request for disconnecting a platform
type DisconnectRequest struct {
	UserID   string `json:"user_id"`
	Platform string `json:"platform"`
}
