package dto

// PlatformTargetRequest selects one destination platform with its overrides
type PlatformTargetRequest struct {
	Platform string   `json:"platform"`
	Caption  string   `json:"caption,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Privacy  string   `json:"privacy,omitempty"` // public, private, unlisted
}

// PublishNowRequest represents request for immediate multi-platform publish
type PublishNowRequest struct {
	UserID  string                  `json:"user_id"`
	VideoID string                  `json:"video_id"`
	Targets []PlatformTargetRequest `json:"targets"`
}

// PostResponse represents one per-platform post
type PostResponse struct {
	ID              string  `json:"id"`
	MultiPostID     string  `json:"multi_post_id"`
	VideoID         string  `json:"video_id"`
	Platform        string  `json:"platform"`
	Status          string  `json:"status"`
	Attempts        int     `json:"attempts"`
	PlatformPostID  string  `json:"platform_post_id,omitempty"`
	PlatformURL     string  `json:"platform_url,omitempty"`
	LastErrorKind   string  `json:"last_error_kind,omitempty"`
	LastError       string  `json:"last_error,omitempty"`
	CooldownHours   float64 `json:"cooldown_hours_remaining,omitempty"`
	PostedAt        string  `json:"posted_at,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

// MultiPostResponse groups the posts created by one publish request
type MultiPostResponse struct {
	ID        string         `json:"id"`
	VideoID   string         `json:"video_id"`
	CreatedAt string         `json:"created_at"`
	Posts     []PostResponse `json:"posts"`
}

// ListPostsRequest narrows the post listing
type ListPostsRequest struct {
	UserID   string `json:"user_id"`
	VideoID  string `json:"video_id,omitempty"`
	Platform string `json:"platform,omitempty"`
	Status   string `json:"status,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// PostOutcomeResponse represents one attempt from the audit trail
type PostOutcomeResponse struct {
	Attempt    int    `json:"attempt"`
	Outcome    string `json:"outcome"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Detail     string `json:"detail,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}
