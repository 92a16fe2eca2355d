package dto

// RegisterVideoRequest represents request for registering a new video
type RegisterVideoRequest struct {
	UserID      string   `json:"user_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	FileName    string   `json:"file_name"`
	ContentType string   `json:"content_type,omitempty"`
	SizeBytes   int64    `json:"size_bytes"`
	DurationMS  int64    `json:"duration_ms,omitempty"`
	Container   string   `json:"container,omitempty"` // mp4, mov, webm
}

// UploadTicket carries the presigned target the client uploads the file to
type UploadTicket struct {
	VideoID   string `json:"video_id"`
	UploadURL string `json:"upload_url"`
	ObjectKey string `json:"object_key"`
	ExpiresIn int64  `json:"expires_in_seconds"`
}

// CompleteUploadRequest marks an upload finished and records what the probe
// learned about the file
type CompleteUploadRequest struct {
	UserID     string `json:"user_id"`
	VideoID    string `json:"video_id"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Codec      string `json:"codec,omitempty"`
}

// VideoResponse represents a video record returned to callers
type VideoResponse struct {
	ID          string   `json:"id"`
	UserID      string   `json:"user_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Status      string   `json:"status"`
	Container   string   `json:"container,omitempty"`
	SizeBytes   int64    `json:"size_bytes"`
	DurationMS  int64    `json:"duration_ms,omitempty"`
	CreatedAt   string   `json:"created_at"`
}

// VideoUpdateRequest represents fields that can be updated on a video.
// Pointer fields distinguish an omitted field (nil) from an explicit empty
// value (e.g. clearing the description).
type VideoUpdateRequest struct {
	UserID      string    `json:"user_id"`
	VideoID     string    `json:"video_id"`
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Tags        *[]string `json:"tags"`
}
