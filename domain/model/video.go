package model

import "time"

// VideoStatus tracks the upload lifecycle of a source clip.
type VideoStatus string

const (
	VideoUploading VideoStatus = "uploading"
	VideoReady     VideoStatus = "ready"
	VideoFailed    VideoStatus = "failed"
)

// Video is one uploaded source clip. The bytes live in the object store under
// StorageKey; the row is immutable once ready except for the user-editable
// caption/tag defaults.
type Video struct {
	ID         string      `json:"id"          gorm:"primaryKey;size:36"`
	UserID     string      `json:"user_id"     gorm:"size:36;index:idx_videos_user_created,priority:1"`
	Title      string      `json:"title"       gorm:"size:255"`
	StorageKey string      `json:"storage_key" gorm:"size:512"`
	Container  string      `json:"container"   gorm:"size:50"`
	Codec      string      `json:"codec"       gorm:"size:50"`
	DurationMS int64       `json:"duration_ms"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	SizeBytes  int64       `json:"size_bytes"`
	Status     VideoStatus `json:"status"      gorm:"size:20;index"`
	Caption    string      `json:"caption"     gorm:"type:text"`
	Tags       []string    `json:"tags"        gorm:"serializer:json"`
	CreatedAt  time.Time   `json:"created_at"  gorm:"index:idx_videos_user_created,priority:2"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func (Video) TableName() string {
	return "videos"
}
