package model

import "time"

// StatSnapshot is one analytics sample for a platform-side post, captured by
// the periodic sync and stored append-only.
type StatSnapshot struct {
	PostID         string     `json:"post_id"         bson:"post_id"`
	VideoID        string     `json:"video_id"        bson:"video_id"`
	UserID         string     `json:"user_id"         bson:"user_id"`
	Platform       PlatformID `json:"platform"        bson:"platform"`
	PlatformPostID string     `json:"platform_post_id" bson:"platform_post_id"`
	Views          int64      `json:"views"           bson:"views"`
	Likes          int64      `json:"likes"           bson:"likes"`
	Comments       int64      `json:"comments"        bson:"comments"`
	Shares         int64      `json:"shares"          bson:"shares"`
	FetchedAt      time.Time  `json:"fetched_at"      bson:"fetched_at"`
}
