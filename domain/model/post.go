package model

import (
	"strings"
	"time"
)

// PostStatus is the per-platform post state machine. A post passes through
// exactly one terminal transition and is immutable afterwards.
type PostStatus string

const (
	PostPending    PostStatus = "PENDING"
	PostProcessing PostStatus = "PROCESSING"
	PostPosted     PostStatus = "POSTED"
	PostFailed     PostStatus = "FAILED"
	PostCanceled   PostStatus = "CANCELED"
)

// Terminal reports whether the status permits no further transitions.
func (s PostStatus) Terminal() bool {
	switch s {
	case PostPosted, PostFailed, PostCanceled:
		return true
	}
	return false
}

// MultiPost groups the per-platform posts materialized from one publish
// request or one schedule firing. It owns its posts (cascade delete).
type MultiPost struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	VideoID string `json:"video_id"`
	// Source records what created the aggregate: api, schedule or recurring.
	Source     string    `json:"source"`
	ScheduleID string    `json:"schedule_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	MultiPostSourceAPI       = "api"
	MultiPostSourceSchedule  = "schedule"
	MultiPostSourceRecurring = "recurring"
)

// Post is one platform-bound publishing intent.
type Post struct {
	ID               string     `json:"id"`
	MultiPostID      string     `json:"multi_post_id"`
	UserID           string     `json:"user_id"`
	VideoID          string     `json:"video_id"`
	Platform         PlatformID `json:"platform"`
	Caption          string     `json:"caption"`
	Tags             []string   `json:"tags"`
	Privacy          string     `json:"privacy,omitempty"`
	Status           PostStatus `json:"status"`
	Attempts         int        `json:"attempts"`
	LastErrorKind    ErrorKind  `json:"last_error_kind,omitempty"`
	LastErrorMessage string     `json:"last_error_message,omitempty"`
	PlatformPostID   string     `json:"platform_post_id,omitempty"`
	PlatformURL      string     `json:"platform_url,omitempty"`
	PostedAt         *time.Time `json:"posted_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Spec derives the platform-facing publish payload from the post.
func (p *Post) Spec() PostSpec {
	return PostSpec{Caption: p.Caption, Tags: p.Tags, Privacy: p.Privacy}
}

// PostSpec carries the caption, tags and the optional platform extras one
// publish call needs. The dispatcher pre-validates the caption against the
// adapter's limit before any network call.
type PostSpec struct {
	Caption         string
	Tags            []string
	Privacy         string
	CategoryID      string
	DisableComments bool
	DisableDuet     bool
	DisableStitch   bool
}

// CaptionWithTags renders the caption followed by hashtag forms of the tags,
// the layout most platforms expect in a single text field.
func (s PostSpec) CaptionWithTags() string {
	if len(s.Tags) == 0 {
		return s.Caption
	}
	parts := make([]string, 0, len(s.Tags))
	for _, t := range s.Tags {
		t = strings.TrimSpace(strings.TrimPrefix(t, "#"))
		if t != "" {
			parts = append(parts, "#"+t)
		}
	}
	if len(parts) == 0 {
		return s.Caption
	}
	return strings.TrimSpace(s.Caption + "\n\n" + strings.Join(parts, " "))
}

// PublishReceipt identifies the platform-side artifact a publish created.
type PublishReceipt struct {
	PlatformPostID string
	PlatformURL    string
}

// OutcomeKind classifies one publish attempt.
type OutcomeKind string

const (
	OutcomeSuccess       OutcomeKind = "SUCCESS"
	OutcomeTransientFail OutcomeKind = "TRANSIENT_FAIL"
	OutcomePermanentFail OutcomeKind = "PERMANENT_FAIL"
)

// PostOutcome is the append-only audit row for one publish attempt.
type PostOutcome struct {
	ID         int64       `json:"id"`
	PostID     string      `json:"post_id"`
	Attempt    int         `json:"attempt"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Outcome    OutcomeKind `json:"outcome"`
	ErrorKind  ErrorKind   `json:"error_kind,omitempty"`
	Detail     string      `json:"detail,omitempty"`
}

// MediaLimits is what an adapter will accept; the pre-flight check fails with
// MEDIA_UNSUPPORTED before any upload begins. CaptionLimit is enforced
// separately as a VALIDATION failure.
type MediaLimits struct {
	Containers    []string
	MaxSizeBytes  int64
	MaxDurationMS int64
	MinDurationMS int64
	MaxHashtags   int
	CaptionLimit  int
}

// Accepts validates the declared video metadata against the limits.
func (l MediaLimits) Accepts(v *Video) error {
	ok := false
	for _, c := range l.Containers {
		if strings.EqualFold(c, v.Container) {
			ok = true
			break
		}
	}
	if !ok {
		return Errf(KindMediaUnsupported, "container %q not accepted (want one of %s)",
			v.Container, strings.Join(l.Containers, ", "))
	}
	if l.MaxSizeBytes > 0 && v.SizeBytes > l.MaxSizeBytes {
		return Errf(KindMediaUnsupported, "file size %d exceeds limit %d", v.SizeBytes, l.MaxSizeBytes)
	}
	if l.MaxDurationMS > 0 && v.DurationMS > l.MaxDurationMS {
		return Errf(KindMediaUnsupported, "duration %dms exceeds limit %dms", v.DurationMS, l.MaxDurationMS)
	}
	if l.MinDurationMS > 0 && v.DurationMS < l.MinDurationMS {
		return Errf(KindMediaUnsupported, "duration %dms below minimum %dms", v.DurationMS, l.MinDurationMS)
	}
	return nil
}

// PostJob is the broker payload for one dispatch of one post.
type PostJob struct {
	PostID      string     `json:"post_id"`
	MultiPostID string     `json:"multi_post_id"`
	UserID      string     `json:"user_id"`
	VideoID     string     `json:"video_id"`
	Platform    PlatformID `json:"platform"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
}

// PostEvent is broadcast on post status transitions for realtime subscribers
// and the outcome notifier.
type PostEvent struct {
	PostID         string     `json:"post_id"`
	MultiPostID    string     `json:"multi_post_id"`
	UserID         string     `json:"user_id"`
	VideoID        string     `json:"video_id"`
	Platform       PlatformID `json:"platform"`
	Status         PostStatus `json:"status"`
	ErrorKind      ErrorKind  `json:"error_kind,omitempty"`
	PlatformPostID string     `json:"platform_post_id,omitempty"`
	PlatformURL    string     `json:"platform_url,omitempty"`
	At             time.Time  `json:"at"`
}
