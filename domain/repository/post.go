package repository

import (
	"context"
	"time"

	"crosspost/domain/model"
)

// EnqueueJobsFunc hands freshly created jobs to the broker from inside the
// transaction that created their rows. An error aborts the transaction.
type EnqueueJobsFunc func(ctx context.Context, jobs []model.PostJob) error

// PostFilter narrows ListPosts. Zero values mean "any".
type PostFilter struct {
	UserID   string
	VideoID  string
	Platform model.PlatformID
	Status   model.PostStatus
	Limit    int
	Offset   int
}

// IPostRepository persists multi-post aggregates, their per-platform posts,
// and the attempt history.
type IPostRepository interface {
	// CreateMultiPost writes the aggregate and all posts, then calls enqueue
	// with one job per post before committing. Nothing is visible unless the
	// enqueue succeeds.
	CreateMultiPost(ctx context.Context, mp *model.MultiPost, posts []model.Post, enqueue EnqueueJobsFunc) error
	Get(ctx context.Context, id string) (*model.Post, error)
	GetForUser(ctx context.Context, id string, userID string) (*model.Post, error)
	List(ctx context.Context, filter PostFilter) ([]model.Post, error)
	// ClaimForProcessing moves a PENDING or PROCESSING post to PROCESSING and
	// increments its attempt counter in one transaction. claimed is false when
	// the post is missing or already terminal.
	ClaimForProcessing(ctx context.Context, id string) (post *model.Post, claimed bool, err error)
	// MarkPosted re-runs the repost window check and flips the post to POSTED
	// in the same transaction, recording the receipt and appending the
	// outcome. A window hit returns a REPOST_COOLDOWN error and leaves the
	// post untouched.
	MarkPosted(ctx context.Context, post *model.Post, receipt model.PublishReceipt, outcome model.PostOutcome) error
	// MarkFailed terminally fails the post and appends the outcome.
	MarkFailed(ctx context.Context, id string, kind model.ErrorKind, message string, outcome model.PostOutcome) error
	// RecordTransient appends the outcome and refreshes last_error_* without
	// leaving PROCESSING; the post stays claimable for the retry.
	RecordTransient(ctx context.Context, id string, kind model.ErrorKind, message string, outcome model.PostOutcome) error
	// Cancel flips a PENDING post owned by the user to CANCELED.
	Cancel(ctx context.Context, id string, userID string) error
	// LastPostedAt returns the newest posted_at for the triple, or nil when
	// the video has never been posted there.
	LastPostedAt(ctx context.Context, userID string, platform model.PlatformID, videoID string) (*time.Time, error)
	// ListPostedSince feeds the analytics sweep with posts that reached
	// POSTED after the given instant.
	ListPostedSince(ctx context.Context, since time.Time, limit int) ([]model.Post, error)
	ListOutcomes(ctx context.Context, postID string) ([]model.PostOutcome, error)
}
