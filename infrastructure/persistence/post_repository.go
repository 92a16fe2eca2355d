package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
)

// PostRepository persists multi-post aggregates, posts and outcomes. It owns
// the two transactions the engine's correctness leans on: create-and-enqueue,
// and the governed POSTED transition.
type PostRepository struct {
	db       *sql.DB
	cooldown time.Duration
}

func NewPostRepository(db *sql.DB, cooldown time.Duration) repository.IPostRepository {
	if cooldown <= 0 {
		cooldown = 24 * time.Hour
	}
	return &PostRepository{db: db, cooldown: cooldown}
}

const postColumns = `id, multi_post_id, user_id, video_id, platform, caption, tags, privacy, status, attempts, last_error_kind, last_error, platform_post_id, platform_url, posted_at, created_at, updated_at`

func (r *PostRepository) CreateMultiPost(ctx context.Context, mp *model.MultiPost, posts []model.Post, enqueue repository.EnqueueJobsFunc) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.WrapError(model.KindStorageUnavailable, err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = insertAggregate(ctx, tx, mp, posts); err != nil {
		return err
	}
	if enqueue != nil {
		if err = enqueue(ctx, buildJobs(mp, posts)); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return model.WrapError(model.KindStorageUnavailable, err, "committing multi-post")
	}
	return nil
}

// insertAggregate writes the aggregate row and its posts inside tx. Shared
// with the schedule fire transactions.
func insertAggregate(ctx context.Context, tx *sql.Tx, mp *model.MultiPost, posts []model.Post) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO multi_posts (id, user_id, video_id, source, schedule_id, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		mp.ID, mp.UserID, mp.VideoID, mp.Source, mp.ScheduleID, mp.CreatedAt)
	if err != nil {
		return model.WrapError(model.KindStorageUnavailable, err, "inserting multi-post")
	}

	q := `INSERT INTO posts (` + postColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
	for i := range posts {
		p := &posts[i]
		tags, err := marshalStrings(p.Tags)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, q,
			p.ID, p.MultiPostID, p.UserID, p.VideoID, string(p.Platform),
			p.Caption, tags, p.Privacy, string(p.Status), p.Attempts,
			string(p.LastErrorKind), p.LastErrorMessage, p.PlatformPostID, p.PlatformURL,
			p.PostedAt, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return model.WrapError(model.KindStorageUnavailable, err, "inserting post")
		}
	}
	return nil
}

func buildJobs(mp *model.MultiPost, posts []model.Post) []model.PostJob {
	jobs := make([]model.PostJob, 0, len(posts))
	for i := range posts {
		p := &posts[i]
		jobs = append(jobs, model.PostJob{
			PostID:      p.ID,
			MultiPostID: mp.ID,
			UserID:      p.UserID,
			VideoID:     p.VideoID,
			Platform:    p.Platform,
			EnqueuedAt:  mp.CreatedAt,
		})
	}
	return jobs
}

func (r *PostRepository) Get(ctx context.Context, id string) (*model.Post, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id=$1`, id)
	return scanPostRow(row.Scan)
}

func (r *PostRepository) GetForUser(ctx context.Context, id string, userID string) (*model.Post, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id=$1 AND user_id=$2`, id, userID)
	return scanPostRow(row.Scan)
}

func (r *PostRepository) List(ctx context.Context, filter repository.PostFilter) ([]model.Post, error) {
	conds := []string{"1=1"}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.UserID != "" {
		conds = append(conds, "user_id="+arg(filter.UserID))
	}
	if filter.VideoID != "" {
		conds = append(conds, "video_id="+arg(filter.VideoID))
	}
	if filter.Platform != "" {
		conds = append(conds, "platform="+arg(string(filter.Platform)))
	}
	if filter.Status != "" {
		conds = append(conds, "status="+arg(string(filter.Status)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := `SELECT ` + postColumns + ` FROM posts WHERE ` + strings.Join(conds, " AND ") +
		` ORDER BY created_at DESC LIMIT ` + arg(limit) + ` OFFSET ` + arg(filter.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "listing posts")
	}
	defer rows.Close()

	var out []model.Post
	for rows.Next() {
		p, err := scanPostRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "iterating posts")
	}
	return out, nil
}

func (r *PostRepository) ClaimForProcessing(ctx context.Context, id string) (*model.Post, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, model.WrapError(model.KindStorageUnavailable, err, "beginning claim")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id=$1 FOR UPDATE`, id)
	post, scanErr := scanPostRow(row.Scan)
	if scanErr != nil {
		if model.KindOf(scanErr) == model.KindValidation {
			_ = tx.Rollback()
			return nil, false, nil
		}
		err = scanErr
		return nil, false, err
	}
	if post.Status.Terminal() {
		_ = tx.Rollback()
		return post, false, nil
	}

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx,
		`UPDATE posts SET status=$2, attempts=attempts+1, updated_at=$3 WHERE id=$1`,
		id, string(model.PostProcessing), now); err != nil {
		err = model.WrapError(model.KindStorageUnavailable, err, "claiming post")
		return nil, false, err
	}
	if err = tx.Commit(); err != nil {
		err = model.WrapError(model.KindStorageUnavailable, err, "committing claim")
		return nil, false, err
	}
	post.Status = model.PostProcessing
	post.Attempts++
	post.UpdatedAt = now
	return post, true, nil
}

func (r *PostRepository) MarkPosted(ctx context.Context, post *model.Post, receipt model.PublishReceipt, outcome model.PostOutcome) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.WrapError(model.KindStorageUnavailable, err, "beginning posted transition")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// The window check runs inside the same transaction as the flip, so two
	// racing posts for one (user, platform, video) cannot both land.
	var last sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(posted_at) FROM posts
		 WHERE user_id=$1 AND platform=$2 AND video_id=$3 AND status=$4 AND id <> $5`,
		post.UserID, string(post.Platform), post.VideoID, string(model.PostPosted), post.ID).Scan(&last)
	if err != nil {
		err = model.WrapError(model.KindStorageUnavailable, err, "checking repost window")
		return err
	}
	if last.Valid {
		if since := outcome.FinishedAt.Sub(last.Time); since < r.cooldown {
			remaining := r.cooldown - since
			err = &model.AppError{
				Kind:           model.KindRepostCooldown,
				Message:        fmt.Sprintf("video was posted to %s %.1f hours ago", post.Platform, since.Hours()),
				RetryAfter:     remaining,
				HoursRemaining: remaining.Hours(),
			}
			return err
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE posts SET status=$2, posted_at=$3, platform_post_id=$4, platform_url=$5,
			last_error_kind='', last_error='', updated_at=$6
		 WHERE id=$1 AND status=$7`,
		post.ID, string(model.PostPosted), outcome.FinishedAt, receipt.PlatformPostID, receipt.PlatformURL,
		time.Now().UTC(), string(model.PostProcessing))
	if err != nil {
		err = model.WrapError(model.KindStorageUnavailable, err, "marking post posted")
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = model.Errf(model.KindInternal, "post %s left PROCESSING before its posted transition", post.ID)
		return err
	}

	if err = insertOutcome(ctx, tx, outcome); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		err = model.WrapError(model.KindStorageUnavailable, err, "committing posted transition")
		return err
	}
	return nil
}

func (r *PostRepository) MarkFailed(ctx context.Context, id string, kind model.ErrorKind, message string, outcome model.PostOutcome) error {
	return r.finishAttempt(ctx, id, &kind, message, outcome, true)
}

func (r *PostRepository) RecordTransient(ctx context.Context, id string, kind model.ErrorKind, message string, outcome model.PostOutcome) error {
	return r.finishAttempt(ctx, id, &kind, message, outcome, false)
}

func (r *PostRepository) finishAttempt(ctx context.Context, id string, kind *model.ErrorKind, message string, outcome model.PostOutcome, terminal bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.WrapError(model.KindStorageUnavailable, err, "beginning attempt record")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if terminal {
		_, err = tx.ExecContext(ctx,
			`UPDATE posts SET status=$2, last_error_kind=$3, last_error=$4, updated_at=$5
			 WHERE id=$1 AND status IN ($6,$7)`,
			id, string(model.PostFailed), string(*kind), truncateError(message), now,
			string(model.PostPending), string(model.PostProcessing))
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE posts SET last_error_kind=$2, last_error=$3, updated_at=$4 WHERE id=$1`,
			id, string(*kind), truncateError(message), now)
	}
	if err != nil {
		err = model.WrapError(model.KindStorageUnavailable, err, "recording attempt")
		return err
	}
	if err = insertOutcome(ctx, tx, outcome); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		err = model.WrapError(model.KindStorageUnavailable, err, "committing attempt record")
		return err
	}
	return nil
}

func insertOutcome(ctx context.Context, tx *sql.Tx, o model.PostOutcome) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO post_outcomes (post_id, attempt, outcome, error_kind, detail, started_at, finished_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		o.PostID, o.Attempt, string(o.Outcome), string(o.ErrorKind), truncateError(o.Detail), o.StartedAt, o.FinishedAt)
	if err != nil {
		return model.WrapError(model.KindStorageUnavailable, err, "appending outcome")
	}
	return nil
}

func (r *PostRepository) Cancel(ctx context.Context, id string, userID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE posts SET status=$3, updated_at=$4 WHERE id=$1 AND user_id=$2 AND status=$5`,
		id, userID, string(model.PostCanceled), time.Now().UTC(), string(model.PostPending))
	if err != nil {
		return model.WrapError(model.KindStorageUnavailable, err, "canceling post")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var status string
		row := r.db.QueryRowContext(ctx, `SELECT status FROM posts WHERE id=$1 AND user_id=$2`, id, userID)
		if scanErr := row.Scan(&status); scanErr == sql.ErrNoRows {
			return model.Errf(model.KindValidation, "post %s not found", id)
		} else if scanErr != nil {
			return model.WrapError(model.KindStorageUnavailable, scanErr, "canceling post")
		}
		return model.Errf(model.KindValidation, "post %s is %s; only pending posts can be canceled", id, status)
	}
	return nil
}

func (r *PostRepository) LastPostedAt(ctx context.Context, userID string, platform model.PlatformID, videoID string) (*time.Time, error) {
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(posted_at) FROM posts WHERE user_id=$1 AND platform=$2 AND video_id=$3 AND status=$4`,
		userID, string(platform), videoID, string(model.PostPosted)).Scan(&last)
	if err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "reading repost window")
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time.UTC()
	return &t, nil
}

func (r *PostRepository) ListPostedSince(ctx context.Context, since time.Time, limit int) ([]model.Post, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE status=$1 AND posted_at >= $2 ORDER BY posted_at ASC LIMIT $3`,
		string(model.PostPosted), since, limit)
	if err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "listing posted posts")
	}
	defer rows.Close()

	var out []model.Post
	for rows.Next() {
		p, err := scanPostRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "iterating posted posts")
	}
	return out, nil
}

func (r *PostRepository) ListOutcomes(ctx context.Context, postID string) ([]model.PostOutcome, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, post_id, attempt, outcome, error_kind, detail, started_at, finished_at
		 FROM post_outcomes WHERE post_id=$1 ORDER BY attempt ASC, id ASC`, postID)
	if err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "listing outcomes")
	}
	defer rows.Close()

	var out []model.PostOutcome
	for rows.Next() {
		var o model.PostOutcome
		var outcome, kind string
		if err := rows.Scan(&o.ID, &o.PostID, &o.Attempt, &outcome, &kind, &o.Detail, &o.StartedAt, &o.FinishedAt); err != nil {
			return nil, model.WrapError(model.KindStorageUnavailable, err, "scanning outcome")
		}
		o.Outcome = model.OutcomeKind(outcome)
		o.ErrorKind = model.ErrorKind(kind)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "iterating outcomes")
	}
	return out, nil
}

// scanPostRow works for both *sql.Row and *sql.Rows scan functions.
func scanPostRow(scan func(...interface{}) error) (*model.Post, error) {
	p := &model.Post{}
	var platform, tags, status, kind string
	var postedAt sql.NullTime
	err := scan(&p.ID, &p.MultiPostID, &p.UserID, &p.VideoID, &platform,
		&p.Caption, &tags, &p.Privacy, &status, &p.Attempts,
		&kind, &p.LastErrorMessage, &p.PlatformPostID, &p.PlatformURL,
		&postedAt, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, model.NewError(model.KindValidation, "post not found")
	}
	if err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "scanning post")
	}
	p.Platform = model.PlatformID(platform)
	p.Status = model.PostStatus(status)
	p.LastErrorKind = model.ErrorKind(kind)
	if p.Tags, err = unmarshalStrings(tags); err != nil {
		return nil, err
	}
	if postedAt.Valid {
		t := postedAt.Time.UTC()
		p.PostedAt = &t
	}
	return p, nil
}

// truncateError keeps failure detail rows bounded.
func truncateError(s string) string {
	const max = 2000
	if len(s) <= max {
		return s
	}
	return s[:max]
}
