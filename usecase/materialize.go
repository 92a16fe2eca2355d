package usecase

import (
	"context"
	"encoding/json"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
)

// materializeAggregate builds the MultiPost and one PENDING Post per target.
// Captions and tags are taken from the target; the callers have already
// applied their fallbacks (video defaults, recurring caption variants).
func materializeAggregate(ids repository.IIDSource, now time.Time, userID, videoID, source, scheduleID string, targets []model.PlatformTarget) (*model.MultiPost, []model.Post) {
	mp := &model.MultiPost{
		ID:         ids.NewID(),
		UserID:     userID,
		VideoID:    videoID,
		Source:     source,
		ScheduleID: scheduleID,
		CreatedAt:  now,
	}
	posts := make([]model.Post, 0, len(targets))
	for _, t := range targets {
		posts = append(posts, model.Post{
			ID:          ids.NewID(),
			MultiPostID: mp.ID,
			UserID:      userID,
			VideoID:     videoID,
			Platform:    t.Platform,
			Caption:     t.Caption,
			Tags:        t.Tags,
			Privacy:     t.Privacy,
			Status:      model.PostPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return mp, posts
}

// jobEnqueuer adapts the broker to the repositories' enqueue callback. The
// dedup key is the post id, so a replayed materialization cannot enqueue the
// same post twice within the broker's window.
func jobEnqueuer(queue repository.IJobQueue, queueName string) repository.EnqueueJobsFunc {
	return func(ctx context.Context, jobs []model.PostJob) error {
		for i := range jobs {
			payload, err := json.Marshal(&jobs[i])
			if err != nil {
				return model.WrapError(model.KindInternal, err, "encoding post job")
			}
			opts := repository.EnqueueOptions{DedupKey: jobs[i].PostID}
			if err := queue.Enqueue(ctx, queueName, payload, opts); err != nil {
				return err
			}
		}
		return nil
	}
}
