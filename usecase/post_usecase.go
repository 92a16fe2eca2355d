package usecase

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"crosspost/domain/dto"
	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
)

// IEventSink receives post lifecycle events for in-process subscribers. The
// realtime hub satisfies it; tests use a recording fake.
type IEventSink interface {
	Broadcast(event model.PostEvent)
}

// IPostUsecase materializes immediate multi-platform publishes and serves the
// post read/cancel surface. Creation validates everything a user can fix
// (video readiness, captions, connections); the repost window is deliberately
// left to dispatch so the denial lands in the attempt trail.
type IPostUsecase interface {
	PublishNow(ctx context.Context, req *dto.PublishNowRequest) (*dto.MultiPostResponse, error)
	Get(ctx context.Context, userID string, postID string) (*dto.PostResponse, error)
	List(ctx context.Context, req *dto.ListPostsRequest) ([]dto.PostResponse, error)
	Cancel(ctx context.Context, userID string, postID string) error
	Outcomes(ctx context.Context, userID string, postID string) ([]dto.PostOutcomeResponse, error)
}

type postUsecase struct {
	posts       repository.IPostRepository
	videos      repository.IVideoRepository
	connections repository.IConnectionRepository
	adapters    repository.IAdapterRegistry
	queue       repository.IJobQueue
	governor    IRepostGovernor
	clock       repository.IClock
	ids         repository.IIDSource
	sink        IEventSink
	queueName   string
}

func NewPostUsecase(posts repository.IPostRepository, videos repository.IVideoRepository, connections repository.IConnectionRepository, adapters repository.IAdapterRegistry, queue repository.IJobQueue, governor IRepostGovernor, clock repository.IClock, ids repository.IIDSource, sink IEventSink, queueName string) IPostUsecase {
	return &postUsecase{
		posts:       posts,
		videos:      videos,
		connections: connections,
		adapters:    adapters,
		queue:       queue,
		governor:    governor,
		clock:       clock,
		ids:         ids,
		sink:        sink,
		queueName:   queueName,
	}
}

func (u *postUsecase) PublishNow(ctx context.Context, req *dto.PublishNowRequest) (*dto.MultiPostResponse, error) {
	if req == nil || req.UserID == "" || req.VideoID == "" {
		return nil, model.NewError(model.KindValidation, "user id and video id are required")
	}
	video, err := readyVideo(ctx, u.videos, req.UserID, req.VideoID)
	if err != nil {
		return nil, err
	}
	targets, err := resolveTargets(ctx, u.adapters, u.connections, req.UserID, video, req.Targets)
	if err != nil {
		return nil, err
	}

	now := u.clock.NowUTC()
	mp, posts := materializeAggregate(u.ids, now, req.UserID, req.VideoID, model.MultiPostSourceAPI, "", targets)
	if err := u.posts.CreateMultiPost(ctx, mp, posts, jobEnqueuer(u.queue, u.queueName)); err != nil {
		return nil, err
	}
	logger.GetLogger().WithFields(map[string]interface{}{
		"multi_post_id": mp.ID,
		"video_id":      mp.VideoID,
		"posts":         len(posts),
	}).Info("Multi-post created")

	resp := &dto.MultiPostResponse{
		ID:        mp.ID,
		VideoID:   mp.VideoID,
		CreatedAt: mp.CreatedAt.Format(time.RFC3339),
		Posts:     make([]dto.PostResponse, 0, len(posts)),
	}
	for i := range posts {
		resp.Posts = append(resp.Posts, *toPostResponse(&posts[i]))
	}
	return resp, nil
}

// readyVideo loads the user's video and rejects anything not READY. Shared
// with schedule creation.
func readyVideo(ctx context.Context, videos repository.IVideoRepository, userID string, videoID string) (*model.Video, error) {
	video, err := videos.GetForUser(ctx, videoID, userID)
	if err != nil {
		return nil, err
	}
	if video.Status != model.VideoReady {
		return nil, model.Errf(model.KindValidation, "video %s is not ready (status %s)", videoID, video.Status)
	}
	return video, nil
}

// resolveTargets normalizes the requested platforms, applies the video's
// default caption and tags, validates captions against each adapter's limit,
// and requires an active connection per platform. Shared with schedule
// creation.
func resolveTargets(ctx context.Context, adapters repository.IAdapterRegistry, connections repository.IConnectionRepository, userID string, video *model.Video, reqTargets []dto.PlatformTargetRequest) ([]model.PlatformTarget, error) {
	if len(reqTargets) == 0 {
		return nil, model.NewError(model.KindValidation, "at least one target platform is required")
	}
	seen := map[model.PlatformID]bool{}
	targets := make([]model.PlatformTarget, 0, len(reqTargets))
	for _, t := range reqTargets {
		platform, err := model.ParsePlatform(t.Platform)
		if err != nil {
			return nil, err
		}
		if seen[platform] {
			return nil, model.Errf(model.KindValidation, "duplicate target platform %s", platform)
		}
		seen[platform] = true

		target := model.PlatformTarget{
			Platform: platform,
			Caption:  t.Caption,
			Tags:     t.Tags,
			Privacy:  t.Privacy,
		}
		if target.Caption == "" {
			target.Caption = video.Caption
		}
		if len(target.Tags) == 0 {
			target.Tags = video.Tags
		}
		if err := validateTarget(ctx, adapters, connections, userID, target); err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func validateTarget(ctx context.Context, adapters repository.IAdapterRegistry, connections repository.IConnectionRepository, userID string, target model.PlatformTarget) error {
	adapter, err := adapters.ForPlatform(target.Platform)
	if err != nil {
		return err
	}
	rendered := model.PostSpec{Caption: target.Caption, Tags: target.Tags}.CaptionWithTags()
	if limit := adapter.Limits().CaptionLimit; limit > 0 && utf8.RuneCountInString(rendered) > limit {
		return model.Errf(model.KindValidation, "caption exceeds the %s limit of %d characters",
			adapter.DisplayName(), limit)
	}
	if _, err := connections.GetActive(ctx, userID, target.Platform); err != nil {
		if model.KindOf(err) == model.KindConfigMissing {
			return model.Errf(model.KindValidation, "platform not connected: %s", target.Platform)
		}
		return err
	}
	return nil
}

func (u *postUsecase) Get(ctx context.Context, userID string, postID string) (*dto.PostResponse, error) {
	post, err := u.posts.GetForUser(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	resp := toPostResponse(post)
	if post.LastErrorKind == model.KindRepostCooldown {
		resp.CooldownHours = u.remainingCooldown(ctx, post)
	}
	return resp, nil
}

// remainingCooldown recomputes the live hours left on the window a failed
// post ran into; zero once the window has passed.
func (u *postUsecase) remainingCooldown(ctx context.Context, post *model.Post) float64 {
	err := u.governor.Check(ctx, post.UserID, string(post.Platform), post.VideoID)
	if err == nil {
		return 0
	}
	var app *model.AppError
	if errors.As(err, &app) && app.Kind == model.KindRepostCooldown {
		return app.HoursRemaining
	}
	return 0
}

func (u *postUsecase) List(ctx context.Context, req *dto.ListPostsRequest) ([]dto.PostResponse, error) {
	if req == nil || req.UserID == "" {
		return nil, model.NewError(model.KindValidation, "user id is required")
	}
	filter := repository.PostFilter{
		UserID:  req.UserID,
		VideoID: req.VideoID,
		Limit:   req.Limit,
		Offset:  req.Offset,
	}
	if req.Platform != "" {
		platform, err := model.ParsePlatform(req.Platform)
		if err != nil {
			return nil, err
		}
		filter.Platform = platform
	}
	if req.Status != "" {
		status, err := parsePostStatus(req.Status)
		if err != nil {
			return nil, err
		}
		filter.Status = status
	}
	posts, err := u.posts.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]dto.PostResponse, 0, len(posts))
	for i := range posts {
		out = append(out, *toPostResponse(&posts[i]))
	}
	return out, nil
}

func (u *postUsecase) Cancel(ctx context.Context, userID string, postID string) error {
	if err := u.posts.Cancel(ctx, postID, userID); err != nil {
		return err
	}
	post, err := u.posts.GetForUser(ctx, postID, userID)
	if err != nil {
		// The cancel already landed; the event is best-effort.
		logger.GetLogger().WithField("post_id", postID).Warn("Canceled post could not be re-read for event")
		return nil
	}
	if u.sink != nil {
		u.sink.Broadcast(model.PostEvent{
			PostID:      post.ID,
			MultiPostID: post.MultiPostID,
			UserID:      post.UserID,
			VideoID:     post.VideoID,
			Platform:    post.Platform,
			Status:      model.PostCanceled,
			At:          u.clock.NowUTC(),
		})
	}
	return nil
}

func (u *postUsecase) Outcomes(ctx context.Context, userID string, postID string) ([]dto.PostOutcomeResponse, error) {
	if _, err := u.posts.GetForUser(ctx, postID, userID); err != nil {
		return nil, err
	}
	outcomes, err := u.posts.ListOutcomes(ctx, postID)
	if err != nil {
		return nil, err
	}
	out := make([]dto.PostOutcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, dto.PostOutcomeResponse{
			Attempt:    o.Attempt,
			Outcome:    string(o.Outcome),
			ErrorKind:  string(o.ErrorKind),
			Detail:     o.Detail,
			StartedAt:  o.StartedAt.Format(time.RFC3339),
			FinishedAt: o.FinishedAt.Format(time.RFC3339),
		})
	}
	return out, nil
}

func parsePostStatus(raw string) (model.PostStatus, error) {
	s := model.PostStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case model.PostPending, model.PostProcessing, model.PostPosted, model.PostFailed, model.PostCanceled:
		return s, nil
	}
	return "", model.Errf(model.KindValidation, "unknown post status %q", raw)
}

func toPostResponse(p *model.Post) *dto.PostResponse {
	resp := &dto.PostResponse{
		ID:             p.ID,
		MultiPostID:    p.MultiPostID,
		VideoID:        p.VideoID,
		Platform:       string(p.Platform),
		Status:         string(p.Status),
		Attempts:       p.Attempts,
		PlatformPostID: p.PlatformPostID,
		PlatformURL:    p.PlatformURL,
		LastErrorKind:  string(p.LastErrorKind),
		LastError:      p.LastErrorMessage,
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
	}
	if p.PostedAt != nil {
		resp.PostedAt = p.PostedAt.Format(time.RFC3339)
	}
	return resp
}
