package usecase

import (
	"context"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
)

const statsSweepBatch = 200

// IAnalyticsUsecase collects engagement snapshots for published posts and
// serves the per-video and per-post history.
type IAnalyticsUsecase interface {
	// Sweep fetches fresh stats for recently posted items and returns how
	// many snapshots it stored. Per-post failures are logged and skipped.
	Sweep(ctx context.Context) (int, error)
	ListForVideo(ctx context.Context, userID string, videoID string, limit int) ([]model.StatSnapshot, error)
	ListForPost(ctx context.Context, userID string, postID string, limit int) ([]model.StatSnapshot, error)
}

type analyticsUsecase struct {
	snapshots   repository.IAnalyticsRepository
	posts       repository.IPostRepository
	videos      repository.IVideoRepository
	connections repository.IConnectionRepository
	adapters    repository.IAdapterRegistry
	tokens      ITokenUsecase
	clock       repository.IClock
	lookback    time.Duration
}

func NewAnalyticsUsecase(
	snapshots repository.IAnalyticsRepository,
	posts repository.IPostRepository,
	videos repository.IVideoRepository,
	connections repository.IConnectionRepository,
	adapters repository.IAdapterRegistry,
	tokens ITokenUsecase,
	clock repository.IClock,
	lookback time.Duration,
) IAnalyticsUsecase {
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	return &analyticsUsecase{
		snapshots:   snapshots,
		posts:       posts,
		videos:      videos,
		connections: connections,
		adapters:    adapters,
		tokens:      tokens,
		clock:       clock,
		lookback:    lookback,
	}
}

func (u *analyticsUsecase) Sweep(ctx context.Context) (int, error) {
	log := logger.WithComponent("analytics")
	now := u.clock.NowUTC()
	posted, err := u.posts.ListPostedSince(ctx, now.Add(-u.lookback), statsSweepBatch)
	if err != nil {
		return 0, err
	}

	stored := 0
	for i := range posted {
		post := &posted[i]
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		snap, err := u.collect(ctx, post)
		if err != nil {
			log.WithFields(map[string]interface{}{
				"post_id":  post.ID,
				"platform": post.Platform,
				"error":    err,
			}).Warn("Stats fetch failed")
			continue
		}
		if snap == nil {
			continue
		}
		if err := u.snapshots.Insert(ctx, *snap); err != nil {
			log.WithFields(map[string]interface{}{
				"post_id": post.ID,
				"error":   err,
			}).Warn("Snapshot insert failed")
			continue
		}
		stored++
	}
	if stored > 0 {
		log.WithFields(map[string]interface{}{
			"posts":     len(posted),
			"snapshots": stored,
		}).Info("Stats sweep finished")
	}
	return stored, nil
}

// collect fetches one snapshot. A nil, nil return means the platform has no
// stats surface and the post is skipped without noise.
func (u *analyticsUsecase) collect(ctx context.Context, post *model.Post) (*model.StatSnapshot, error) {
	adapter, err := u.adapters.ForPlatform(post.Platform)
	if err != nil {
		return nil, err
	}
	fetcher, ok := adapter.(repository.IStatsFetcher)
	if !ok {
		return nil, nil
	}
	conn, err := u.connections.GetActive(ctx, post.UserID, post.Platform)
	if err != nil {
		return nil, err
	}
	appCred, err := u.tokens.AppAuth(post.Platform)
	if err != nil {
		return nil, err
	}
	token, err := u.tokens.AccessToken(ctx, conn.ID)
	if err != nil {
		return nil, err
	}
	snap, err := fetcher.FetchStats(ctx, model.PublishAuth{AccessToken: token, App: appCred}, post.PlatformPostID)
	if err != nil {
		return nil, err
	}
	snap.PostID = post.ID
	snap.VideoID = post.VideoID
	snap.UserID = post.UserID
	snap.Platform = post.Platform
	snap.PlatformPostID = post.PlatformPostID
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = u.clock.NowUTC()
	}
	return snap, nil
}

func (u *analyticsUsecase) ListForVideo(ctx context.Context, userID string, videoID string, limit int) ([]model.StatSnapshot, error) {
	if _, err := u.videos.GetForUser(ctx, videoID, userID); err != nil {
		return nil, err
	}
	return u.snapshots.ListForVideo(ctx, videoID, limit)
}

func (u *analyticsUsecase) ListForPost(ctx context.Context, userID string, postID string, limit int) ([]model.StatSnapshot, error) {
	if _, err := u.posts.GetForUser(ctx, postID, userID); err != nil {
		return nil, err
	}
	return u.snapshots.ListForPost(ctx, postID, limit)
}
