package repository

import (
	"context"

	"crosspost/domain/model"
)

// IAnalyticsRepository stores engagement snapshots collected by the stats
// sweep. Append-only; history is the point.
type IAnalyticsRepository interface {
	Insert(ctx context.Context, snap model.StatSnapshot) error
	ListForVideo(ctx context.Context, videoID string, limit int) ([]model.StatSnapshot, error)
	ListForPost(ctx context.Context, postID string, limit int) ([]model.StatSnapshot, error)
}
