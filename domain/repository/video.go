package repository

import (
	"context"

	"crosspost/domain/model"
)

// IVideoRepository persists video metadata rows. Binary content lives in the
// object store; only keys travel through here.
type IVideoRepository interface {
	Create(ctx context.Context, video *model.Video) error
	Get(ctx context.Context, id string) (*model.Video, error)
	GetForUser(ctx context.Context, id string, userID string) (*model.Video, error)
	List(ctx context.Context, userID string, limit int, offset int) ([]model.Video, error)
	Update(ctx context.Context, video *model.Video) error
	Delete(ctx context.Context, id string, userID string) error
}
