package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"crosspost/domain/model"
	"crosspost/domain/repository"
)

// VideoRepository persists video metadata through gorm; the JSON serializer
// handles the tags column.
type VideoRepository struct {
	db *gorm.DB
}

func NewVideoRepository(db *gorm.DB) repository.IVideoRepository {
	return &VideoRepository{db: db}
}

func (r *VideoRepository) Create(ctx context.Context, video *model.Video) error {
	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		return model.WrapError(model.KindStorageUnavailable, err, "creating video row")
	}
	return nil
}

func (r *VideoRepository) Get(ctx context.Context, id string) (*model.Video, error) {
	var v model.Video
	err := r.db.WithContext(ctx).First(&v, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.Errf(model.KindValidation, "video %s not found", id)
	}
	if err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "loading video row")
	}
	return &v, nil
}

func (r *VideoRepository) GetForUser(ctx context.Context, id string, userID string) (*model.Video, error) {
	var v model.Video
	err := r.db.WithContext(ctx).First(&v, "id = ? AND user_id = ?", id, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.Errf(model.KindValidation, "video %s not found", id)
	}
	if err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "loading video row")
	}
	return &v, nil
}

func (r *VideoRepository) List(ctx context.Context, userID string, limit int, offset int) ([]model.Video, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []model.Video
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "listing videos")
	}
	return out, nil
}

func (r *VideoRepository) Update(ctx context.Context, video *model.Video) error {
	res := r.db.WithContext(ctx).Model(&model.Video{}).
		Where("id = ? AND user_id = ?", video.ID, video.UserID).
		Updates(map[string]interface{}{
			"title":       video.Title,
			"caption":     video.Caption,
			"tags":        video.Tags,
			"container":   video.Container,
			"codec":       video.Codec,
			"duration_ms": video.DurationMS,
			"width":       video.Width,
			"height":      video.Height,
			"size_bytes":  video.SizeBytes,
			"status":      video.Status,
			"updated_at":  video.UpdatedAt,
		})
	if res.Error != nil {
		return model.WrapError(model.KindStorageUnavailable, res.Error, "updating video row")
	}
	if res.RowsAffected == 0 {
		return model.Errf(model.KindValidation, "video %s not found", video.ID)
	}
	return nil
}

func (r *VideoRepository) Delete(ctx context.Context, id string, userID string) error {
	res := r.db.WithContext(ctx).Delete(&model.Video{}, "id = ? AND user_id = ?", id, userID)
	if res.Error != nil {
		return model.WrapError(model.KindStorageUnavailable, res.Error, "deleting video row")
	}
	if res.RowsAffected == 0 {
		return model.Errf(model.KindValidation, "video %s not found", id)
	}
	return nil
}
