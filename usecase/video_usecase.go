package usecase

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"crosspost/domain/dto"
	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
)

// IVideoUsecase owns the upload lifecycle of source clips: register an
// intent, hand out a presigned PUT, confirm the bytes landed, and manage the
// user-editable defaults.
type IVideoUsecase interface {
	RegisterUpload(ctx context.Context, req *dto.RegisterVideoRequest) (*dto.UploadTicket, error)
	CompleteUpload(ctx context.Context, req *dto.CompleteUploadRequest) (*dto.VideoResponse, error)
	Get(ctx context.Context, userID string, videoID string) (*dto.VideoResponse, error)
	List(ctx context.Context, userID string, limit int, offset int) ([]dto.VideoResponse, error)
	Update(ctx context.Context, req *dto.VideoUpdateRequest) (*dto.VideoResponse, error)
	Delete(ctx context.Context, userID string, videoID string) error
}

type videoUsecase struct {
	videos    repository.IVideoRepository
	store     repository.IObjectStore
	clock     repository.IClock
	ids       repository.IIDSource
	uploadTTL time.Duration
}

func NewVideoUsecase(videos repository.IVideoRepository, store repository.IObjectStore, clock repository.IClock, ids repository.IIDSource, uploadTTL time.Duration) IVideoUsecase {
	if uploadTTL <= 0 {
		uploadTTL = 15 * time.Minute
	}
	return &videoUsecase{videos: videos, store: store, clock: clock, ids: ids, uploadTTL: uploadTTL}
}

// containerMIME maps the accepted container formats to upload content types.
// The union of what the five platforms accept; per-platform narrowing happens
// at dispatch via the adapter limits.
var containerMIME = map[string]string{
	"mp4":  "video/mp4",
	"mov":  "video/quicktime",
	"webm": "video/webm",
	"avi":  "video/x-msvideo",
	"wmv":  "video/x-ms-wmv",
	"flv":  "video/x-flv",
	"mkv":  "video/x-matroska",
}

func (u *videoUsecase) RegisterUpload(ctx context.Context, req *dto.RegisterVideoRequest) (*dto.UploadTicket, error) {
	if req == nil || req.UserID == "" {
		return nil, model.NewError(model.KindValidation, "user id is required")
	}
	if req.SizeBytes <= 0 {
		return nil, model.NewError(model.KindValidation, "declared size must be positive")
	}
	container, mime, err := resolveContainer(req.Container, req.FileName, req.ContentType)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = strings.TrimSuffix(path.Base(req.FileName), path.Ext(req.FileName))
	}
	if title == "" {
		return nil, model.NewError(model.KindValidation, "title or file name is required")
	}

	now := u.clock.NowUTC()
	id := u.ids.NewID()
	key := fmt.Sprintf("videos/%s/%s.%s", req.UserID, id, container)

	uploadURL, err := u.store.PresignUpload(ctx, key, mime, u.uploadTTL)
	if err != nil {
		return nil, err
	}

	video := &model.Video{
		ID:         id,
		UserID:     req.UserID,
		Title:      title,
		StorageKey: key,
		Container:  container,
		DurationMS: req.DurationMS,
		SizeBytes:  req.SizeBytes,
		Status:     model.VideoUploading,
		Caption:    req.Description,
		Tags:       req.Tags,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := u.videos.Create(ctx, video); err != nil {
		return nil, err
	}

	return &dto.UploadTicket{
		VideoID:   id,
		UploadURL: uploadURL,
		ObjectKey: key,
		ExpiresIn: int64(u.uploadTTL.Seconds()),
	}, nil
}

func (u *videoUsecase) CompleteUpload(ctx context.Context, req *dto.CompleteUploadRequest) (*dto.VideoResponse, error) {
	if req == nil || req.UserID == "" || req.VideoID == "" {
		return nil, model.NewError(model.KindValidation, "user id and video id are required")
	}
	video, err := u.videos.GetForUser(ctx, req.VideoID, req.UserID)
	if err != nil {
		return nil, err
	}
	if video.Status == model.VideoReady {
		return toVideoResponse(video), nil
	}

	// The stored object is authoritative for size; the probe fields describe
	// what the client inspected locally.
	size, err := u.store.Size(ctx, video.StorageKey)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, model.NewError(model.KindValidation, "uploaded object is empty")
	}

	video.SizeBytes = size
	if req.DurationMS > 0 {
		video.DurationMS = req.DurationMS
	}
	if req.Width > 0 {
		video.Width = req.Width
	}
	if req.Height > 0 {
		video.Height = req.Height
	}
	if req.Codec != "" {
		video.Codec = req.Codec
	}
	video.Status = model.VideoReady
	video.UpdatedAt = u.clock.NowUTC()

	if err := u.videos.Update(ctx, video); err != nil {
		return nil, err
	}
	logger.GetLogger().WithFields(map[string]interface{}{
		"video_id":   video.ID,
		"size_bytes": video.SizeBytes,
	}).Info("Video upload completed")
	return toVideoResponse(video), nil
}

func (u *videoUsecase) Get(ctx context.Context, userID string, videoID string) (*dto.VideoResponse, error) {
	video, err := u.videos.GetForUser(ctx, videoID, userID)
	if err != nil {
		return nil, err
	}
	return toVideoResponse(video), nil
}

func (u *videoUsecase) List(ctx context.Context, userID string, limit int, offset int) ([]dto.VideoResponse, error) {
	videos, err := u.videos.List(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]dto.VideoResponse, 0, len(videos))
	for i := range videos {
		out = append(out, *toVideoResponse(&videos[i]))
	}
	return out, nil
}

func (u *videoUsecase) Update(ctx context.Context, req *dto.VideoUpdateRequest) (*dto.VideoResponse, error) {
	if req == nil || req.UserID == "" || req.VideoID == "" {
		return nil, model.NewError(model.KindValidation, "user id and video id are required")
	}
	video, err := u.videos.GetForUser(ctx, req.VideoID, req.UserID)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			return nil, model.NewError(model.KindValidation, "title cannot be empty")
		}
		video.Title = *req.Title
	}
	if req.Description != nil {
		video.Caption = *req.Description
	}
	if req.Tags != nil {
		video.Tags = *req.Tags
	}
	video.UpdatedAt = u.clock.NowUTC()
	if err := u.videos.Update(ctx, video); err != nil {
		return nil, err
	}
	return toVideoResponse(video), nil
}

func (u *videoUsecase) Delete(ctx context.Context, userID string, videoID string) error {
	video, err := u.videos.GetForUser(ctx, videoID, userID)
	if err != nil {
		return err
	}
	// Bytes first: a row without an object is recoverable noise, an orphaned
	// object is leaked storage.
	if err := u.store.Delete(ctx, video.StorageKey); err != nil {
		return err
	}
	return u.videos.Delete(ctx, videoID, userID)
}

// resolveContainer settles the container format from the explicit field, the
// file extension, or the content type, in that order.
func resolveContainer(explicit string, fileName string, contentType string) (container string, mime string, err error) {
	c := strings.ToLower(strings.TrimSpace(explicit))
	if c == "" && fileName != "" {
		c = strings.ToLower(strings.TrimPrefix(path.Ext(fileName), "."))
	}
	if c == "" && contentType != "" {
		for name, m := range containerMIME {
			if strings.EqualFold(m, contentType) {
				c = name
				break
			}
		}
	}
	m, ok := containerMIME[c]
	if !ok {
		return "", "", model.Errf(model.KindValidation, "unsupported container %q", c)
	}
	return c, m, nil
}

func toVideoResponse(v *model.Video) *dto.VideoResponse {
	return &dto.VideoResponse{
		ID:          v.ID,
		UserID:      v.UserID,
		Title:       v.Title,
		Description: v.Caption,
		Tags:        v.Tags,
		Status:      string(v.Status),
		Container:   v.Container,
		SizeBytes:   v.SizeBytes,
		DurationMS:  v.DurationMS,
		CreatedAt:   v.CreatedAt.Format(time.RFC3339),
	}
}
