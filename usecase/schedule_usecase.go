package usecase

import (
	"context"
	"strings"
	"time"

	"crosspost/domain/dto"
	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
)

// minScheduleLead is the shortest allowed gap between creating a one-shot
// schedule and its run instant. Exactly the lead is accepted.
const minScheduleLead = 5 * time.Minute

// IScheduleUsecase manages deferred and recurring publishing intents. The
// scheduler beat (ISchedulerUsecase) fires them; this surface only creates,
// inspects and steers them.
type IScheduleUsecase interface {
	Create(ctx context.Context, req *dto.CreateScheduleRequest) (*dto.ScheduleResponse, error)
	CreateRecurring(ctx context.Context, req *dto.CreateRecurringScheduleRequest) (*dto.RecurringScheduleResponse, error)
	Get(ctx context.Context, userID string, scheduleID string) (*dto.ScheduleResponse, error)
	GetRecurring(ctx context.Context, userID string, scheduleID string) (*dto.RecurringScheduleResponse, error)
	List(ctx context.Context, userID string, limit int, offset int) ([]dto.ScheduleResponse, error)
	ListRecurring(ctx context.Context, userID string, limit int, offset int) ([]dto.RecurringScheduleResponse, error)
	Cancel(ctx context.Context, userID string, scheduleID string) error
	PauseRecurring(ctx context.Context, userID string, scheduleID string) error
	// ResumeRecurring reactivates with a freshly computed next occurrence;
	// slots missed while paused are not replayed.
	ResumeRecurring(ctx context.Context, userID string, scheduleID string) error
	CancelRecurring(ctx context.Context, userID string, scheduleID string) error
}

type scheduleUsecase struct {
	schedules   repository.IScheduleRepository
	videos      repository.IVideoRepository
	connections repository.IConnectionRepository
	adapters    repository.IAdapterRegistry
	clock       repository.IClock
	ids         repository.IIDSource
}

func NewScheduleUsecase(schedules repository.IScheduleRepository, videos repository.IVideoRepository, connections repository.IConnectionRepository, adapters repository.IAdapterRegistry, clock repository.IClock, ids repository.IIDSource) IScheduleUsecase {
	return &scheduleUsecase{
		schedules:   schedules,
		videos:      videos,
		connections: connections,
		adapters:    adapters,
		clock:       clock,
		ids:         ids,
	}
}

func (u *scheduleUsecase) Create(ctx context.Context, req *dto.CreateScheduleRequest) (*dto.ScheduleResponse, error) {
	if req == nil || req.UserID == "" || req.VideoID == "" {
		return nil, model.NewError(model.KindValidation, "user id and video id are required")
	}
	runAt, err := time.Parse(time.RFC3339, req.RunAt)
	if err != nil {
		return nil, model.WrapError(model.KindValidation, err, "run_at must be RFC 3339")
	}
	runAt = runAt.UTC()
	now := u.clock.NowUTC()
	if runAt.Before(now.Add(minScheduleLead)) {
		return nil, model.Errf(model.KindValidation, "run_at must be at least %s in the future", minScheduleLead)
	}

	video, err := readyVideo(ctx, u.videos, req.UserID, req.VideoID)
	if err != nil {
		return nil, err
	}
	targets, err := resolveTargets(ctx, u.adapters, u.connections, req.UserID, video, req.Targets)
	if err != nil {
		return nil, err
	}

	s := &model.Schedule{
		ID:          u.ids.NewID(),
		UserID:      req.UserID,
		VideoID:     req.VideoID,
		Targets:     targets,
		ScheduledAt: runAt,
		State:       model.SchedulePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := u.schedules.Create(ctx, s); err != nil {
		return nil, err
	}
	logger.GetLogger().WithFields(map[string]interface{}{
		"schedule_id": s.ID,
		"run_at":      s.ScheduledAt,
	}).Info("Schedule created")
	return toScheduleResponse(s), nil
}

func (u *scheduleUsecase) CreateRecurring(ctx context.Context, req *dto.CreateRecurringScheduleRequest) (*dto.RecurringScheduleResponse, error) {
	if req == nil || req.UserID == "" || req.VideoID == "" {
		return nil, model.NewError(model.KindValidation, "user id and video id are required")
	}
	cadence, err := cadenceFromRequest(req.Cadence)
	if err != nil {
		return nil, err
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
	rs := &model.RecurringSchedule{
		ID:              u.ids.NewID(),
		UserID:          req.UserID,
		VideoID:         req.VideoID,
		Targets:         targets,
		Cadence:         cadence,
		CaptionVariants: req.CaptionVariants,
		State:           model.RecurringActive,
		NextOccurrence:  cadence.Next(now),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := u.schedules.CreateRecurring(ctx, rs); err != nil {
		return nil, err
	}
	logger.GetLogger().WithFields(map[string]interface{}{
		"schedule_id":     rs.ID,
		"next_occurrence": rs.NextOccurrence,
	}).Info("Recurring schedule created")
	return toRecurringResponse(rs), nil
}

func (u *scheduleUsecase) Get(ctx context.Context, userID string, scheduleID string) (*dto.ScheduleResponse, error) {
	s, err := u.schedules.Get(ctx, scheduleID, userID)
	if err != nil {
		return nil, err
	}
	return toScheduleResponse(s), nil
}

func (u *scheduleUsecase) GetRecurring(ctx context.Context, userID string, scheduleID string) (*dto.RecurringScheduleResponse, error) {
	rs, err := u.schedules.GetRecurring(ctx, scheduleID, userID)
	if err != nil {
		return nil, err
	}
	return toRecurringResponse(rs), nil
}

func (u *scheduleUsecase) List(ctx context.Context, userID string, limit int, offset int) ([]dto.ScheduleResponse, error) {
	schedules, err := u.schedules.List(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]dto.ScheduleResponse, 0, len(schedules))
	for i := range schedules {
		out = append(out, *toScheduleResponse(&schedules[i]))
	}
	return out, nil
}

func (u *scheduleUsecase) ListRecurring(ctx context.Context, userID string, limit int, offset int) ([]dto.RecurringScheduleResponse, error) {
	schedules, err := u.schedules.ListRecurring(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]dto.RecurringScheduleResponse, 0, len(schedules))
	for i := range schedules {
		out = append(out, *toRecurringResponse(&schedules[i]))
	}
	return out, nil
}

func (u *scheduleUsecase) Cancel(ctx context.Context, userID string, scheduleID string) error {
	return u.schedules.Cancel(ctx, scheduleID, userID)
}

func (u *scheduleUsecase) PauseRecurring(ctx context.Context, userID string, scheduleID string) error {
	return u.schedules.PauseRecurring(ctx, scheduleID, userID)
}

func (u *scheduleUsecase) ResumeRecurring(ctx context.Context, userID string, scheduleID string) error {
	rs, err := u.schedules.GetRecurring(ctx, scheduleID, userID)
	if err != nil {
		return err
	}
	if rs.State != model.RecurringPaused {
		return model.Errf(model.KindValidation, "schedule %s is %s, not PAUSED", scheduleID, rs.State)
	}
	next := rs.Cadence.Next(u.clock.NowUTC())
	return u.schedules.ResumeRecurring(ctx, scheduleID, userID, next)
}

func (u *scheduleUsecase) CancelRecurring(ctx context.Context, userID string, scheduleID string) error {
	return u.schedules.CancelRecurring(ctx, scheduleID, userID)
}

func cadenceFromRequest(req dto.CadenceRequest) (model.Cadence, error) {
	c := model.Cadence{
		Kind:     model.CadenceKind(strings.ToUpper(strings.TrimSpace(req.Kind))),
		Hour:     req.Hour,
		Minute:   req.Minute,
		Weekday:  time.Weekday(req.Weekday),
		MonthDay: req.MonthDay,
	}
	if err := c.Validate(); err != nil {
		return model.Cadence{}, err
	}
	return c, nil
}

func toScheduleResponse(s *model.Schedule) *dto.ScheduleResponse {
	resp := &dto.ScheduleResponse{
		ID:        s.ID,
		VideoID:   s.VideoID,
		RunAt:     s.ScheduledAt.Format(time.RFC3339),
		State:     string(s.State),
		Targets:   toTargetRequests(s.Targets),
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
	}
	if s.FiredAt != nil {
		resp.FiredAt = s.FiredAt.Format(time.RFC3339)
	}
	return resp
}

func toRecurringResponse(rs *model.RecurringSchedule) *dto.RecurringScheduleResponse {
	return &dto.RecurringScheduleResponse{
		ID:      rs.ID,
		VideoID: rs.VideoID,
		Cadence: dto.CadenceRequest{
			Kind:     string(rs.Cadence.Kind),
			Hour:     rs.Cadence.Hour,
			Minute:   rs.Cadence.Minute,
			Weekday:  int(rs.Cadence.Weekday),
			MonthDay: rs.Cadence.MonthDay,
		},
		CaptionVariants: rs.CaptionVariants,
		VariantCursor:   rs.VariantCursor,
		State:           string(rs.State),
		NextOccurrence:  rs.NextOccurrence.Format(time.RFC3339),
		Targets:         toTargetRequests(rs.Targets),
		CreatedAt:       rs.CreatedAt.Format(time.RFC3339),
	}
}

func toTargetRequests(targets []model.PlatformTarget) []dto.PlatformTargetRequest {
	out := make([]dto.PlatformTargetRequest, 0, len(targets))
	for _, t := range targets {
		out = append(out, dto.PlatformTargetRequest{
			Platform: string(t.Platform),
			Caption:  t.Caption,
			Tags:     t.Tags,
			Privacy:  t.Privacy,
		})
	}
	return out
}
