package usecase

import (
	"context"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
)

// ISchedulerUsecase is the periodic beat that turns due schedules into posts
// and jobs. Safe to run on every process: the fire transactions claim rows
// with SKIP LOCKED, so concurrent scanners never double-fire.
type ISchedulerUsecase interface {
	// Tick runs one scan and returns how many schedules fired.
	Tick(ctx context.Context) (int, error)
}

type schedulerUsecase struct {
	schedules repository.IScheduleRepository
	queue     repository.IJobQueue
	governor  IRepostGovernor
	clock     repository.IClock
	ids       repository.IIDSource
	queueName string
	tick      time.Duration
	batch     int
}

func NewSchedulerUsecase(schedules repository.IScheduleRepository, queue repository.IJobQueue, governor IRepostGovernor, clock repository.IClock, ids repository.IIDSource, queueName string, tick time.Duration, batch int) ISchedulerUsecase {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	return &schedulerUsecase{
		schedules: schedules,
		queue:     queue,
		governor:  governor,
		clock:     clock,
		ids:       ids,
		queueName: queueName,
		tick:      tick,
		batch:     batch,
	}
}

func (u *schedulerUsecase) Tick(ctx context.Context) (int, error) {
	now := u.clock.NowUTC()
	// Half a tick of lookahead keeps the average firing error centered on
	// zero instead of trailing by half a period.
	horizon := now.Add(u.tick / 2)
	log := logger.WithComponent("scheduler")
	fired := 0

	oneShots, err := u.schedules.DueOneShot(ctx, horizon, u.batch)
	if err != nil {
		return 0, err
	}
	for i := range oneShots {
		s := &oneShots[i]
		ok, err := u.fireOneShot(ctx, s, now)
		if err != nil {
			log.WithFields(map[string]interface{}{
				"schedule_id": s.ID,
				"error":       err,
			}).Error("One-shot firing failed; will retry next tick")
			continue
		}
		if ok {
			log.WithField("schedule_id", s.ID).Info("Schedule fired")
			fired++
		}
	}

	recurring, err := u.schedules.DueRecurring(ctx, horizon, u.batch)
	if err != nil {
		return fired, err
	}
	for i := range recurring {
		rs := &recurring[i]
		ok, err := u.fireRecurring(ctx, rs, now)
		if err != nil {
			log.WithFields(map[string]interface{}{
				"schedule_id": rs.ID,
				"error":       err,
			}).Error("Recurring firing failed; will retry next tick")
			continue
		}
		if ok {
			log.WithField("schedule_id", rs.ID).Info("Recurring schedule fired")
			fired++
		}
	}
	return fired, nil
}

func (u *schedulerUsecase) fireOneShot(ctx context.Context, s *model.Schedule, now time.Time) (bool, error) {
	mp, posts := materializeAggregate(u.ids, now, s.UserID, s.VideoID, model.MultiPostSourceSchedule, s.ID, s.Targets)
	return u.schedules.FireOneShot(ctx, s.ID, mp, posts, jobEnqueuer(u.queue, u.queueName))
}

func (u *schedulerUsecase) fireRecurring(ctx context.Context, rs *model.RecurringSchedule, now time.Time) (bool, error) {
	targets := rs.Targets
	if variant, ok := u.governor.SelectVariant(rs.CaptionVariants, rs.VariantCursor); ok {
		targets = make([]model.PlatformTarget, len(rs.Targets))
		copy(targets, rs.Targets)
		for i := range targets {
			targets[i].Caption = variant
		}
	}
	mp, posts := materializeAggregate(u.ids, now, rs.UserID, rs.VideoID, model.MultiPostSourceRecurring, rs.ID, targets)

	// Next() lands strictly in the future, so occurrences missed during an
	// outage collapse into this one firing instead of replaying one per tick.
	next := rs.Cadence.Next(now)
	nextCursor := rs.VariantCursor + 1
	if n := len(rs.CaptionVariants); n > 0 {
		nextCursor %= n
	} else {
		nextCursor = 0
	}
	return u.schedules.FireRecurring(ctx, rs.ID, mp, posts, next, nextCursor, jobEnqueuer(u.queue, u.queueName))
}
