package repository

import (
	"context"
	"time"

	"crosspost/domain/model"
)

// IScheduleRepository persists one-shot and recurring schedules and owns the
// fire transaction that turns a due schedule into posts and jobs exactly
// once, even with concurrent scanners.
type IScheduleRepository interface {
	Create(ctx context.Context, s *model.Schedule) error
	CreateRecurring(ctx context.Context, rs *model.RecurringSchedule) error
	Get(ctx context.Context, id string, userID string) (*model.Schedule, error)
	GetRecurring(ctx context.Context, id string, userID string) (*model.RecurringSchedule, error)
	List(ctx context.Context, userID string, limit int, offset int) ([]model.Schedule, error)
	ListRecurring(ctx context.Context, userID string, limit int, offset int) ([]model.RecurringSchedule, error)

	// DueOneShot returns PENDING schedules with run_at at or before the
	// horizon, oldest first.
	DueOneShot(ctx context.Context, horizon time.Time, limit int) ([]model.Schedule, error)
	// DueRecurring returns ACTIVE recurring schedules whose next occurrence is
	// at or before the horizon, oldest first.
	DueRecurring(ctx context.Context, horizon time.Time, limit int) ([]model.RecurringSchedule, error)

	// FireOneShot locks the schedule row, skipping rows locked by other
	// scanners, re-checks PENDING, persists the aggregate and posts, enqueues
	// the jobs, and marks the schedule FIRED, all in one transaction. fired
	// is false when another scanner won the row or the state changed.
	FireOneShot(ctx context.Context, scheduleID string, mp *model.MultiPost, posts []model.Post, enqueue EnqueueJobsFunc) (fired bool, err error)
	// FireRecurring is FireOneShot for recurring rows: on success it also
	// advances the variant cursor and next occurrence instead of a terminal
	// state flip.
	FireRecurring(ctx context.Context, scheduleID string, mp *model.MultiPost, posts []model.Post, nextOccurrence time.Time, nextCursor int, enqueue EnqueueJobsFunc) (fired bool, err error)

	// Cancel flips a PENDING one-shot to CANCELED.
	Cancel(ctx context.Context, id string, userID string) error
	PauseRecurring(ctx context.Context, id string, userID string) error
	// ResumeRecurring reactivates a paused schedule with a freshly computed
	// next occurrence so missed slots during the pause are not replayed.
	ResumeRecurring(ctx context.Context, id string, userID string, nextOccurrence time.Time) error
	CancelRecurring(ctx context.Context, id string, userID string) error
}
