package persistence

import (
	"context"
	"database/sql"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
)

// ScheduleRepository persists one-shot and recurring schedules. The fire
// methods lock candidate rows with SKIP LOCKED so concurrent scanners divide
// the due set instead of colliding on it.
type ScheduleRepository struct {
	db *sql.DB
}

func NewScheduleRepository(db *sql.DB) repository.IScheduleRepository {
	return &ScheduleRepository{db: db}
}

const scheduleColumns = `id, user_id, video_id, targets, scheduled_at, state, fired_at, multi_post_id, created_at, updated_at`
const recurringColumns = `id, user_id, video_id, targets, cadence, caption_variants, variant_cursor, state, next_occurrence, last_fired_at, created_at, updated_at`

func (r *ScheduleRepository) Create(ctx context.Context, s *model.Schedule) error {
	targets, err := marshalTargets(s.Targets)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO schedules (id, user_id, video_id, targets, scheduled_at, state, multi_post_id, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,'',$7,$8)`,
		s.ID, s.UserID, s.VideoID, targets, s.ScheduledAt, string(s.State), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return model.WrapError(model.KindStorageUnavailable, err, "creating schedule")
	}
	return nil
}

func (r *ScheduleRepository) CreateRecurring(ctx context.Context, rs *model.RecurringSchedule) error {
	targets, err := marshalTargets(rs.Targets)
	if err != nil {
		return err
	}
	cadence, err := marshalCadence(rs.Cadence)
	if err != nil {
		return err
	}
	variants, err := marshalStrings(rs.CaptionVariants)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO recurring_schedules (id, user_id, video_id, targets, cadence, caption_variants, variant_cursor, state, next_occurrence, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		rs.ID, rs.UserID, rs.VideoID, targets, cadence, variants, rs.VariantCursor,
		string(rs.State), rs.NextOccurrence, rs.CreatedAt, rs.UpdatedAt)
	if err != nil {
		return model.WrapError(model.KindStorageUnavailable, err, "creating recurring schedule")
	}
	return nil
}

func (r *ScheduleRepository) Get(ctx context.Context, id string, userID string) (*model.Schedule, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id=$1 AND user_id=$2`, id, userID)
	return scanSchedule(row.Scan)
}

func (r *ScheduleRepository) GetRecurring(ctx context.Context, id string, userID string) (*model.RecurringSchedule, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recurringColumns+` FROM recurring_schedules WHERE id=$1 AND user_id=$2`, id, userID)
	return scanRecurring(row.Scan)
}

func (r *ScheduleRepository) List(ctx context.Context, userID string, limit int, offset int) ([]model.Schedule, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "listing schedules")
	}
	defer rows.Close()

	var out []model.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "iterating schedules")
	}
	return out, nil
}

func (r *ScheduleRepository) ListRecurring(ctx context.Context, userID string, limit int, offset int) ([]model.RecurringSchedule, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recurringColumns+` FROM recurring_schedules WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "listing recurring schedules")
	}
	defer rows.Close()

	var out []model.RecurringSchedule
	for rows.Next() {
		rs, err := scanRecurring(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *rs)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "iterating recurring schedules")
	}
	return out, nil
}

func (r *ScheduleRepository) DueOneShot(ctx context.Context, horizon time.Time, limit int) ([]model.Schedule, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules
		 WHERE state=$1 AND scheduled_at <= $2
		 ORDER BY scheduled_at ASC LIMIT $3`,
		string(model.SchedulePending), horizon, limit)
	if err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "scanning due schedules")
	}
	defer rows.Close()

	var out []model.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "iterating due schedules")
	}
	return out, nil
}

func (r *ScheduleRepository) DueRecurring(ctx context.Context, horizon time.Time, limit int) ([]model.RecurringSchedule, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recurringColumns+` FROM recurring_schedules
		 WHERE state=$1 AND next_occurrence <= $2
		 ORDER BY next_occurrence ASC LIMIT $3`,
		string(model.RecurringActive), horizon, limit)
	if err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "scanning due recurring schedules")
	}
	defer rows.Close()

	var out []model.RecurringSchedule
	for rows.Next() {
		rs, err := scanRecurring(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *rs)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "iterating due recurring schedules")
	}
	return out, nil
}

func (r *ScheduleRepository) FireOneShot(ctx context.Context, scheduleID string, mp *model.MultiPost, posts []model.Post, enqueue repository.EnqueueJobsFunc) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, model.WrapError(model.KindStorageUnavailable, err, "beginning fire")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// SKIP LOCKED: a row held by another scanner scans as absent, so this
	// firing silently yields instead of blocking.
	var state string
	scanErr := tx.QueryRowContext(ctx,
		`SELECT state FROM schedules WHERE id=$1 FOR UPDATE SKIP LOCKED`, scheduleID).Scan(&state)
	if scanErr == sql.ErrNoRows {
		_ = tx.Rollback()
		return false, nil
	}
	if scanErr != nil {
		err = model.WrapError(model.KindStorageUnavailable, scanErr, "locking schedule")
		return false, err
	}
	if state != string(model.SchedulePending) {
		_ = tx.Rollback()
		return false, nil
	}

	if err = insertAggregate(ctx, tx, mp, posts); err != nil {
		return false, err
	}
	if enqueue != nil {
		if err = enqueue(ctx, buildJobs(mp, posts)); err != nil {
			return false, err
		}
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE schedules SET state=$2, fired_at=$3, multi_post_id=$4, updated_at=$5 WHERE id=$1`,
		scheduleID, string(model.ScheduleFired), mp.CreatedAt, mp.ID, time.Now().UTC()); err != nil {
		err = model.WrapError(model.KindStorageUnavailable, err, "marking schedule fired")
		return false, err
	}
	if err = tx.Commit(); err != nil {
		err = model.WrapError(model.KindStorageUnavailable, err, "committing fire")
		return false, err
	}
	return true, nil
}

func (r *ScheduleRepository) FireRecurring(ctx context.Context, scheduleID string, mp *model.MultiPost, posts []model.Post, nextOccurrence time.Time, nextCursor int, enqueue repository.EnqueueJobsFunc) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, model.WrapError(model.KindStorageUnavailable, err, "beginning recurring fire")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var state string
	scanErr := tx.QueryRowContext(ctx,
		`SELECT state FROM recurring_schedules WHERE id=$1 FOR UPDATE SKIP LOCKED`, scheduleID).Scan(&state)
	if scanErr == sql.ErrNoRows {
		_ = tx.Rollback()
		return false, nil
	}
	if scanErr != nil {
		err = model.WrapError(model.KindStorageUnavailable, scanErr, "locking recurring schedule")
		return false, err
	}
	if state != string(model.RecurringActive) {
		_ = tx.Rollback()
		return false, nil
	}

	if err = insertAggregate(ctx, tx, mp, posts); err != nil {
		return false, err
	}
	if enqueue != nil {
		if err = enqueue(ctx, buildJobs(mp, posts)); err != nil {
			return false, err
		}
	}
	// Cursor and next occurrence advance atomically with the firing.
	if _, err = tx.ExecContext(ctx,
		`UPDATE recurring_schedules SET variant_cursor=$2, next_occurrence=$3, last_fired_at=$4, updated_at=$5 WHERE id=$1`,
		scheduleID, nextCursor, nextOccurrence, mp.CreatedAt, time.Now().UTC()); err != nil {
		err = model.WrapError(model.KindStorageUnavailable, err, "advancing recurring schedule")
		return false, err
	}
	if err = tx.Commit(); err != nil {
		err = model.WrapError(model.KindStorageUnavailable, err, "committing recurring fire")
		return false, err
	}
	return true, nil
}

func (r *ScheduleRepository) Cancel(ctx context.Context, id string, userID string) error {
	return r.transition(ctx,
		`UPDATE schedules SET state=$3, updated_at=$4 WHERE id=$1 AND user_id=$2 AND state=$5`,
		id, userID, string(model.ScheduleCanceled), string(model.SchedulePending),
		"schedule", "only pending schedules can be canceled")
}

func (r *ScheduleRepository) PauseRecurring(ctx context.Context, id string, userID string) error {
	return r.transition(ctx,
		`UPDATE recurring_schedules SET state=$3, updated_at=$4 WHERE id=$1 AND user_id=$2 AND state=$5`,
		id, userID, string(model.RecurringPaused), string(model.RecurringActive),
		"recurring schedule", "only active schedules can be paused")
}

func (r *ScheduleRepository) ResumeRecurring(ctx context.Context, id string, userID string, nextOccurrence time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE recurring_schedules SET state=$3, next_occurrence=$4, updated_at=$5
		 WHERE id=$1 AND user_id=$2 AND state=$6`,
		id, userID, string(model.RecurringActive), nextOccurrence, time.Now().UTC(),
		string(model.RecurringPaused))
	if err != nil {
		return model.WrapError(model.KindStorageUnavailable, err, "resuming recurring schedule")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Errf(model.KindValidation, "recurring schedule %s is not paused", id)
	}
	return nil
}

func (r *ScheduleRepository) CancelRecurring(ctx context.Context, id string, userID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE recurring_schedules SET state=$3, updated_at=$4
		 WHERE id=$1 AND user_id=$2 AND state IN ($5,$6)`,
		id, userID, string(model.RecurringCanceled), time.Now().UTC(),
		string(model.RecurringActive), string(model.RecurringPaused))
	if err != nil {
		return model.WrapError(model.KindStorageUnavailable, err, "canceling recurring schedule")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Errf(model.KindValidation, "recurring schedule %s not found or already canceled", id)
	}
	return nil
}

func (r *ScheduleRepository) transition(ctx context.Context, q, id, userID, to, from, what, hint string) error {
	res, err := r.db.ExecContext(ctx, q, id, userID, to, time.Now().UTC(), from)
	if err != nil {
		return model.WrapError(model.KindStorageUnavailable, err, "updating "+what)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Errf(model.KindValidation, "%s %s not found or not transitionable: %s", what, id, hint)
	}
	return nil
}

func scanSchedule(scan func(...interface{}) error) (*model.Schedule, error) {
	s := &model.Schedule{}
	var targets, state, multiPostID string
	var firedAt sql.NullTime
	err := scan(&s.ID, &s.UserID, &s.VideoID, &targets, &s.ScheduledAt, &state,
		&firedAt, &multiPostID, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, model.NewError(model.KindValidation, "schedule not found")
	}
	if err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "scanning schedule")
	}
	s.State = model.ScheduleState(state)
	s.MultiPostID = multiPostID
	if s.Targets, err = unmarshalTargets(targets); err != nil {
		return nil, err
	}
	if firedAt.Valid {
		t := firedAt.Time.UTC()
		s.FiredAt = &t
	}
	return s, nil
}

func scanRecurring(scan func(...interface{}) error) (*model.RecurringSchedule, error) {
	rs := &model.RecurringSchedule{}
	var targets, cadence, variants, state string
	var lastFired sql.NullTime
	err := scan(&rs.ID, &rs.UserID, &rs.VideoID, &targets, &cadence, &variants,
		&rs.VariantCursor, &state, &rs.NextOccurrence, &lastFired, &rs.CreatedAt, &rs.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, model.NewError(model.KindValidation, "recurring schedule not found")
	}
	if err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "scanning recurring schedule")
	}
	rs.State = model.RecurringState(state)
	if rs.Targets, err = unmarshalTargets(targets); err != nil {
		return nil, err
	}
	if rs.Cadence, err = unmarshalCadence(cadence); err != nil {
		return nil, err
	}
	if rs.CaptionVariants, err = unmarshalStrings(variants); err != nil {
		return nil, err
	}
	if lastFired.Valid {
		t := lastFired.Time.UTC()
		rs.LastFiredAt = &t
	}
	return rs, nil
}
