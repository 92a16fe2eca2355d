package model

import "time"

// ScheduleState is the one-shot schedule lifecycle.
type ScheduleState string

const (
	SchedulePending  ScheduleState = "PENDING"
	ScheduleFired    ScheduleState = "FIRED"
	ScheduleCanceled ScheduleState = "CANCELED"
)

// RecurringState is the recurring schedule lifecycle.
type RecurringState string

const (
	RecurringActive   RecurringState = "ACTIVE"
	RecurringPaused   RecurringState = "PAUSED"
	RecurringCanceled RecurringState = "CANCELED"
)

// PlatformTarget holds the per-platform caption and tags a schedule (or an
// immediate multi-post) publishes with.
type PlatformTarget struct {
	Platform PlatformID `json:"platform"`
	Caption  string     `json:"caption"`
	Tags     []string   `json:"tags,omitempty"`
	Privacy  string     `json:"privacy,omitempty"`
}

// Schedule is a one-shot deferred publishing intent. ScheduledAt must be at
// least five minutes in the future at creation.
type Schedule struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	VideoID     string           `json:"video_id"`
	Targets     []PlatformTarget `json:"targets"`
	ScheduledAt time.Time        `json:"scheduled_at"`
	State       ScheduleState    `json:"state"`
	FiredAt     *time.Time       `json:"fired_at,omitempty"`
	MultiPostID string           `json:"multi_post_id,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// CadenceKind selects the recurrence rule.
type CadenceKind string

const (
	CadenceDaily   CadenceKind = "DAILY"
	CadenceWeekly  CadenceKind = "WEEKLY"
	CadenceMonthly CadenceKind = "MONTHLY"
)

// Cadence is a closed recurrence description: daily at HH:MM UTC, weekly on a
// weekday at HH:MM UTC, or monthly on a day-of-month at HH:MM UTC.
type Cadence struct {
	Kind     CadenceKind  `json:"kind"`
	Hour     int          `json:"hour"`
	Minute   int          `json:"minute"`
	Weekday  time.Weekday `json:"weekday,omitempty"`
	MonthDay int          `json:"month_day,omitempty"`
}

// Validate rejects impossible cadences.
func (c Cadence) Validate() error {
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return Errf(KindValidation, "cadence time %02d:%02d out of range", c.Hour, c.Minute)
	}
	switch c.Kind {
	case CadenceDaily:
	case CadenceWeekly:
		if c.Weekday < time.Sunday || c.Weekday > time.Saturday {
			return Errf(KindValidation, "cadence weekday %d out of range", c.Weekday)
		}
	case CadenceMonthly:
		if c.MonthDay < 1 || c.MonthDay > 31 {
			return Errf(KindValidation, "cadence day-of-month %d out of range", c.MonthDay)
		}
	default:
		return Errf(KindValidation, "unknown cadence kind %q", c.Kind)
	}
	return nil
}

// Next computes the first instant matching the cadence strictly after the
// given time, in UTC. Monthly cadences clamp to the last day of months that
// lack the configured day (day 31 in February yields Feb 28, or 29 in leap
// years).
func (c Cadence) Next(after time.Time) time.Time {
	after = after.UTC()
	switch c.Kind {
	case CadenceWeekly:
		cand := time.Date(after.Year(), after.Month(), after.Day(), c.Hour, c.Minute, 0, 0, time.UTC)
		for cand.Weekday() != c.Weekday || !cand.After(after) {
			cand = cand.AddDate(0, 0, 1)
		}
		return cand
	case CadenceMonthly:
		year, month := after.Year(), after.Month()
		cand := c.monthlyAt(year, month)
		for !cand.After(after) {
			month++
			if month > time.December {
				month = time.January
				year++
			}
			cand = c.monthlyAt(year, month)
		}
		return cand
	default: // daily
		cand := time.Date(after.Year(), after.Month(), after.Day(), c.Hour, c.Minute, 0, 0, time.UTC)
		for !cand.After(after) {
			cand = cand.Add(24 * time.Hour)
		}
		return cand
	}
}

func (c Cadence) monthlyAt(year int, month time.Month) time.Time {
	day := c.MonthDay
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, c.Hour, c.Minute, 0, 0, time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	// Day zero of the next month normalizes to this month's last day.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// RecurringSchedule is a repeating publishing intent. While ACTIVE,
// NextOccurrence is strictly in the future between scheduler ticks; the
// variant cursor is taken modulo the variant list length and advances
// atomically with each firing.
type RecurringSchedule struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	VideoID         string           `json:"video_id"`
	Targets         []PlatformTarget `json:"targets"`
	Cadence         Cadence          `json:"cadence"`
	CaptionVariants []string         `json:"caption_variants,omitempty"`
	VariantCursor   int              `json:"variant_cursor"`
	State           RecurringState   `json:"state"`
	NextOccurrence  time.Time        `json:"next_occurrence"`
	LastFiredAt     *time.Time       `json:"last_fired_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}
