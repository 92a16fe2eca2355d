package dto

// CreateScheduleRequest represents request for a one-shot scheduled publish
type CreateScheduleRequest struct {
	UserID  string                  `json:"user_id"`
	VideoID string                  `json:"video_id"`
	RunAt   string                  `json:"run_at"` // RFC 3339, must be in the future
	Targets []PlatformTargetRequest `json:"targets"`
}

// CadenceRequest describes when a recurring schedule fires
type CadenceRequest struct {
	Kind     string `json:"kind"` // DAILY, WEEKLY, MONTHLY
	Hour     int    `json:"hour"`
	Minute   int    `json:"minute"`
	Weekday  int    `json:"weekday,omitempty"`   // 0=Sunday, WEEKLY only
	MonthDay int    `json:"month_day,omitempty"` // 1..31, MONTHLY only
}

// CreateRecurringScheduleRequest represents request for a recurring publish
type CreateRecurringScheduleRequest struct {
	UserID          string                  `json:"user_id"`
	VideoID         string                  `json:"video_id"`
	Cadence         CadenceRequest          `json:"cadence"`
	CaptionVariants []string                `json:"caption_variants,omitempty"`
	Targets         []PlatformTargetRequest `json:"targets"`
}

// ScheduleResponse represents a one-shot schedule
type ScheduleResponse struct {
	ID        string                  `json:"id"`
	VideoID   string                  `json:"video_id"`
	RunAt     string                  `json:"run_at"`
	State     string                  `json:"state"`
	Targets   []PlatformTargetRequest `json:"targets"`
	FiredAt   string                  `json:"fired_at,omitempty"`
	CreatedAt string                  `json:"created_at"`
}

// RecurringScheduleResponse represents a recurring schedule
type RecurringScheduleResponse struct {
	ID              string                  `json:"id"`
	VideoID         string                  `json:"video_id"`
	Cadence         CadenceRequest          `json:"cadence"`
	CaptionVariants []string                `json:"caption_variants,omitempty"`
	VariantCursor   int                     `json:"variant_cursor"`
	State           string                  `json:"state"`
	NextOccurrence  string                  `json:"next_occurrence"`
	Targets         []PlatformTargetRequest `json:"targets"`
	CreatedAt       string                  `json:"created_at"`
}
