package repository

import "time"

// IClock supplies UTC wall-clock time, monotonically non-decreasing within a
// process. Tests inject a virtual clock; production uses the system clock.
type IClock interface {
	NowUTC() time.Time
}

// IIDSource mints globally unique, time-prefixed, sortable identifiers.
type IIDSource interface {
	NewID() string
}
