package clock

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"crosspost/domain/repository"
)

// systemClock reads the wall clock and never goes backwards within the
// process: scheduling decisions (due-ness, cooldown math) tolerate NTP
// steps by holding the high-water mark.
type systemClock struct {
	mu   sync.Mutex
	last time.Time
}

func NewSystemClock() repository.IClock {
	return &systemClock{}
}

func (c *systemClock) NowUTC() time.Time {
	now := time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Before(c.last) {
		return c.last
	}
	c.last = now
	return now
}

// uuidSource mints UUIDv7 identifiers: time-prefixed, so rows created later
// sort lexicographically after rows created earlier.
type uuidSource struct{}

func NewIDSource() repository.IIDSource {
	return uuidSource{}
}

func (uuidSource) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
