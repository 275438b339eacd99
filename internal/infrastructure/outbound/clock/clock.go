package clock

import (
	"time"

	"github.com/sophialabs/meetpoint/internal/infrastructure/ports"
)

var _ ports.Clock = (*RealClock)(nil)

// RealClock reads the system clock. It also satisfies gcache.Clock, so the
// route cache expires entries on the same time source as run timestamps.
type RealClock struct{}

// New creates a new RealClock.
func New() *RealClock {
	return &RealClock{}
}

func (c *RealClock) Now() time.Time { return time.Now() }
