package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock is the time source for the engine. Services never call time.Now
// directly so tests can pin the calendar.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the real wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return SystemClock{} }),
)
