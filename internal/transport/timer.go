package transport

import (
	"time"

	"github.com/waabox/deviceauth/internal/domain"
)

// TimerScheduler runs callbacks with time.AfterFunc.
type TimerScheduler struct{}

var _ domain.Scheduler = TimerScheduler{}

// After runs fn on its own goroutine once d has elapsed.
func (TimerScheduler) After(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

// SystemClock reads the wall clock.
type SystemClock struct{}

var _ domain.Clock = SystemClock{}

func (SystemClock) Now() time.Time {
	return time.Now()
}
