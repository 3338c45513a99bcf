package orchestrator

import (
	"time"

	"github.com/benbjohnson/clock"
)

// clockTimer adapts a clock.Clock to backoff's Timer interface so probe
// spacing runs on an injectable clock. With a mock clock, tests advance time
// instead of sleeping through probe intervals.
type clockTimer struct {
	clock clock.Clock
	timer *clock.Timer
}

func newClockTimer(c clock.Clock) *clockTimer {
	return &clockTimer{clock: c}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.Timer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}
