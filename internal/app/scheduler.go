package app

import "time"

// Scheduler runs f after d. The returned func cancels the call if it has not run yet.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) (cancel func() bool)
}

// TimerScheduler schedules with time.AfterFunc.
type TimerScheduler struct{}

func (TimerScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}
