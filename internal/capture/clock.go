package capture

import "time"

// Timer is a handle to a pending callback. Stop prevents the callback from
// running if it has not fired yet.
type Timer interface {
	Stop() bool
}

// Clock is the controller's source of time. Tests substitute a manual clock
// to drive timers deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (SystemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
