package transport

import "time"

// Default reconnection parameters.
const (
	DefaultMaxRetries = 10
	DefaultBackoff    = 1 * time.Second
	DefaultMaxBackoff = 30 * time.Second
)

// backoff yields exponentially growing waits between reconnection attempts,
// capped at max, and gives up after maxRetries consecutive failures.
type backoff struct {
	initial    time.Duration
	max        time.Duration
	maxRetries int

	current time.Duration
	attempt int
}

func newBackoff(initial, ceiling time.Duration, maxRetries int) *backoff {
	if initial <= 0 {
		initial = DefaultBackoff
	}
	if ceiling <= 0 {
		ceiling = DefaultMaxBackoff
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &backoff{initial: initial, max: max(ceiling, initial), maxRetries: maxRetries, current: initial}
}

// next returns the wait before the next attempt and false once the retry
// budget is spent.
func (b *backoff) next() (time.Duration, bool) {
	if b.attempt >= b.maxRetries {
		return 0, false
	}
	b.attempt++
	wait := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return wait, true
}

// reset restores the initial wait and the full retry budget after a
// successful connection.
func (b *backoff) reset() {
	b.current = b.initial
	b.attempt = 0
}
