package engine

import "time"

// backoff grows the wait between passes while there is nothing to route.
type backoff struct {
	current time.Duration
	initial time.Duration
	max     time.Duration
}

func newBackoff(initial, maximum time.Duration) *backoff {
	return &backoff{current: initial, initial: initial, max: max(initial, maximum)}
}

// Interval returns the current wait.
func (b *backoff) Interval() time.Duration {
	return b.current
}

// Increase doubles the wait up to the maximum.
func (b *backoff) Increase() {
	b.current = min(b.current*2, b.max)
}

// Reset returns the wait to its initial value.
func (b *backoff) Reset() {
	b.current = b.initial
}
