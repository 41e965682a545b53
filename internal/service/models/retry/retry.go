// Package retry tracks delivery attempts for parked notifications.
package retry

import (
	"math"
	"time"
)

const (
	DefaultMaxAttempts = 8
	baseDelay          = 30 * time.Second
)

// Schedule is the attempt bookkeeping stored next to a parked message.
type Schedule struct {
	Attempts      int
	MaxAttempts   int
	LastError     string
	NextAttemptAt time.Time
}

// Parked is the schedule of a message that just failed its first, unscheduled attempt.
// It becomes due immediately.
func Parked(cause error, maxAttempts int, now time.Time) Schedule {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	return Schedule{MaxAttempts: maxAttempts, LastError: cause.Error(), NextAttemptAt: now}
}

// Failed records one more failed attempt and moves the next one out by Backoff.
func (s Schedule) Failed(cause error, now time.Time) Schedule {
	s.Attempts++
	s.LastError = cause.Error()
	s.NextAttemptAt = now.Add(Backoff(s.Attempts))

	return s
}

// Exhausted reports whether no attempts are left. Exhausted messages stay in storage for
// inspection but are never due again.
func (s Schedule) Exhausted() bool {
	return s.Attempts >= s.MaxAttempts
}

// Backoff returns the delay after failed attempt n: 30s, 60s, 120s and so on.
func Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}

	return time.Duration(math.Pow(2, float64(n-1))) * baseDelay
}
