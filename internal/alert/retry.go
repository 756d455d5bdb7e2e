package alert

import (
	"math/rand/v2"
	"time"
)

// DefaultMaxAttempts is the number of tries before a delivery is exhausted.
const DefaultMaxAttempts = 5

// Schedule is a delivery backoff policy. Delays[n] is the wait after the
// (n+1)th failure; later failures reuse the last delay.
type Schedule struct {
	Delays []time.Duration
	// Jitter is the ± fraction applied to each delay.
	Jitter float64
	rand   func() float64
}

// DefaultSchedule backs off from a minute to half a day.
var DefaultSchedule = Schedule{
	Delays: []time.Duration{
		time.Minute,
		5 * time.Minute,
		30 * time.Minute,
		2 * time.Hour,
		12 * time.Hour,
	},
	Jitter: 0.2,
}

// Delay returns the wait after failures previous failed attempts.
func (s Schedule) Delay(failures int) time.Duration {
	if len(s.Delays) == 0 {
		return 0
	}
	base := s.Delays[min(max(failures, 0), len(s.Delays)-1)]
	r := rand.Float64
	if s.rand != nil {
		r = s.rand
	}
	return time.Duration(float64(base) * (1 + (r()*2-1)*s.Jitter))
}

// Next is the time of the next attempt.
func (s Schedule) Next(now time.Time, failures int) time.Time {
	return now.Add(s.Delay(failures))
}

// Bounds returns the jitter window around the base delay for failures.
func (s Schedule) Bounds(failures int) (lo, hi time.Duration) {
	base := s.Delays[min(max(failures, 0), len(s.Delays)-1)]
	return time.Duration(float64(base) * (1 - s.Jitter)), time.Duration(float64(base) * (1 + s.Jitter))
}

// IsExhausted reports whether attempts has reached maxAttempts.
func IsExhausted(attempts, maxAttempts int) bool {
	return attempts >= maxAttempts
}
