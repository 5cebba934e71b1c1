package worker

import (
	"math/rand/v2"
	"slices"
	"time"
)

// BusinessHours is the window in which the worker polls at its normal
// interval. Outside it the worker still runs, but sleeps for the
// off-hours interval between cycles.
type BusinessHours struct {
	Enabled   bool
	Location  *time.Location
	Weekdays  []time.Weekday
	StartHour int // inclusive
	EndHour   int // exclusive
}

// DefaultBusinessHours is Monday to Friday, 09:00 to 18:00 local time,
// disabled.
func DefaultBusinessHours() BusinessHours {
	return BusinessHours{
		Location:  time.Local,
		Weekdays:  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		StartHour: 9,
		EndHour:   18,
	}
}

// Open reports whether t falls inside the window. A disabled gate is
// always open.
func (b BusinessHours) Open(t time.Time) bool {
	if !b.Enabled {
		return true
	}
	if b.Location != nil {
		t = t.In(b.Location)
	}
	if !slices.Contains(b.Weekdays, t.Weekday()) {
		return false
	}
	h := t.Hour()
	return h >= b.StartHour && h < b.EndHour
}

// backoff returns the delay after the given number of consecutive
// failures: base doubled per failure, capped at 4×base, with ±25% jitter.
func backoff(base time.Duration, failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	limit := 4 * base
	delay := base
	for i := 1; i < failures && delay < limit; i++ {
		delay *= 2
	}
	if delay > limit {
		delay = limit
	}
	if delay/2 > 0 {
		delay = delay - delay/4 + time.Duration(rand.Int64N(int64(delay/2)))
	}
	return delay
}

// rateLimitDelay is how long to wait for a throttle to clear: until reset,
// but never longer than the poll interval.
func rateLimitDelay(reset, now time.Time, poll time.Duration) time.Duration {
	if reset.IsZero() {
		return poll
	}
	d := reset.Sub(now)
	if d <= 0 || d > poll {
		return poll
	}
	return d
}
