package transmission

import "time"

// exponentialSchedule is the default suspension table. Every large interval
// is immediately followed by a short 5 second one so waiting senders get
// frequent chances to recheck policy state instead of sleeping through the
// whole window.
var exponentialSchedule = []time.Duration{
	5 * time.Second,
	10 * time.Second,
	5 * time.Second,
	15 * time.Second,
	5 * time.Second,
	30 * time.Second,
	5 * time.Second,
	60 * time.Second,
	5 * time.Second,
	120 * time.Second,
	5 * time.Second,
	240 * time.Second,
	5 * time.Second,
	360 * time.Second,
	5 * time.Second,
}

// BackoffState is the per-sender escalation cursor. Each sending goroutine
// owns exactly one; it is never shared, so backoff progress cannot race
// across senders.
type BackoffState struct {
	index int
}

// NewBackoffState returns an inactive cursor.
func NewBackoffState() *BackoffState {
	return &BackoffState{index: -1}
}

// Reset marks the cursor inactive again after a successful send.
func (s *BackoffState) Reset() { s.index = -1 }

// Active reports whether the sender is currently backing off.
func (s *BackoffState) Active() bool { return s.index >= 0 }

// BackoffPolicy computes the next suspension duration for a sender.
type BackoffPolicy interface {
	Next(s *BackoffState) time.Duration
	// Max is the largest duration the policy can produce.
	Max() time.Duration
}

// ExponentialBackoff walks the escalation table, holding at the final entry
// once reached rather than cycling.
type ExponentialBackoff struct {
	schedule []time.Duration
}

// NewExponentialBackoff returns the default exponential policy.
func NewExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{schedule: exponentialSchedule}
}

// Next advances the sender's cursor and returns the scheduled duration.
func (b *ExponentialBackoff) Next(s *BackoffState) time.Duration {
	s.index++
	if s.index >= len(b.schedule) {
		s.index = len(b.schedule) - 1
	}
	return b.schedule[s.index]
}

// Max returns the largest entry in the schedule.
func (b *ExponentialBackoff) Max() time.Duration {
	max := time.Duration(0)
	for _, d := range b.schedule {
		if d > max {
			max = d
		}
	}
	return max
}

// StaticBackoff always waits the same interval.
type StaticBackoff struct {
	interval time.Duration
}

// NewStaticBackoff returns a fixed-interval policy.
func NewStaticBackoff(interval time.Duration) *StaticBackoff {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &StaticBackoff{interval: interval}
}

// Next marks the sender active and returns the fixed interval.
func (b *StaticBackoff) Next(s *BackoffState) time.Duration {
	if s.index < 0 {
		s.index = 0
	}
	return b.interval
}

// Max returns the fixed interval.
func (b *StaticBackoff) Max() time.Duration { return b.interval }
