package gateway

import (
	"sync"
	"time"
)

// RateLimiter enforces per-key fixed-window ceilings: one window aligned to
// the wall-clock minute, one to the UTC day. Windows are recomputed from the
// timestamp at check time; there are no background timers.
//
// The store runs single-instance, so the limiter keeps its counters
// in-process. All state for a check is read and written inside one critical
// section, which makes the increment-and-compare linearizable per key: no
// interleaving of concurrent checks can admit more than the ceiling.
type RateLimiter struct {
	mu   sync.Mutex
	keys map[string]*keyWindows
}

type keyWindows struct {
	minute window
	day    window
}

type window struct {
	start time.Time
	count int
}

// Decision is the outcome of a rate-limit check. Remaining counts are after
// the current request; RetryAfter is set only on rejection and reports the
// shorter of the violated windows' resets.
type Decision struct {
	Allowed      bool
	RemainingRPM int
	RemainingRPD int
	RetryAfter   time.Duration
}

// NewRateLimiter returns an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{keys: make(map[string]*keyWindows)}
}

// Check consumes one request from both of the key's windows if neither
// ceiling would be exceeded. The increment and the comparison form a single
// atomic unit: on rejection the increments are rolled back before the lock
// is released, so a denied attempt never consumes budget — but an allowed
// increment is never rolled back afterwards, even if the request is later
// cancelled.
func (l *RateLimiter) Check(keyID string, rpm, rpd int, now time.Time) Decision {
	minuteStart := now.Truncate(time.Minute)
	dayStart := now.UTC().Truncate(24 * time.Hour)

	l.mu.Lock()
	defer l.mu.Unlock()

	kw := l.keys[keyID]
	if kw == nil {
		kw = &keyWindows{}
		l.keys[keyID] = kw
	}

	// Minute and day windows reset independently.
	if !kw.minute.start.Equal(minuteStart) {
		kw.minute = window{start: minuteStart}
	}
	if !kw.day.start.Equal(dayStart) {
		kw.day = window{start: dayStart}
	}

	kw.minute.count++
	kw.day.count++

	overMinute := kw.minute.count > rpm
	overDay := kw.day.count > rpd
	if overMinute || overDay {
		kw.minute.count--
		kw.day.count--

		retry := time.Duration(0)
		if overMinute {
			retry = minuteStart.Add(time.Minute).Sub(now)
		}
		if overDay {
			dayRetry := dayStart.Add(24 * time.Hour).Sub(now)
			if retry == 0 || dayRetry < retry {
				retry = dayRetry
			}
		}

		return Decision{
			Allowed:      false,
			RemainingRPM: remaining(rpm, kw.minute.count),
			RemainingRPD: remaining(rpd, kw.day.count),
			RetryAfter:   retry,
		}
	}

	return Decision{
		Allowed:      true,
		RemainingRPM: remaining(rpm, kw.minute.count),
		RemainingRPD: remaining(rpd, kw.day.count),
	}
}

// Forget drops a key's windows, e.g. after deletion.
func (l *RateLimiter) Forget(keyID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.keys, keyID)
}

func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}
