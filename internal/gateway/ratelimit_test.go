package gateway

import (
	"sync"
	"testing"
	"time"
)

func TestRateLimiterMinuteWindow(t *testing.T) {
	l := NewRateLimiter()
	now := time.Date(2026, 3, 1, 10, 0, 15, 0, time.UTC)

	for i := 0; i < 3; i++ {
		d := l.Check("k", 3, 100, now)
		if !d.Allowed {
			t.Fatalf("request %d denied", i)
		}
		if d.RemainingRPM != 2-i {
			t.Errorf("request %d RemainingRPM = %d, want %d", i, d.RemainingRPM, 2-i)
		}
	}

	d := l.Check("k", 3, 100, now)
	if d.Allowed {
		t.Fatal("4th request allowed over a 3/min ceiling")
	}
	if d.RemainingRPM != 0 {
		t.Errorf("RemainingRPM on rejection = %d, want 0", d.RemainingRPM)
	}
	if want := 45 * time.Second; d.RetryAfter != want {
		t.Errorf("RetryAfter = %v, want %v", d.RetryAfter, want)
	}

	// Day budget untouched by the denied attempt: 100 - 3 allowed = 97.
	if d.RemainingRPD != 97 {
		t.Errorf("RemainingRPD = %d, want 97", d.RemainingRPD)
	}

	// Window rolls, budget returns.
	d = l.Check("k", 3, 100, now.Add(time.Minute))
	if !d.Allowed {
		t.Fatal("denied after minute window reset")
	}
}

func TestRateLimiterDayWindow(t *testing.T) {
	l := NewRateLimiter()
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if d := l.Check("k", 100, 2, now); !d.Allowed {
			t.Fatalf("request %d denied", i)
		}
	}

	d := l.Check("k", 100, 2, now)
	if d.Allowed {
		t.Fatal("request allowed over the daily ceiling")
	}
	if want := time.Minute; d.RetryAfter != want {
		t.Errorf("RetryAfter = %v, want %v (until UTC midnight)", d.RetryAfter, want)
	}

	// The minute window rolling does not help; only the day reset does.
	if d := l.Check("k", 100, 2, now.Add(30*time.Second)); d.Allowed {
		t.Fatal("allowed before the day window reset")
	}
	if d := l.Check("k", 100, 2, now.Add(time.Minute)); !d.Allowed {
		t.Fatal("denied after the day window reset")
	}
}

func TestRateLimiterBothWindowsViolatedReportsShorterRetry(t *testing.T) {
	l := NewRateLimiter()
	now := time.Date(2026, 3, 1, 10, 0, 50, 0, time.UTC)

	if d := l.Check("k", 1, 1, now); !d.Allowed {
		t.Fatal("first request denied")
	}

	d := l.Check("k", 1, 1, now)
	if d.Allowed {
		t.Fatal("second request allowed over 1/1 ceilings")
	}
	// Minute resets in 10s, day much later; the shorter wins.
	if want := 10 * time.Second; d.RetryAfter != want {
		t.Errorf("RetryAfter = %v, want %v", d.RetryAfter, want)
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	l := NewRateLimiter()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if d := l.Check("a", 1, 10, now); !d.Allowed {
		t.Fatal("key a denied")
	}
	if d := l.Check("a", 1, 10, now); d.Allowed {
		t.Fatal("key a allowed over ceiling")
	}
	if d := l.Check("b", 1, 10, now); !d.Allowed {
		t.Fatal("key b throttled by key a's consumption")
	}
}

func TestRateLimiterForget(t *testing.T) {
	l := NewRateLimiter()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	l.Check("k", 1, 1, now)
	if d := l.Check("k", 1, 1, now); d.Allowed {
		t.Fatal("allowed over ceiling")
	}

	l.Forget("k")
	if d := l.Check("k", 1, 1, now); !d.Allowed {
		t.Fatal("denied after Forget")
	}
}

func TestRateLimiterConcurrentBurstNeverOvershoots(t *testing.T) {
	l := NewRateLimiter()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	const (
		limit   = 50
		workers = 20
		perW    = 10 // 200 attempts against a ceiling of 50
	)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perW; i++ {
				if d := l.Check("k", limit, 10000, now); d.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Errorf("allowed = %d, want exactly %d", allowed, limit)
	}
}
