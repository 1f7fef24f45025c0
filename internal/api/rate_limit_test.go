package api

import (
	"testing"
	"time"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(2, time.Minute)
	t.Cleanup(rl.Close)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("s") || !rl.Allow("s") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("s") {
		t.Fatal("third request inside the window should be rejected")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("s") {
		t.Fatal("request after the window should pass")
	}
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(1, time.Hour)
	t.Cleanup(rl.Close)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.Allow("old")

	now = now.Add(2 * time.Hour)
	rl.Allow("new")
	rl.evict()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.requests["old"]; ok {
		t.Fatal("idle key should be evicted")
	}
	if _, ok := rl.requests["new"]; !ok {
		t.Fatal("active key should be kept")
	}
}
