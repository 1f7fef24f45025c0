// Package eviction runs the background sweeps that reclaim idle session
// state and expired chart artifacts.
package eviction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Sweeper performs one sweep pass and reports how many entries it removed.
type Sweeper interface {
	Sweep(ctx context.Context, ttl time.Duration) (int, error)
}

// SweeperFunc adapts a function to Sweeper.
type SweeperFunc func(ctx context.Context, ttl time.Duration) (int, error)

// Sweep calls f.
func (f SweeperFunc) Sweep(ctx context.Context, ttl time.Duration) (int, error) {
	return f(ctx, ttl)
}

// Scheduler runs a Sweeper every interval until stopped.
type Scheduler struct {
	name     string
	interval time.Duration
	ttl      time.Duration
	sweeper  Sweeper

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped scheduler.
func New(name string, sweeper Sweeper, interval, ttl time.Duration) *Scheduler {
	return &Scheduler{name: name, interval: interval, ttl: ttl, sweeper: sweeper}
}

// Start launches the sweep loop. It is a no-op if already running. The loop
// ends when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, s.done)
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	slog.Info("Eviction scheduler started", "scheduler", s.name, "interval", s.interval, "ttl", s.ttl)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			slog.Info("Eviction scheduler shutting down", "scheduler", s.name, "reason", ctx.Err())
			return
		}
	}
}

// RunOnce performs a single sweep. Errors and panics are logged and never
// propagated so the loop keeps running.
func (s *Scheduler) RunOnce(ctx context.Context) (removed int) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Eviction sweep panicked", "scheduler", s.name, "panic", r)
		}
	}()

	removed, err := s.sweeper.Sweep(ctx, s.ttl)
	if err != nil {
		slog.Error("Eviction sweep failed", "scheduler", s.name, "error", err)
	}
	if removed > 0 {
		slog.Info("Eviction sweep completed", "scheduler", s.name, "removed", removed)
	}
	return removed
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// IdleTarget is a cache whose entries carry a last-access timestamp.
type IdleTarget interface {
	// Expired lists the keys idle for longer than ttl.
	Expired(ttl time.Duration) []string
	// EvictIfIdle removes the key only if it is still idle, so a request
	// that touched it after collection wins.
	EvictIfIdle(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Idle returns a Sweeper that evicts every idle key of target. A failing or
// panicking key is logged and skipped.
func Idle(name string, target IdleTarget) Sweeper {
	return SweeperFunc(func(ctx context.Context, ttl time.Duration) (int, error) {
		keys := target.Expired(ttl)
		if len(keys) == 0 {
			return 0, nil
		}
		slog.Info("Eviction found idle sessions", "scheduler", name, "count", len(keys))

		removed := 0
		for _, key := range keys {
			if ctx.Err() != nil {
				return removed, ctx.Err()
			}
			ok, err := evictOne(ctx, target, key, ttl)
			if err != nil {
				slog.Error("Eviction failed for session",
					"scheduler", name,
					"session_id", key,
					"error", err)
				continue
			}
			if ok {
				removed++
			}
		}
		return removed, nil
	})
}

func evictOne(ctx context.Context, target IdleTarget, key string, ttl time.Duration) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during eviction: %v", r)
		}
	}()
	return target.EvictIfIdle(ctx, key, ttl)
}

// Purger deletes records created before a cutoff.
type Purger interface {
	DeleteGraphsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retention returns a Sweeper that purges records older than ttl.
func Retention(p Purger) Sweeper {
	return SweeperFunc(func(ctx context.Context, ttl time.Duration) (int, error) {
		n, err := p.DeleteGraphsBefore(ctx, time.Now().Add(-ttl))
		if err != nil {
			return 0, fmt.Errorf("purge expired graphs: %w", err)
		}
		return int(n), nil
	})
}
