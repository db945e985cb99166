package maker

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff computes reconnect delays: Base doubled per attempt, capped at
// Max, with full jitter unless NoJitter is set.
type Backoff struct {
	Base     time.Duration
	Max      time.Duration
	NoJitter bool

	// Rand returns a value in [0,1). Nil uses math/rand.
	Rand func() float64
}

// DefaultBackoff matches the reference maker: 1s doubling to a 30s cap.
var DefaultBackoff = Backoff{Base: time.Second, Max: 30 * time.Second}

// Ceiling returns the un-jittered delay for attempt (0-based).
func (b Backoff) Ceiling(attempt int) time.Duration {
	base, limit := b.Base, b.Max
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	if limit <= 0 {
		limit = DefaultBackoff.Max
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= limit || d <= 0 {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

// Next returns the delay to wait before reconnect attempt number attempt.
func (b Backoff) Next(attempt int) time.Duration {
	ceil := b.Ceiling(attempt)
	if b.NoJitter {
		return ceil
	}
	r := b.Rand
	if r == nil {
		r = rand.Float64
	}
	return time.Duration(r() * float64(ceil))
}

// Timer is the stoppable handle returned by an AfterFunc.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. Implementations must not run f synchronously.
type AfterFunc func(d time.Duration, f func()) Timer

// SystemAfter runs f on the real clock.
func SystemAfter(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Scheduler holds at most one pending task. Scheduling again replaces the
// pending task; after Stop nothing runs.
type Scheduler struct {
	mu      sync.Mutex
	after   AfterFunc
	pending Timer
	gen     uint64
	stopped bool
}

// NewScheduler creates a scheduler over after; nil uses the system clock.
func NewScheduler(after AfterFunc) *Scheduler {
	if after == nil {
		after = SystemAfter
	}
	return &Scheduler{after: after}
}

// Schedule runs f after d unless cancelled first. Reports false once stopped.
func (s *Scheduler) Schedule(d time.Duration, f func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if s.pending != nil {
		s.pending.Stop()
	}
	s.gen++
	gen := s.gen
	s.pending = s.after(d, func() {
		s.mu.Lock()
		live := !s.stopped && s.gen == gen
		if live {
			s.pending = nil
		}
		s.mu.Unlock()
		if live {
			f()
		}
	})
	return true
}

// Cancel drops the pending task, if any.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}

// Stop cancels the pending task and refuses new ones.
func (s *Scheduler) Stop() {
	s.Cancel()
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// Pending reports whether a task is waiting to run.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}
