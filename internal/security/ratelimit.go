package security

import (
	"sync"
	"time"
)

// RateLimitConfig defines a sliding window: at most Max requests per Window.
type RateLimitConfig struct {
	Window time.Duration
	Max    int
}

// DefaultRateLimit is 100 requests per rolling minute.
var DefaultRateLimit = RateLimitConfig{Window: time.Minute, Max: 100}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long the caller should wait before retrying,
// rounded up to whole seconds and never below one second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	secs := (wait + time.Second - 1) / time.Second
	return secs * time.Second
}

// window is the per-identifier list of admitted request times, oldest first.
type window struct {
	hits []time.Time
}

func (w *window) trim(cutoff time.Time) {
	i := 0
	for i < len(w.hits) && !w.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

// RateLimiter is a sliding-window counter keyed by caller identifier.
type RateLimiter struct {
	mu      sync.Mutex
	cfg     RateLimitConfig
	windows map[string]*window
	now     func() time.Time
}

// NewRateLimiter creates a limiter; zero config values fall back to DefaultRateLimit.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultRateLimit.Window
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultRateLimit.Max
	}
	return &RateLimiter{
		cfg:     cfg,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (l *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	l.now = now
	return l
}

// Config returns the active window configuration.
func (l *RateLimiter) Config() RateLimitConfig {
	return l.cfg
}

// Check admits or rejects one request from identifier. Rejected requests
// are not counted against the window.
func (l *RateLimiter) Check(identifier string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[identifier]
	if !ok {
		w = &window{}
		l.windows[identifier] = w
	}
	w.trim(now.Add(-l.cfg.Window))

	if len(w.hits) >= l.cfg.Max {
		return Decision{
			Allowed:   false,
			Limit:     l.cfg.Max,
			Remaining: 0,
			ResetAt:   w.hits[0].Add(l.cfg.Window),
		}
	}

	w.hits = append(w.hits, now)
	return Decision{
		Allowed:   true,
		Limit:     l.cfg.Max,
		Remaining: l.cfg.Max - len(w.hits),
		ResetAt:   w.hits[0].Add(l.cfg.Window),
	}
}

// Peek reports the current window for identifier without counting a hit.
func (l *RateLimiter) Peek(identifier string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	d := Decision{Allowed: true, Limit: l.cfg.Max, Remaining: l.cfg.Max, ResetAt: now.Add(l.cfg.Window)}
	w, ok := l.windows[identifier]
	if !ok {
		return d
	}
	w.trim(now.Add(-l.cfg.Window))
	if len(w.hits) > 0 {
		d.ResetAt = w.hits[0].Add(l.cfg.Window)
	}
	d.Remaining = l.cfg.Max - len(w.hits)
	if d.Remaining <= 0 {
		d.Remaining = 0
		d.Allowed = false
	}
	return d
}

// Prune drops windows with no hits inside the current window and returns
// how many identifiers were removed.
func (l *RateLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.cfg.Window)
	removed := 0
	for id, w := range l.windows {
		w.trim(cutoff)
		if len(w.hits) == 0 {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of identifiers currently holding a window.
func (l *RateLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
