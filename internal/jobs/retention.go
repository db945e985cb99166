package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Evictor drops terminal RFQs closed before a cutoff.
type Evictor interface {
	Now() time.Time
	Evict(cutoff time.Time) int
}

// Pruner drops idle rate-limit windows.
type Pruner interface {
	Prune() int
}

// Retention periodically bounds router memory: closed RFQs older than the
// retention period are evicted and idle rate-limit windows are pruned.
type Retention struct {
	logger    *zap.Logger
	rfqs      Evictor
	limiter   Pruner
	retention time.Duration
	interval  time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewRetention constructs the job. limiter may be nil.
func NewRetention(logger *zap.Logger, rfqs Evictor, limiter Pruner, retention, interval time.Duration) *Retention {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retention{
		logger:    logger,
		rfqs:      rfqs,
		limiter:   limiter,
		retention: retention,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the retention loop until Stop or ctx cancellation.
func (r *Retention) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("retention.started",
		zap.Duration("interval", r.interval),
		zap.Duration("retention", r.retention))

	for {
		select {
		case <-ticker.C:
			r.RunOnce()
		case <-r.stopCh:
			r.logger.Info("retention.stopped (manual stop)")
			return
		case <-ctx.Done():
			r.logger.Info("retention.stopped (context canceled)")
			return
		}
	}
}

// Stop halts the loop. Safe to call more than once.
func (r *Retention) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// RunOnce executes one sweep and reports what was dropped.
func (r *Retention) RunOnce() (evicted, pruned int) {
	start := time.Now()
	evicted = r.rfqs.Evict(r.rfqs.Now().Add(-r.retention))
	if r.limiter != nil {
		pruned = r.limiter.Prune()
	}

	r.logger.Debug("retention.sweep",
		zap.Int("evicted", evicted),
		zap.Int("pruned_windows", pruned),
		zap.Duration("duration", time.Since(start)))
	return evicted, pruned
}
