package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/optionsfi/rfq-router/internal/rfq"
	"github.com/optionsfi/rfq-router/internal/security"
	"github.com/optionsfi/rfq-router/pkg/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type countingPruner struct {
	mu    sync.Mutex
	calls int
}

func (p *countingPruner) Prune() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return 0
}

func (p *countingPruner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newRequest(now time.Time) model.RfqRequest {
	return model.RfqRequest{
		Underlying:   "NVDAx",
		OptionType:   model.OptionCall,
		ExpiryTs:     now.Add(7 * 24 * time.Hour).Unix(),
		Strike:       165,
		Size:         1000,
		ValidUntilTs: now.Add(time.Minute).Unix(),
	}
}

func TestRetention_EvictsOnlyOldTerminal(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_750_000_000, 0)}
	registry := rfq.NewRegistry(zap.NewNop(), rfq.WithClock(clock))
	ctx := context.Background()

	old, err := registry.Create(ctx, newRequest(clock.Now()))
	require.NoError(t, err)
	ok, err := registry.Cancel(ctx, old.ID)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(2 * time.Hour)
	open, err := registry.Create(ctx, newRequest(clock.Now()))
	require.NoError(t, err)

	limiter := security.NewRateLimiter(security.RateLimitConfig{Window: time.Minute, Max: 10}).WithClock(clock.Now)
	limiter.Check("10.0.0.1")

	job := NewRetention(zap.NewNop(), registry, limiter, time.Hour, time.Minute)
	evicted, pruned := job.RunOnce()

	assert.Equal(t, 1, evicted)
	assert.Equal(t, 0, pruned)
	assert.Equal(t, 1, registry.Len())
	_, err = registry.Get(ctx, open.ID)
	assert.NoError(t, err)
	_, err = registry.Get(ctx, old.ID)
	assert.ErrorIs(t, err, rfq.ErrNotFound)

	clock.Advance(2 * time.Minute)
	_, pruned = job.RunOnce()
	assert.Equal(t, 1, pruned)
	assert.Zero(t, limiter.Tracked())
}

func TestRetention_StartStop(t *testing.T) {
	registry := rfq.NewRegistry(zap.NewNop())
	pruner := &countingPruner{}
	job := NewRetention(zap.NewNop(), registry, pruner, time.Hour, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		job.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return pruner.count() >= 2 }, time.Second, 5*time.Millisecond)
	job.Stop()
	job.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retention loop did not stop")
	}
}

func TestRetention_ContextCancel(t *testing.T) {
	job := NewRetention(nil, rfq.NewRegistry(nil), nil, time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retention loop ignored cancellation")
	}
}
