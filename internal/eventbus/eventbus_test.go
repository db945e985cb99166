package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/optionsfi/rfq-router/pkg/model"
)

func envelope(t model.EventType) *model.Envelope {
	return model.NewEnvelope(t, "rfq-1", map[string]string{"k": "v"}, time.Now())
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for events")
	}
}

func TestEventBus_SubscribeAndPublish(t *testing.T) {
	bus := New()

	var (
		wg       sync.WaitGroup
		received *model.Envelope
	)
	wg.Add(1)
	bus.Subscribe(model.EventRfqFilled, func(env *model.Envelope) {
		received = env
		wg.Done()
	})

	sent := envelope(model.EventRfqFilled)
	bus.Publish(sent)
	waitOrFail(t, &wg)
	assert.Same(t, sent, received)
}

func TestEventBus_CloseDrainsEveryEnvelope(t *testing.T) {
	bus := New()

	var (
		mu  sync.Mutex
		got []model.EventType
	)
	bus.SubscribeAll(func(env *model.Envelope) {
		mu.Lock()
		got = append(got, env.EventType)
		mu.Unlock()
	})

	bus.Publish(envelope(model.EventRfqCreated))
	bus.Publish(envelope(model.EventRfqExpired))
	bus.Close()
	assert.ElementsMatch(t, []model.EventType{model.EventRfqCreated, model.EventRfqExpired}, got)
}

func TestEventBus_TypeFiltering(t *testing.T) {
	bus := New()

	var (
		mu      sync.Mutex
		created int
		filled  int
		all     int
		wg      sync.WaitGroup
	)
	wg.Add(4)
	bus.Subscribe(model.EventRfqCreated, func(*model.Envelope) {
		mu.Lock()
		created++
		mu.Unlock()
		wg.Done()
	})
	bus.Subscribe(model.EventRfqFilled, func(*model.Envelope) {
		mu.Lock()
		filled++
		mu.Unlock()
		wg.Done()
	})
	bus.SubscribeAll(func(*model.Envelope) {
		mu.Lock()
		all++
		mu.Unlock()
		wg.Done()
	})

	bus.Publish(envelope(model.EventRfqCreated))
	bus.Publish(envelope(model.EventRfqFilled))
	waitOrFail(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, filled)
	assert.Equal(t, 2, all)
}

func TestEventBus_NoSubscribers(t *testing.T) {
	bus := New()
	bus.Publish(envelope(model.EventRfqCancelled))
	bus.Publish(nil)
	assert.Zero(t, bus.SubscriberCount(model.EventRfqCancelled))
}

func TestEventBus_SubscriberCount(t *testing.T) {
	bus := New()
	assert.Equal(t, 0, bus.SubscriberCount(model.EventRfqCreated))

	bus.Subscribe(model.EventRfqCreated, func(*model.Envelope) {})
	assert.Equal(t, 1, bus.SubscriberCount(model.EventRfqCreated))

	bus.SubscribeAll(func(*model.Envelope) {})
	assert.Equal(t, 2, bus.SubscriberCount(model.EventRfqCreated))
	assert.Equal(t, 1, bus.SubscriberCount(model.EventRfqFilled))
}

func TestEventBus_CloseWaitsForHandlers(t *testing.T) {
	bus := New()
	var done bool
	bus.SubscribeAll(func(*model.Envelope) {
		time.Sleep(20 * time.Millisecond)
		done = true
	})

	bus.Publish(envelope(model.EventRfqCreated))
	bus.Close()
	assert.True(t, done)

	done = false
	bus.Publish(envelope(model.EventRfqCreated))
	bus.Close()
	assert.False(t, done, "publish after close is dropped")
}
