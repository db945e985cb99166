package eventbus

import (
	"sync"

	"github.com/optionsfi/rfq-router/pkg/model"
)

// Handler consumes one lifecycle envelope.
type Handler func(env *model.Envelope)

// EventBus fans RFQ lifecycle envelopes out to in-process subscribers.
// Publish never blocks the caller on a handler.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[model.EventType][]Handler
	all      []Handler
	inflight sync.WaitGroup
	closed   bool
}

// New creates a new EventBus.
func New() *EventBus {
	return &EventBus{
		handlers: make(map[model.EventType][]Handler),
	}
}

// Subscribe registers a handler for one event type.
func (e *EventBus) Subscribe(t model.EventType, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[t] = append(e.handlers[t], handler)
}

// SubscribeAll registers a handler for every event type.
func (e *EventBus) SubscribeAll(handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, handler)
}

// Publish delivers env to every matching handler on its own goroutine.
// After Close it is a no-op.
func (e *EventBus) Publish(env *model.Envelope) {
	if env == nil {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	for _, h := range e.matching(env.EventType) {
		e.inflight.Add(1)
		go func(h Handler) {
			defer e.inflight.Done()
			h(env)
		}(h)
	}
}

// SubscriberCount returns how many handlers receive events of type t.
func (e *EventBus) SubscriberCount(t model.EventType) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[t]) + len(e.all)
}

// Close stops accepting events and waits for in-flight handlers.
func (e *EventBus) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.inflight.Wait()
}

func (e *EventBus) matching(t model.EventType) []Handler {
	out := make([]Handler, 0, len(e.handlers[t])+len(e.all))
	out = append(out, e.handlers[t]...)
	return append(out, e.all...)
}
