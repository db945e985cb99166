package rfq

import (
	"sync"
	"time"

	"github.com/optionsfi/rfq-router/pkg/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_750_000_000, 0)}
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

type recordingPublisher struct {
	mu     sync.Mutex
	events []*model.Envelope
}

func (p *recordingPublisher) Publish(env *model.Envelope) {
	p.mu.Lock()
	p.events = append(p.events, env)
	p.mu.Unlock()
}

func (p *recordingPublisher) count(t model.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.EventType == t {
			n++
		}
	}
	return n
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []*model.Rfq
}

func (b *recordingBroadcaster) Broadcast(r *model.Rfq) {
	b.mu.Lock()
	b.sent = append(b.sent, r)
	b.mu.Unlock()
}

type recordingNotifier struct {
	mu    sync.Mutex
	fills map[string][]model.Fill
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{fills: map[string][]model.Fill{}}
}

func (n *recordingNotifier) NotifyFill(makerID string, fill model.Fill) bool {
	n.mu.Lock()
	n.fills[makerID] = append(n.fills[makerID], fill)
	n.mu.Unlock()
	return true
}

func (n *recordingNotifier) total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, f := range n.fills {
		c += len(f)
	}
	return c
}

type allowMakers map[string]bool

func (a allowMakers) IsAuthenticated(makerID string) bool { return a[makerID] }

// fixture wires a registry, collector and executor around a fake clock.
type fixture struct {
	clock     *fakeClock
	events    *recordingPublisher
	broadcast *recordingBroadcaster
	notifier  *recordingNotifier
	registry  *Registry
	collector *Collector
	executor  *Executor
}

func newFixture(makers ...string) *fixture {
	f := &fixture{
		clock:     newFakeClock(),
		events:    &recordingPublisher{},
		broadcast: &recordingBroadcaster{},
		notifier:  newRecordingNotifier(),
	}
	allowed := allowMakers{}
	for _, m := range makers {
		allowed[m] = true
	}
	f.registry = NewRegistry(nil, WithClock(f.clock), WithEvents(f.events), WithBroadcaster(f.broadcast))
	f.collector = NewCollector(f.registry, allowed, nil)
	f.executor = NewExecutor(f.registry, f.notifier, nil, nil)
	return f
}

func (f *fixture) request() model.RfqRequest {
	now := f.clock.Now()
	return model.RfqRequest{
		Underlying:   "NVDAx",
		OptionType:   "call",
		ExpiryTs:     now.Add(7 * 24 * time.Hour).Unix(),
		Strike:       165,
		Size:         1000,
		PremiumFloor: 500,
		ValidUntilTs: now.Add(time.Minute).Unix(),
		Settlement:   "cash",
		OraclePrice:  150,
		OracleTs:     now.Unix(),
	}
}
