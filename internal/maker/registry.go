package maker

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/optionsfi/rfq-router/internal/metrics"
	"github.com/optionsfi/rfq-router/pkg/model"
)

// Recorder receives maker connection activity for the operator feed.
type Recorder interface {
	Record(eventType string, data map[string]any)
}

// Registry tracks authenticated maker sessions keyed by maker id. It fans
// out RFQ announcements, delivers fill notices and routes inbound frames.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string]Session
	dispatcher *Dispatcher
	recorder   Recorder
	logger     *zap.Logger
}

// NewRegistry creates an empty maker registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]Session),
		logger:   logger,
	}
}

// UseDispatcher sets the inbound message table. The dispatcher depends on
// the quote collector, which in turn asks this registry who is connected.
func (r *Registry) UseDispatcher(d *Dispatcher) {
	r.mu.Lock()
	r.dispatcher = d
	r.mu.Unlock()
}

// UseRecorder sets where connects, disconnects and rejections are reported.
func (r *Registry) UseRecorder(rec Recorder) {
	r.mu.Lock()
	r.recorder = rec
	r.mu.Unlock()
}

func (r *Registry) record(eventType string, data map[string]any) {
	r.mu.RLock()
	rec := r.recorder
	r.mu.RUnlock()
	if rec != nil {
		rec.Record(eventType, data)
	}
}

// Register adds s, replacing and closing any earlier session of the same maker.
func (r *Registry) Register(s Session) {
	r.mu.Lock()
	prior := r.sessions[s.MakerID()]
	r.sessions[s.MakerID()] = s
	n := len(r.sessions)
	r.mu.Unlock()

	metrics.SetConnectedMakers(n)
	if prior != nil && prior != s {
		prior.Close()
		r.logger.Info("maker.replaced", zap.String("maker", s.MakerID()))
	}
	r.logger.Info("maker.registered", zap.String("maker", s.MakerID()), zap.Int("connected", n))
	r.record("maker_connected", map[string]any{"makerId": s.MakerID(), "totalMakers": n})
}

// Unregister removes the maker only if s is still its current session, so a
// stale connection closing late cannot evict its replacement.
func (r *Registry) Unregister(makerID string, s Session) bool {
	r.mu.Lock()
	cur, ok := r.sessions[makerID]
	removed := ok && cur == s
	if removed {
		delete(r.sessions, makerID)
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if removed {
		metrics.SetConnectedMakers(n)
		r.logger.Info("maker.unregistered", zap.String("maker", makerID), zap.Int("connected", n))
		r.record("maker_disconnected", map[string]any{"makerId": makerID, "totalMakers": n})
	}
	return removed
}

// IsAuthenticated reports whether makerID holds a live session.
func (r *Registry) IsAuthenticated(makerID string) bool {
	r.mu.RLock()
	_, ok := r.sessions[makerID]
	r.mu.RUnlock()
	return ok
}

// Count returns the number of connected makers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Connections returns a snapshot of every session ordered by maker id.
func (r *Registry) Connections() []ConnInfo {
	r.mu.RLock()
	out := make([]ConnInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].MakerID < out[j].MakerID })
	return out
}

// Broadcast announces a new RFQ to every connected maker. A maker whose
// queue is full misses the announcement; nobody else is affected.
func (r *Registry) Broadcast(rfq *model.Rfq) {
	frame, err := json.Marshal(newRFQMessage(rfq))
	if err != nil {
		metrics.IncError("maker", "encode_rfq")
		r.logger.Error("maker.broadcast.encode_failed", zap.String("rfq_id", rfq.ID), zap.Error(err))
		return
	}

	r.mu.RLock()
	targets := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.Enqueue(frame) {
			delivered++
			metrics.IncMakerMessage(MsgRFQ, "sent")
			continue
		}
		metrics.IncMakerMessage(MsgRFQ, "dropped")
		r.logger.Warn("maker.broadcast.dropped", zap.String("maker", s.MakerID()), zap.String("rfq_id", rfq.ID))
	}
	r.logger.Debug("maker.broadcast",
		zap.String("rfq_id", rfq.ID),
		zap.Int("makers", len(targets)),
		zap.Int("delivered", delivered))
}

// SendTo queues msg for one maker. It reports false when the maker is not
// connected or its queue is full.
func (r *Registry) SendTo(makerID string, msg any) bool {
	frame, err := json.Marshal(msg)
	if err != nil {
		metrics.IncError("maker", "encode")
		return false
	}

	r.mu.RLock()
	s, ok := r.sessions[makerID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return s.Enqueue(frame)
}

// NotifyFill tells the winning maker its quote was selected.
func (r *Registry) NotifyFill(makerID string, fill model.Fill) bool {
	ok := r.SendTo(makerID, FillMessage{Type: MsgFill, RfqID: fill.RfqID, Premium: fill.Premium})
	if ok {
		metrics.IncMakerMessage(MsgFill, "sent")
	} else {
		metrics.IncMakerMessage(MsgFill, "dropped")
	}
	return ok
}

// RouteMessage dispatches one inbound frame and queues any reply to the sender.
func (r *Registry) RouteMessage(ctx context.Context, makerID string, raw []byte) {
	r.mu.RLock()
	d := r.dispatcher
	r.mu.RUnlock()
	if d == nil {
		return
	}
	if reply := d.Dispatch(ctx, makerID, raw); reply != nil {
		r.SendTo(makerID, reply)
	}
}

// CloseAll closes and forgets every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	metrics.SetConnectedMakers(0)
}
