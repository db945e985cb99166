package activity

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/optionsfi/rfq-router/internal/eventbus"
	"github.com/optionsfi/rfq-router/internal/rfq"
	"github.com/optionsfi/rfq-router/pkg/model"
)

// Activity types shown on the operator dashboard.
const (
	MakerConnected    = "maker_connected"
	MakerDisconnected = "maker_disconnected"
	MakerRejected     = "maker_rejected"
	RfqCreated        = "rfq_created"
	QuoteReceived     = "quote_received"
	RfqFilled         = "rfq_filled"
	RfqExpired        = "rfq_expired"
	RfqCancelled      = "rfq_cancelled"
)

const (
	// DefaultCapacity bounds the feed.
	DefaultCapacity = 100
	// DefaultTail is how many entries a poll without a cursor receives.
	DefaultTail = 50
)

// Entry is one line of the activity feed.
type Entry struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Counter reports connected makers.
type Counter interface {
	Count() int
}

// Log is a bounded, chronological feed of router activity. Once full, the
// oldest entry is dropped.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	limit   int
	source  string
	makers  Counter
	logger  *zap.Logger
	now     func() time.Time
}

// NewLog creates a feed retaining at most capacity entries. makers may be nil.
func NewLog(capacity int, source string, makers Counter, logger *zap.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		entries: make([]Entry, 0, capacity),
		limit:   capacity,
		source:  source,
		makers:  makers,
		logger:  logger,
		now:     time.Now,
	}
}

// Record appends an entry. Entries are stamped on insertion, keeping the
// feed in timestamp order for cursor polling.
func (l *Log) Record(eventType string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	e := Entry{
		ID:     uuid.NewString(),
		Type:   eventType,
		Source: l.source,
		Data:   data,
	}

	l.mu.Lock()
	e.Timestamp = l.now().UTC()
	if len(l.entries) == l.limit {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:l.limit-1]
	}
	l.entries = append(l.entries, e)
	l.mu.Unlock()

	l.logger.Debug("activity.recorded", zap.String("type", eventType), zap.String("id", e.ID))
}

// Since returns entries stamped strictly after sinceMs (unix millis), oldest
// first. A non-positive cursor returns the newest DefaultTail entries.
func (l *Log) Since(sinceMs int64) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if sinceMs <= 0 {
		start := len(l.entries) - DefaultTail
		if start < 0 {
			start = 0
		}
		return append([]Entry{}, l.entries[start:]...)
	}

	out := []Entry{}
	for _, e := range l.entries {
		if e.Timestamp.UnixMilli() > sinceMs {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Subscribe records RFQ lifecycle events from bus.
func (l *Log) Subscribe(bus *eventbus.EventBus) {
	bus.Subscribe(model.EventRfqCreated, l.onSnapshot)
	bus.Subscribe(model.EventRfqFilled, l.onSnapshot)
	bus.Subscribe(model.EventRfqExpired, l.onSnapshot)
	bus.Subscribe(model.EventRfqCancelled, l.onSnapshot)
	bus.Subscribe(model.EventQuoteAccepted, l.onQuote)
}

func (l *Log) onSnapshot(env *model.Envelope) {
	var r model.Rfq
	if err := json.Unmarshal(env.Payload, &r); err != nil || r.ID == "" {
		l.logger.Warn("activity.bad_payload", zap.String("event", string(env.EventType)), zap.Error(err))
		return
	}

	switch env.EventType {
	case model.EventRfqCreated:
		data := map[string]any{
			"rfqId":      r.ID,
			"underlying": r.Underlying,
			"optionType": r.OptionType,
			"strike":     r.Strike,
			"size":       r.Size,
		}
		if l.makers != nil {
			data["makerCount"] = l.makers.Count()
		}
		l.Record(RfqCreated, data)
	case model.EventRfqFilled:
		data := map[string]any{"rfqId": r.ID}
		if r.Winner != nil {
			data["maker"] = r.Winner.Maker
			data["premium"] = r.Winner.Premium
		}
		l.Record(RfqFilled, data)
	case model.EventRfqExpired:
		l.Record(RfqExpired, map[string]any{"rfqId": r.ID, "quoteCount": r.QuoteCount()})
	case model.EventRfqCancelled:
		l.Record(RfqCancelled, map[string]any{"rfqId": r.ID, "reason": r.CloseReason})
	}
}

func (l *Log) onQuote(env *model.Envelope) {
	var q rfq.QuoteAccepted
	if err := json.Unmarshal(env.Payload, &q); err != nil || q.RfqID == "" {
		l.logger.Warn("activity.bad_payload", zap.String("event", string(env.EventType)), zap.Error(err))
		return
	}
	l.Record(QuoteReceived, map[string]any{
		"rfqId":   q.RfqID,
		"maker":   q.Quote.Maker,
		"premium": q.Quote.Premium,
	})
}
