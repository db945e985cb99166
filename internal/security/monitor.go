package security

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/optionsfi/rfq-router/internal/metrics"
)

// Level is the severity of a security event.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Event types recorded by the router.
const (
	EventRateLimitExceeded = "rate_limit_exceeded"
	EventValidationFailed  = "validation_failed"
	EventAuthFailed        = "auth_failed"
	EventMalformedMessage  = "malformed_message"
)

// DefaultEventCap bounds the in-memory event log.
const DefaultEventCap = 1000

// Event is one entry in the append-only security log.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Level     Level          `json:"level"`
	Source    string         `json:"source"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Monitor is a bounded ring buffer of security events. Once full, the
// oldest event is overwritten.
type Monitor struct {
	mu     sync.RWMutex
	logger *zap.Logger
	buf    []Event
	next   int
	full   bool
	total  uint64
	now    func() time.Time
}

// NewMonitor creates a monitor retaining at most capacity events.
func NewMonitor(logger *zap.Logger, capacity int) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = DefaultEventCap
	}
	return &Monitor{
		logger: logger,
		buf:    make([]Event, capacity),
		now:    time.Now,
	}
}

// Record appends an event and logs it. Low severity events are logged at
// debug, everything else at warn or error.
func (m *Monitor) Record(eventType string, level Level, source string, details map[string]any) Event {
	ev := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Level:     level,
		Source:    source,
		Details:   details,
		Timestamp: m.now().UTC(),
	}

	m.mu.Lock()
	m.buf[m.next] = ev
	m.next = (m.next + 1) % len(m.buf)
	if m.next == 0 {
		m.full = true
	}
	m.total++
	m.mu.Unlock()

	metrics.IncSecurityEvent(eventType, string(level))

	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("type", eventType),
		zap.String("level", string(level)),
		zap.String("source", source),
		zap.Any("details", details),
	}
	switch level {
	case LevelLow:
		m.logger.Debug("security.event", fields...)
	case LevelMedium:
		m.logger.Warn("security.event", fields...)
	default:
		m.logger.Error("security.event", fields...)
	}
	return ev
}

// Recent returns up to n of the newest events in chronological order.
func (m *Monitor) Recent(n int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	size := m.next
	if m.full {
		size = len(m.buf)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Event, 0, n)
	start := m.next - n
	for i := 0; i < n; i++ {
		idx := (start + i + len(m.buf)) % len(m.buf)
		out = append(out, m.buf[idx])
	}
	return out
}

// Total returns the number of events ever recorded, including evicted ones.
func (m *Monitor) Total() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}
