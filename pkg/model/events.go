package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType names a lifecycle transition of an RFQ.
type EventType string

const (
	EventRfqCreated    EventType = "rfq.created"
	EventQuoteAccepted EventType = "rfq.quote_accepted"
	EventRfqFilled     EventType = "rfq.filled"
	EventRfqExpired    EventType = "rfq.expired"
	EventRfqCancelled  EventType = "rfq.cancelled"
)

// Subject returns the NATS subject / AMQP routing key for an event type.
func (t EventType) Subject() string {
	return "evt." + string(t) + ".v1"
}

// correlationSpace namespaces correlation ids derived from RFQ ids.
var correlationSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:optionsfi:rfq-router:rfq"))

// CorrelationFor returns the correlation id shared by every event of rfqID.
func CorrelationFor(rfqID string) uuid.UUID {
	return uuid.NewSHA1(correlationSpace, []byte(rfqID))
}

// Envelope is the canonical lifecycle event published to downstream sinks.
// All RFQ audit consumers read this format.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	RfqID         string          `json:"rfq_id"`
	EventType     EventType       `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload in a fresh envelope. Payloads that fail to
// marshal are replaced with null so an event is never lost on encoding.
func NewEnvelope(t EventType, rfqID string, payload any, at time.Time) *Envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("null")
	}
	return &Envelope{
		ID:            uuid.New(),
		CorrelationID: CorrelationFor(rfqID),
		RfqID:         rfqID,
		EventType:     t,
		Version:       "1.0.0",
		Timestamp:     at.UTC(),
		Payload:       data,
	}
}
