package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/optionsfi/rfq-router/internal/metrics"
	"github.com/optionsfi/rfq-router/pkg/logger"
	"github.com/optionsfi/rfq-router/pkg/model"
)

// JetStream is the slice of nats.JetStreamContext the publisher needs.
type JetStream interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher writes RFQ lifecycle envelopes to NATS JetStream, one subject
// per event type (evt.rfq.filled.v1 and so on).
type Publisher struct {
	nc      *nats.Conn
	js      JetStream
	service string
	timeout time.Duration
}

// New creates a Publisher with JetStream enabled.
func New(nc *nats.Conn, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, js: js, service: service, timeout: 5 * time.Second}, nil
}

// NewWithJetStream builds a publisher over an existing JetStream handle.
func NewWithJetStream(js JetStream, service string) *Publisher {
	return &Publisher{js: js, service: service, timeout: 5 * time.Second}
}

// Handle adapts the publisher to an event bus handler. Failures are logged
// and counted; lifecycle delivery never feeds back into the router.
func (p *Publisher) Handle(env *model.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	_ = p.PublishEnvelope(ctx, "", env)
}

// PublishEnvelope serializes and publishes an envelope. An empty subject
// uses the event type's default subject.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	if subject == "" {
		subject = env.EventType.Subject()
	}

	data, err := json.Marshal(env)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{string(env.EventType)},
			"correlation_id": []string{env.CorrelationID.String()},
			"rfq_id":         []string{env.RfqID},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
			// JetStream drops a second publish with the same id inside the
			// stream's duplicate window.
			nats.MsgIdHdr: []string{env.ID.String()},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg, nats.Context(ctx))
	metrics.ObserveDuration(metrics.SinkLatency, start, "nats")

	if err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subject,
			"event_type", env.EventType,
			"rfq_id", env.RfqID,
			"error", err,
		)
		metrics.IncSinkEvent("nats", string(env.EventType), "error")
		return err
	}

	logger.S().Debugw("publisher.publish_success",
		"subject", subject,
		"event_type", env.EventType,
		"rfq_id", env.RfqID,
	)
	metrics.IncSinkEvent("nats", string(env.EventType), "ok")
	return nil
}

// Healthy reports whether the NATS connection is up.
func (p *Publisher) Healthy() bool {
	return p.nc == nil || p.nc.IsConnected()
}

// Close drains the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		_ = p.nc.Drain()
	}
}
