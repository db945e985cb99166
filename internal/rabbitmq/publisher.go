package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/optionsfi/rfq-router/internal/eventbus"
	"github.com/optionsfi/rfq-router/internal/metrics"
	"github.com/optionsfi/rfq-router/pkg/model"
)

const (
	// QueueFills carries settlement instructions for filled RFQs.
	QueueFills = "outbound.rfq.fills"
	// QueueCancelled carries taker cancellations.
	QueueCancelled = "outbound.rfq.cancelled"
)

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Close() error
}

// Settlement tells the downstream settlement worker which maker owes the
// vault which premium. The router's guarantee ends at selection; the
// worker watches the chain for the maker's transfer.
type Settlement struct {
	RfqID            string    `json:"rfqId"`
	Maker            string    `json:"maker"`
	Premium          uint64    `json:"premium"`
	Underlying       string    `json:"underlying"`
	Strike           float64   `json:"strike"`
	Size             float64   `json:"size"`
	ExpiryTs         int64     `json:"expiryTs"`
	VaultAddress     string    `json:"vaultAddress,omitempty"`
	MakerWallet      string    `json:"makerWallet,omitempty"`
	UsdcTokenAccount string    `json:"usdcTokenAccount,omitempty"`
	FilledAt         time.Time `json:"filledAt"`
}

// Cancellation reports a taker-cancelled RFQ.
type Cancellation struct {
	RfqID       string    `json:"rfqId"`
	QuoteCount  int       `json:"quoteCount"`
	CancelledAt time.Time `json:"cancelledAt"`
}

// Publisher forwards fill and cancel lifecycle events to RabbitMQ queues.
type Publisher struct {
	conn    *amqp.Connection
	channel Channel
	logger  *zap.Logger
}

// NewPublisher dials RabbitMQ and declares the outbound queues.
func NewPublisher(url string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p, err := NewWithChannel(channel, logger)
	if err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewWithChannel builds a publisher over an open channel.
func NewWithChannel(ch Channel, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, q := range []string{QueueFills, QueueCancelled} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("failed to declare queue %s: %w", q, err)
		}
	}
	return &Publisher{channel: ch, logger: logger}, nil
}

// Subscribe attaches the publisher to the lifecycle bus.
func (p *Publisher) Subscribe(bus *eventbus.EventBus) {
	bus.Subscribe(model.EventRfqFilled, p.handleFilled)
	bus.Subscribe(model.EventRfqCancelled, p.handleCancelled)
}

func (p *Publisher) handleFilled(env *model.Envelope) {
	var rfq model.Rfq
	if err := json.Unmarshal(env.Payload, &rfq); err != nil || rfq.Winner == nil {
		p.logger.Error("rabbitmq.fill.bad_payload", zap.String("rfq_id", env.RfqID), zap.Error(err))
		metrics.IncSinkEvent("rabbitmq", string(env.EventType), "invalid")
		return
	}

	msg := Settlement{
		RfqID:            rfq.ID,
		Maker:            rfq.Winner.Maker,
		Premium:          rfq.Winner.Premium,
		Underlying:       rfq.Underlying,
		Strike:           rfq.Strike,
		Size:             rfq.Size,
		ExpiryTs:         rfq.ExpiryTs,
		VaultAddress:     rfq.VaultAddress,
		MakerWallet:      rfq.Winner.MakerWallet,
		UsdcTokenAccount: rfq.Winner.UsdcTokenAccount,
		FilledAt:         env.Timestamp,
	}
	p.publish(env, QueueFills, msg, 0)
}

func (p *Publisher) handleCancelled(env *model.Envelope) {
	var rfq model.Rfq
	if err := json.Unmarshal(env.Payload, &rfq); err != nil {
		p.logger.Error("rabbitmq.cancel.bad_payload", zap.String("rfq_id", env.RfqID), zap.Error(err))
		metrics.IncSinkEvent("rabbitmq", string(env.EventType), "invalid")
		return
	}
	msg := Cancellation{RfqID: rfq.ID, QuoteCount: rfq.QuoteCount(), CancelledAt: env.Timestamp}
	p.publish(env, QueueCancelled, msg, 5)
}

func (p *Publisher) publish(env *model.Envelope, queue string, v any, priority uint8) {
	body, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("rabbitmq.marshal_failed", zap.String("queue", queue), zap.Error(err))
		metrics.IncError("rabbitmq", "marshal_failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	err = p.channel.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     env.ID.String(),
			CorrelationId: env.CorrelationID.String(),
			Timestamp:     env.Timestamp,
			Type:          string(env.EventType),
			Priority:      priority,
			Body:          body,
		},
	)
	metrics.ObserveDuration(metrics.SinkLatency, start, "rabbitmq")
	if err != nil {
		p.logger.Error("rabbitmq.publish_failed", zap.String("queue", queue), zap.String("rfq_id", env.RfqID), zap.Error(err))
		metrics.IncSinkEvent("rabbitmq", string(env.EventType), "error")
		return
	}
	p.logger.Info("rabbitmq.published", zap.String("queue", queue), zap.String("rfq_id", env.RfqID))
	metrics.IncSinkEvent("rabbitmq", string(env.EventType), "ok")
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
