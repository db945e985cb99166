package maker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/optionsfi/rfq-router/internal/metrics"
	"github.com/optionsfi/rfq-router/internal/rfq"
	"github.com/optionsfi/rfq-router/internal/security"
	"github.com/optionsfi/rfq-router/pkg/model"
)

// ErrMalformed marks an inbound frame that could not be decoded or validated.
var ErrMalformed = errors.New("malformed maker message")

// HandlerFunc processes one decoded frame from makerID. A non-nil reply is
// sent back to the maker.
type HandlerFunc func(ctx context.Context, makerID string, raw []byte) (reply any, err error)

// QuoteSubmitter accepts maker quotes.
type QuoteSubmitter interface {
	SubmitQuote(ctx context.Context, sub rfq.QuoteSubmission) model.QuoteAck
}

// Dispatcher is the inbound message table keyed by the frame's type field.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	monitor  *security.Monitor
	logger   *zap.Logger
}

// NewDispatcher registers the quote and ping handlers.
func NewDispatcher(quotes QuoteSubmitter, monitor *security.Monitor, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		monitor:  monitor,
		logger:   logger,
	}
	d.Handle(MsgQuote, quoteHandler(quotes))
	d.Handle(MsgPing, pingHandler)
	return d
}

// Handle registers h for msgType, replacing any earlier handler.
func (d *Dispatcher) Handle(msgType string, h HandlerFunc) {
	d.handlers[msgType] = h
}

// Dispatch decodes raw and runs the matching handler. Bad frames are
// recorded as security events and dropped; the connection stays up.
func (d *Dispatcher) Dispatch(ctx context.Context, makerID string, raw []byte) any {
	var hdr header
	if err := json.Unmarshal(raw, &hdr); err != nil {
		d.malformed(makerID, "", "invalid json", raw)
		return nil
	}
	h, ok := d.handlers[hdr.Type]
	if !ok {
		d.malformed(makerID, hdr.Type, "unknown type", raw)
		return nil
	}

	reply, err := h(ctx, makerID, raw)
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			d.malformed(makerID, hdr.Type, err.Error(), raw)
			return nil
		}
		metrics.IncMakerMessage(hdr.Type, "error")
		d.logger.Warn("maker.message.failed", zap.String("maker", makerID), zap.String("type", hdr.Type), zap.Error(err))
		return nil
	}
	metrics.IncMakerMessage(hdr.Type, "handled")
	return reply
}

func (d *Dispatcher) malformed(makerID, msgType, reason string, raw []byte) {
	if msgType == "" {
		msgType = "unknown"
	}
	metrics.IncMakerMessage(msgType, "malformed")
	if d.monitor == nil {
		return
	}
	d.monitor.Record(security.EventMalformedMessage, security.LevelLow, makerID, map[string]any{
		"type":   security.Sanitize(msgType),
		"reason": reason,
		"sample": security.Sanitize(string(raw)),
	})
}

func quoteHandler(quotes QuoteSubmitter) HandlerFunc {
	return func(ctx context.Context, makerID string, raw []byte) (any, error) {
		var msg QuoteMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if msg.Premium == nil {
			return nil, fmt.Errorf("%w: premium is required", ErrMalformed)
		}
		if errs := security.ValidateQuote(msg.RfqID, *msg.Premium); len(errs) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrMalformed, strings.Join(errs, "; "))
		}

		ack := quotes.SubmitQuote(ctx, rfq.QuoteSubmission{
			RfqID:            msg.RfqID,
			Maker:            makerID,
			Premium:          *msg.Premium,
			MakerWallet:      security.Sanitize(msg.MakerWallet),
			UsdcTokenAccount: security.Sanitize(msg.UsdcTokenAccount),
		})
		return QuoteAckMessage{
			Type:     MsgQuoteAck,
			RfqID:    msg.RfqID,
			Accepted: ack.Accepted,
			Reason:   ack.Reason,
		}, nil
	}
}

func pingHandler(_ context.Context, _ string, raw []byte) (any, error) {
	var msg PingMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return PingMessage{Type: MsgPong, Ts: msg.Ts}, nil
}
