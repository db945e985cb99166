package taker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/optionsfi/rfq-router/pkg/model"
)

// ErrUnknownRFQ is returned when the router no longer knows the polled RFQ.
var ErrUnknownRFQ = errors.New("rfq not found")

// Poller is the part of the router API the AutoFiller drives.
type Poller interface {
	GetStatus(ctx context.Context, id string) (*model.RfqStatusView, error)
	Fill(ctx context.Context, id string) (model.FillResult, error)
}

// Outcome is the final state observed by an AutoFiller run.
type Outcome struct {
	Status *model.RfqStatusView
	Fill   *model.FillResult
}

// AutoFiller polls an RFQ and fills it a fixed delay after the first quote
// shows up, giving other makers a chance to outbid.
type AutoFiller struct {
	api          Poller
	logger       *zap.Logger
	PollInterval time.Duration
	FillDelay    time.Duration
	After        func(time.Duration) <-chan time.Time
	OnUpdate     func(*model.RfqStatusView)
}

// NewAutoFiller polls every second and fills two seconds after the first quote.
func NewAutoFiller(api Poller, logger *zap.Logger) *AutoFiller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoFiller{
		api:          api,
		logger:       logger,
		PollInterval: time.Second,
		FillDelay:    2 * time.Second,
		After:        time.After,
	}
}

// Run polls until the RFQ leaves OPEN, issuing at most one fill.
func (a *AutoFiller) Run(ctx context.Context, id string) (*Outcome, error) {
	var (
		out       Outcome
		fillAt    <-chan time.Time
		attempted bool
	)
	for {
		view, err := a.api.GetStatus(ctx, id)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return &out, ctx.Err()
			}
			a.logger.Warn("taker.poll_failed", zap.String("rfq_id", id), zap.Error(err))
		case view == nil:
			return &out, ErrUnknownRFQ
		default:
			out.Status = view
			if a.OnUpdate != nil {
				a.OnUpdate(view)
			}
			if view.Status != model.StatusOpen {
				return &out, nil
			}
			if view.QuoteCount > 0 && fillAt == nil && !attempted {
				a.logger.Info("taker.fill_scheduled",
					zap.String("rfq_id", id),
					zap.Int("quote_count", view.QuoteCount),
					zap.Duration("delay", a.FillDelay))
				fillAt = a.After(a.FillDelay)
			}
		}

		select {
		case <-ctx.Done():
			return &out, ctx.Err()
		case <-fillAt:
			fillAt = nil
			attempted = true
			res, err := a.api.Fill(ctx, id)
			if err != nil {
				a.logger.Warn("taker.fill_failed", zap.String("rfq_id", id), zap.Error(err))
				continue
			}
			out.Fill = &res
			a.logger.Info("taker.fill_result", zap.String("rfq_id", id), zap.Bool("success", res.Success))
		case <-a.After(a.PollInterval):
		}
	}
}
