package rfq

import (
	"context"

	"go.uber.org/zap"

	"github.com/optionsfi/rfq-router/internal/metrics"
	"github.com/optionsfi/rfq-router/pkg/model"
)

// Executor selects the winning quote of an RFQ exactly once.
type Executor struct {
	registry *Registry
	notifier Notifier
	guard    FillGuard
	logger   *zap.Logger
}

// NewExecutor creates a fill executor. guard may be nil in a single-process deployment.
func NewExecutor(registry *Registry, notifier Notifier, guard FillGuard, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{registry: registry, notifier: notifier, guard: guard, logger: logger}
}

// Fill freezes the current best quote as the winner and notifies only that
// maker. It fails without side effects when the RFQ is unknown, closed
// (including lazily expired) or has no quotes, so a repeated call after a
// successful fill always reports failure and never re-notifies.
func (x *Executor) Fill(ctx context.Context, id string) model.FillResult {
	e, ok := x.registry.store.Get(id)
	if !ok {
		return x.fail(id, "not_found")
	}

	now := x.registry.clock.Now()
	e.mu.Lock()
	expired := x.registry.expireLocked(e.rfq, now)
	if e.rfq.Status != model.StatusOpen || len(e.rfq.Quotes) == 0 || e.rfq.BestQuote == nil {
		var snap *model.Rfq
		if expired {
			snap = e.rfq.Clone()
		}
		status := e.rfq.Status
		e.mu.Unlock()
		if expired {
			x.registry.publish(model.EventRfqExpired, snap.ID, snap)
		}
		if status != model.StatusOpen {
			return x.fail(id, "not_open")
		}
		return x.fail(id, "no_quotes")
	}

	if x.guard != nil {
		won, err := x.guard.Claim(ctx, id)
		if err != nil || !won {
			e.mu.Unlock()
			if err != nil {
				metrics.IncError("executor", "claim_failed")
				x.logger.Warn("rfq.fill.claim_failed", zap.String("rfq_id", id), zap.Error(err))
				return x.fail(id, "claim_error")
			}
			return x.fail(id, "claim_lost")
		}
	}

	winner := *e.rfq.BestQuote
	e.rfq.Winner = &winner
	x.registry.closeLocked(e.rfq, model.StatusFilled, reasonFilled, now)
	snap := e.rfq.Clone()
	e.mu.Unlock()

	fill := model.Fill{RfqID: id, Maker: winner.Maker, Premium: winner.Premium}
	metrics.IncFill("success")
	x.logger.Info("rfq.fill.success",
		zap.String("rfq_id", id),
		zap.String("maker", winner.Maker),
		zap.Uint64("premium", winner.Premium),
		zap.Int("quote_count", snap.QuoteCount()))

	if x.notifier != nil && !x.notifier.NotifyFill(winner.Maker, fill) {
		// The fill stands; the maker can still discover it by polling.
		x.logger.Warn("rfq.fill.notify_undelivered",
			zap.String("rfq_id", id),
			zap.String("maker", winner.Maker))
	}
	x.registry.publish(model.EventRfqFilled, id, snap)

	return model.FillResult{Success: true, Filled: &fill}
}

func (x *Executor) fail(id, reason string) model.FillResult {
	metrics.IncFill("rejected")
	x.logger.Debug("rfq.fill.rejected", zap.String("rfq_id", id), zap.String("reason", reason))
	return model.FillResult{Success: false}
}
