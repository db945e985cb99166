package rfq

import (
	"context"

	"go.uber.org/zap"

	"github.com/optionsfi/rfq-router/internal/metrics"
	"github.com/optionsfi/rfq-router/pkg/model"
)

// Quote rejection reasons returned in QuoteAck.Reason.
const (
	ReasonInvalid         = "invalid_quote"
	ReasonUnauthenticated = "maker_not_authenticated"
	ReasonNotFound        = "rfq_not_found"
	ReasonNotOpen         = "rfq_not_open"
	ReasonNotImproved     = "duplicate_or_lower"
	reasonAccepted        = "accepted"
)

// QuoteSubmission is a maker's inbound quote. Premium is signed so a
// negative wire value can be detected and rejected.
type QuoteSubmission struct {
	RfqID            string
	Maker            string
	Premium          int64
	MakerWallet      string
	UsdcTokenAccount string
}

// QuoteAccepted is the payload of the rfq.quote_accepted event.
type QuoteAccepted struct {
	RfqID       string      `json:"rfqId"`
	Quote       model.Quote `json:"quote"`
	QuoteCount  int         `json:"quoteCount"`
	BestPremium uint64      `json:"bestPremium"`
	BestMaker   string      `json:"bestMaker"`
}

// Collector attaches maker quotes to OPEN RFQs and maintains the best quote.
type Collector struct {
	registry  *Registry
	authority MakerAuthority
	logger    *zap.Logger
}

// NewCollector creates a collector. authority gates which makers may quote.
func NewCollector(registry *Registry, authority MakerAuthority, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{registry: registry, authority: authority, logger: logger}
}

// SubmitQuote appends a quote if the RFQ is still collecting. Rejections
// never change state and are reported, not raised.
func (c *Collector) SubmitQuote(ctx context.Context, sub QuoteSubmission) model.QuoteAck {
	if sub.RfqID == "" || sub.Maker == "" || sub.Premium < 0 {
		return c.reject(sub, ReasonInvalid)
	}
	if c.authority == nil || !c.authority.IsAuthenticated(sub.Maker) {
		return c.reject(sub, ReasonUnauthenticated)
	}

	e, ok := c.registry.store.Get(sub.RfqID)
	if !ok {
		return c.reject(sub, ReasonNotFound)
	}

	now := c.registry.clock.Now()
	e.mu.Lock()
	expired := c.registry.expireLocked(e.rfq, now)
	if e.rfq.Status != model.StatusOpen {
		var snap *model.Rfq
		if expired {
			snap = e.rfq.Clone()
		}
		e.mu.Unlock()
		if expired {
			c.registry.publish(model.EventRfqExpired, snap.ID, snap)
		}
		return c.reject(sub, ReasonNotOpen)
	}

	premium := uint64(sub.Premium)
	for _, prior := range e.rfq.Quotes {
		if prior.Maker == sub.Maker && premium <= prior.Premium {
			e.mu.Unlock()
			return c.reject(sub, ReasonNotImproved)
		}
	}

	q := model.Quote{
		Maker:            sub.Maker,
		Premium:          premium,
		MakerWallet:      sub.MakerWallet,
		UsdcTokenAccount: sub.UsdcTokenAccount,
		ReceivedAt:       now.UTC(),
		Seq:              len(e.rfq.Quotes),
	}
	e.rfq.Quotes = append(e.rfq.Quotes, q)
	if e.rfq.BestQuote == nil || q.Beats(*e.rfq.BestQuote) {
		best := q
		e.rfq.BestQuote = &best
	}
	payload := QuoteAccepted{
		RfqID:       e.rfq.ID,
		Quote:       q,
		QuoteCount:  len(e.rfq.Quotes),
		BestPremium: e.rfq.BestQuote.Premium,
		BestMaker:   e.rfq.BestQuote.Maker,
	}
	e.mu.Unlock()

	metrics.IncQuote(reasonAccepted)
	c.logger.Info("rfq.quote.accepted",
		zap.String("rfq_id", sub.RfqID),
		zap.String("maker", sub.Maker),
		zap.Uint64("premium", premium),
		zap.Int("quote_count", payload.QuoteCount),
		zap.Uint64("best_premium", payload.BestPremium))

	c.registry.publish(model.EventQuoteAccepted, sub.RfqID, payload)
	return model.QuoteAck{Accepted: true}
}

func (c *Collector) reject(sub QuoteSubmission, reason string) model.QuoteAck {
	metrics.IncQuote(reason)
	c.logger.Debug("rfq.quote.rejected",
		zap.String("rfq_id", sub.RfqID),
		zap.String("maker", sub.Maker),
		zap.Int64("premium", sub.Premium),
		zap.String("reason", reason))
	return model.QuoteAck{Accepted: false, Reason: reason}
}
