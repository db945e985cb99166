package rfq

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/optionsfi/rfq-router/internal/metrics"
	"github.com/optionsfi/rfq-router/internal/security"
	"github.com/optionsfi/rfq-router/pkg/model"
)

// ErrNotFound is returned for an unknown RFQ id.
var ErrNotFound = errors.New("rfq not found")

// DefaultValidity is the quote window applied when a request omits validUntilTs.
const DefaultValidity = time.Hour

// Close reasons recorded on terminal RFQs.
const (
	reasonFilled    = "filled"
	reasonExpired   = "quote window elapsed"
	reasonCancelled = "cancelled by taker"
)

// Registry creates, stores and transitions RFQ entities. It is the single
// source of truth for RFQ status; the Collector and Executor mutate entities
// only through it.
type Registry struct {
	store           Store
	clock           Clock
	logger          *zap.Logger
	events          EventPublisher
	broadcaster     Broadcaster
	defaultValidity time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore replaces the in-memory store.
func WithStore(s Store) Option { return func(r *Registry) { r.store = s } }

// WithClock replaces the system clock.
func WithClock(c Clock) Option { return func(r *Registry) { r.clock = c } }

// WithEvents sets the lifecycle event publisher.
func WithEvents(p EventPublisher) Option { return func(r *Registry) { r.events = p } }

// WithBroadcaster sets the maker fan-out used on creation.
func WithBroadcaster(b Broadcaster) Option { return func(r *Registry) { r.broadcaster = b } }

// WithDefaultValidity sets the quote window used when validUntilTs is omitted.
func WithDefaultValidity(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.defaultValidity = d
		}
	}
}

// NewRegistry constructs a registry backed by a MemoryStore unless overridden.
func NewRegistry(logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		store:           NewMemoryStore(),
		clock:           systemClock{},
		logger:          logger,
		events:          nopPublisher{},
		broadcaster:     nopBroadcaster{},
		defaultValidity: DefaultValidity,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now returns the registry's current time.
func (r *Registry) Now() time.Time {
	return r.clock.Now()
}

// Create validates and stores a new OPEN RFQ, broadcasts it to makers and
// returns a snapshot.
func (r *Registry) Create(ctx context.Context, req model.RfqRequest) (*model.Rfq, error) {
	now := r.clock.Now()
	// Both the raw and the stored form must pass: a field that sanitizes to
	// nothing is missing.
	errs := security.ValidateRfqRequest(req, now)
	req = security.SanitizeRequest(req)
	if len(errs) == 0 {
		errs = security.ValidateRfqRequest(req, now)
	}
	if len(errs) > 0 {
		return nil, &security.ValidationError{Fields: errs}
	}

	if req.ValidUntilTs == 0 {
		req.ValidUntilTs = now.Add(r.defaultValidity).Unix()
		if req.ValidUntilTs > req.ExpiryTs {
			req.ValidUntilTs = req.ExpiryTs
		}
	}

	entity := &model.Rfq{
		RfqRequest: req,
		Status:     model.StatusOpen,
		Quotes:     []model.Quote{},
		CreatedAt:  now.UTC(),
	}

	var (
		entry *Entry
		err   error
	)
	for attempt := 0; attempt < 3; attempt++ {
		entity.ID = uuid.NewString()
		entry = NewEntry(entity)
		if err = r.store.Put(entry); !errors.Is(err, ErrDuplicateID) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("store rfq: %w", err)
	}

	// The entity is visible to quote submitters as soon as Put returns.
	entry.mu.Lock()
	snap := entry.rfq.Clone()
	entry.mu.Unlock()

	metrics.IncTransition(string(model.StatusOpen))
	r.logger.Info("rfq.created",
		zap.String("rfq_id", snap.ID),
		zap.String("underlying", snap.Underlying),
		zap.String("option_type", string(snap.OptionType)),
		zap.Float64("strike", snap.Strike),
		zap.Float64("size", snap.Size),
		zap.Int64("valid_until", snap.ValidUntilTs))

	r.broadcaster.Broadcast(snap)
	r.publish(model.EventRfqCreated, snap.ID, snap)
	return snap, nil
}

// Get returns a snapshot of the RFQ, realizing lazy expiry first.
func (r *Registry) Get(ctx context.Context, id string) (*model.Rfq, error) {
	var snap *model.Rfq
	err := r.read(id, func(rfq *model.Rfq) {
		snap = rfq.Clone()
	})
	return snap, err
}

// Status returns the polling view built from one locked snapshot, so the
// quote count and best quote always agree.
func (r *Registry) Status(ctx context.Context, id string) (model.RfqStatusView, error) {
	var view model.RfqStatusView
	err := r.read(id, func(rfq *model.Rfq) {
		view = rfq.StatusView()
	})
	return view, err
}

// List returns summaries of every RFQ, optionally filtered by status, oldest first.
func (r *Registry) List(ctx context.Context, status *model.Status) []model.RfqSummary {
	type row struct {
		created time.Time
		sum     model.RfqSummary
	}
	var rows []row
	var expired []*model.Rfq

	now := r.clock.Now()
	r.store.Range(func(e *Entry) bool {
		e.mu.Lock()
		if r.expireLocked(e.rfq, now) {
			expired = append(expired, e.rfq.Clone())
		}
		if status == nil || e.rfq.Status == *status {
			rows = append(rows, row{created: e.rfq.CreatedAt, sum: e.rfq.Summary()})
		}
		e.mu.Unlock()
		return true
	})

	for _, snap := range expired {
		r.publish(model.EventRfqExpired, snap.ID, snap)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].created.Equal(rows[j].created) {
			return rows[i].sum.ID < rows[j].sum.ID
		}
		return rows[i].created.Before(rows[j].created)
	})

	out := make([]model.RfqSummary, 0, len(rows))
	for _, rw := range rows {
		out = append(out, rw.sum)
	}
	return out
}

// Cancel moves an OPEN RFQ to CANCELLED. Like fill it succeeds at most once;
// later calls and calls on closed RFQs return false.
func (r *Registry) Cancel(ctx context.Context, id string) (bool, error) {
	e, ok := r.store.Get(id)
	if !ok {
		return false, ErrNotFound
	}

	now := r.clock.Now()
	e.mu.Lock()
	expired := r.expireLocked(e.rfq, now)
	if e.rfq.Status != model.StatusOpen {
		snap := e.rfq.Clone()
		e.mu.Unlock()
		if expired {
			r.publish(model.EventRfqExpired, snap.ID, snap)
		}
		return false, nil
	}
	r.closeLocked(e.rfq, model.StatusCancelled, reasonCancelled, now)
	snap := e.rfq.Clone()
	e.mu.Unlock()

	r.logger.Info("rfq.cancelled", zap.String("rfq_id", id), zap.Int("quote_count", snap.QuoteCount()))
	r.publish(model.EventRfqCancelled, id, snap)
	return true, nil
}

// Evict removes terminal RFQs closed before cutoff and returns how many were dropped.
func (r *Registry) Evict(cutoff time.Time) int {
	evicted := 0
	r.store.Range(func(e *Entry) bool {
		e.mu.Lock()
		drop := e.rfq.Status.IsTerminal() && e.rfq.ClosedAt != nil && e.rfq.ClosedAt.Before(cutoff)
		e.mu.Unlock()
		if drop {
			r.store.Delete(e.ID())
			evicted++
		}
		return true
	})
	if evicted > 0 {
		r.logger.Info("rfq.evicted", zap.Int("count", evicted), zap.Time("cutoff", cutoff))
	}
	return evicted
}

// Len returns the number of retained RFQs.
func (r *Registry) Len() int {
	return r.store.Len()
}

// read locks the entry, realizes expiry and hands the entity to fn.
func (r *Registry) read(id string, fn func(rfq *model.Rfq)) error {
	e, ok := r.store.Get(id)
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	expired := r.expireLocked(e.rfq, r.clock.Now())
	fn(e.rfq)
	var snap *model.Rfq
	if expired {
		snap = e.rfq.Clone()
	}
	e.mu.Unlock()

	if expired {
		r.publish(model.EventRfqExpired, snap.ID, snap)
	}
	return nil
}

// expireLocked flips an OPEN RFQ whose quote window has passed to EXPIRED.
// Callers hold the entry lock. Reports whether a transition happened.
func (r *Registry) expireLocked(rfq *model.Rfq, now time.Time) bool {
	if rfq.Status != model.StatusOpen || now.Before(rfq.ValidUntil()) {
		return false
	}
	r.closeLocked(rfq, model.StatusExpired, reasonExpired, now)
	r.logger.Info("rfq.expired",
		zap.String("rfq_id", rfq.ID),
		zap.Int("quote_count", rfq.QuoteCount()))
	return true
}

func (r *Registry) closeLocked(rfq *model.Rfq, status model.Status, reason string, now time.Time) {
	at := now.UTC()
	rfq.Status = status
	rfq.ClosedAt = &at
	rfq.CloseReason = reason
	metrics.IncTransition(string(status))
}

func (r *Registry) publish(t model.EventType, rfqID string, payload any) {
	r.events.Publish(model.NewEnvelope(t, rfqID, payload, r.clock.Now()))
}
