package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/optionsfi/rfq-router/internal/eventbus"
	"github.com/optionsfi/rfq-router/internal/metrics"
	"github.com/optionsfi/rfq-router/pkg/model"
)

// DBExecutor is satisfied by *pgxpool.Pool and pgx.Tx.
type DBExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema creates the audit tables when missing.
const Schema = `
CREATE SCHEMA IF NOT EXISTS rfq;

CREATE TABLE IF NOT EXISTS rfq.t_event (
	s_id_event      UUID PRIMARY KEY,
	s_id_correlation UUID NOT NULL,
	s_id_rfq        TEXT NOT NULL,
	s_event_type    TEXT NOT NULL,
	s_source        TEXT NOT NULL,
	dt_event        TIMESTAMPTZ NOT NULL,
	j_payload       JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS ix_event_rfq ON rfq.t_event (s_id_rfq, dt_event);

CREATE TABLE IF NOT EXISTS rfq.t_request_for_quote (
	s_id_rfq        TEXT PRIMARY KEY,
	s_underlying    TEXT NOT NULL,
	s_option_type   TEXT NOT NULL,
	dec_strike      NUMERIC NOT NULL,
	dec_size        NUMERIC NOT NULL,
	n_expiry_ts     BIGINT NOT NULL,
	n_valid_until_ts BIGINT NOT NULL,
	s_status        TEXT NOT NULL,
	n_quote_count   INTEGER NOT NULL,
	s_winner        TEXT,
	n_premium       BIGINT,
	dt_created      TIMESTAMPTZ NOT NULL,
	dt_closed       TIMESTAMPTZ,
	s_close_reason  TEXT
);
`

const eventQuery = `
	INSERT INTO rfq.t_event (
		s_id_event,
		s_id_correlation,
		s_id_rfq,
		s_event_type,
		s_source,
		dt_event,
		j_payload
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (s_id_event) DO NOTHING;
`

// Terminal rows are never overwritten by a later non-terminal snapshot,
// so out-of-order delivery cannot reopen an RFQ.
const rfqQuery = `
	INSERT INTO rfq.t_request_for_quote (
		s_id_rfq,
		s_underlying,
		s_option_type,
		dec_strike,
		dec_size,
		n_expiry_ts,
		n_valid_until_ts,
		s_status,
		n_quote_count,
		s_winner,
		n_premium,
		dt_created,
		dt_closed,
		s_close_reason
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (s_id_rfq)
	DO UPDATE SET
		s_status = EXCLUDED.s_status,
		n_quote_count = GREATEST(rfq.t_request_for_quote.n_quote_count, EXCLUDED.n_quote_count),
		s_winner = EXCLUDED.s_winner,
		n_premium = EXCLUDED.n_premium,
		dt_closed = EXCLUDED.dt_closed,
		s_close_reason = EXCLUDED.s_close_reason
	WHERE rfq.t_request_for_quote.s_status = 'OPEN';
`

// Writer persists every lifecycle envelope and keeps a per-RFQ summary row.
type Writer struct {
	db      DBExecutor
	logger  *zap.Logger
	source  string
	timeout time.Duration
}

// NewWriter constructs an audit writer. source identifies the router instance.
func NewWriter(db DBExecutor, logger *zap.Logger, source string) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{db: db, logger: logger, source: source, timeout: 5 * time.Second}
}

// Connect opens a pgx pool and ensures the schema exists.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping audit db: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	return pool, nil
}

// Subscribe attaches the writer to every lifecycle event.
func (w *Writer) Subscribe(bus *eventbus.EventBus) {
	bus.SubscribeAll(func(env *model.Envelope) {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		_ = w.Write(ctx, env)
	})
}

// Write appends env to the event log and, for snapshot-carrying events,
// upserts the RFQ summary row.
func (w *Writer) Write(ctx context.Context, env *model.Envelope) error {
	if env == nil {
		return nil
	}
	start := time.Now()
	defer metrics.ObserveDuration(metrics.SinkLatency, start, "postgres")

	_, err := w.db.Exec(ctx, eventQuery,
		env.ID,
		env.CorrelationID,
		env.RfqID,
		string(env.EventType),
		w.source,
		env.Timestamp,
		[]byte(env.Payload),
	)
	if err != nil {
		w.fail(env, "event_insert_failed", err)
		return err
	}

	if env.EventType == model.EventQuoteAccepted {
		metrics.IncSinkEvent("postgres", string(env.EventType), "ok")
		return nil
	}

	var rfq model.Rfq
	if err := json.Unmarshal(env.Payload, &rfq); err != nil || rfq.ID == "" {
		w.fail(env, "snapshot_decode_failed", err)
		return fmt.Errorf("decode rfq snapshot: %w", err)
	}
	if err := w.upsertRfq(ctx, &rfq); err != nil {
		w.fail(env, "rfq_upsert_failed", err)
		return err
	}

	w.logger.Debug("audit.written",
		zap.String("rfq_id", env.RfqID),
		zap.String("event_type", string(env.EventType)),
		zap.String("status", string(rfq.Status)))
	metrics.IncSinkEvent("postgres", string(env.EventType), "ok")
	return nil
}

func (w *Writer) upsertRfq(ctx context.Context, rfq *model.Rfq) error {
	var (
		winner  *string
		premium *int64
	)
	if rfq.Winner != nil {
		m := rfq.Winner.Maker
		p := int64(rfq.Winner.Premium)
		winner, premium = &m, &p
	}
	var reason *string
	if rfq.CloseReason != "" {
		reason = &rfq.CloseReason
	}

	_, err := w.db.Exec(ctx, rfqQuery,
		rfq.ID,                 // s_id_rfq
		rfq.Underlying,         // s_underlying
		string(rfq.OptionType), // s_option_type
		rfq.Strike,             // dec_strike
		rfq.Size,               // dec_size
		rfq.ExpiryTs,           // n_expiry_ts
		rfq.ValidUntilTs,       // n_valid_until_ts
		string(rfq.Status),     // s_status
		rfq.QuoteCount(),       // n_quote_count
		winner,                 // s_winner
		premium,                // n_premium
		rfq.CreatedAt,          // dt_created
		rfq.ClosedAt,           // dt_closed
		reason,                 // s_close_reason
	)
	return err
}

func (w *Writer) fail(env *model.Envelope, reason string, err error) {
	metrics.IncSinkEvent("postgres", string(env.EventType), "error")
	metrics.IncError("audit", reason)
	w.logger.Error("audit."+reason,
		zap.String("rfq_id", env.RfqID),
		zap.String("event_type", string(env.EventType)),
		zap.Error(err))
}
