package maker

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Pricer turns an RFQ announcement into a premium in base units. ok=false
// means the maker passes.
type Pricer interface {
	Price(msg RFQMessage) (premium int64, ok bool)
}

// NotionalPricer quotes a percentage of notional. Spot is estimated from
// the strike, which the vault places OTMFactor above spot.
type NotionalPricer struct {
	Bps       int64
	JitterBps int64
	OTMFactor decimal.Decimal
	Decimals  int32
	Rand      func() float64
}

// DefaultPricer quotes 20-30 bps of notional in 6-decimal USDC units.
func DefaultPricer() *NotionalPricer {
	return &NotionalPricer{
		Bps:       20,
		JitterBps: 10,
		OTMFactor: decimal.RequireFromString("1.10"),
		Decimals:  6,
	}
}

func (p *NotionalPricer) Price(msg RFQMessage) (int64, bool) {
	if msg.Strike <= 0 || msg.Size <= 0 {
		return 0, false
	}
	factor := p.OTMFactor
	if factor.IsZero() {
		factor = decimal.NewFromInt(1)
	}
	bps := decimal.NewFromInt(p.Bps)
	if p.JitterBps > 0 {
		r := p.Rand
		if r == nil {
			r = rand.Float64
		}
		bps = bps.Add(decimal.NewFromFloat(r()).Mul(decimal.NewFromInt(p.JitterBps)))
	}

	spot := decimal.NewFromFloat(msg.Strike).Div(factor)
	premium := decimal.NewFromFloat(msg.Size).
		Mul(spot).
		Mul(bps).
		Div(decimal.NewFromInt(10_000)).
		Shift(p.Decimals).
		Floor()
	return premium.IntPart(), true
}

// ClientConfig configures the reference maker client.
type ClientConfig struct {
	URL     string
	MakerID string
	APIKey  string
	Pricer  Pricer

	// QuoteDelay, plus up to QuoteJitter, is waited before answering an RFQ.
	QuoteDelay  time.Duration
	QuoteJitter time.Duration

	Backoff Backoff
	After   AfterFunc

	OnFill func(FillMessage)
	OnAck  func(QuoteAckMessage)
}

// Client is a reference market maker: it answers every announced RFQ with
// a priced quote and reconnects with backoff when the router goes away.
type Client struct {
	cfg    ClientConfig
	logger *zap.Logger
	dialer websocket.Dialer
	sched  *Scheduler

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewClient creates a maker client. Nil Pricer uses DefaultPricer.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Pricer == nil {
		cfg.Pricer = DefaultPricer()
	}
	if cfg.After == nil {
		cfg.After = SystemAfter
	}
	return &Client{
		cfg:    cfg,
		logger: logger.With(zap.String("maker", cfg.MakerID)),
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		sched:  NewScheduler(cfg.After),
	}
}

// Run connects and serves until ctx is cancelled, reconnecting on failure.
func (c *Client) Run(ctx context.Context) error {
	defer c.sched.Stop()

	attempt := 0
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			attempt = 0
		}
		delay := c.cfg.Backoff.Next(attempt)
		attempt++
		c.logger.Info("maker.client.reconnecting", zap.Duration("delay", delay), zap.Int("attempt", attempt), zap.Error(err))

		fire := make(chan struct{})
		c.sched.Schedule(delay, func() { close(fire) })
		select {
		case <-ctx.Done():
			c.sched.Cancel()
			return nil
		case <-fire:
		}
	}
}

// session dials once and reads until the connection drops. connected
// reports whether the handshake succeeded.
func (c *Client) session(ctx context.Context) (connected bool, err error) {
	hdr := http.Header{}
	hdr.Set("X-Maker-Id", c.cfg.MakerID)
	hdr.Set("Authorization", "Bearer "+c.cfg.APIKey)

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, hdr)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return false, fmt.Errorf("router rejected credentials: %w", err)
		}
		return false, fmt.Errorf("dial router: %w", err)
	}
	c.setConn(conn)
	c.logger.Info("maker.client.connected", zap.String("url", c.cfg.URL))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	defer func() {
		c.setConn(nil)
		_ = conn.Close()
	}()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		c.handle(raw)
	}
}

func (c *Client) handle(raw []byte) {
	var hdr header
	if err := json.Unmarshal(raw, &hdr); err != nil {
		c.logger.Warn("maker.client.bad_frame", zap.Error(err))
		return
	}
	switch hdr.Type {
	case MsgRFQ:
		var msg RFQMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("maker.client.bad_rfq", zap.Error(err))
			return
		}
		c.onRFQ(msg)
	case MsgFill:
		var msg FillMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("maker.client.bad_fill", zap.Error(err))
			return
		}
		c.logger.Info("maker.client.filled", zap.String("rfq_id", msg.RfqID), zap.Uint64("premium", msg.Premium))
		if c.cfg.OnFill != nil {
			c.cfg.OnFill(msg)
		}
	case MsgQuoteAck:
		var msg QuoteAckMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		if !msg.Accepted {
			c.logger.Info("maker.client.quote_rejected", zap.String("rfq_id", msg.RfqID), zap.String("reason", msg.Reason))
		}
		if c.cfg.OnAck != nil {
			c.cfg.OnAck(msg)
		}
	}
}

func (c *Client) onRFQ(msg RFQMessage) {
	premium, ok := c.cfg.Pricer.Price(msg)
	if !ok {
		c.logger.Debug("maker.client.pass", zap.String("rfq_id", msg.RfqID))
		return
	}
	send := func() {
		if err := c.SendQuote(msg.RfqID, premium); err != nil {
			c.logger.Warn("maker.client.quote_failed", zap.String("rfq_id", msg.RfqID), zap.Error(err))
		}
	}

	delay := c.cfg.QuoteDelay
	if c.cfg.QuoteJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(c.cfg.QuoteJitter)))
	}
	if delay <= 0 {
		send()
		return
	}
	c.cfg.After(delay, send)
}

// SendQuote submits a premium for rfqID on the current connection.
func (c *Client) SendQuote(rfqID string, premium int64) error {
	return c.write(QuoteMessage{Type: MsgQuote, RfqID: rfqID, Premium: &premium})
}

// Ping sends an application keepalive.
func (c *Client) Ping() error {
	return c.write(PingMessage{Type: MsgPing, Ts: time.Now().Unix()})
}

// Connected reports whether the client currently holds a socket.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) write(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(DefaultConnConfig.WriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}
