package maker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Session is one authenticated maker connection as seen by the Registry.
type Session interface {
	MakerID() string
	// Enqueue queues a frame without blocking; false means it was dropped.
	Enqueue(frame []byte) bool
	Close()
	Info() ConnInfo
}

// ConnInfo is a point-in-time description of a maker connection.
type ConnInfo struct {
	MakerID     string    `json:"makerId"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// ConnConfig tunes keepalive and buffering for maker sockets.
type ConnConfig struct {
	SendBuffer      int
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxMessageBytes int64
}

// DefaultConnConfig mirrors the router's production settings.
var DefaultConnConfig = ConnConfig{
	SendBuffer:      64,
	WriteWait:       5 * time.Second,
	PongWait:        60 * time.Second,
	PingPeriod:      45 * time.Second,
	MaxMessageBytes: 16 << 10,
}

func (c ConnConfig) withDefaults() ConnConfig {
	d := DefaultConnConfig
	if c.SendBuffer > 0 {
		d.SendBuffer = c.SendBuffer
	}
	if c.WriteWait > 0 {
		d.WriteWait = c.WriteWait
	}
	if c.PongWait > 0 {
		d.PongWait = c.PongWait
	}
	if c.PingPeriod > 0 && c.PingPeriod < d.PongWait {
		d.PingPeriod = c.PingPeriod
	}
	if c.MaxMessageBytes > 0 {
		d.MaxMessageBytes = c.MaxMessageBytes
	}
	return d
}

// Conn wraps a maker websocket with a buffered outbound queue drained by a
// single write pump, so no caller ever writes to the socket directly.
type Conn struct {
	makerID     string
	remote      string
	ws          *websocket.Conn
	cfg         ConnConfig
	logger      *zap.Logger
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	connectedAt time.Time
	lastSeen    atomic.Int64
}

func newConn(makerID, remote string, ws *websocket.Conn, cfg ConnConfig, logger *zap.Logger) *Conn {
	now := time.Now()
	c := &Conn{
		makerID:     makerID,
		remote:      remote,
		ws:          ws,
		cfg:         cfg,
		logger:      logger.With(zap.String("maker", makerID)),
		send:        make(chan []byte, cfg.SendBuffer),
		done:        make(chan struct{}),
		connectedAt: now,
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

func (c *Conn) MakerID() string { return c.makerID }

// Enqueue never blocks. The send channel is never closed, so a late
// enqueue on a closed connection is simply refused.
func (c *Conn) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops both pumps and closes the socket. Safe to call repeatedly.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteWait))
		_ = c.ws.Close()
	})
}

func (c *Conn) Info() ConnInfo {
	return ConnInfo{
		MakerID:     c.makerID,
		Remote:      c.remote,
		ConnectedAt: c.connectedAt,
		LastSeenAt:  time.Unix(0, c.lastSeen.Load()),
	}
}

func (c *Conn) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// readPump delivers text frames to onMessage until the socket fails or
// the connection is closed.
func (c *Conn) readPump(onMessage func([]byte)) {
	c.ws.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		c.touch()
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("maker.conn.read_failed", zap.Error(err))
			}
			return
		}
		c.touch()
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		onMessage(data)
	}
}

// writePump drains the send queue and pings the peer on PingPeriod.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Info("maker.conn.write_failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.logger.Info("maker.conn.ping_failed", zap.Error(err))
				return
			}
		}
	}
}
