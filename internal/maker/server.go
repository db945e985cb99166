package maker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/optionsfi/rfq-router/internal/security"
)

// Server upgrades authenticated maker connections. It runs on its own
// net/http listener because the public API is served by fiber.
type Server struct {
	registry *Registry
	verifier Verifier
	monitor  *security.Monitor
	cfg      ConnConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger
	http     *http.Server
}

// NewServer creates the maker socket endpoint.
func NewServer(registry *Registry, verifier Verifier, monitor *security.Monitor, cfg ConnConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		registry: registry,
		verifier: verifier,
		monitor:  monitor,
		cfg:      cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Makers are server-side processes; browser origin checks do not apply.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Handler returns the HTTP handler. Both / and /ws accept upgrades.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	mux.Handle("/", s)
	return mux
}

// ListenAndServe serves maker sockets on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("maker.server.listening", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting makers and closes every live session.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.registry.CloseAll()
	return err
}

// ServeHTTP authenticates, upgrades and then serves one maker until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	makerID, token := credentials(r)
	remote := clientIP(r)

	if err := s.verifier.Verify(r.Context(), makerID, token); err != nil {
		if s.monitor != nil {
			s.monitor.Record(security.EventAuthFailed, security.LevelHigh, remote, map[string]any{
				"makerId": security.Sanitize(makerID),
				"reason":  err.Error(),
			})
		}
		s.registry.record("maker_rejected", map[string]any{
			"reason": err.Error(),
			"ip":     remote,
			"url":    r.URL.Path,
		})
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("maker.upgrade_failed", zap.String("maker", makerID), zap.Error(err))
		return
	}

	conn := newConn(makerID, remote, ws, s.cfg, s.logger)
	s.registry.Register(conn)
	go conn.writePump()

	// Inbound frames carry no deadline of their own; the request context
	// ends when the handler returns.
	ctx := context.WithoutCancel(r.Context())
	conn.readPump(func(raw []byte) {
		s.registry.RouteMessage(ctx, makerID, raw)
	})

	s.registry.Unregister(makerID, conn)
	conn.Close()
}

func credentials(r *http.Request) (makerID, token string) {
	q := r.URL.Query()
	makerID = strings.TrimSpace(r.Header.Get("X-Maker-Id"))
	if makerID == "" {
		makerID = strings.TrimSpace(q.Get("makerId"))
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if token == "" {
		token = q.Get("token")
	}
	if token == "" {
		token = q.Get("apiKey")
	}
	return makerID, token
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
