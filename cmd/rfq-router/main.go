package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/optionsfi/rfq-router/internal/activity"
	"github.com/optionsfi/rfq-router/internal/api"
	"github.com/optionsfi/rfq-router/internal/audit"
	"github.com/optionsfi/rfq-router/internal/config"
	"github.com/optionsfi/rfq-router/internal/eventbus"
	"github.com/optionsfi/rfq-router/internal/jobs"
	"github.com/optionsfi/rfq-router/internal/maker"
	"github.com/optionsfi/rfq-router/internal/publisher"
	"github.com/optionsfi/rfq-router/internal/rabbitmq"
	"github.com/optionsfi/rfq-router/internal/rfq"
	"github.com/optionsfi/rfq-router/internal/security"
	"github.com/optionsfi/rfq-router/internal/store"
	"github.com/optionsfi/rfq-router/pkg/logger"
	"github.com/optionsfi/rfq-router/pkg/secrets"
	"github.com/optionsfi/rfq-router/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()
	instanceID := cfg.ServiceName + "-" + uuid.NewString()[:8]

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	logg := logger.S()
	log := logger.L()
	logg.Infow("starting [rfq-router]...", "instance", instanceID)

	bus := eventbus.New()
	makers := maker.NewRegistry(logger.Named("maker"))
	health := api.NewHealthHandler(makers)

	// --- Operator activity feed ---
	feed := activity.NewLog(cfg.ActivityCap, cfg.ServiceName, makers, logger.Named("activity"))
	feed.Subscribe(bus)
	makers.UseRecorder(feed)

	// --- NATS lifecycle publisher (optional) ---
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		var err error
		nc, err = nats.Connect(cfg.NATSURL, nats.Name(instanceID))
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		pub, err := publisher.New(nc, cfg.ServiceName)
		if err != nil {
			logg.Fatalw("failed to init publisher", "error", err)
		}
		bus.SubscribeAll(pub.Handle)
		health.AddCheck("nats", func(ctx context.Context) error {
			if !pub.Healthy() {
				return errors.New("disconnected")
			}
			return nil
		})
	}

	// --- RabbitMQ settlement queues (optional) ---
	var mq *rabbitmq.Publisher
	if cfg.RabbitMQURL != "" {
		var err error
		mq, err = rabbitmq.NewPublisher(cfg.RabbitMQURL, log)
		if err != nil {
			logg.Fatalw("failed to init rabbitmq publisher", "error", err)
		}
		mq.Subscribe(bus)
	}

	// --- Redis snapshot mirror and optional fill guard ---
	var (
		st    *store.RedisStore
		guard rfq.FillGuard
	)
	if cfg.RedisAddr != "" {
		var err error
		st, err = store.NewRedis(store.Options{
			Addr:      cfg.RedisAddr,
			DB:        cfg.RedisDB,
			Retention: cfg.RfqRetention,
			Owner:     instanceID,
		}, log)
		if err != nil {
			logg.Fatalw("failed to init store", "error", err)
		}
		st.Subscribe(bus)
		if cfg.FillGuard {
			guard = st
		}
		health.AddCheck("store", st.HealthCheck)
	}

	// --- Postgres audit log (optional) ---
	if cfg.DatabaseURL != "" {
		logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))
		pool, err := audit.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logg.Fatalw("failed to init audit db", "error", err)
		}
		defer pool.Close()
		audit.NewWriter(pool, log, instanceID).Subscribe(bus)
		health.AddCheck("audit", pool.Ping)
	}

	// --- Maker credentials ---
	var authOpts []maker.AuthOption
	if cfg.MakerKeysSecret != "" {
		provider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		authOpts = append(authOpts, maker.WithSecretSource(provider, cfg.MakerKeysSecret, cfg.MakerKeysTTL))
	}
	if len(cfg.MakerAPIKeys) == 0 && cfg.MakerKeysSecret == "" {
		logg.Warn("no maker credentials configured; every maker connection will be refused")
	}
	authenticator := maker.NewAuthenticator(cfg.MakerAPIKeys, log, authOpts...)

	// --- Core auction components ---
	monitor := security.NewMonitor(logger.Named("security"), cfg.SecurityEventCap)
	limiter := security.NewRateLimiter(security.RateLimitConfig{
		Window: cfg.RateLimitWindow,
		Max:    cfg.RateLimitMax,
	})

	rfqs := rfq.NewRegistry(logger.Named("rfq"),
		rfq.WithBroadcaster(makers),
		rfq.WithEvents(bus),
		rfq.WithDefaultValidity(cfg.RfqDefaultValidity),
	)
	collector := rfq.NewCollector(rfqs, makers, logger.Named("collector"))
	makers.UseDispatcher(maker.NewDispatcher(collector, monitor, logger.Named("dispatch")))
	executor := rfq.NewExecutor(rfqs, makers, guard, logger.Named("executor"))

	// --- Retention job ---
	retention := jobs.NewRetention(logger.Named("retention"), rfqs, limiter, cfg.RfqRetention, cfg.RetentionInterval)
	go retention.Start(ctx)

	// --- Maker socket server ---
	wsServer := maker.NewServer(makers, authenticator, monitor, maker.ConnConfig{
		SendBuffer:      cfg.MakerSendBuffer,
		PongWait:        cfg.MakerPongWait,
		PingPeriod:      cfg.MakerPingPeriod,
		MaxMessageBytes: int64(cfg.MakerMaxMessage),
	}, logger.Named("ws"))
	go func() {
		addr := fmt.Sprintf(":%d", cfg.MakerWSPort)
		logg.Infof("maker socket listening on %s", addr)
		if err := wsServer.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatalw("ws.listen_failed", "error", err)
		}
	}()

	// --- Fiber HTTP Server ---
	app := api.NewApp(api.AppConfig{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,

		AllowedOrigins: cfg.AllowedOrigins,
	})
	rfqHandler := api.NewRfqHandler(logger.Named("api"), rfqs, executor, monitor)
	api.RegisterRoutes(app, rfqHandler, health, feed, monitor, limiter)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[rfq-router] running",
		"env", cfg.Env,
		"http_port", cfg.Port,
		"ws_port", cfg.MakerWSPort,
		"nats", nc != nil,
		"rabbitmq", mq != nil,
		"redis", st != nil,
		"fill_guard", guard != nil,
		"audit", cfg.DatabaseURL != "")

	<-ctx.Done()
	logg.Info("shutting down [rfq-router]...")

	retention.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logg.Warnw("ws.shutdown_failed", "error", err)
	}
	bus.Close()
	if mq != nil {
		if err := mq.Close(); err != nil {
			logg.Warnw("rabbitmq.close_failed", "error", err)
		}
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			logg.Warnw("nats.drain_failed", "error", err)
		}
	}
	if st != nil {
		if err := st.Close(); err != nil {
			logg.Warnw("store.close_failed", "error", err)
		}
	}
	logger.Sync()
}
