package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/optionsfi/rfq-router/internal/maker"
	"github.com/optionsfi/rfq-router/pkg/config"
	"github.com/optionsfi/rfq-router/pkg/logger"
	"github.com/optionsfi/rfq-router/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	makerID := config.GetEnv("MAKER_ID", "mock-mm-1")
	apiKey := config.GetEnv("MM_API_KEY", "")

	logger.Init("mock-maker", config.GetEnv("ENV", "dev"), config.GetEnv("LOG_LEVEL", "info"))
	log := logger.L()
	log.Info("starting [mock-maker]...",
		zap.String("maker", makerID),
		zap.String("api_key", utils.MaskSecret(apiKey)))

	client := maker.NewClient(maker.ClientConfig{
		URL:         config.GetEnv("ROUTER_WS_URL", "ws://localhost:3006"),
		MakerID:     makerID,
		APIKey:      apiKey,
		QuoteDelay:  config.GetEnvDuration("QUOTE_DELAY", 500*time.Millisecond),
		QuoteJitter: config.GetEnvDuration("QUOTE_JITTER", time.Second),
		Backoff:     maker.DefaultBackoff,
		OnFill: func(f maker.FillMessage) {
			log.Info("mock_maker.filled", zap.String("rfq_id", f.RfqID), zap.Uint64("premium", f.Premium))
		},
		OnAck: func(a maker.QuoteAckMessage) {
			if !a.Accepted {
				log.Warn("mock_maker.quote_rejected", zap.String("rfq_id", a.RfqID), zap.String("reason", a.Reason))
			}
		},
	}, log)

	if err := client.Run(ctx); err != nil {
		log.Error("mock_maker.stopped", zap.Error(err))
	}
	log.Info("shutting down [mock-maker]...")
	logger.Sync()
}
