package config

import (
	"time"

	"github.com/joho/godotenv"

	pkgconfig "github.com/optionsfi/rfq-router/pkg/config"
)

// Config holds the runtime configuration of one router instance. Optional
// integrations stay disabled while their address is empty.
type Config struct {
	ServiceName string
	Env         string // "dev", "uat", "prod"
	LogLevel    string

	Port             int // taker HTTP API
	MakerWSPort      int // maker socket listener
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	HTTPBodyLimit    int
	AllowedOrigins   []string // CORS allow-list; empty allows any origin

	RateLimitWindow  time.Duration
	RateLimitMax     int
	SecurityEventCap int
	ActivityCap      int

	RfqDefaultValidity time.Duration
	RfqRetention       time.Duration
	RetentionInterval  time.Duration

	MakerSendBuffer int
	MakerPongWait   time.Duration
	MakerPingPeriod time.Duration
	MakerMaxMessage int

	// Maker credentials: static "id:key" pairs plus an optional Secrets
	// Manager secret holding a JSON object of the same shape.
	MakerAPIKeys    map[string]string
	MakerKeysSecret string
	MakerKeysTTL    time.Duration
	AWSRegion       string

	NATSURL     string
	RabbitMQURL string
	RedisAddr   string
	RedisDB     int
	DatabaseURL string

	// FillGuard takes a Redis claim before each fill. Only useful when more
	// than one instance can reach the same RFQ.
	FillGuard bool
}

// Load loads configuration from environment variables and .env file if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServiceName: pkgconfig.GetEnv("SERVICE_NAME", "rfq-router"),
		Env:         pkgconfig.GetEnv("ENV", "dev"),
		LogLevel:    pkgconfig.GetEnv("LOG_LEVEL", "info"),

		Port:             pkgconfig.GetEnvInt("PORT", 3005),
		MakerWSPort:      pkgconfig.GetEnvInt("MAKER_WS_PORT", 3006),
		HTTPReadTimeout:  pkgconfig.GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout: pkgconfig.GetEnvDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		HTTPIdleTimeout:  pkgconfig.GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		HTTPBodyLimit:    pkgconfig.GetEnvInt("HTTP_BODY_LIMIT", 64*1024),
		AllowedOrigins:   pkgconfig.GetEnvList("ALLOWED_ORIGINS"),

		RateLimitWindow:  pkgconfig.GetEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitMax:     pkgconfig.GetEnvInt("RATE_LIMIT_MAX", 100),
		SecurityEventCap: pkgconfig.GetEnvInt("SECURITY_EVENT_CAP", 1000),
		ActivityCap:      pkgconfig.GetEnvInt("ACTIVITY_CAP", 100),

		RfqDefaultValidity: pkgconfig.GetEnvDuration("RFQ_DEFAULT_VALIDITY", time.Hour),
		RfqRetention:       pkgconfig.GetEnvDuration("RFQ_RETENTION", 24*time.Hour),
		RetentionInterval:  pkgconfig.GetEnvDuration("RETENTION_INTERVAL", time.Minute),

		MakerSendBuffer: pkgconfig.GetEnvInt("MAKER_SEND_BUFFER", 64),
		MakerPongWait:   pkgconfig.GetEnvDuration("MAKER_PONG_WAIT", 60*time.Second),
		MakerPingPeriod: pkgconfig.GetEnvDuration("MAKER_PING_PERIOD", 45*time.Second),
		MakerMaxMessage: pkgconfig.GetEnvInt("MAKER_MAX_MESSAGE_BYTES", 16*1024),

		MakerAPIKeys:    pkgconfig.GetEnvMap("MAKER_API_KEYS"),
		MakerKeysSecret: pkgconfig.GetEnv("MAKER_KEYS_SECRET", ""),
		MakerKeysTTL:    pkgconfig.GetEnvDuration("MAKER_KEYS_TTL", 5*time.Minute),
		AWSRegion:       pkgconfig.GetEnv("AWS_REGION", "us-east-2"),

		NATSURL:     pkgconfig.GetEnv("NATS_URL", ""),
		RabbitMQURL: pkgconfig.GetEnv("RABBITMQ_URL", ""),
		RedisAddr:   pkgconfig.GetEnv("REDIS_ADDR", ""),
		RedisDB:     pkgconfig.GetEnvInt("REDIS_DB", 0),
		DatabaseURL: pkgconfig.GetEnv("DATABASE_URL", ""),
		FillGuard:   pkgconfig.GetEnvBool("RFQ_FILL_GUARD", false),
	}
}
