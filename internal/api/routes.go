package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/optionsfi/rfq-router/internal/security"
)

// AppConfig tunes the fiber server.
type AppConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	BodyLimit    int
	// AllowedOrigins lists browser origins echoed by CORS. Empty allows any.
	AllowedOrigins []string
}

// NewApp builds the fiber app with JSON error responses and CORS.
func NewApp(cfg AppConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "rfq-router",
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		IdleTimeout:           cfg.IdleTimeout,
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	origins := "*"
	if len(cfg.AllowedOrigins) > 0 {
		origins = strings.Join(cfg.AllowedOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

// RegisterRoutes mounts every HTTP endpoint. Operational endpoints are
// mounted ahead of the per-IP limiter and only report the caller's window;
// limiter may be nil to disable it.
func RegisterRoutes(app *fiber.App,
	rfqHandler *RfqHandler,
	healthHandler *HealthHandler,
	feed EventFeed,
	monitor *security.Monitor,
	limiter *security.RateLimiter,
) {
	window := func(c *fiber.Ctx) error { return c.Next() }
	if limiter != nil {
		window = security.RateLimitHeadersMiddleware(limiter)
	}

	app.Get("/metrics", window, adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/health", window, healthHandler.Health)
	app.Get("/security/metrics", window, func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 50)
		return c.JSON(fiber.Map{
			"totalEvents":  monitor.Total(),
			"recentEvents": monitor.Recent(limit),
		})
	})

	if limiter != nil {
		app.Use(security.RateLimitMiddleware(limiter, monitor))
	}

	app.Post("/rfq", rfqHandler.CreateRFQ)
	app.Get("/rfq/:id", rfqHandler.GetRFQ)
	app.Post("/rfq/:id/fill", rfqHandler.FillRFQ)
	app.Post("/rfq/:id/cancel", rfqHandler.CancelRFQ)
	app.Get("/rfqs", rfqHandler.ListRFQs)
	if feed != nil {
		app.Get("/events", Events(feed))
	}
}
