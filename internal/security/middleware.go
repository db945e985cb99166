package security

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// RateLimitMiddleware enforces the sliding window per caller IP and sets the
// standard X-RateLimit-* headers on every response.
func RateLimitMiddleware(limiter *RateLimiter, monitor *Monitor) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.IP()
		d := limiter.Check(id)
		setRateLimitHeaders(c, d)

		if d.Allowed {
			return c.Next()
		}

		retryAfter := int(d.RetryAfter(limiter.now()).Seconds())
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
		if monitor != nil {
			monitor.Record(EventRateLimitExceeded, LevelMedium, id, map[string]any{
				"path":   c.Path(),
				"method": c.Method(),
				"limit":  d.Limit,
			})
		}
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":      "too many requests",
			"retryAfter": retryAfter,
		})
	}
}

// RateLimitHeadersMiddleware reports the caller's window on routes that do
// not consume it.
func RateLimitHeadersMiddleware(limiter *RateLimiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		setRateLimitHeaders(c, limiter.Peek(c.IP()))
		return c.Next()
	}
}

func setRateLimitHeaders(c *fiber.Ctx, d Decision) {
	c.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// RecordValidationFailure logs a rejected request into the security log.
func (m *Monitor) RecordValidationFailure(source, path string, errs []string) {
	m.Record(EventValidationFailed, LevelLow, source, map[string]any{
		"path":   path,
		"errors": errs,
	})
}
