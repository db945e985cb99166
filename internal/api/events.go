package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/optionsfi/rfq-router/internal/activity"
)

// EventFeed is the activity log read by the operator dashboard.
type EventFeed interface {
	Since(sinceMs int64) []activity.Entry
}

// Events handles GET /events?since=<unix ms>.
func Events(feed EventFeed) fiber.Handler {
	return func(c *fiber.Ctx) error {
		since, err := strconv.ParseInt(c.Query("since"), 10, 64)
		if err != nil {
			since = 0
		}
		return c.JSON(fiber.Map{
			"events":     feed.Since(since),
			"serverTime": time.Now().UnixMilli(),
		})
	}
}
