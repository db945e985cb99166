package api

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/optionsfi/rfq-router/internal/maker"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// MakerDirectory lists connected makers.
type MakerDirectory interface {
	Connections() []maker.ConnInfo
}

// HealthHandler aggregates dependency checks for GET /health.
type HealthHandler struct {
	makers  MakerDirectory
	checks  map[string]HealthCheck
	timeout time.Duration
}

func NewHealthHandler(makers MakerDirectory) *HealthHandler {
	return &HealthHandler{makers: makers, checks: map[string]HealthCheck{}, timeout: 2 * time.Second}
}

// AddCheck registers a dependency. Only configured dependencies are checked.
func (h *HealthHandler) AddCheck(name string, check HealthCheck) *HealthHandler {
	h.checks[name] = check
	return h
}

// Health handles GET /health.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	checks := fiber.Map{}
	status := "ok"
	code := fiber.StatusOK
	connections := []maker.ConnInfo{}

	if h.makers != nil {
		connections = h.makers.Connections()
		checks["makers"] = len(connections)
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
		err := h.checks[name](ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	return c.Status(code).JSON(fiber.Map{
		"status": status,
		"checks": checks,
		"makers": connections,
	})
}
