package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/optionsfi/rfq-router/internal/rfq"
	"github.com/optionsfi/rfq-router/internal/security"
	"github.com/optionsfi/rfq-router/pkg/model"
)

// RFQService is the registry surface the taker endpoints need.
type RFQService interface {
	Create(ctx context.Context, req model.RfqRequest) (*model.Rfq, error)
	Status(ctx context.Context, id string) (model.RfqStatusView, error)
	List(ctx context.Context, status *model.Status) []model.RfqSummary
	Cancel(ctx context.Context, id string) (bool, error)
}

// FillService selects the winning quote.
type FillService interface {
	Fill(ctx context.Context, id string) model.FillResult
}

// RfqHandler serves the taker-facing RFQ endpoints.
type RfqHandler struct {
	logger  *zap.Logger
	rfqs    RFQService
	filler  FillService
	monitor *security.Monitor
}

// NewRfqHandler creates a new RfqHandler. monitor is optional.
func NewRfqHandler(logger *zap.Logger, rfqs RFQService, filler FillService, monitor *security.Monitor) *RfqHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RfqHandler{logger: logger, rfqs: rfqs, filler: filler, monitor: monitor}
}

// CreateRFQ handles POST /rfq.
func (h *RfqHandler) CreateRFQ(c *fiber.Ctx) error {
	var req model.RfqRequest
	if err := c.BodyParser(&req); err != nil {
		h.recordInvalid(c, []string{"body must be a JSON object"})
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	created, err := h.rfqs.Create(c.UserContext(), req)
	if err != nil {
		var verr *security.ValidationError
		if errors.As(err, &verr) {
			h.recordInvalid(c, verr.Fields)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "validation failed",
				"details": verr.Fields,
			})
		}
		h.logger.Error("rfq.create.failed", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to create rfq")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"rfqId":   created.ID,
		"request": created.RfqRequest,
	})
}

// GetRFQ handles GET /rfq/:id.
func (h *RfqHandler) GetRFQ(c *fiber.Ctx) error {
	view, err := h.rfqs.Status(c.UserContext(), c.Params("id"))
	if errors.Is(err, rfq.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "RFQ not found"})
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"rfq": view})
}

// ListRFQs handles GET /rfqs and only lists OPEN auctions.
func (h *RfqHandler) ListRFQs(c *fiber.Ctx) error {
	open := model.StatusOpen
	return c.JSON(fiber.Map{"rfqs": h.rfqs.List(c.UserContext(), &open)})
}

// FillRFQ handles POST /rfq/:id/fill. Every outcome is a 200; the body says
// whether this call won.
func (h *RfqHandler) FillRFQ(c *fiber.Ctx) error {
	return c.JSON(h.filler.Fill(c.UserContext(), c.Params("id")))
}

// CancelRFQ handles POST /rfq/:id/cancel.
func (h *RfqHandler) CancelRFQ(c *fiber.Ctx) error {
	ok, err := h.rfqs.Cancel(c.UserContext(), c.Params("id"))
	if errors.Is(err, rfq.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "RFQ not found"})
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": ok})
}

func (h *RfqHandler) recordInvalid(c *fiber.Ctx, errs []string) {
	if h.monitor != nil {
		h.monitor.RecordValidationFailure(c.IP(), c.Path(), errs)
	}
}
