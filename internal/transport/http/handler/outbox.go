package handler

import (
	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/service"
	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/transport/http/middleware"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type OutboxHandler struct {
	outboxService service.OutboxService
	logger        *zap.Logger
}

func NewOutboxHandler(outboxService service.OutboxService, logger *zap.Logger) *OutboxHandler {
	return &OutboxHandler{
		outboxService: outboxService,
		logger:        logger,
	}
}

func (h *OutboxHandler) ListQuarantined(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}

	events, pagination, err := h.outboxService.ListQuarantined(c.UserContext(), parsePage(c), actor)
	if err != nil {
		return writeError(c, h.logger, "list quarantined events", err)
	}

	return c.JSON(fiber.Map{"data": events, "pagination": pagination})
}

func (h *OutboxHandler) Requeue(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}

	id, err := parseID(c)
	if err != nil {
		return badRequest(c, "Id is invalid")
	}

	if err := h.outboxService.Requeue(c.UserContext(), id, actor); err != nil {
		return writeError(c, h.logger, "requeue event", err)
	}

	return c.JSON(fiber.Map{"id": id, "status": "requeued"})
}
