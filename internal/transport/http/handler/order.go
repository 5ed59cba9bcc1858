package handler

import (
	"context"
	"strconv"

	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/domain"
	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/service"
	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/transport/http/middleware"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/mylogger"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type OrderHandler struct {
	orderService service.OrderService
	validate     *validator.Validate
	logger       *zap.Logger
}

func NewOrderHandler(orderService service.OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
		validate:     validator.New(),
		logger:       logger,
	}
}

type CreateOrderRequest struct {
	Items []domain.ItemInput `json:"items" validate:"required,min=1,dive"`
	Notes string             `json:"notes" validate:"max=500"`
}

type transitionFunc func(ctx context.Context, orderID int64, actor domain.Actor) (*domain.Order, error)

func (h *OrderHandler) Create(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}

	input := new(CreateOrderRequest)
	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(
			c.UserContext(),
			h.logger,
			"failed to parse body in create",
			zap.Error(err),
		)

		return badRequest(c, "error parsing body")
	}

	if err := h.validate.Struct(input); err != nil {
		return validationFailed(c, err)
	}

	order, err := h.orderService.CreateOrder(c.UserContext(), domain.CreateOrderInput{
		CustomerID: actor.UserID,
		Items:      input.Items,
		Notes:      input.Notes,
	}, actor)
	if err != nil {
		return writeError(c, h.logger, "create order", err)
	}

	return c.Status(fiber.StatusCreated).JSON(order)
}

func (h *OrderHandler) Get(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}

	id, err := parseID(c)
	if err != nil {
		return badRequest(c, "Id is invalid")
	}

	order, err := h.orderService.GetOrder(c.UserContext(), id, actor)
	if err != nil {
		return writeError(c, h.logger, "get order", err)
	}

	return c.JSON(order)
}

func (h *OrderHandler) ListMine(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}

	orders, pagination, err := h.orderService.ListCustomerOrders(c.UserContext(), actor.UserID, parsePage(c))
	if err != nil {
		return writeError(c, h.logger, "list orders", err)
	}

	return c.JSON(fiber.Map{"data": orders, "pagination": pagination})
}

func (h *OrderHandler) ListByStatus(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}

	status, err := domain.ParseOrderStatus(c.Query("status", string(domain.OrderStatusPending)))
	if err != nil {
		return writeError(c, h.logger, "list orders by status", err)
	}

	orders, pagination, err := h.orderService.ListOrdersByStatus(c.UserContext(), status, parsePage(c), actor)
	if err != nil {
		return writeError(c, h.logger, "list orders by status", err)
	}

	return c.JSON(fiber.Map{"data": orders, "pagination": pagination})
}

func (h *OrderHandler) Cancel(c *fiber.Ctx) error {
	return h.transition(c, "cancel order", h.orderService.CancelOrder)
}

func (h *OrderHandler) Accept(c *fiber.Ctx) error {
	return h.transition(c, "accept order", h.orderService.AcceptOrder)
}

func (h *OrderHandler) Ready(c *fiber.Ctx) error {
	return h.transition(c, "mark order ready", h.orderService.MarkOrderReady)
}

func (h *OrderHandler) Complete(c *fiber.Ctx) error {
	return h.transition(c, "complete order", h.orderService.CompleteOrder)
}

func (h *OrderHandler) Audit(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}

	id, err := parseID(c)
	if err != nil {
		return badRequest(c, "Id is invalid")
	}

	entries, err := h.orderService.AuditTrail(c.UserContext(), id, actor)
	if err != nil {
		return writeError(c, h.logger, "audit trail", err)
	}

	return c.JSON(fiber.Map{"data": entries})
}

func (h *OrderHandler) transition(c *fiber.Ctx, op string, fn transitionFunc) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}

	id, err := parseID(c)
	if err != nil {
		return badRequest(c, "Id is invalid")
	}

	order, err := fn(c.UserContext(), id, actor)
	if err != nil {
		return writeError(c, h.logger, op, err)
	}

	mylogger.Info(
		c.UserContext(),
		h.logger,
		op+" succeeded",
		zap.Int64("order_id", order.ID),
		zap.String("status", string(order.Status)),
	)

	return c.JSON(order)
}

func parseID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.ErrBadRequest
	}

	return id, nil
}

func parsePage(c *fiber.Ctx) domain.Page {
	return domain.Page{
		Page:  c.QueryInt("page", 1),
		Limit: c.QueryInt("limit", 20),
	}.Normalize()
}
