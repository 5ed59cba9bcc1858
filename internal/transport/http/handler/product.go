package handler

import (
	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/domain"
	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/service"
	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/transport/http/middleware"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/mylogger"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type ProductHandler struct {
	productService service.ProductService
	validate       *validator.Validate
	logger         *zap.Logger
}

func NewProductHandler(productService service.ProductService, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		productService: productService,
		validate:       validator.New(),
		logger:         logger,
	}
}

type CreateProductInput struct {
	Name        string `json:"name" validate:"required,min=3,max=100"`
	Description string `json:"description" validate:"max=1000"`
	PriceCents  int64  `json:"price_cents" validate:"gte=0"`
	Currency    string `json:"currency" validate:"omitempty,len=3"`
	Stock       int32  `json:"stock" validate:"gte=0"`
	Category    string `json:"category" validate:"required"`
	ImageURL    string `json:"image_url" validate:"omitempty,url"`
}

type UpdatePriceInput struct {
	PriceCents int64 `json:"price_cents" validate:"gte=0"`
}

type SetAvailabilityInput struct {
	Available *bool `json:"available" validate:"required"`
}

func (h *ProductHandler) Create(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}

	input := new(CreateProductInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, "error parsing body")
	}

	if err := h.validate.Struct(input); err != nil {
		return validationFailed(c, err)
	}

	product, err := h.productService.Create(c.UserContext(), &domain.Product{
		Name:        input.Name,
		Description: input.Description,
		PriceCents:  input.PriceCents,
		Currency:    input.Currency,
		Stock:       input.Stock,
		Available:   true,
		Category:    input.Category,
		ImageURL:    input.ImageURL,
	}, actor)
	if err != nil {
		return writeError(c, h.logger, "create product", err)
	}

	return c.Status(fiber.StatusCreated).JSON(product)
}

func (h *ProductHandler) FindByID(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		mylogger.Warn(
			c.UserContext(),
			h.logger,
			"invalid product id",
			zap.String("id", c.Params("id")),
		)

		return badRequest(c, "Id is invalid")
	}

	product, err := h.productService.FindByID(c.UserContext(), id)
	if err != nil {
		return writeError(c, h.logger, "find product", err)
	}

	return c.JSON(product)
}

func (h *ProductHandler) List(c *fiber.Ctx) error {
	page := parsePage(c)

	products, pagination, err := h.productService.List(c.UserContext(), domain.ProductFilter{
		Category: c.Query("category"),
		Search:   c.Query("search"),
		Page:     page.Page,
		Limit:    page.Limit,
	})
	if err != nil {
		return writeError(c, h.logger, "list products", err)
	}

	return c.JSON(fiber.Map{"data": products, "pagination": pagination})
}

func (h *ProductHandler) UpdatePrice(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}

	id, err := parseID(c)
	if err != nil {
		return badRequest(c, "Id is invalid")
	}

	input := new(UpdatePriceInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, "error parsing body")
	}

	if err := h.validate.Struct(input); err != nil {
		return validationFailed(c, err)
	}

	product, err := h.productService.UpdatePrice(c.UserContext(), id, input.PriceCents, actor)
	if err != nil {
		return writeError(c, h.logger, "update price", err)
	}

	return c.JSON(product)
}

func (h *ProductHandler) SetAvailability(c *fiber.Ctx) error {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return unauthorized(c)
	}

	id, err := parseID(c)
	if err != nil {
		return badRequest(c, "Id is invalid")
	}

	input := new(SetAvailabilityInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, "error parsing body")
	}

	if err := h.validate.Struct(input); err != nil {
		return validationFailed(c, err)
	}

	product, err := h.productService.SetAvailability(c.UserContext(), id, *input.Available, actor)
	if err != nil {
		return writeError(c, h.logger, "set availability", err)
	}

	return c.JSON(product)
}
