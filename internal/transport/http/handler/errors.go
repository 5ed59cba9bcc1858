package handler

import (
	"errors"

	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/domain"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/mylogger"
	outboxRepository "github.com/Alejandroperezitsur/ITSUR-Eats/pkg/outbox/repository"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// writeError maps a service error onto the response contract
// {"error", "code", "current_status"?}.
func writeError(c *fiber.Ctx, logger *zap.Logger, op string, err error) error {
	var (
		validationErr *domain.ValidationError
		transitionErr *domain.InvalidTransitionError
		stockErr      *domain.InsufficientStockError
		productErr    *domain.ProductError
	)

	switch {
	case errors.As(err, &validationErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": validationErr.Error(),
			"code":  "VALIDATION_ERROR",
			"field": validationErr.Field,
		})
	case errors.As(err, &transitionErr):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":          transitionErr.Error(),
			"code":           "INVALID_STATE_TRANSITION",
			"current_status": transitionErr.Current,
		})
	case errors.As(err, &stockErr):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":      stockErr.Error(),
			"code":       "INSUFFICIENT_STOCK",
			"product_id": stockErr.ProductID,
		})
	case errors.As(err, &productErr) && errors.Is(err, domain.ErrProductUnavailable):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":      productErr.Error(),
			"code":       "PRODUCT_UNAVAILABLE",
			"product_id": productErr.ProductID,
		})
	case errors.As(err, &productErr):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":      productErr.Error(),
			"code":       "PRODUCT_NOT_FOUND",
			"product_id": productErr.ProductID,
		})
	case errors.Is(err, domain.ErrOrderNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "order not found",
			"code":  "ORDER_NOT_FOUND",
		})
	case errors.Is(err, outboxRepository.ErrEventNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "event not found",
			"code":  "EVENT_NOT_FOUND",
		})
	case errors.Is(err, outboxRepository.ErrEventNotRequeable):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "EVENT_NOT_QUARANTINED",
		})
	case errors.Is(err, domain.ErrUnauthorized):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "not allowed",
			"code":  "FORBIDDEN",
		})
	}

	mylogger.Error(
		c.UserContext(),
		logger,
		op+" failed",
		zap.Error(err),
	)

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal error",
		"code":  "INTERNAL_ERROR",
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
		"code":  "VALIDATION_ERROR",
	})
}

func validationFailed(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":  "validation failed",
		"code":   "VALIDATION_ERROR",
		"fields": utils.FormatValidationError(err),
	})
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "Unauthorized: missed user",
		"code":  "UNAUTHORIZED",
	})
}
