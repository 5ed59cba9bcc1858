package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrProductNotFound        = errors.New("product not found")
	ErrProductUnavailable     = errors.New("product unavailable")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrOrderNotFound          = errors.New("order not found")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}

	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type ProductError struct {
	Kind      error
	ProductID int64
}

func (e *ProductError) Error() string {
	return fmt.Sprintf("%s: product %d", e.Kind, e.ProductID)
}

func (e *ProductError) Unwrap() error { return e.Kind }

type InsufficientStockError struct {
	ProductID int64
	Requested int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d (requested %d)", e.ProductID, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InvalidTransitionError carries the status the order actually had so the
// caller can resynchronize.
type InvalidTransitionError struct {
	OrderID int64
	Current OrderStatus
	Target  OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %d cannot move from %s to %s", e.OrderID, e.Current, e.Target)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidStateTransition }
