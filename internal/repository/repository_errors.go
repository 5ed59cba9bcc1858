package repository

import "errors"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNoTransition      = errors.New("conditional status update matched no rows")
)
