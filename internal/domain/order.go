package domain

import (
	"fmt"
	"time"

	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/money"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusAccepted  OrderStatus = "ACCEPTED"
	OrderStatusReady     OrderStatus = "READY"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Transitions maps a target status to the statuses it may be entered from.
// It is the only source of the conditional update predicate.
var Transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPaid:      {OrderStatusPending},
	OrderStatusAccepted:  {OrderStatusPending, OrderStatusPaid},
	OrderStatusReady:     {OrderStatusAccepted},
	OrderStatusCompleted: {OrderStatusReady},
	OrderStatusCancelled: {OrderStatusPending, OrderStatusPaid},
}

func AllowedSources(target OrderStatus) []OrderStatus {
	return Transitions[target]
}

func CanTransition(from, to OrderStatus) bool {
	for _, s := range Transitions[to] {
		if s == from {
			return true
		}
	}

	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusAccepted,
		OrderStatusReady, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}

	return false
}

func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(raw)
	if !s.Valid() {
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", raw)}
	}

	return s, nil
}

type Order struct {
	ID          int64       `json:"id"`
	CustomerID  int64       `json:"customer_id"`
	Items       []OrderItem `json:"items"`
	Total       money.Money `json:"total"`
	Status      OrderStatus `json:"status"`
	Notes       string      `json:"notes,omitempty"`
	AcceptedBy  *int64      `json:"accepted_by,omitempty"`
	PaidAt      *time.Time  `json:"paid_at,omitempty"`
	AcceptedAt  *time.Time  `json:"accepted_at,omitempty"`
	ReadyAt     *time.Time  `json:"ready_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	CancelledAt *time.Time  `json:"cancelled_at,omitempty"`
	Version     int32       `json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// OrderItem is a frozen snapshot taken at creation time. Later product price
// changes never reach it.
type OrderItem struct {
	ID          int64       `json:"id"`
	OrderID     int64       `json:"order_id"`
	ProductID   int64       `json:"product_id"`
	ProductName string      `json:"product_name"`
	Quantity    int32       `json:"quantity"`
	UnitPrice   money.Money `json:"unit_price"`
	Subtotal    money.Money `json:"subtotal"`
}

func NewOrderItem(product *Product, quantity int32) (OrderItem, error) {
	price, err := product.Price()
	if err != nil {
		return OrderItem{}, fmt.Errorf("price of product %d: %w", product.ID, err)
	}

	subtotal, err := price.MulInt(int64(quantity))
	if err != nil {
		return OrderItem{}, fmt.Errorf("subtotal of product %d: %w", product.ID, err)
	}

	return OrderItem{
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    quantity,
		UnitPrice:   price,
		Subtotal:    subtotal,
	}, nil
}

// CalculateTotal sums item subtotals. Every item must share the given currency.
func CalculateTotal(items []OrderItem, currency string) (money.Money, error) {
	total := money.Zero(currency)
	for _, item := range items {
		var err error
		total, err = total.Add(item.Subtotal)
		if err != nil {
			return money.Money{}, fmt.Errorf("total of order: %w", err)
		}
	}

	return total, nil
}

type ItemInput struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int32 `json:"quantity" validate:"required,gt=0"`
}

type CreateOrderInput struct {
	CustomerID int64
	Items      []ItemInput
	Notes      string
}

type OrderLimits struct {
	MaxItems    int
	MaxQuantity int32
	MaxNotes    int
}

// Validate runs before any transaction is opened.
func (in *CreateOrderInput) Validate(limits OrderLimits) error {
	if in.CustomerID <= 0 {
		return &ValidationError{Field: "customer_id", Reason: "is required"}
	}
	if len(in.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "order must contain at least one item"}
	}
	if limits.MaxItems > 0 && len(in.Items) > limits.MaxItems {
		return &ValidationError{Field: "items", Reason: fmt.Sprintf("at most %d items allowed", limits.MaxItems)}
	}
	if limits.MaxNotes > 0 && len(in.Notes) > limits.MaxNotes {
		return &ValidationError{Field: "notes", Reason: fmt.Sprintf("at most %d characters allowed", limits.MaxNotes)}
	}

	seen := make(map[int64]struct{}, len(in.Items))
	for i, item := range in.Items {
		field := fmt.Sprintf("items[%d]", i)

		if item.ProductID <= 0 {
			return &ValidationError{Field: field + ".product_id", Reason: "must be positive"}
		}
		if item.Quantity <= 0 {
			return &ValidationError{Field: field + ".quantity", Reason: "must be positive"}
		}
		if limits.MaxQuantity > 0 && item.Quantity > limits.MaxQuantity {
			return &ValidationError{Field: field + ".quantity", Reason: fmt.Sprintf("must be at most %d", limits.MaxQuantity)}
		}
		if _, dup := seen[item.ProductID]; dup {
			return &ValidationError{Field: field + ".product_id", Reason: "duplicate product"}
		}

		seen[item.ProductID] = struct{}{}
	}

	return nil
}

type Page struct {
	Page  int
	Limit int
}

func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}

	return p
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

func NewPagination(p Page, total int64) Pagination {
	pages := total / int64(p.Limit)
	if total%int64(p.Limit) != 0 {
		pages++
	}

	return Pagination{Page: p.Page, Limit: p.Limit, Total: total, Pages: pages}
}
