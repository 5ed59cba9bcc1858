package domain

import (
	"time"

	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/money"
)

type EventItem struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int32  `json:"quantity"`
	UnitPrice   int64  `json:"unit_price_cents"`
	Subtotal    int64  `json:"subtotal_cents"`
}

type OrderCreatedPayload struct {
	OrderID    int64       `json:"order_id"`
	CustomerID int64       `json:"customer_id"`
	Status     OrderStatus `json:"status"`
	Total      money.Money `json:"total"`
	Items      []EventItem `json:"items"`
	CreatedAt  time.Time   `json:"created_at"`
}

type OrderStatusUpdatedPayload struct {
	OrderID    int64       `json:"order_id"`
	CustomerID int64       `json:"customer_id"`
	Status     OrderStatus `json:"status"`
	ActorID    int64       `json:"actor_id,omitempty"`
	Version    int32       `json:"version"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

type PaymentCompletedPayload struct {
	OrderID    int64       `json:"order_id"`
	CustomerID int64       `json:"customer_id"`
	PaymentID  int64       `json:"payment_id"`
	Total      money.Money `json:"total"`
	PaidAt     time.Time   `json:"paid_at"`
}

func NewOrderCreatedPayload(o *Order) OrderCreatedPayload {
	items := make([]EventItem, len(o.Items))
	for i, item := range o.Items {
		items[i] = EventItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.Cents(),
			Subtotal:    item.Subtotal.Cents(),
		}
	}

	return OrderCreatedPayload{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Status:     o.Status,
		Total:      o.Total,
		Items:      items,
		CreatedAt:  o.CreatedAt,
	}
}
