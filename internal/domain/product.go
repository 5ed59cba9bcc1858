package domain

import (
	"time"

	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/money"
)

type Product struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PriceCents  int64     `json:"price_cents"`
	Currency    string    `json:"currency"`
	Stock       int32     `json:"stock"`
	Available   bool      `json:"available"`
	Category    string    `json:"category"`
	ImageURL    string    `json:"image_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (p *Product) Price() (money.Money, error) {
	return money.FromCents(p.PriceCents, p.Currency)
}

type ProductFilter struct {
	Category string
	Search   string
	Page     int
	Limit    int
}
