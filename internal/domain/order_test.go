package domain_test

import (
	"errors"
	"testing"

	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/domain"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/money"
	"github.com/stretchr/testify/require"
)

func TestTransitions(t *testing.T) {
	allowed := []struct{ from, to domain.OrderStatus }{
		{domain.OrderStatusPending, domain.OrderStatusPaid},
		{domain.OrderStatusPending, domain.OrderStatusAccepted},
		{domain.OrderStatusPaid, domain.OrderStatusAccepted},
		{domain.OrderStatusAccepted, domain.OrderStatusReady},
		{domain.OrderStatusReady, domain.OrderStatusCompleted},
		{domain.OrderStatusPending, domain.OrderStatusCancelled},
		{domain.OrderStatusPaid, domain.OrderStatusCancelled},
	}
	for _, tc := range allowed {
		require.True(t, domain.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to domain.OrderStatus }{
		{domain.OrderStatusAccepted, domain.OrderStatusCancelled},
		{domain.OrderStatusReady, domain.OrderStatusCancelled},
		{domain.OrderStatusPending, domain.OrderStatusReady},
		{domain.OrderStatusAccepted, domain.OrderStatusCompleted},
		{domain.OrderStatusCompleted, domain.OrderStatusCancelled},
		{domain.OrderStatusCancelled, domain.OrderStatusAccepted},
		{domain.OrderStatusPaid, domain.OrderStatusPaid},
	}
	for _, tc := range denied {
		require.False(t, domain.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatusesHaveNoExit(t *testing.T) {
	for _, terminal := range []domain.OrderStatus{domain.OrderStatusCompleted, domain.OrderStatusCancelled} {
		require.True(t, terminal.IsTerminal())

		for target := range domain.Transitions {
			require.False(t, domain.CanTransition(terminal, target))
		}
	}
}

func TestParseOrderStatus(t *testing.T) {
	s, err := domain.ParseOrderStatus("READY")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusReady, s)

	_, err = domain.ParseOrderStatus("ready")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateOrderInput_Validate(t *testing.T) {
	limits := domain.OrderLimits{MaxItems: 2, MaxQuantity: 10, MaxNotes: 20}

	cases := []struct {
		name  string
		input domain.CreateOrderInput
		field string
	}{
		{"empty items", domain.CreateOrderInput{CustomerID: 1}, "items"},
		{"no customer", domain.CreateOrderInput{Items: []domain.ItemInput{{ProductID: 1, Quantity: 1}}}, "customer_id"},
		{"too many items", domain.CreateOrderInput{CustomerID: 1, Items: []domain.ItemInput{
			{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 1}, {ProductID: 3, Quantity: 1},
		}}, "items"},
		{"zero quantity", domain.CreateOrderInput{CustomerID: 1, Items: []domain.ItemInput{{ProductID: 1}}}, "items[0].quantity"},
		{"quantity over limit", domain.CreateOrderInput{CustomerID: 1, Items: []domain.ItemInput{{ProductID: 1, Quantity: 11}}}, "items[0].quantity"},
		{"bad product", domain.CreateOrderInput{CustomerID: 1, Items: []domain.ItemInput{{ProductID: -1, Quantity: 1}}}, "items[0].product_id"},
		{"duplicate product", domain.CreateOrderInput{CustomerID: 1, Items: []domain.ItemInput{
			{ProductID: 1, Quantity: 1}, {ProductID: 1, Quantity: 2},
		}}, "items[1].product_id"},
		{"long notes", domain.CreateOrderInput{CustomerID: 1, Notes: "this note is far too long", Items: []domain.ItemInput{{ProductID: 1, Quantity: 1}}}, "notes"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.input.Validate(limits)
			require.ErrorIs(t, err, domain.ErrValidation)

			var vErr *domain.ValidationError
			require.True(t, errors.As(err, &vErr))
			require.Equal(t, tc.field, vErr.Field)
		})
	}

	ok := domain.CreateOrderInput{CustomerID: 1, Items: []domain.ItemInput{{ProductID: 1, Quantity: 2}}}
	require.NoError(t, ok.Validate(limits))
}

func TestNewOrderItem_FreezesPrice(t *testing.T) {
	product := &domain.Product{ID: 7, Name: "Torta", PriceCents: 400, Currency: "MXN"}

	item, err := domain.NewOrderItem(product, 2)
	require.NoError(t, err)
	require.Equal(t, int64(400), item.UnitPrice.Cents())
	require.Equal(t, int64(800), item.Subtotal.Cents())

	product.PriceCents = 999
	require.Equal(t, int64(800), item.Subtotal.Cents())
}

func TestCalculateTotal(t *testing.T) {
	items := []domain.OrderItem{
		{Subtotal: money.MustFromCents(800, "MXN")},
		{Subtotal: money.MustFromCents(250, "MXN")},
	}

	total, err := domain.CalculateTotal(items, "MXN")
	require.NoError(t, err)
	require.Equal(t, int64(1050), total.Cents())

	items = append(items, domain.OrderItem{Subtotal: money.MustFromCents(1, "USD")})
	_, err = domain.CalculateTotal(items, "MXN")
	require.ErrorIs(t, err, money.ErrCurrencyMismatch)
}

func TestTaggedErrors(t *testing.T) {
	var err error = &domain.InvalidTransitionError{OrderID: 1, Current: domain.OrderStatusAccepted, Target: domain.OrderStatusCancelled}
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	require.Contains(t, err.Error(), "ACCEPTED")

	err = &domain.InsufficientStockError{ProductID: 9, Requested: 3}
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	require.Contains(t, err.Error(), "product 9")

	err = &domain.ProductError{Kind: domain.ErrProductUnavailable, ProductID: 4}
	require.ErrorIs(t, err, domain.ErrProductUnavailable)
	require.NotErrorIs(t, err, domain.ErrProductNotFound)
}

func TestPagination(t *testing.T) {
	p := domain.Page{Page: 0, Limit: 500}.Normalize()
	require.Equal(t, 1, p.Page)
	require.Equal(t, 100, p.Limit)
	require.Equal(t, 0, p.Offset())

	pg := domain.NewPagination(domain.Page{Page: 2, Limit: 10}, 21)
	require.Equal(t, int64(3), pg.Pages)
}
