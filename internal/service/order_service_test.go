package service_test

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/domain"
	generalDomain "github.com/Alejandroperezitsur/ITSUR-Eats/pkg/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/sync/errgroup"
)

func (s *IntegrationTestSuite) TestCreateOrder_ReservesStockAndWritesOutbox() {
	productID := s.seedProduct("Torta de milanesa", 400, 5)

	order := s.createOrder(student, domain.ItemInput{ProductID: productID, Quantity: 2})

	s.Require().Equal(domain.OrderStatusPending, order.Status)
	s.Require().Equal(int64(800), order.Total.Cents())
	s.Require().Equal("MXN", order.Total.Currency())
	s.Require().Len(order.Items, 1)
	s.Require().Equal(int64(400), order.Items[0].UnitPrice.Cents())
	s.Require().Equal(int64(800), order.Items[0].Subtotal.Cents())
	s.Require().Equal(int32(3), s.stockOf(productID))
	s.Require().Equal([]string{"ORDER_CREATED"}, s.outboxTypes(order.ID))
	s.Require().Equal(float64(1), testutil.ToFloat64(s.Metrics.OrdersCreated))

	entries, err := s.OrderService.AuditTrail(s.Ctx, order.ID, staff)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Require().Equal(domain.AuditOrderCreated, entries[0].Action)
	s.Require().NotNil(entries[0].UserID)
	s.Require().Equal(student.UserID, *entries[0].UserID)
	s.Require().Equal(student.IP, entries[0].IPAddress)
}

func (s *IntegrationTestSuite) TestCreateOrder_ValidationOpensNoTransaction() {
	_, err := s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{CustomerID: student.UserID}, student)

	var validationErr *domain.ValidationError
	s.Require().ErrorAs(err, &validationErr)
	s.Require().Equal("items", validationErr.Field)
	s.Require().Zero(s.count(`SELECT COUNT(*) FROM orders`))
}

func (s *IntegrationTestSuite) TestCreateOrder_InsufficientStockRollsBackEverything() {
	plenty := s.seedProduct("Agua", 1500, 10)
	scarce := s.seedProduct("Chilaquiles", 6500, 1)

	_, err := s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{
		CustomerID: student.UserID,
		Items: []domain.ItemInput{
			{ProductID: plenty, Quantity: 4},
			{ProductID: scarce, Quantity: 2},
		},
	}, student)

	var stockErr *domain.InsufficientStockError
	s.Require().ErrorAs(err, &stockErr)
	s.Require().Equal(scarce, stockErr.ProductID)
	s.Require().ErrorIs(err, domain.ErrInsufficientStock)

	s.Require().Equal(int32(10), s.stockOf(plenty))
	s.Require().Equal(int32(1), s.stockOf(scarce))
	s.Require().Zero(s.count(`SELECT COUNT(*) FROM orders`))
	s.Require().Zero(s.count(`SELECT COUNT(*) FROM event_outbox`))
	s.Require().Zero(s.count(`SELECT COUNT(*) FROM audit_log`))
}

func (s *IntegrationTestSuite) TestCreateOrder_UnknownAndUnavailableProducts() {
	_, err := s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{
		CustomerID: student.UserID,
		Items:      []domain.ItemInput{{ProductID: 9999, Quantity: 1}},
	}, student)
	s.Require().ErrorIs(err, domain.ErrProductNotFound)

	productID := s.seedProduct("Molletes", 3000, 5)
	_, err = s.ProductService.SetAvailability(s.Ctx, productID, false, staff)
	s.Require().NoError(err)

	_, err = s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{
		CustomerID: student.UserID,
		Items:      []domain.ItemInput{{ProductID: productID, Quantity: 1}},
	}, student)

	var productErr *domain.ProductError
	s.Require().ErrorAs(err, &productErr)
	s.Require().Equal(productID, productErr.ProductID)
	s.Require().ErrorIs(err, domain.ErrProductUnavailable)
	s.Require().Equal(int32(5), s.stockOf(productID))
}

func (s *IntegrationTestSuite) TestCreateOrder_ConcurrentReservationsNeverOversell() {
	const stock = 5
	productID := s.seedProduct("Café americano", 2000, stock)

	var (
		succeeded    atomic.Int32
		outOfStock   atomic.Int32
		unexpected   atomic.Int32
		g            errgroup.Group
		customerBase = int64(500)
	)

	for i := 0; i < 12; i++ {
		customer := domain.Actor{UserID: customerBase + int64(i), Role: domain.RoleStudent}
		g.Go(func() error {
			_, err := s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{
				CustomerID: customer.UserID,
				Items:      []domain.ItemInput{{ProductID: productID, Quantity: 1}},
			}, customer)

			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				outOfStock.Add(1)
			default:
				unexpected.Add(1)
			}

			return nil
		})
	}
	s.Require().NoError(g.Wait())

	s.Require().Zero(unexpected.Load())
	s.Require().Equal(int32(stock), succeeded.Load())
	s.Require().Equal(int32(12-stock), outOfStock.Load())
	s.Require().Zero(s.stockOf(productID))
	s.Require().Equal(int64(stock), s.count(`SELECT COUNT(*) FROM orders`))
	s.Require().Equal(int64(stock), s.count(`SELECT COUNT(*) FROM event_outbox`))
}

func (s *IntegrationTestSuite) TestAcceptOrder_SingleWinner() {
	productID := s.seedProduct("Enchiladas", 7000, 5)
	order := s.createOrder(student, domain.ItemInput{ProductID: productID, Quantity: 1})

	_, err := s.OrderService.MarkPaid(s.Ctx, &generalDomain.PaymentSucceededEvent{OrderID: order.ID, PaymentID: 1})
	s.Require().NoError(err)

	var (
		winners [2]*domain.Order
		errs    [2]error
		g       errgroup.Group
	)
	for i, actor := range []domain.Actor{staff, staff2} {
		g.Go(func() error {
			winners[i], errs[i] = s.OrderService.AcceptOrder(s.Ctx, order.ID, actor)
			return nil
		})
	}
	s.Require().NoError(g.Wait())

	var winner *domain.Order
	var loserErr error
	for i := range errs {
		if errs[i] == nil {
			s.Require().Nil(winner, "only one accept may succeed")
			winner = winners[i]
		} else {
			loserErr = errs[i]
		}
	}

	s.Require().NotNil(winner)
	s.Require().NotNil(winner.AcceptedBy)

	var transitionErr *domain.InvalidTransitionError
	s.Require().ErrorAs(loserErr, &transitionErr)
	s.Require().Equal(domain.OrderStatusAccepted, transitionErr.Current)

	stored, err := s.OrderService.GetOrder(s.Ctx, order.ID, staff)
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusAccepted, stored.Status)
	s.Require().Equal(*winner.AcceptedBy, *stored.AcceptedBy)
	s.Require().Equal([]string{"ORDER_CREATED", "PAYMENT_COMPLETED", "ORDER_STATUS_UPDATED"}, s.outboxTypes(order.ID))
}

func (s *IntegrationTestSuite) TestPriceChangeDoesNotTouchExistingOrders() {
	productID := s.seedProduct("Quesadilla", 2500, 10)
	order := s.createOrder(student, domain.ItemInput{ProductID: productID, Quantity: 2})

	_, err := s.ProductService.UpdatePrice(s.Ctx, productID, 9900, staff)
	s.Require().NoError(err)

	stored, err := s.OrderService.GetOrder(s.Ctx, order.ID, student)
	s.Require().NoError(err)
	s.Require().Equal(int64(5000), stored.Total.Cents())
	s.Require().Equal(int64(2500), stored.Items[0].UnitPrice.Cents())
	s.Require().Equal(int64(5000), stored.Items[0].Subtotal.Cents())

	fresh := s.createOrder(student, domain.ItemInput{ProductID: productID, Quantity: 1})
	s.Require().Equal(int64(9900), fresh.Total.Cents())
}

func (s *IntegrationTestSuite) TestEndToEnd_CreateAcceptThenCancelFails() {
	productID := s.seedProduct("Torta", 400, 5)

	order := s.createOrder(student, domain.ItemInput{ProductID: productID, Quantity: 2})
	s.Require().Equal(int32(3), s.stockOf(productID))
	s.Require().Equal(int64(800), order.Total.Cents())

	accepted, err := s.OrderService.AcceptOrder(s.Ctx, order.ID, staff)
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusAccepted, accepted.Status)
	s.Require().NotNil(accepted.AcceptedBy)
	s.Require().Equal(staff.UserID, *accepted.AcceptedBy)
	s.Require().NotNil(accepted.AcceptedAt)
	s.Require().Greater(accepted.Version, order.Version)
	s.Require().Equal([]string{"ORDER_CREATED", "ORDER_STATUS_UPDATED"}, s.outboxTypes(order.ID))

	events, err := s.OutboxRepo.ListByAggregate(s.Ctx, domain.AggregateOrder, strconv.FormatInt(order.ID, 10))
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Require().Contains(string(events[1].Payload), `"status":"ACCEPTED"`)

	_, err = s.OrderService.CancelOrder(s.Ctx, order.ID, student)
	var transitionErr *domain.InvalidTransitionError
	s.Require().ErrorAs(err, &transitionErr)
	s.Require().Equal(domain.OrderStatusAccepted, transitionErr.Current)
	s.Require().Equal(int32(3), s.stockOf(productID))
	s.Require().Len(s.outboxTypes(order.ID), 2)

	ready, err := s.OrderService.MarkOrderReady(s.Ctx, order.ID, staff)
	s.Require().NoError(err)
	s.Require().NotNil(ready.ReadyAt)

	completed, err := s.OrderService.CompleteOrder(s.Ctx, order.ID, staff2)
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusCompleted, completed.Status)
	s.Require().NotNil(completed.CompletedAt)

	entries, err := s.OrderService.AuditTrail(s.Ctx, order.ID, admin)
	s.Require().NoError(err)

	actions := make([]domain.AuditAction, len(entries))
	for i, e := range entries {
		actions[i] = e.Action
	}
	s.Require().Equal([]domain.AuditAction{
		domain.AuditOrderCreated,
		domain.AuditOrderAccepted,
		domain.AuditOrderReady,
		domain.AuditOrderCompleted,
	}, actions)
}

func (s *IntegrationTestSuite) TestCancelOrder_RestoresStock() {
	productID := s.seedProduct("Jugo verde", 3500, 10)

	order := s.createOrder(student, domain.ItemInput{ProductID: productID, Quantity: 3})
	s.Require().Equal(int32(7), s.stockOf(productID))

	cancelled, err := s.OrderService.CancelOrder(s.Ctx, order.ID, student)
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusCancelled, cancelled.Status)
	s.Require().NotNil(cancelled.CancelledAt)
	s.Require().Equal(int32(10), s.stockOf(productID))

	for _, op := range []func() error{
		func() error { _, err := s.OrderService.CancelOrder(s.Ctx, order.ID, student); return err },
		func() error { _, err := s.OrderService.AcceptOrder(s.Ctx, order.ID, staff); return err },
		func() error { _, err := s.OrderService.MarkOrderReady(s.Ctx, order.ID, staff); return err },
		func() error { _, err := s.OrderService.CompleteOrder(s.Ctx, order.ID, staff); return err },
	} {
		s.Require().ErrorIs(op(), domain.ErrInvalidStateTransition)
	}

	s.Require().Equal(int32(10), s.stockOf(productID))
	s.Require().Equal([]string{"ORDER_CREATED", "ORDER_STATUS_UPDATED"}, s.outboxTypes(order.ID))
}

func (s *IntegrationTestSuite) TestCancelOrder_OnlyOwner() {
	productID := s.seedProduct("Sope", 2800, 4)
	order := s.createOrder(student, domain.ItemInput{ProductID: productID, Quantity: 1})

	_, err := s.OrderService.CancelOrder(s.Ctx, order.ID, other)
	s.Require().ErrorIs(err, domain.ErrUnauthorized)
	s.Require().Equal(int32(3), s.stockOf(productID))

	_, err = s.OrderService.CancelOrder(s.Ctx, 424242, student)
	s.Require().ErrorIs(err, domain.ErrOrderNotFound)
}

func (s *IntegrationTestSuite) TestStaffOperationsRequireStaffRole() {
	productID := s.seedProduct("Flan", 2200, 4)
	order := s.createOrder(student, domain.ItemInput{ProductID: productID, Quantity: 1})

	_, err := s.OrderService.AcceptOrder(s.Ctx, order.ID, student)
	s.Require().ErrorIs(err, domain.ErrUnauthorized)

	_, _, err = s.OrderService.ListOrdersByStatus(s.Ctx, domain.OrderStatusPending, domain.Page{}, student)
	s.Require().ErrorIs(err, domain.ErrUnauthorized)

	_, err = s.OrderService.GetOrder(s.Ctx, order.ID, other)
	s.Require().ErrorIs(err, domain.ErrUnauthorized)

	_, err = s.OrderService.AcceptOrder(s.Ctx, 424242, staff)
	s.Require().ErrorIs(err, domain.ErrOrderNotFound)
}

func (s *IntegrationTestSuite) TestMarkPaid_RedeliveryIsRejected() {
	productID := s.seedProduct("Pozole", 8000, 4)
	order := s.createOrder(student, domain.ItemInput{ProductID: productID, Quantity: 1})

	event := &generalDomain.PaymentSucceededEvent{OrderID: order.ID, PaymentID: 55}

	paid, err := s.OrderService.MarkPaid(s.Ctx, event)
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusPaid, paid.Status)
	s.Require().NotNil(paid.PaidAt)

	_, err = s.OrderService.MarkPaid(s.Ctx, event)
	s.Require().ErrorIs(err, domain.ErrInvalidStateTransition)
	s.Require().Equal([]string{"ORDER_CREATED", "PAYMENT_COMPLETED"}, s.outboxTypes(order.ID))

	cancelled, err := s.OrderService.CancelOrder(s.Ctx, order.ID, student)
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusCancelled, cancelled.Status)
}

func (s *IntegrationTestSuite) TestListings() {
	productID := s.seedProduct("Gordita", 2000, 20)
	for i := 0; i < 3; i++ {
		s.createOrder(student, domain.ItemInput{ProductID: productID, Quantity: 1})
	}
	s.createOrder(other, domain.ItemInput{ProductID: productID, Quantity: 1})

	mine, pagination, err := s.OrderService.ListCustomerOrders(s.Ctx, student.UserID, domain.Page{Page: 1, Limit: 2})
	s.Require().NoError(err)
	s.Require().Len(mine, 2)
	s.Require().Equal(int64(3), pagination.Total)
	s.Require().Equal(int64(2), pagination.Pages)
	s.Require().Len(mine[0].Items, 1)

	pending, pagination, err := s.OrderService.ListOrdersByStatus(s.Ctx, domain.OrderStatusPending, domain.Page{}, staff)
	s.Require().NoError(err)
	s.Require().Len(pending, 4)
	s.Require().Equal(int64(4), pagination.Total)
}

func (s *IntegrationTestSuite) TestAuditLogIsAppendOnly() {
	productID := s.seedProduct("Tamal", 1800, 4)
	s.createOrder(student, domain.ItemInput{ProductID: productID, Quantity: 1})

	_, err := s.DbPool.Exec(s.Ctx, `UPDATE audit_log SET action = 'TAMPERED'`)
	s.Require().Error(err)

	_, err = s.DbPool.Exec(s.Ctx, `DELETE FROM audit_log`)
	s.Require().Error(err)

	s.Require().Equal(int64(1), s.count(`SELECT COUNT(*) FROM audit_log`))
}

func (s *IntegrationTestSuite) TestCreateOrder_ForeignCurrencyProductIsRejectedBeforeReserving() {
	p := &domain.Product{
		Name:       "Imported soda",
		PriceCents: 150,
		Currency:   "USD",
		Stock:      5,
		Available:  true,
		Category:   "drinks",
	}
	s.Require().NoError(s.ProductRepo.Create(s.Ctx, p))

	_, err := s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{
		CustomerID: student.UserID,
		Items:      []domain.ItemInput{{ProductID: p.ID, Quantity: 1}},
	}, student)

	var productErr *domain.ProductError
	s.Require().ErrorAs(err, &productErr)
	s.Require().Equal(p.ID, productErr.ProductID)
	s.Require().ErrorIs(err, domain.ErrProductUnavailable)
	s.Require().Equal(int32(5), s.stockOf(p.ID))
	s.Require().Zero(s.count(`SELECT COUNT(*) FROM orders`))
}

func (s *IntegrationTestSuite) TestCreateOrder_ReversedMultiItemOrdersDoNotDeadlock() {
	const rounds = 10
	first := s.seedProduct("Gordita", 2500, rounds)
	second := s.seedProduct("Horchata", 1500, rounds)

	var (
		unexpected atomic.Int32
		g          errgroup.Group
	)

	for i := 0; i < rounds; i++ {
		customer := domain.Actor{UserID: 700 + int64(i), Role: domain.RoleStudent}
		items := []domain.ItemInput{{ProductID: first, Quantity: 1}, {ProductID: second, Quantity: 1}}
		if i%2 == 1 {
			items[0], items[1] = items[1], items[0]
		}

		g.Go(func() error {
			if _, err := s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{
				CustomerID: customer.UserID,
				Items:      items,
			}, customer); err != nil {
				unexpected.Add(1)
			}

			return nil
		})
	}
	s.Require().NoError(g.Wait())

	s.Require().Zero(unexpected.Load())
	s.Require().Zero(s.stockOf(first))
	s.Require().Zero(s.stockOf(second))
	s.Require().Equal(int64(rounds), s.count(`SELECT COUNT(*) FROM orders`))
}

func (s *IntegrationTestSuite) TestCreateOrder_KeepsRequestedItemOrder() {
	low := s.seedProduct("Sope", 3000, 3)
	high := s.seedProduct("Tamal", 2000, 3)

	order := s.createOrder(student,
		domain.ItemInput{ProductID: high, Quantity: 1},
		domain.ItemInput{ProductID: low, Quantity: 2},
	)

	s.Require().Len(order.Items, 2)
	s.Require().Equal(high, order.Items[0].ProductID)
	s.Require().Equal(low, order.Items[1].ProductID)
	s.Require().Equal(int64(8000), order.Total.Cents())
	s.Require().Equal(int32(1), s.stockOf(low))
	s.Require().Equal(int32(2), s.stockOf(high))
}

func (s *IntegrationTestSuite) TestCancelOrder_ReversedMultiItemOrdersDoNotDeadlock() {
	const rounds = 6
	first := s.seedProduct("Pozole", 6000, rounds)
	second := s.seedProduct("Jamaica", 1500, rounds)

	type placed struct {
		actor domain.Actor
		id    int64
	}

	orders := make([]placed, 0, rounds)
	for i := 0; i < rounds; i++ {
		customer := domain.Actor{UserID: 800 + int64(i), Role: domain.RoleStudent}
		items := []domain.ItemInput{{ProductID: first, Quantity: 1}, {ProductID: second, Quantity: 1}}
		if i%2 == 1 {
			items[0], items[1] = items[1], items[0]
		}

		orders = append(orders, placed{actor: customer, id: s.createOrder(customer, items...).ID})
	}

	var (
		unexpected atomic.Int32
		g          errgroup.Group
	)
	for _, o := range orders {
		g.Go(func() error {
			if _, err := s.OrderService.CancelOrder(s.Ctx, o.id, o.actor); err != nil {
				unexpected.Add(1)
			}

			return nil
		})
	}
	s.Require().NoError(g.Wait())

	s.Require().Zero(unexpected.Load())
	s.Require().Equal(int32(rounds), s.stockOf(first))
	s.Require().Equal(int32(rounds), s.stockOf(second))
}
