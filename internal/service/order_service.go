package service

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/domain"
	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/repository"
	generalDomain "github.com/Alejandroperezitsur/ITSUR-Eats/pkg/domain"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/mylogger"
	outboxDomain "github.com/Alejandroperezitsur/ITSUR-Eats/pkg/outbox/domain"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/outbox/worker"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OrderService interface {
	CreateOrder(ctx context.Context, input domain.CreateOrderInput, actor domain.Actor) (*domain.Order, error)
	MarkPaid(ctx context.Context, event *generalDomain.PaymentSucceededEvent) (*domain.Order, error)
	CancelOrder(ctx context.Context, orderID int64, actor domain.Actor) (*domain.Order, error)
	AcceptOrder(ctx context.Context, orderID int64, actor domain.Actor) (*domain.Order, error)
	MarkOrderReady(ctx context.Context, orderID int64, actor domain.Actor) (*domain.Order, error)
	CompleteOrder(ctx context.Context, orderID int64, actor domain.Actor) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID int64, actor domain.Actor) (*domain.Order, error)
	ListCustomerOrders(ctx context.Context, customerID int64, page domain.Page) ([]domain.Order, domain.Pagination, error)
	ListOrdersByStatus(ctx context.Context, status domain.OrderStatus, page domain.Page, actor domain.Actor) ([]domain.Order, domain.Pagination, error)
	AuditTrail(ctx context.Context, orderID int64, actor domain.Actor) ([]domain.AuditLogEntry, error)
}

type OrderConfig struct {
	Currency    string
	MaxItems    int
	MaxQuantity int32
}

type orderService struct {
	pool        *pgxpool.Pool
	logger      *zap.Logger
	orderRepo   repository.OrderRepository
	productRepo repository.ProductRepository
	auditRepo   repository.AuditRepository
	outboxRepo  worker.OutboxRepository
	metrics     *Metrics
	cfg         OrderConfig
	tracer      trace.Tracer
}

func NewOrderService(
	pool *pgxpool.Pool,
	logger *zap.Logger,
	orderRepo repository.OrderRepository,
	productRepo repository.ProductRepository,
	auditRepo repository.AuditRepository,
	outboxRepo worker.OutboxRepository,
	metrics *Metrics,
	cfg OrderConfig,
) OrderService {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &orderService{
		pool:        pool,
		logger:      logger,
		orderRepo:   orderRepo,
		productRepo: productRepo,
		auditRepo:   auditRepo,
		outboxRepo:  outboxRepo,
		metrics:     metrics,
		cfg:         cfg,
		tracer:      otel.Tracer("order_service"),
	}
}

func (s *orderService) CreateOrder(ctx context.Context, input domain.CreateOrderInput, actor domain.Actor) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("customer_id", input.CustomerID),
		attribute.Int("items_count", len(input.Items)),
	)

	limits := domain.OrderLimits{MaxItems: s.cfg.MaxItems, MaxQuantity: s.cfg.MaxQuantity, MaxNotes: 500}
	if err := input.Validate(limits); err != nil {
		mylogger.Info(ctx, s.logger, "Order rejected by validation", zap.Error(err))

		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	ids := make([]int64, len(input.Items))
	for i, item := range input.Items {
		ids[i] = item.ProductID
	}

	products, err := s.productRepo.GetByIDs(ctx, tx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	for _, item := range input.Items {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, &domain.ProductError{Kind: domain.ErrProductNotFound, ProductID: item.ProductID}
		}
		if !product.Available || product.Currency != s.cfg.Currency {
			return nil, &domain.ProductError{Kind: domain.ErrProductUnavailable, ProductID: item.ProductID}
		}
	}

	// Rows are locked in product id order so two multi-item orders can
	// never wait on each other.
	reserveOrder := slices.Clone(input.Items)
	slices.SortFunc(reserveOrder, func(a, b domain.ItemInput) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})

	for _, in := range reserveOrder {
		if err := s.productRepo.Reserve(ctx, tx, in.ProductID, in.Quantity); err != nil {
			if errors.Is(err, repository.ErrInsufficientStock) {
				mylogger.Info(
					ctx,
					s.logger,
					"Insufficient stock",
					zap.Int64("product_id", in.ProductID),
					zap.Int32("requested", in.Quantity),
				)

				return nil, &domain.InsufficientStockError{ProductID: in.ProductID, Requested: in.Quantity}
			}

			return nil, fmt.Errorf("failed to reserve stock: %w", err)
		}
	}

	items := make([]domain.OrderItem, 0, len(input.Items))
	for _, in := range input.Items {
		item, err := domain.NewOrderItem(products[in.ProductID], in.Quantity)
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	total, err := domain.CalculateTotal(items, s.cfg.Currency)
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		CustomerID: input.CustomerID,
		Items:      items,
		Total:      total,
		Status:     domain.OrderStatusPending,
		Notes:      input.Notes,
	}

	if err := s.orderRepo.Create(ctx, tx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	payload := domain.NewOrderCreatedPayload(order)

	if err := s.appendAudit(ctx, tx, domain.AuditOrderCreated, order.ID, actor, payload); err != nil {
		return nil, err
	}

	if err := s.emitEvent(ctx, tx, outboxDomain.EventOrderCreated, order.ID, payload); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			s.logger,
			"Failed to commit transaction",
			zap.Error(err),
		)

		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.metrics.OrdersCreated.Inc()

	mylogger.Info(
		ctx,
		s.logger,
		"Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("customer_id", order.CustomerID),
		zap.Int64("total_cents", order.Total.Cents()),
	)

	return order, nil
}

// MarkPaid is driven by the payment topic, so there is no interactive actor.
func (s *orderService) MarkPaid(ctx context.Context, event *generalDomain.PaymentSucceededEvent) (*domain.Order, error) {
	return s.transition(ctx, transitionPlan{
		orderID: event.OrderID,
		target:  domain.OrderStatusPaid,
		actor:   domain.SystemActor,
		audit:   domain.AuditOrderPaid,
		event:   outboxDomain.EventPaymentCompleted,
		payload: func(o *domain.Order) any {
			paidAt := event.PaidAt
			if o.PaidAt != nil {
				paidAt = *o.PaidAt
			}

			return domain.PaymentCompletedPayload{
				OrderID:    o.ID,
				CustomerID: o.CustomerID,
				PaymentID:  event.PaymentID,
				Total:      o.Total,
				PaidAt:     paidAt,
			}
		},
	})
}

// CancelOrder releases stock only after the status swap succeeded, so an
// order that was accepted concurrently never gets its stock back.
func (s *orderService) CancelOrder(ctx context.Context, orderID int64, actor domain.Actor) (*domain.Order, error) {
	customerID := actor.UserID

	return s.transition(ctx, transitionPlan{
		orderID:    orderID,
		target:     domain.OrderStatusCancelled,
		actor:      actor,
		customerID: &customerID,
		audit:      domain.AuditOrderCancelled,
		event:      outboxDomain.EventOrderStatusUpdated,
		after: func(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
			released := slices.Clone(o.Items)
			slices.SortFunc(released, func(a, b domain.OrderItem) int {
				return cmp.Compare(a.ProductID, b.ProductID)
			})

			for _, item := range released {
				if err := s.productRepo.Release(ctx, tx, item.ProductID, item.Quantity); err != nil {
					return fmt.Errorf("failed to release stock of product %d: %w", item.ProductID, err)
				}
			}

			return nil
		},
	})
}

func (s *orderService) AcceptOrder(ctx context.Context, orderID int64, actor domain.Actor) (*domain.Order, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}

	staffID := actor.UserID

	return s.transition(ctx, transitionPlan{
		orderID:    orderID,
		target:     domain.OrderStatusAccepted,
		actor:      actor,
		acceptedBy: &staffID,
		audit:      domain.AuditOrderAccepted,
		event:      outboxDomain.EventOrderStatusUpdated,
	})
}

func (s *orderService) MarkOrderReady(ctx context.Context, orderID int64, actor domain.Actor) (*domain.Order, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}

	return s.transition(ctx, transitionPlan{
		orderID: orderID,
		target:  domain.OrderStatusReady,
		actor:   actor,
		audit:   domain.AuditOrderReady,
		event:   outboxDomain.EventOrderStatusUpdated,
	})
}

func (s *orderService) CompleteOrder(ctx context.Context, orderID int64, actor domain.Actor) (*domain.Order, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}

	return s.transition(ctx, transitionPlan{
		orderID: orderID,
		target:  domain.OrderStatusCompleted,
		actor:   actor,
		audit:   domain.AuditOrderCompleted,
		event:   outboxDomain.EventOrderStatusUpdated,
	})
}

func (s *orderService) GetOrder(ctx context.Context, orderID int64, actor domain.Actor) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrder")
	defer span.End()

	span.SetAttributes(attribute.Int64("order_id", orderID))

	order, err := s.orderRepo.GetByID(ctx, s.pool, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, fmt.Errorf("order %d: %w", orderID, domain.ErrOrderNotFound)
		}

		return nil, err
	}

	if order.CustomerID != actor.UserID && !actor.IsStaff() {
		return nil, fmt.Errorf("order %d: %w", orderID, domain.ErrUnauthorized)
	}

	return order, nil
}

func (s *orderService) ListCustomerOrders(ctx context.Context, customerID int64, page domain.Page) ([]domain.Order, domain.Pagination, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ListCustomerOrders")
	defer span.End()

	page = page.Normalize()

	orders, total, err := s.orderRepo.ListByCustomer(ctx, customerID, page)
	if err != nil {
		span.RecordError(err)

		return nil, domain.Pagination{}, err
	}

	return orders, domain.NewPagination(page, total), nil
}

func (s *orderService) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus, page domain.Page, actor domain.Actor) ([]domain.Order, domain.Pagination, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ListOrdersByStatus")
	defer span.End()

	if err := requireStaff(actor); err != nil {
		return nil, domain.Pagination{}, err
	}

	page = page.Normalize()

	orders, total, err := s.orderRepo.ListByStatus(ctx, status, page)
	if err != nil {
		span.RecordError(err)

		return nil, domain.Pagination{}, err
	}

	return orders, domain.NewPagination(page, total), nil
}

func (s *orderService) AuditTrail(ctx context.Context, orderID int64, actor domain.Actor) ([]domain.AuditLogEntry, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.AuditTrail")
	defer span.End()

	if err := requireStaff(actor); err != nil {
		return nil, err
	}

	if _, _, err := s.orderRepo.GetStatus(ctx, s.pool, orderID); err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, fmt.Errorf("order %d: %w", orderID, domain.ErrOrderNotFound)
		}

		return nil, err
	}

	return s.auditRepo.ListByAggregate(ctx, domain.AggregateOrder, strconv.FormatInt(orderID, 10))
}

type transitionPlan struct {
	orderID    int64
	target     domain.OrderStatus
	actor      domain.Actor
	customerID *int64
	acceptedBy *int64
	audit      domain.AuditAction
	event      outboxDomain.EventType
	after      func(ctx context.Context, tx pgx.Tx, o *domain.Order) error
	payload    func(o *domain.Order) any
}

// transition runs one state change as a single transaction: conditional
// update, optional side effect, audit row, outbox row.
func (s *orderService) transition(ctx context.Context, plan transitionPlan) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.transition")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", plan.orderID),
		attribute.String("target_status", string(plan.target)),
		attribute.Int64("actor_id", plan.actor.UserID),
	)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	order, err := s.orderRepo.TransitionStatus(ctx, tx, repository.TransitionParams{
		OrderID:    plan.orderID,
		Target:     plan.target,
		Allowed:    domain.AllowedSources(plan.target),
		CustomerID: plan.customerID,
		AcceptedBy: plan.acceptedBy,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNoTransition) {
			return nil, s.explainRejectedTransition(ctx, tx, plan)
		}

		span.RecordError(err)

		return nil, err
	}

	order.Items, err = s.orderRepo.GetItems(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}

	if plan.after != nil {
		if err := plan.after(ctx, tx, order); err != nil {
			span.RecordError(err)

			return nil, err
		}
	}

	var payload any = domain.OrderStatusUpdatedPayload{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Status:     order.Status,
		ActorID:    plan.actor.UserID,
		Version:    order.Version,
		UpdatedAt:  order.UpdatedAt,
	}
	if plan.payload != nil {
		payload = plan.payload(order)
	}

	if err := s.appendAudit(ctx, tx, plan.audit, order.ID, plan.actor, payload); err != nil {
		return nil, err
	}

	if err := s.emitEvent(ctx, tx, plan.event, order.ID, payload); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			s.logger,
			"Failed to commit transaction",
			zap.Int64("order_id", order.ID),
			zap.Error(err),
		)

		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.metrics.OrderTransitions.WithLabelValues(string(plan.target)).Inc()

	mylogger.Info(
		ctx,
		s.logger,
		"Order status changed",
		zap.Int64("order_id", order.ID),
		zap.String("status", string(order.Status)),
		zap.Int64("actor_id", plan.actor.UserID),
	)

	return order, nil
}

// explainRejectedTransition reads the order inside the same transaction to
// report why the conditional update matched nothing.
func (s *orderService) explainRejectedTransition(ctx context.Context, tx pgx.Tx, plan transitionPlan) error {
	current, customerID, err := s.orderRepo.GetStatus(ctx, tx, plan.orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return fmt.Errorf("order %d: %w", plan.orderID, domain.ErrOrderNotFound)
		}

		return err
	}

	if plan.customerID != nil && customerID != *plan.customerID {
		mylogger.Warn(
			ctx,
			s.logger,
			"Order transition by non-owner rejected",
			zap.Int64("order_id", plan.orderID),
			zap.Int64("actor_id", plan.actor.UserID),
		)

		return fmt.Errorf("order %d: %w", plan.orderID, domain.ErrUnauthorized)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Order transition rejected",
		zap.Int64("order_id", plan.orderID),
		zap.String("current_status", string(current)),
		zap.String("target_status", string(plan.target)),
	)

	return &domain.InvalidTransitionError{OrderID: plan.orderID, Current: current, Target: plan.target}
}

func (s *orderService) appendAudit(ctx context.Context, tx pgx.Tx, action domain.AuditAction, orderID int64, actor domain.Actor, changes any) error {
	entry, err := domain.NewAuditEntry(action, domain.AggregateOrder, strconv.FormatInt(orderID, 10), actor, changes)
	if err != nil {
		return fmt.Errorf("failed to build audit entry: %w", err)
	}

	if err := s.auditRepo.Append(ctx, tx, entry); err != nil {
		mylogger.Error(ctx, s.logger, "Failed to append audit entry", zap.Error(err))

		return err
	}

	return nil
}

func (s *orderService) emitEvent(ctx context.Context, tx pgx.Tx, eventType outboxDomain.EventType, orderID int64, payload any) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	event := &outboxDomain.OutboxEvent{
		EventType:     eventType,
		AggregateType: outboxDomain.AggregateOrder,
		AggregateID:   strconv.FormatInt(orderID, 10),
		Payload:       payloadBytes,
	}

	if err := s.outboxRepo.SaveOutboxEvent(ctx, tx, event); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Failed to save outbox event",
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)

		return err
	}

	return nil
}

func (s *orderService) rollback(ctx context.Context, tx pgx.Tx) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := tx.Rollback(shutdownCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		mylogger.Warn(
			shutdownCtx,
			s.logger,
			"Error rolling back transaction",
			zap.Error(err),
		)
	}
}

func requireStaff(actor domain.Actor) error {
	if !actor.IsStaff() {
		return fmt.Errorf("staff role required: %w", domain.ErrUnauthorized)
	}

	return nil
}
