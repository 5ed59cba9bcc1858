package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/domain"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/money"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/mylogger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OrderRepository interface {
	Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	TransitionStatus(ctx context.Context, tx pgx.Tx, params TransitionParams) (*domain.Order, error)
	GetStatus(ctx context.Context, q Querier, orderID int64) (domain.OrderStatus, int64, error)
	GetByID(ctx context.Context, q Querier, orderID int64) (*domain.Order, error)
	GetItems(ctx context.Context, q Querier, orderID int64) ([]domain.OrderItem, error)
	ListByCustomer(ctx context.Context, customerID int64, page domain.Page) ([]domain.Order, int64, error)
	ListByStatus(ctx context.Context, status domain.OrderStatus, page domain.Page) ([]domain.Order, int64, error)
}

// TransitionParams describes one compare-and-swap on orders.status.
type TransitionParams struct {
	OrderID    int64
	Target     domain.OrderStatus
	Allowed    []domain.OrderStatus
	CustomerID *int64
	AcceptedBy *int64
}

const orderColumns = `
	id, customer_id, status, total_cents, currency, notes, accepted_by,
	paid_at, accepted_at, ready_at, completed_at, cancelled_at,
	version, created_at, updated_at
`

var statusTimestampColumn = map[domain.OrderStatus]string{
	domain.OrderStatusPaid:      "paid_at",
	domain.OrderStatusAccepted:  "accepted_at",
	domain.OrderStatusReady:     "ready_at",
	domain.OrderStatusCompleted: "completed_at",
	domain.OrderStatusCancelled: "cancelled_at",
}

type orderRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOrderRepository(pool *pgxpool.Pool, logger *zap.Logger) OrderRepository {
	return &orderRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("order_repository"),
	}
}

func (r *orderRepo) Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("customer_id", order.CustomerID),
		attribute.Int("items_count", len(order.Items)),
	)

	queryOrder := `
		INSERT INTO orders (customer_id, status, total_cents, currency, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, version, created_at, updated_at
	`

	if err := tx.QueryRow(
		ctx,
		queryOrder,
		order.CustomerID,
		string(order.Status),
		order.Total.Cents(),
		order.Total.Currency(),
		order.Notes,
	).Scan(
		&order.ID,
		&order.Version,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to insert order",
			zap.Error(err),
		)

		return fmt.Errorf("failed to insert order: %w", err)
	}

	queryItem := `
		INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price_cents, subtotal_cents)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID

		if err := tx.QueryRow(
			ctx,
			queryItem,
			order.ID,
			item.ProductID,
			item.ProductName,
			item.Quantity,
			item.UnitPrice.Cents(),
			item.Subtotal.Cents(),
		).Scan(&item.ID); err != nil {
			span.RecordError(err)

			mylogger.Error(
				ctx,
				r.logger,
				"Failed to insert item",
				zap.Int64("product_id", item.ProductID),
				zap.Error(err),
			)

			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return nil
}

// TransitionStatus applies the transition only while the order is still in one
// of params.Allowed. ErrNoTransition means another writer got there first or
// the order is missing; the caller inspects GetStatus to tell them apart.
func (r *orderRepo) TransitionStatus(ctx context.Context, tx pgx.Tx, params TransitionParams) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.TransitionStatus")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", params.OrderID),
		attribute.String("target_status", string(params.Target)),
	)

	column, ok := statusTimestampColumn[params.Target]
	if !ok || len(params.Allowed) == 0 {
		return nil, fmt.Errorf("no transition into %s", params.Target)
	}

	allowed := make([]string, len(params.Allowed))
	for i, s := range params.Allowed {
		allowed[i] = string(s)
	}

	query := fmt.Sprintf(`
		UPDATE orders
		SET status = $2,
			%s = NOW(),
			accepted_by = COALESCE($4, accepted_by),
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1
			AND status = ANY($3)
			AND ($5::BIGINT IS NULL OR customer_id = $5)
		RETURNING %s
	`, column, orderColumns)

	order, err := scanOrder(tx.QueryRow(
		ctx,
		query,
		params.OrderID,
		string(params.Target),
		allowed,
		params.AcceptedBy,
		params.CustomerID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoTransition
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to update order status",
			zap.Int64("order_id", params.OrderID),
			zap.Error(err),
		)

		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	return order, nil
}

func (r *orderRepo) GetStatus(ctx context.Context, q Querier, orderID int64) (domain.OrderStatus, int64, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetStatus")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
	)

	var (
		status     string
		customerID int64
	)
	err := q.QueryRow(ctx, `SELECT status, customer_id FROM orders WHERE id = $1`, orderID).
		Scan(&status, &customerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, ErrOrderNotFound
		}

		span.RecordError(err)

		return "", 0, fmt.Errorf("failed to read order status: %w", err)
	}

	return domain.OrderStatus(status), customerID, nil
}

func (r *orderRepo) GetByID(ctx context.Context, q Querier, orderID int64) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetByID")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
	)

	order, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}

		span.RecordError(err)

		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	order.Items, err = r.GetItems(ctx, q, orderID)
	if err != nil {
		return nil, err
	}

	return order, nil
}

func (r *orderRepo) GetItems(ctx context.Context, q Querier, orderID int64) ([]domain.OrderItem, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetItems")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
	)

	query := `
		SELECT i.id, i.order_id, i.product_id, i.product_name, i.quantity,
			i.unit_price_cents, i.subtotal_cents, o.currency
		FROM order_items i
		JOIN orders o ON o.id = i.order_id
		WHERE i.order_id = $1
		ORDER BY i.id ASC
	`

	rows, err := q.Query(ctx, query, orderID)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to query order_items",
			zap.Error(err),
		)

		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var result []domain.OrderItem
	for rows.Next() {
		var (
			item          domain.OrderItem
			unitPrice     int64
			subtotal      int64
			orderCurrency string
		)
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.Quantity,
			&unitPrice,
			&subtotal,
			&orderCurrency,
		); err != nil {
			span.RecordError(err)

			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}

		if item.UnitPrice, err = money.FromCents(unitPrice, orderCurrency); err != nil {
			return nil, err
		}
		if item.Subtotal, err = money.FromCents(subtotal, orderCurrency); err != nil {
			return nil, err
		}

		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("rows error: %w", err)
	}

	return result, nil
}

func (r *orderRepo) ListByCustomer(ctx context.Context, customerID int64, page domain.Page) ([]domain.Order, int64, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ListByCustomer")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("customer_id", customerID),
	)

	return r.list(ctx, span, `customer_id = $1`, `created_at DESC, id DESC`, customerID, page)
}

func (r *orderRepo) ListByStatus(ctx context.Context, status domain.OrderStatus, page domain.Page) ([]domain.Order, int64, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ListByStatus")
	defer span.End()

	span.SetAttributes(
		attribute.String("status", string(status)),
	)

	return r.list(ctx, span, `status = $1`, `created_at ASC, id ASC`, string(status), page)
}

func (r *orderRepo) list(ctx context.Context, span trace.Span, where, orderBy string, arg any, page domain.Page) ([]domain.Order, int64, error) {
	page = page.Normalize()

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE `+where, arg).Scan(&total); err != nil {
		span.RecordError(err)

		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + where +
		` ORDER BY ` + orderBy + ` LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, arg, page.Limit, page.Offset())
	if err != nil {
		span.RecordError(err)

		mylogger.Error(ctx, r.logger, "Failed to list orders", zap.Error(err))

		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, page.Limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			span.RecordError(err)

			return nil, 0, fmt.Errorf("failed to scan order: %w", err)
		}

		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)

		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	for i := range orders {
		orders[i].Items, err = r.GetItems(ctx, r.pool, orders[i].ID)
		if err != nil {
			return nil, 0, err
		}
	}

	return orders, total, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o          domain.Order
		status     string
		totalCents int64
		currency   string
	)
	if err := row.Scan(
		&o.ID,
		&o.CustomerID,
		&status,
		&totalCents,
		&currency,
		&o.Notes,
		&o.AcceptedBy,
		&o.PaidAt,
		&o.AcceptedAt,
		&o.ReadyAt,
		&o.CompletedAt,
		&o.CancelledAt,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return nil, err
	}

	total, err := money.FromCents(totalCents, currency)
	if err != nil {
		return nil, fmt.Errorf("order %d total: %w", o.ID, err)
	}

	o.Status = domain.OrderStatus(status)
	o.Total = total

	return &o, nil
}
