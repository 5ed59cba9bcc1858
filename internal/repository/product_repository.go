package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/domain"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/mylogger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ProductRepository interface {
	Create(ctx context.Context, product *domain.Product) error
	GetByID(ctx context.Context, id int64) (*domain.Product, error)
	GetByIDs(ctx context.Context, tx pgx.Tx, ids []int64) (map[int64]*domain.Product, error)
	List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, int64, error)
	UpdatePrice(ctx context.Context, id, priceCents int64) (*domain.Product, error)
	SetAvailability(ctx context.Context, id int64, available bool) (*domain.Product, error)
	Reserve(ctx context.Context, tx pgx.Tx, id int64, quantity int32) error
	Release(ctx context.Context, tx pgx.Tx, id int64, quantity int32) error
}

const productColumns = `
	id, name, description, price_cents, currency, stock, available,
	category, image_url, created_at, updated_at
`

type productRepo struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewProductRepository(pool *pgxpool.Pool, logger *zap.Logger) ProductRepository {
	return &productRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("product_repository"),
	}
}

// Reserve takes stock in one conditional statement so concurrent orders can
// never drive it negative.
func (r *productRepo) Reserve(ctx context.Context, tx pgx.Tx, id int64, quantity int32) error {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.Reserve")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("product_id", id),
		attribute.Int("quantity", int(quantity)),
	)

	query := `
		UPDATE products
		SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND stock >= $2
	`

	commandTag, err := tx.Exec(ctx, query, id, quantity)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error reserving stock",
			zap.Int64("product_id", id),
			zap.Int32("quantity", quantity),
			zap.Error(err),
		)

		return fmt.Errorf("error reserving stock for product %d: %w", id, err)
	}

	if commandTag.RowsAffected() == 0 {
		return ErrInsufficientStock
	}

	return nil
}

func (r *productRepo) Release(ctx context.Context, tx pgx.Tx, id int64, quantity int32) error {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.Release")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("product_id", id),
		attribute.Int("quantity", int(quantity)),
	)

	query := `
		UPDATE products
		SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1
	`

	commandTag, err := tx.Exec(ctx, query, id, quantity)
	if err != nil {
		span.RecordError(err)
		mylogger.Warn(ctx, r.logger, "Failed to release stock", zap.Error(err))

		return fmt.Errorf("error releasing stock for product %d: %w", id, err)
	}

	if commandTag.RowsAffected() == 0 {
		mylogger.Warn(ctx, r.logger, "Product not found", zap.Int64("product_id", id))
		return ErrProductNotFound
	}

	return nil
}

func (r *productRepo) Create(ctx context.Context, product *domain.Product) error {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("name", product.Name),
	)

	query := `
		INSERT INTO products (name, description, price_cents, currency, stock, available, category, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := r.pool.QueryRow(
		ctx,
		query,
		product.Name,
		product.Description,
		product.PriceCents,
		product.Currency,
		product.Stock,
		product.Available,
		product.Category,
		product.ImageURL,
	).Scan(&product.ID, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error creating product",
			zap.Error(err),
		)

		return fmt.Errorf("error creating product: %w", err)
	}

	return nil
}

func (r *productRepo) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.GetByID")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("id", id),
	)

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	p, err := scanProduct(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error get by id",
			zap.Int64("id", id),
			zap.Error(err),
		)

		return nil, fmt.Errorf("error getting product: %w", err)
	}

	return p, nil
}

// GetByIDs reads inside the order transaction. Missing ids are simply absent
// from the result.
func (r *productRepo) GetByIDs(ctx context.Context, tx pgx.Tx, ids []int64) (map[int64]*domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.GetByIDs")
	defer span.End()

	span.SetAttributes(
		attribute.Int("ids_count", len(ids)),
	)

	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	rows, err := tx.Query(ctx, query, ids)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("error selecting products: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]*domain.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			span.RecordError(err)

			return nil, fmt.Errorf("error scanning product: %w", err)
		}

		result[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}

func (r *productRepo) List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, int64, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.List")
	defer span.End()

	span.SetAttributes(
		attribute.String("category", filter.Category),
		attribute.String("search", filter.Search),
		attribute.Int("page", filter.Page),
		attribute.Int("limit", filter.Limit),
	)

	where := ` WHERE 1 = 1`
	var args []any
	argID := 1

	if filter.Category != "" {
		where += fmt.Sprintf(" AND category = $%d", argID)
		args = append(args, filter.Category)
		argID++
	}

	if filter.Search != "" {
		where += fmt.Sprintf(" AND name ILIKE $%d", argID)
		args = append(args, "%"+filter.Search+"%")
		argID++
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		span.RecordError(err)

		mylogger.Error(ctx, r.logger, "Failed to count products", zap.Error(err))

		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	page := domain.Page{Page: filter.Page, Limit: filter.Limit}.Normalize()
	query := `SELECT ` + productColumns + ` FROM products` + where +
		fmt.Sprintf(" ORDER BY name ASC, id ASC LIMIT $%d OFFSET $%d", argID, argID+1)
	args = append(args, page.Limit, page.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error getting products",
			zap.String("search", filter.Search),
			zap.Error(err),
		)

		return nil, 0, fmt.Errorf("error selecting products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, page.Limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			span.RecordError(err)

			return nil, 0, fmt.Errorf("error scanning rows: %w", err)
		}

		products = append(products, *p)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)

		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return products, total, nil
}

// UpdatePrice only changes the catalogue. Order items keep their own frozen
// price.
func (r *productRepo) UpdatePrice(ctx context.Context, id, priceCents int64) (*domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.UpdatePrice")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("id", id),
		attribute.Int64("price_cents", priceCents),
	)

	query := `
		UPDATE products
		SET price_cents = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + productColumns

	return r.updateOne(ctx, span, query, id, priceCents)
}

func (r *productRepo) SetAvailability(ctx context.Context, id int64, available bool) (*domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.SetAvailability")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("id", id),
		attribute.Bool("available", available),
	)

	query := `
		UPDATE products
		SET available = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + productColumns

	return r.updateOne(ctx, span, query, id, available)
}

func (r *productRepo) updateOne(ctx context.Context, span trace.Span, query string, args ...any) (*domain.Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}

		span.RecordError(err)

		mylogger.Error(ctx, r.logger, "Failed to update product", zap.Error(err))

		return nil, fmt.Errorf("error updating product: %w", err)
	}

	return p, nil
}

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.PriceCents,
		&p.Currency,
		&p.Stock,
		&p.Available,
		&p.Category,
		&p.ImageURL,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	return &p, nil
}
