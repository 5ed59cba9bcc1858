package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/domain"
	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/repository"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ProductService interface {
	Create(ctx context.Context, product *domain.Product, actor domain.Actor) (*domain.Product, error)
	FindByID(ctx context.Context, id int64) (*domain.Product, error)
	List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, domain.Pagination, error)
	UpdatePrice(ctx context.Context, id, priceCents int64, actor domain.Actor) (*domain.Product, error)
	SetAvailability(ctx context.Context, id int64, available bool, actor domain.Actor) (*domain.Product, error)
}

type productService struct {
	productRepo repository.ProductRepository
	currency    string
	logger      *zap.Logger
	tracer      trace.Tracer
}

func NewProductService(productRepo repository.ProductRepository, currency string, logger *zap.Logger) ProductService {
	return &productService{
		productRepo: productRepo,
		currency:    currency,
		logger:      logger,
		tracer:      otel.Tracer("product_service"),
	}
}

func (s *productService) Create(ctx context.Context, product *domain.Product, actor domain.Actor) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.Create")
	defer span.End()

	if err := requireStaff(actor); err != nil {
		return nil, err
	}

	if strings.TrimSpace(product.Name) == "" {
		return nil, &domain.ValidationError{Field: "name", Reason: "is required"}
	}
	if product.PriceCents < 0 {
		return nil, &domain.ValidationError{Field: "price_cents", Reason: "must not be negative"}
	}
	if product.Stock < 0 {
		return nil, &domain.ValidationError{Field: "stock", Reason: "must not be negative"}
	}
	if product.Currency == "" {
		product.Currency = s.currency
	}
	if _, err := product.Price(); err != nil {
		return nil, &domain.ValidationError{Field: "currency", Reason: err.Error()}
	}
	if product.Currency != s.currency {
		return nil, &domain.ValidationError{Field: "currency", Reason: fmt.Sprintf("must be %s", s.currency)}
	}

	if err := s.productRepo.Create(ctx, product); err != nil {
		span.RecordError(err)

		return nil, err
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Product created",
		zap.Int64("product_id", product.ID),
		zap.Int64("actor_id", actor.UserID),
	)

	return product, nil
}

func (s *productService) FindByID(ctx context.Context, id int64) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.FindByID")
	defer span.End()

	span.SetAttributes(attribute.Int64("product_id", id))

	product, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		return nil, mapProductError(err, id)
	}

	return product, nil
}

func (s *productService) List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, domain.Pagination, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.List")
	defer span.End()

	page := domain.Page{Page: filter.Page, Limit: filter.Limit}.Normalize()
	filter.Page, filter.Limit = page.Page, page.Limit

	products, total, err := s.productRepo.List(ctx, filter)
	if err != nil {
		span.RecordError(err)

		return nil, domain.Pagination{}, err
	}

	return products, domain.NewPagination(page, total), nil
}

func (s *productService) UpdatePrice(ctx context.Context, id, priceCents int64, actor domain.Actor) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.UpdatePrice")
	defer span.End()

	if err := requireStaff(actor); err != nil {
		return nil, err
	}

	if priceCents < 0 {
		return nil, &domain.ValidationError{Field: "price_cents", Reason: "must not be negative"}
	}

	product, err := s.productRepo.UpdatePrice(ctx, id, priceCents)
	if err != nil {
		return nil, mapProductError(err, id)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Product price updated",
		zap.Int64("product_id", id),
		zap.Int64("price_cents", priceCents),
		zap.Int64("actor_id", actor.UserID),
	)

	return product, nil
}

func (s *productService) SetAvailability(ctx context.Context, id int64, available bool, actor domain.Actor) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.SetAvailability")
	defer span.End()

	if err := requireStaff(actor); err != nil {
		return nil, err
	}

	product, err := s.productRepo.SetAvailability(ctx, id, available)
	if err != nil {
		return nil, mapProductError(err, id)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Product availability changed",
		zap.Int64("product_id", id),
		zap.Bool("available", available),
	)

	return product, nil
}

func mapProductError(err error, id int64) error {
	if errors.Is(err, repository.ErrProductNotFound) {
		return &domain.ProductError{Kind: domain.ErrProductNotFound, ProductID: id}
	}

	return fmt.Errorf("product %d: %w", id, err)
}
