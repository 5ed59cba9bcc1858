package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/domain"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/mylogger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultProductCacheTTL = 10 * time.Minute

type cachedProductService struct {
	next        ProductService
	redisClient *redis.Client
	cacheTTL    time.Duration
	logger      *zap.Logger
}

func NewCachedProductService(next ProductService, redisClient *redis.Client, cacheTTL time.Duration, logger *zap.Logger) ProductService {
	if cacheTTL <= 0 {
		cacheTTL = defaultProductCacheTTL
	}

	return &cachedProductService{
		next:        next,
		redisClient: redisClient,
		cacheTTL:    cacheTTL,
		logger:      logger,
	}
}

func productKey(id int64) string {
	return fmt.Sprintf("product:%d", id)
}

func (s *cachedProductService) Create(ctx context.Context, product *domain.Product, actor domain.Actor) (*domain.Product, error) {
	return s.next.Create(ctx, product, actor)
}

func (s *cachedProductService) FindByID(ctx context.Context, id int64) (*domain.Product, error) {
	key := productKey(id)

	val, err := s.redisClient.Get(ctx, key).Bytes()
	if err == nil {
		var product domain.Product
		if err := json.Unmarshal(val, &product); err == nil {
			return &product, nil
		}
	}

	product, err := s.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(product); err == nil {
		if err := s.redisClient.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
			mylogger.Warn(ctx, s.logger, "Failed to cache product", zap.Int64("product_id", id), zap.Error(err))
		}
	}

	return product, nil
}

func (s *cachedProductService) List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, domain.Pagination, error) {
	return s.next.List(ctx, filter)
}

func (s *cachedProductService) UpdatePrice(ctx context.Context, id, priceCents int64, actor domain.Actor) (*domain.Product, error) {
	product, err := s.next.UpdatePrice(ctx, id, priceCents, actor)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	return product, nil
}

func (s *cachedProductService) SetAvailability(ctx context.Context, id int64, available bool, actor domain.Actor) (*domain.Product, error) {
	product, err := s.next.SetAvailability(ctx, id, available, actor)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	return product, nil
}

func (s *cachedProductService) invalidate(ctx context.Context, id int64) {
	if err := s.redisClient.Del(ctx, productKey(id)).Err(); err != nil {
		mylogger.Warn(ctx, s.logger, "Failed to invalidate product cache", zap.Int64("product_id", id), zap.Error(err))
	}
}
