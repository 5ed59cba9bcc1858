package service

import (
	"context"
	"fmt"

	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/domain"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/mylogger"
	outboxDomain "github.com/Alejandroperezitsur/ITSUR-Eats/pkg/outbox/domain"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/outbox/worker"
	"go.uber.org/zap"
)

// OutboxService is the operator view over quarantined events.
type OutboxService interface {
	ListQuarantined(ctx context.Context, page domain.Page, actor domain.Actor) ([]*outboxDomain.OutboxEvent, domain.Pagination, error)
	Requeue(ctx context.Context, id int64, actor domain.Actor) error
}

type outboxService struct {
	outboxRepo worker.OutboxRepository
	logger     *zap.Logger
}

func NewOutboxService(outboxRepo worker.OutboxRepository, logger *zap.Logger) OutboxService {
	return &outboxService{
		outboxRepo: outboxRepo,
		logger:     logger,
	}
}

func (s *outboxService) ListQuarantined(ctx context.Context, page domain.Page, actor domain.Actor) ([]*outboxDomain.OutboxEvent, domain.Pagination, error) {
	if !actor.IsAdmin() {
		return nil, domain.Pagination{}, fmt.Errorf("admin role required: %w", domain.ErrUnauthorized)
	}

	page = page.Normalize()

	total, err := s.outboxRepo.CountQuarantined(ctx)
	if err != nil {
		return nil, domain.Pagination{}, err
	}

	events, err := s.outboxRepo.ListQuarantined(ctx, page.Limit, page.Offset())
	if err != nil {
		return nil, domain.Pagination{}, err
	}

	return events, domain.NewPagination(page, total), nil
}

func (s *outboxService) Requeue(ctx context.Context, id int64, actor domain.Actor) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("admin role required: %w", domain.ErrUnauthorized)
	}

	if err := s.outboxRepo.Requeue(ctx, id); err != nil {
		return fmt.Errorf("event %d: %w", id, err)
	}

	mylogger.Warn(
		ctx,
		s.logger,
		"Outbox event requeued by operator",
		zap.Int64("event_id", id),
		zap.Int64("actor_id", actor.UserID),
	)

	return nil
}
