package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/mylogger"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/outbox/domain"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OutboxRepository interface {
	SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error
	GetPendingEvents(ctx context.Context, tx pgx.Tx, batchSize int) ([]*domain.OutboxEvent, error)
	MarkEventProcessed(ctx context.Context, tx pgx.Tx, eventID int64) error
	MarkEventFailed(ctx context.Context, tx pgx.Tx, eventID int64, errMsg string) (int, error)
	QuarantineEvent(ctx context.Context, tx pgx.Tx, eventID int64, reason string) error
	CountQuarantined(ctx context.Context) (int64, error)
	ListQuarantined(ctx context.Context, limit, offset int) ([]*domain.OutboxEvent, error)
	Requeue(ctx context.Context, eventID int64) error
	ListByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]*domain.OutboxEvent, error)
}

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Handler struct {
	Name   string
	Handle func(ctx context.Context, event *domain.OutboxEvent) error
}

// Routes lists the handlers for every known event type.
type Routes struct {
	OrderCreated       []Handler
	OrderStatusUpdated []Handler
	PaymentCompleted   []Handler
}

type Config struct {
	Interval       time.Duration
	BatchSize      int
	HandlerTimeout time.Duration
}

type OutboxProcessor struct {
	db             TxBeginner
	repo           OutboxRepository
	routes         Routes
	metrics        *Metrics
	logger         *zap.Logger
	batchSize      int
	interval       time.Duration
	handlerTimeout time.Duration
	tracer         trace.Tracer

	running atomic.Bool
	wg      sync.WaitGroup
}

func NewOutboxProcessor(
	db TxBeginner,
	repo OutboxRepository,
	routes Routes,
	metrics *Metrics,
	logger *zap.Logger,
	cfg Config,
) *OutboxProcessor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 10 * time.Second
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &OutboxProcessor{
		db:             db,
		repo:           repo,
		routes:         routes,
		metrics:        metrics,
		logger:         logger,
		batchSize:      cfg.BatchSize,
		interval:       cfg.Interval,
		handlerTimeout: cfg.HandlerTimeout,
		tracer:         otel.Tracer("outbox-worker"),
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	mylogger.Info(
		ctx,
		p.logger,
		"Starting outbox processor",
		zap.Duration("interval", p.interval),
		zap.Int("batch_size", p.batchSize),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()

			mylogger.Info(
				context.WithoutCancel(ctx),
				p.logger,
				"Outbox processor stopping",
			)

			return
		case <-ticker.C:
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()

				if _, err := p.RunOnce(ctx); err != nil {
					mylogger.Error(
						ctx,
						p.logger,
						"Error processing outbox batch",
						zap.Error(err),
					)
				}
			}()
		}
	}
}

// RunOnce processes a single batch. It returns false without touching the
// database when another cycle is still in flight.
func (p *OutboxProcessor) RunOnce(ctx context.Context) (bool, error) {
	if !p.running.CompareAndSwap(false, true) {
		mylogger.Debug(ctx, p.logger, "Previous outbox cycle still running, skipping tick")

		return false, nil
	}
	defer p.running.Store(false)

	err := p.processBatch(ctx)
	p.refreshQuarantineGauge(ctx)

	return true, err
}

func (p *OutboxProcessor) processBatch(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.processBatch")
	defer span.End()

	tx, err := p.db.Begin(ctx)
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(cleanupCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(
				cleanupCtx,
				p.logger,
				"Outbox worker failed to rollback transaction",
				zap.Error(err),
				zap.String("method_name", "processBatch"),
			)
		}
	}()

	events, err := p.repo.GetPendingEvents(ctx, tx, p.batchSize)
	if err != nil {
		span.RecordError(err)

		return err
	}

	if len(events) == 0 {
		return nil
	}

	span.SetAttributes(attribute.Int("batch_count", len(events)))

	mylogger.Info(
		ctx,
		p.logger,
		"Processing outbox events",
		zap.Int("count", len(events)),
	)

	for _, event := range events {
		if err := p.processEvent(ctx, tx, event); err != nil {
			span.RecordError(err)

			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)

		return fmt.Errorf("error committing outbox batch: %w", err)
	}

	return nil
}

// processEvent returns an error only when the bookkeeping write fails.
// Handler failures are recorded on the event itself.
func (p *OutboxProcessor) processEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.processEvent")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", event.ID),
		attribute.String("event_type", string(event.EventType)),
		attribute.Int("retry_count", event.RetryCount),
	)

	var handlers []Handler
	switch event.EventType {
	case domain.EventOrderCreated:
		handlers = p.routes.OrderCreated
	case domain.EventOrderStatusUpdated:
		handlers = p.routes.OrderStatusUpdated
	case domain.EventPaymentCompleted:
		handlers = p.routes.PaymentCompleted
	default:
		return p.quarantineUnknown(ctx, tx, event)
	}

	if err := p.runHandlers(ctx, event, handlers); err != nil {
		span.RecordError(err)

		return p.recordFailure(ctx, tx, event, err)
	}

	if err := p.repo.MarkEventProcessed(ctx, tx, event.ID); err != nil {
		return fmt.Errorf("mark event %d processed: %w", event.ID, err)
	}

	p.metrics.Processed.WithLabelValues(string(event.EventType)).Inc()

	mylogger.Debug(
		ctx,
		p.logger,
		"Outbox event processed",
		zap.Int64("event_id", event.ID),
		zap.String("event_type", string(event.EventType)),
	)

	return nil
}

func (p *OutboxProcessor) runHandlers(ctx context.Context, event *domain.OutboxEvent, handlers []Handler) error {
	var errs []error
	for _, h := range handlers {
		if err := p.runHandler(ctx, event, h); err != nil {
			mylogger.Warn(
				ctx,
				p.logger,
				"Outbox handler failed",
				zap.Int64("event_id", event.ID),
				zap.String("handler", h.Name),
				zap.Error(err),
			)

			errs = append(errs, fmt.Errorf("%s: %w", h.Name, err))
		}
	}

	return errors.Join(errs...)
}

func (p *OutboxProcessor) runHandler(ctx context.Context, event *domain.OutboxEvent, h Handler) (err error) {
	ctx, cancel := context.WithTimeout(ctx, p.handlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return h.Handle(ctx, event)
}

func (p *OutboxProcessor) recordFailure(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent, cause error) error {
	retryCount, err := p.repo.MarkEventFailed(ctx, tx, event.ID, cause.Error())
	if err != nil {
		return fmt.Errorf("mark event %d failed: %w", event.ID, err)
	}

	p.metrics.Failed.WithLabelValues(string(event.EventType)).Inc()

	if retryCount >= event.MaxRetries {
		p.metrics.Quarantined.WithLabelValues(string(event.EventType)).Inc()

		mylogger.Error(
			ctx,
			p.logger,
			"Outbox event quarantined after exhausting retries",
			zap.Int64("event_id", event.ID),
			zap.String("event_type", string(event.EventType)),
			zap.String("aggregate_id", event.AggregateID),
			zap.Int("retry_count", retryCount),
			zap.Error(cause),
		)

		return nil
	}

	failed := *event
	failed.RetryCount = retryCount
	failed.UpdatedAt = time.Now()

	mylogger.Warn(
		ctx,
		p.logger,
		"Outbox event scheduled for retry",
		zap.Int64("event_id", event.ID),
		zap.Int("retry_count", retryCount),
		zap.Time("next_attempt_at", failed.NextAttemptAt()),
		zap.Error(cause),
	)

	return nil
}

func (p *OutboxProcessor) quarantineUnknown(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error {
	reason := fmt.Sprintf("unknown event type: %s", event.EventType)

	if err := p.repo.QuarantineEvent(ctx, tx, event.ID, reason); err != nil {
		return fmt.Errorf("quarantine event %d: %w", event.ID, err)
	}

	p.metrics.Quarantined.WithLabelValues(string(event.EventType)).Inc()

	mylogger.Error(
		ctx,
		p.logger,
		"Outbox event with unknown type quarantined",
		zap.Int64("event_id", event.ID),
		zap.String("event_type", string(event.EventType)),
	)

	return nil
}

func (p *OutboxProcessor) refreshQuarantineGauge(ctx context.Context) {
	count, err := p.repo.CountQuarantined(context.WithoutCancel(ctx))
	if err != nil {
		mylogger.Warn(ctx, p.logger, "Failed to count quarantined events", zap.Error(err))

		return
	}

	p.metrics.QuarantinedTotal.Set(float64(count))
}
