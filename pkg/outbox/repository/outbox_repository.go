package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/mylogger"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/outbox/domain"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/outbox/worker"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrEventNotFound     = errors.New("outbox event not found")
	ErrEventNotRequeable = errors.New("outbox event is not quarantined")
)

const eventColumns = `
	id, event_type, aggregate_type, aggregate_id, payload, processed, retry_count,
	max_retries, last_error, created_at, updated_at, processed_at
`

type outboxRepo struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewOutboxRepository(pool *pgxpool.Pool, logger *zap.Logger) worker.OutboxRepository {
	return &outboxRepo{
		pool:   pool,
		tracer: otel.Tracer("outbox_repository"),
		logger: logger,
	}
}

func (r *outboxRepo) SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.SaveOutboxEvent")
	defer span.End()

	span.SetAttributes(
		attribute.String("event_type", string(event.EventType)),
		attribute.String("aggregate_id", event.AggregateID),
		attribute.String("aggregate_type", event.AggregateType),
	)

	if event.MaxRetries <= 0 {
		event.MaxRetries = domain.DefaultMaxRetries
	}

	query := `
		INSERT INTO event_outbox (event_type, aggregate_type, aggregate_id, payload, max_retries)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(
		ctx,
		query,
		string(event.EventType),
		event.AggregateType,
		event.AggregateID,
		event.Payload,
		event.MaxRetries,
	).Scan(&event.ID, &event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return nil
}

func (r *outboxRepo) GetPendingEvents(ctx context.Context, tx pgx.Tx, batchSize int) ([]*domain.OutboxEvent, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.GetPendingEvents")
	defer span.End()

	span.SetAttributes(
		attribute.Int("batch_size", batchSize),
	)

	query := `
		SELECT ` + eventColumns + `
		FROM event_outbox
		WHERE processed = false
			AND retry_count < max_retries
			AND (
				retry_count = 0
				OR updated_at + make_interval(secs => power(5, retry_count)) <= NOW()
			)
		ORDER BY created_at ASC, id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, batchSize)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		span.RecordError(err)

		return nil, err
	}

	span.SetAttributes(
		attribute.Int("result_count", len(events)),
	)

	return events, nil
}

func (r *outboxRepo) MarkEventProcessed(ctx context.Context, tx pgx.Tx, eventID int64) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkEventProcessed")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
	)

	query := `
		UPDATE event_outbox
		SET processed = true,
			processed_at = clock_timestamp(),
			updated_at = clock_timestamp(),
			last_error = NULL
		WHERE id = $1
	`

	tag, err := tx.Exec(ctx, query, eventID)
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}

	return nil
}

func (r *outboxRepo) MarkEventFailed(ctx context.Context, tx pgx.Tx, eventID int64, errMsg string) (int, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkEventFailed")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
		attribute.String("outbox.error_message", errMsg),
	)

	query := `
		UPDATE event_outbox
		SET retry_count = retry_count + 1,
			last_error = $2,
			updated_at = clock_timestamp()
		WHERE id = $1
		RETURNING retry_count
	`

	var retryCount int
	if err := tx.QueryRow(ctx, query, eventID, errMsg).Scan(&retryCount); err != nil {
		span.RecordError(err)

		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrEventNotFound
		}

		return 0, fmt.Errorf("failed to mark event failed: %w", err)
	}

	return retryCount, nil
}

func (r *outboxRepo) QuarantineEvent(ctx context.Context, tx pgx.Tx, eventID int64, reason string) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.QuarantineEvent")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
		attribute.String("outbox.reason", reason),
	)

	query := `
		UPDATE event_outbox
		SET retry_count = max_retries,
			last_error = $2,
			updated_at = clock_timestamp()
		WHERE id = $1
	`

	tag, err := tx.Exec(ctx, query, eventID, reason)
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to quarantine event: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}

	return nil
}

func (r *outboxRepo) CountQuarantined(ctx context.Context) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.CountQuarantined")
	defer span.End()

	query := `
		SELECT COUNT(*)
		FROM event_outbox
		WHERE processed = false AND retry_count >= max_retries
	`

	var count int64
	if err := r.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		span.RecordError(err)

		return 0, fmt.Errorf("failed to count quarantined events: %w", err)
	}

	return count, nil
}

func (r *outboxRepo) ListQuarantined(ctx context.Context, limit, offset int) ([]*domain.OutboxEvent, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.ListQuarantined")
	defer span.End()

	span.SetAttributes(
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
	)

	query := `
		SELECT ` + eventColumns + `
		FROM event_outbox
		WHERE processed = false AND retry_count >= max_retries
		ORDER BY created_at ASC, id ASC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("failed to query quarantined events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Requeue gives a quarantined event a fresh retry budget. It is an explicit
// operator action and the only mutation performed outside the worker.
func (r *outboxRepo) Requeue(ctx context.Context, eventID int64) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.Requeue")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
	)

	query := `
		UPDATE event_outbox
		SET retry_count = 0,
			updated_at = NOW()
		WHERE id = $1 AND processed = false AND retry_count >= max_retries
	`

	tag, err := r.pool.Exec(ctx, query, eventID)
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to requeue event: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM event_outbox WHERE id = $1)`, eventID).Scan(&exists); err != nil {
			span.RecordError(err)

			return fmt.Errorf("failed to check event: %w", err)
		}

		if !exists {
			return ErrEventNotFound
		}

		return ErrEventNotRequeable
	}

	mylogger.Info(
		ctx,
		r.logger,
		"Outbox event requeued by operator",
		zap.Int64("event_id", eventID),
	)

	return nil
}

func (r *outboxRepo) ListByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]*domain.OutboxEvent, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.ListByAggregate")
	defer span.End()

	span.SetAttributes(
		attribute.String("aggregate_type", aggregateType),
		attribute.String("aggregate_id", aggregateID),
	)

	query := `
		SELECT ` + eventColumns + `
		FROM event_outbox
		WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, aggregateType, aggregateID)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("failed to query events of aggregate: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]*domain.OutboxEvent, error) {
	var events []*domain.OutboxEvent
	for rows.Next() {
		var (
			e         domain.OutboxEvent
			eventType string
		)
		if err := rows.Scan(
			&e.ID,
			&eventType,
			&e.AggregateType,
			&e.AggregateID,
			&e.Payload,
			&e.Processed,
			&e.RetryCount,
			&e.MaxRetries,
			&e.LastError,
			&e.CreatedAt,
			&e.UpdatedAt,
			&e.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning event: %w", err)
		}

		e.EventType = domain.EventType(eventType)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return events, nil
}
