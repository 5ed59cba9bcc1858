package repository

import (
	"context"
	"fmt"

	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type AuditRepository interface {
	Append(ctx context.Context, tx pgx.Tx, entry *domain.AuditLogEntry) error
	ListByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]domain.AuditLogEntry, error)
}

type auditRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewAuditRepository(pool *pgxpool.Pool, logger *zap.Logger) AuditRepository {
	return &auditRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("audit_repository"),
	}
}

func (r *auditRepo) Append(ctx context.Context, tx pgx.Tx, entry *domain.AuditLogEntry) error {
	ctx, span := r.tracer.Start(ctx, "AuditRepository.Append")
	defer span.End()

	span.SetAttributes(
		attribute.String("action", string(entry.Action)),
		attribute.String("aggregate_id", entry.AggregateID),
	)

	query := `
		INSERT INTO audit_log (id, action, aggregate_type, aggregate_id, user_id, ip_address, user_agent, changes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := tx.QueryRow(
		ctx,
		query,
		entry.ID,
		string(entry.Action),
		entry.AggregateType,
		entry.AggregateID,
		entry.UserID,
		entry.IPAddress,
		entry.UserAgent,
		entry.Changes,
	).Scan(&entry.CreatedAt)
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

func (r *auditRepo) ListByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]domain.AuditLogEntry, error) {
	ctx, span := r.tracer.Start(ctx, "AuditRepository.ListByAggregate")
	defer span.End()

	span.SetAttributes(
		attribute.String("aggregate_type", aggregateType),
		attribute.String("aggregate_id", aggregateID),
	)

	query := `
		SELECT id, action, aggregate_type, aggregate_id, user_id, ip_address, user_agent, changes, created_at
		FROM audit_log
		WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, aggregateType, aggregateID)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditLogEntry
	for rows.Next() {
		var (
			e      domain.AuditLogEntry
			action string
		)
		if err := rows.Scan(
			&e.ID,
			&action,
			&e.AggregateType,
			&e.AggregateID,
			&e.UserID,
			&e.IPAddress,
			&e.UserAgent,
			&e.Changes,
			&e.CreatedAt,
		); err != nil {
			span.RecordError(err)

			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		e.Action = domain.AuditAction(action)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("rows error: %w", err)
	}

	return entries, nil
}
