package repository_test

import (
	"testing"
	"time"

	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/outbox/domain"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/outbox/repository"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/outbox/worker"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/testsuite"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type OutboxRepositorySuite struct {
	testsuite.BaseSuite

	repo worker.OutboxRepository
}

func TestOutboxRepositorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	suite.Run(t, new(OutboxRepositorySuite))
}

func (s *OutboxRepositorySuite) SetupSuite() {
	s.SetupInfrastructure("../../../migrations")
	s.repo = repository.NewOutboxRepository(s.DbPool, zap.NewNop())
}

func (s *OutboxRepositorySuite) TearDownSuite() {
	s.TearDownInfrastructure()
}

func (s *OutboxRepositorySuite) SetupTest() {
	s.TruncateTables("event_outbox")
}

func (s *OutboxRepositorySuite) save(eventType domain.EventType, aggregateID string) *domain.OutboxEvent {
	event := &domain.OutboxEvent{
		EventType:     eventType,
		AggregateType: "ORDER",
		AggregateID:   aggregateID,
		Payload:       []byte(`{"order_id":1}`),
	}

	s.inTx(func(tx pgx.Tx) {
		s.Require().NoError(s.repo.SaveOutboxEvent(s.Ctx, tx, event))
	})

	return event
}

func (s *OutboxRepositorySuite) inTx(fn func(tx pgx.Tx)) {
	tx, err := s.DbPool.Begin(s.Ctx)
	s.Require().NoError(err)
	defer func() {
		_ = tx.Rollback(s.Ctx)
	}()

	fn(tx)

	s.Require().NoError(tx.Commit(s.Ctx))
}

func (s *OutboxRepositorySuite) pending(batchSize int) []*domain.OutboxEvent {
	var events []*domain.OutboxEvent
	s.inTx(func(tx pgx.Tx) {
		var err error
		events, err = s.repo.GetPendingEvents(s.Ctx, tx, batchSize)
		s.Require().NoError(err)
	})

	return events
}

func (s *OutboxRepositorySuite) TestSave_DefaultsRetryBudget() {
	event := s.save(domain.EventOrderCreated, "1")

	s.Require().NotZero(event.ID)
	s.Require().Equal(domain.DefaultMaxRetries, event.MaxRetries)
	s.Require().False(event.CreatedAt.IsZero())
}

func (s *OutboxRepositorySuite) TestGetPending_OrdersByCreationAndRespectsLimit() {
	first := s.save(domain.EventOrderCreated, "1")
	second := s.save(domain.EventOrderStatusUpdated, "1")
	s.save(domain.EventPaymentCompleted, "2")

	events := s.pending(2)

	s.Require().Len(events, 2)
	s.Require().Equal(first.ID, events[0].ID)
	s.Require().Equal(second.ID, events[1].ID)
	s.Require().JSONEq(`{"order_id":1}`, string(events[0].Payload))
}

func (s *OutboxRepositorySuite) TestGetPending_SkipsRowsLockedByAnotherWorker() {
	s.save(domain.EventOrderCreated, "1")
	s.save(domain.EventOrderCreated, "2")

	tx, err := s.DbPool.Begin(s.Ctx)
	s.Require().NoError(err)
	defer func() {
		_ = tx.Rollback(s.Ctx)
	}()

	locked, err := s.repo.GetPendingEvents(s.Ctx, tx, 1)
	s.Require().NoError(err)
	s.Require().Len(locked, 1)

	others := s.pending(10)
	s.Require().Len(others, 1)
	s.Require().NotEqual(locked[0].ID, others[0].ID)
}

func (s *OutboxRepositorySuite) TestMarkProcessed_RemovesFromPending() {
	event := s.save(domain.EventOrderCreated, "1")

	s.inTx(func(tx pgx.Tx) {
		s.Require().NoError(s.repo.MarkEventProcessed(s.Ctx, tx, event.ID))
	})

	s.Require().Empty(s.pending(10))

	events, err := s.repo.ListByAggregate(s.Ctx, "ORDER", "1")
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Require().True(events[0].Processed)
	s.Require().NotNil(events[0].ProcessedAt)
}

func (s *OutboxRepositorySuite) TestMarkFailed_BacksOffUntilWindowPasses() {
	event := s.save(domain.EventOrderCreated, "1")

	s.inTx(func(tx pgx.Tx) {
		count, err := s.repo.MarkEventFailed(s.Ctx, tx, event.ID, "boom")
		s.Require().NoError(err)
		s.Require().Equal(1, count)
	})

	s.Require().Empty(s.pending(10))

	_, err := s.DbPool.Exec(s.Ctx, `UPDATE event_outbox SET updated_at = NOW() - INTERVAL '6 seconds' WHERE id = $1`, event.ID)
	s.Require().NoError(err)

	events := s.pending(10)
	s.Require().Len(events, 1)
	s.Require().Equal(1, events[0].RetryCount)
	s.Require().NotNil(events[0].LastError)
	s.Require().Equal("boom", *events[0].LastError)
}

func (s *OutboxRepositorySuite) TestMarkFailed_UnknownEvent() {
	s.inTx(func(tx pgx.Tx) {
		_, err := s.repo.MarkEventFailed(s.Ctx, tx, 999, "boom")
		s.Require().ErrorIs(err, repository.ErrEventNotFound)
	})
}

func (s *OutboxRepositorySuite) TestQuarantine_ListCountAndRequeue() {
	event := s.save(domain.EventType("SOMETHING_ELSE"), "7")
	s.save(domain.EventOrderCreated, "8")

	s.inTx(func(tx pgx.Tx) {
		s.Require().NoError(s.repo.QuarantineEvent(s.Ctx, tx, event.ID, "unknown event type: SOMETHING_ELSE"))
	})

	count, err := s.repo.CountQuarantined(s.Ctx)
	s.Require().NoError(err)
	s.Require().Equal(int64(1), count)

	quarantined, err := s.repo.ListQuarantined(s.Ctx, 10, 0)
	s.Require().NoError(err)
	s.Require().Len(quarantined, 1)
	s.Require().Equal(event.ID, quarantined[0].ID)
	s.Require().Equal(quarantined[0].MaxRetries, quarantined[0].RetryCount)

	pending := s.pending(10)
	s.Require().Len(pending, 1)
	s.Require().NotEqual(event.ID, pending[0].ID)

	s.Require().NoError(s.repo.Requeue(s.Ctx, event.ID))
	s.Require().ErrorIs(s.repo.Requeue(s.Ctx, event.ID), repository.ErrEventNotRequeable)
	s.Require().ErrorIs(s.repo.Requeue(s.Ctx, 999), repository.ErrEventNotFound)

	count, err = s.repo.CountQuarantined(s.Ctx)
	s.Require().NoError(err)
	s.Require().Zero(count)
	s.Require().Len(s.pending(10), 2)
}

func (s *OutboxRepositorySuite) TestRequeue_ProcessedEventIsNotRequeable() {
	event := s.save(domain.EventOrderCreated, "1")

	s.inTx(func(tx pgx.Tx) {
		s.Require().NoError(s.repo.MarkEventProcessed(s.Ctx, tx, event.ID))
	})

	s.Require().ErrorIs(s.repo.Requeue(s.Ctx, event.ID), repository.ErrEventNotRequeable)
}

func (s *OutboxRepositorySuite) TestMarkFailed_StampsFailureTimeNotBatchStart() {
	event := s.save(domain.EventOrderCreated, "1")

	var batchStart time.Time
	s.inTx(func(tx pgx.Tx) {
		s.Require().NoError(tx.QueryRow(s.Ctx, `SELECT NOW()`).Scan(&batchStart))

		time.Sleep(300 * time.Millisecond)

		_, err := s.repo.MarkEventFailed(s.Ctx, tx, event.ID, "slow handler")
		s.Require().NoError(err)
	})

	events, err := s.repo.ListByAggregate(s.Ctx, "ORDER", "1")
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Require().GreaterOrEqual(events[0].UpdatedAt.Sub(batchStart), 250*time.Millisecond)
}

func (s *OutboxRepositorySuite) TestMarkProcessed_StampsCompletionTime() {
	event := s.save(domain.EventOrderCreated, "1")

	var batchStart time.Time
	s.inTx(func(tx pgx.Tx) {
		s.Require().NoError(tx.QueryRow(s.Ctx, `SELECT NOW()`).Scan(&batchStart))

		time.Sleep(300 * time.Millisecond)

		s.Require().NoError(s.repo.MarkEventProcessed(s.Ctx, tx, event.ID))
	})

	events, err := s.repo.ListByAggregate(s.Ctx, "ORDER", "1")
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Require().NotNil(events[0].ProcessedAt)
	s.Require().GreaterOrEqual(events[0].ProcessedAt.Sub(batchStart), 250*time.Millisecond)
}
