package service_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/domain"
	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/notification"
	outboxRepository "github.com/Alejandroperezitsur/ITSUR-Eats/pkg/outbox/repository"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/outbox/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

type recordingEmitter struct {
	mu    sync.Mutex
	rooms []string
	fail  bool
}

func (e *recordingEmitter) Emit(_ context.Context, room, _ string, _ any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.fail {
		return errors.New("socket gateway unreachable")
	}

	e.rooms = append(e.rooms, room)
	return nil
}

func (s *IntegrationTestSuite) newProcessor(emitter notification.Emitter) (*worker.OutboxProcessor, *worker.Metrics) {
	logger := zap.NewNop()
	metrics := worker.NewMetrics(prometheus.NewRegistry())

	routes := notification.Routes(
		notification.NewSocketNotifier(emitter, logger),
		nil,
		notification.NewAuditMirror(logger),
	)

	return worker.NewOutboxProcessor(s.DbPool, s.OutboxRepo, routes, metrics, logger, worker.Config{
		Interval:       50 * time.Millisecond,
		BatchSize:      50,
		HandlerTimeout: time.Second,
	}), metrics
}

func (s *IntegrationTestSuite) TestOutbox_EventsAreDeliveredAfterCommit() {
	productID := s.seedProduct("Burrito", 5500, 5)
	order := s.createOrder(student, domain.ItemInput{ProductID: productID, Quantity: 1})
	_, err := s.OrderService.CancelOrder(s.Ctx, order.ID, student)
	s.Require().NoError(err)

	emitter := &recordingEmitter{}
	processor, metrics := s.newProcessor(emitter)

	ran, err := processor.RunOnce(s.Ctx)
	s.Require().NoError(err)
	s.Require().True(ran)

	s.Require().Equal([]string{"roles:CAFETERIA_STAFF", "user:12"}, emitter.rooms)
	s.Require().Zero(s.count(`SELECT COUNT(*) FROM event_outbox WHERE processed = false`))
	s.Require().Equal(int64(2), s.count(`SELECT COUNT(*) FROM event_outbox WHERE processed_at IS NOT NULL AND last_error IS NULL`))
	s.Require().Equal(float64(1), testutil.ToFloat64(metrics.Processed.WithLabelValues("ORDER_CREATED")))

	ran, err = processor.RunOnce(s.Ctx)
	s.Require().NoError(err)
	s.Require().True(ran)
	s.Require().Len(emitter.rooms, 2)
}

func (s *IntegrationTestSuite) TestOutbox_FailureBacksOffThenQuarantinesAndRequeues() {
	productID := s.seedProduct("Taco", 1800, 5)
	order := s.createOrder(student, domain.ItemInput{ProductID: productID, Quantity: 1})

	emitter := &recordingEmitter{fail: true}
	processor, metrics := s.newProcessor(emitter)

	_, err := processor.RunOnce(s.Ctx)
	s.Require().NoError(err)

	var (
		retryCount int
		lastError  *string
	)
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx,
		`SELECT retry_count, last_error FROM event_outbox WHERE aggregate_id = $1`, strconv.FormatInt(order.ID, 10),
	).Scan(&retryCount, &lastError))
	s.Require().Equal(1, retryCount)
	s.Require().NotNil(lastError)
	s.Require().Contains(*lastError, "socket gateway unreachable")

	// Inside the 5s backoff window the event is not picked again.
	_, err = processor.RunOnce(s.Ctx)
	s.Require().NoError(err)
	s.Require().Equal(int64(1), s.count(`SELECT MAX(retry_count) FROM event_outbox`))

	// Age the row past its window and burn the remaining budget.
	for i := 0; i < 4; i++ {
		_, err = s.DbPool.Exec(s.Ctx, `UPDATE event_outbox SET updated_at = NOW() - INTERVAL '1 day'`)
		s.Require().NoError(err)

		_, err = processor.RunOnce(s.Ctx)
		s.Require().NoError(err)
	}

	s.Require().Equal(int64(5), s.count(`SELECT MAX(retry_count) FROM event_outbox`))
	s.Require().Equal(float64(1), testutil.ToFloat64(metrics.Quarantined.WithLabelValues("ORDER_CREATED")))
	s.Require().Equal(float64(1), testutil.ToFloat64(metrics.QuarantinedTotal))

	quarantined, pagination, err := s.OutboxService.ListQuarantined(s.Ctx, domain.Page{}, admin)
	s.Require().NoError(err)
	s.Require().Len(quarantined, 1)
	s.Require().Equal(int64(1), pagination.Total)

	_, _, err = s.OutboxService.ListQuarantined(s.Ctx, domain.Page{}, staff)
	s.Require().ErrorIs(err, domain.ErrUnauthorized)

	// A quarantined event stays out of every batch. The old processor's
	// breaker is open after five straight failures.
	_, err = s.DbPool.Exec(s.Ctx, `UPDATE event_outbox SET updated_at = NOW() - INTERVAL '1 day'`)
	s.Require().NoError(err)

	emitter = &recordingEmitter{}
	processor, metrics = s.newProcessor(emitter)

	_, err = processor.RunOnce(s.Ctx)
	s.Require().NoError(err)
	s.Require().Empty(emitter.rooms)

	s.Require().NoError(s.OutboxService.Requeue(s.Ctx, quarantined[0].ID, admin))
	s.Require().ErrorIs(s.OutboxService.Requeue(s.Ctx, quarantined[0].ID, admin), outboxRepository.ErrEventNotRequeable)
	s.Require().ErrorIs(s.OutboxService.Requeue(s.Ctx, 424242, admin), outboxRepository.ErrEventNotFound)

	_, err = processor.RunOnce(s.Ctx)
	s.Require().NoError(err)
	s.Require().Equal([]string{"roles:CAFETERIA_STAFF"}, emitter.rooms)
	s.Require().Equal(float64(0), testutil.ToFloat64(metrics.QuarantinedTotal))
}

func (s *IntegrationTestSuite) TestOutbox_UnknownTypeIsQuarantined() {
	_, err := s.DbPool.Exec(s.Ctx, `
		INSERT INTO event_outbox (event_type, aggregate_type, aggregate_id, payload)
		VALUES ('LOYALTY_POINTS_GRANTED', 'ORDER', '1', '{}')
	`)
	s.Require().NoError(err)

	processor, metrics := s.newProcessor(&recordingEmitter{})

	_, err = processor.RunOnce(s.Ctx)
	s.Require().NoError(err)

	var lastError string
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx,
		`SELECT last_error FROM event_outbox WHERE retry_count >= max_retries AND processed = false`,
	).Scan(&lastError))
	s.Require().Equal("unknown event type: LOYALTY_POINTS_GRANTED", lastError)
	s.Require().Equal(float64(1), testutil.ToFloat64(metrics.QuarantinedTotal))
}

func (s *IntegrationTestSuite) TestOutbox_RolledBackMutationLeavesNoEvent() {
	productID := s.seedProduct("Elote", 2000, 1)

	_, err := s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{
		CustomerID: student.UserID,
		Items:      []domain.ItemInput{{ProductID: productID, Quantity: 2}},
	}, student)
	s.Require().ErrorIs(err, domain.ErrInsufficientStock)

	emitter := &recordingEmitter{}
	processor, _ := s.newProcessor(emitter)

	_, err = processor.RunOnce(s.Ctx)
	s.Require().NoError(err)
	s.Require().Empty(emitter.rooms)
	s.Require().Zero(s.count(`SELECT COUNT(*) FROM event_outbox`))
}
