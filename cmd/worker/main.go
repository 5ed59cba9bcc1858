package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/notification"
	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/repository"
	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/service"
	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/transport/kafka"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/config"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/db"
	pkgKafka "github.com/Alejandroperezitsur/ITSUR-Eats/pkg/kafka"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/mylogger"
	outboxRepository "github.com/Alejandroperezitsur/ITSUR-Eats/pkg/outbox/repository"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/outbox/worker"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/utils"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loggerCfg := cfg.LoggerConfig()
	loggerCfg.Service = "itsur-eats-worker"

	logger, err := config.NewLogger(loggerCfg)
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tp, err := utils.InitTracer(ctx, "itsur-eats-worker", cfg.Env)
	if err != nil {
		log.Fatalf("Failed to init trace: %v", err)
	}

	pool, err := db.NewPostgresDB(ctx, cfg.Postgres.URL)
	if err != nil {
		log.Fatalf("failed to create pool: %v", err)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer func() {
		_ = redisClient.Close()
	}()

	kafkaProducer, err := pkgKafka.NewProducer(cfg.Kafka.Brokers, logger)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}
	defer func() {
		if err := kafkaProducer.Close(); err != nil {
			mylogger.Warn(context.Background(), logger, "Error closing kafka producer", zap.Error(err))
		}
	}()

	reg := utils.NewRegistry()

	orderRepo := repository.NewOrderRepository(pool, logger)
	productRepo := repository.NewProductRepository(pool, logger)
	auditRepo := repository.NewAuditRepository(pool, logger)
	outboxRepo := outboxRepository.NewOutboxRepository(pool, logger)

	orderService := service.NewOrderService(
		pool,
		logger,
		orderRepo,
		productRepo,
		auditRepo,
		outboxRepo,
		service.NewMetrics(reg),
		service.OrderConfig{
			Currency:    cfg.Order.Currency,
			MaxItems:    cfg.Order.MaxItems,
			MaxQuantity: cfg.Order.MaxQuantity,
		},
	)

	routes := notification.Routes(
		notification.NewSocketNotifier(notification.NewRedisEmitter(redisClient), logger),
		notification.NewKafkaPublisher(kafkaProducer, cfg.Kafka.OrderTopic, logger),
		notification.NewAuditMirror(logger),
	)

	processor := worker.NewOutboxProcessor(
		pool,
		outboxRepo,
		routes,
		worker.NewMetrics(reg),
		logger,
		worker.Config{
			Interval:       cfg.Worker.Interval,
			BatchSize:      cfg.Worker.BatchSize,
			HandlerTimeout: cfg.Worker.HandlerTimeout,
		},
	)

	consumer := kafka.NewConsumer(orderService, logger)
	metricsServer := utils.NewMetricsServer(cfg.Metrics.Port, reg)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		processor.Start(gCtx)
		return nil
	})

	g.Go(func() error {
		return consumer.Start(gCtx, cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, []string{cfg.Kafka.PaymentTopic})
	})

	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		mylogger.Info(shutdownCtx, logger, "Shutting down worker")

		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			mylogger.Warn(shutdownCtx, logger, "Error shutting down metrics server", zap.Error(err))
		}

		if err := tp.Shutdown(shutdownCtx); err != nil {
			mylogger.Warn(shutdownCtx, logger, "Error shutting down telemetry", zap.Error(err))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		mylogger.Error(context.Background(), logger, "Worker stopped with error", zap.Error(err))
	}
}
