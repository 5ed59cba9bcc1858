package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/repository"
	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/service"
	transport "github.com/Alejandroperezitsur/ITSUR-Eats/internal/transport/http"
	"github.com/Alejandroperezitsur/ITSUR-Eats/internal/transport/http/handler"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/config"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/db"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/mylogger"
	outboxRepository "github.com/Alejandroperezitsur/ITSUR-Eats/pkg/outbox/repository"
	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/utils"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "apply migrations before serving")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loggerCfg := cfg.LoggerConfig()
	loggerCfg.Service = "itsur-eats-api"

	logger, err := config.NewLogger(loggerCfg)
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tp, err := utils.InitTracer(ctx, "itsur-eats-api", cfg.Env)
	if err != nil {
		log.Fatalf("Failed to init trace: %v", err)
	}

	if *migrateFlag || cfg.Postgres.Migrate {
		if err := db.Migrate(cfg.Services.MigrationsPath, cfg.Postgres.URL); err != nil {
			log.Fatalf("Failed to apply migrations: %v", err)
		}
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

	productService := service.NewCachedProductService(
		service.NewProductService(productRepo, cfg.Order.Currency, logger),
		redisClient,
		cfg.Redis.CacheTTL,
		logger,
	)

	outboxService := service.NewOutboxService(outboxRepo, logger)

	app := transport.NewApp(transport.AppConfig{
		Timeout:      cfg.HTTP.Timeout,
		LimiterMax:   cfg.Limiter.Max,
		LimiterReset: cfg.Limiter.Expiration,
	})

	transport.RegisterRoutes(app, &transport.Handlers{
		Order:   handler.NewOrderHandler(orderService, logger),
		Product: handler.NewProductHandler(productService, logger),
		Outbox:  handler.NewOutboxHandler(outboxService, logger),
	}, cfg.Auth.AccessSecret)

	metricsServer := utils.NewMetricsServer(cfg.Metrics.Port, reg)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		mylogger.Info(gCtx, logger, "HTTP service listening", zap.String("port", cfg.HTTP.Port))

		return app.Listen(cfg.HTTP.Port)
	})

	g.Go(func() error {
		mylogger.Info(gCtx, logger, "Metrics server listening", zap.String("port", cfg.Metrics.Port))

		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()

		mylogger.Info(context.WithoutCancel(gCtx), logger, "Shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			mylogger.Warn(shutdownCtx, logger, "Error shutting down HTTP app", zap.Error(err))
		}

		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			mylogger.Warn(shutdownCtx, logger, "Error shutting down metrics server", zap.Error(err))
		}

		if err := tp.Shutdown(shutdownCtx); err != nil {
			mylogger.Warn(shutdownCtx, logger, "Error shutting down telemetry", zap.Error(err))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		mylogger.Error(context.Background(), logger, "API stopped with error", zap.Error(err))
	}
}
