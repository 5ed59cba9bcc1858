package testsuite

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/utils"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

type BaseSuite struct {
	suite.Suite
	PgContainer    *postgres.PostgresContainer
	KafkaContainer *kafka.KafkaContainer
	RedisContainer *tcredis.RedisContainer
	DbPool         *pgxpool.Pool
	RedisClient    *goredis.Client
	KafkaBrokers   []string
	Ctx            context.Context
}

func (s *BaseSuite) SetupInfrastructure(migrationsRelPath string) {
	s.Ctx = context.Background()

	startup := utils.ParseDurationWithFallback("TEST_CONTAINER_TIMEOUT", 30*time.Second)

	var err error
	s.PgContainer, err = postgres.Run(
		s.Ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startup),
		),
	)
	s.Require().NoError(err)

	connStr, err := s.PgContainer.ConnectionString(s.Ctx, "sslmode=disable")
	s.Require().NoError(err)

	absPath, err := filepath.Abs(migrationsRelPath)
	s.Require().NoError(err)

	m, err := migrate.New("file://"+absPath, connStr)
	s.Require().NoError(err)
	s.Require().NoError(m.Up())

	s.DbPool, err = pgxpool.New(s.Ctx, connStr)
	s.Require().NoError(err)
}

func (s *BaseSuite) SetupKafka() {
	var err error
	s.KafkaContainer, err = kafka.Run(
		s.Ctx,
		"confluentinc/cp-kafka:7.5.0",
		kafka.WithClusterID("test-cluster"),
	)
	s.Require().NoError(err)

	s.KafkaBrokers, err = s.KafkaContainer.Brokers(s.Ctx)
	s.Require().NoError(err)
}

func (s *BaseSuite) SetupRedis() {
	var err error
	s.RedisContainer, err = tcredis.Run(s.Ctx, "redis:7-alpine")
	s.Require().NoError(err)

	uri, err := s.RedisContainer.ConnectionString(s.Ctx)
	s.Require().NoError(err)

	opts, err := goredis.ParseURL(uri)
	s.Require().NoError(err)

	s.RedisClient = goredis.NewClient(opts)
	s.Require().NoError(s.RedisClient.Ping(s.Ctx).Err())
}

func (s *BaseSuite) TearDownInfrastructure() {
	if s.DbPool != nil {
		s.DbPool.Close()
	}
	if s.RedisClient != nil {
		_ = s.RedisClient.Close()
	}

	for name, c := range map[string]testcontainers.Container{
		"postgres": s.PgContainer,
		"kafka":    s.KafkaContainer,
		"redis":    s.RedisContainer,
	} {
		if isNilContainer(c) {
			continue
		}
		if err := c.Terminate(s.Ctx); err != nil {
			s.T().Logf("Failed to terminate %s container: %v", name, err)
		}
	}
}

func (s *BaseSuite) TruncateTables(tables ...string) {
	_, err := s.DbPool.Exec(s.Ctx, fmt.Sprintf("TRUNCATE %s RESTART IDENTITY CASCADE", strings.Join(tables, ", ")))
	s.Require().NoError(err)
}

func isNilContainer(c testcontainers.Container) bool {
	switch v := c.(type) {
	case nil:
		return true
	case *postgres.PostgresContainer:
		return v == nil
	case *kafka.KafkaContainer:
		return v == nil
	case *tcredis.RedisContainer:
		return v == nil
	}

	return false
}
