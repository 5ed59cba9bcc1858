package config

import (
	"log"
	"os"
	"time"

	"github.com/Alejandroperezitsur/ITSUR-Eats/pkg/utils"
	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env      string   `yaml:"env" env:"ENV" env-default:"local"`
	Logger   Logger   `yaml:"logger"`
	HTTP     HTTP     `yaml:"http"`
	Metrics  Metrics  `yaml:"metrics"`
	Postgres PG       `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Auth     Auth     `yaml:"auth"`
	Order    Order    `yaml:"order"`
	Worker   Worker   `yaml:"worker"`
	Limiter  Limiter  `yaml:"limiter"`
	Services Services `yaml:"services"`
}

type Logger struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type HTTP struct {
	Port    string        `yaml:"port" env:"HTTP_PORT" env-default:":3000"`
	Timeout time.Duration `yaml:"timeout" env-default:"4s"`
}

type Metrics struct {
	Port string `yaml:"port" env:"METRICS_PORT" env-default:":9091"`
}

type PG struct {
	URL     string `yaml:"url" env:"DB_URL"`
	Migrate bool   `yaml:"migrate" env:"DB_MIGRATE" env-default:"false"`
}

type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	CacheTTL time.Duration `yaml:"cache_ttl" env-default:"10m"`
}

type Kafka struct {
	Brokers       []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	OrderTopic    string   `yaml:"order_topic" env-default:"order_events"`
	PaymentTopic  string   `yaml:"payment_topic" env-default:"payment_events"`
	ConsumerGroup string   `yaml:"consumer_group" env-default:"order-worker-group"`
}

type Auth struct {
	AccessSecret string `yaml:"access_secret" env:"ACCESS_SECRET"`
}

type Order struct {
	Currency    string `yaml:"currency" env:"ORDER_CURRENCY" env-default:"MXN"`
	MaxItems    int    `yaml:"max_items" env-default:"50"`
	MaxQuantity int32  `yaml:"max_quantity" env-default:"99"`
}

type Worker struct {
	Interval       time.Duration `yaml:"interval" env:"WORKER_INTERVAL" env-default:"5s"`
	BatchSize      int           `yaml:"batch_size" env-default:"50"`
	HandlerTimeout time.Duration `yaml:"handler_timeout" env-default:"10s"`
}

type Limiter struct {
	Max        int           `yaml:"max" env-default:"20"`
	Expiration time.Duration `yaml:"expiration" env-default:"5s"`
}

type Services struct {
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
}

func MustLoad() *Config {
	configPath := utils.ParseWithFallback("CONFIG_PATH", "./config/local.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exists: %v\n", err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	return &cfg
}

func (c *Config) LoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level: c.Logger.Level,
		Env:   c.Env,
	}
}
