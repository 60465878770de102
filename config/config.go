package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Checkout  CheckoutConfig  `mapstructure:"checkout"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Log       LogConfig       `mapstructure:"log"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig driver: postgres | mysql | sqlite
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr           string        `mapstructure:"addr"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	OrderTTL       time.Duration `mapstructure:"order_ttl"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
	// IdempotencyPendingTTL 占位的最长存活时间，需大于最慢的结账事务
	IdempotencyPendingTTL time.Duration `mapstructure:"idempotency_pending_ttl"`
}

type KafkaConfig struct {
	Brokers            string `mapstructure:"brokers"`
	OrderEventsTopic   string `mapstructure:"order_events_topic"`
	PaymentResultTopic string `mapstructure:"payment_result_topic"`
	GroupID            string `mapstructure:"group_id"`
}

type AuthConfig struct {
	JWTSecret    string `mapstructure:"jwt_secret"`
	WebhookToken string `mapstructure:"webhook_token"`
}

type CheckoutConfig struct {
	TaxRate           string `mapstructure:"tax_rate"`
	OrderNumberPrefix string `mapstructure:"order_number_prefix"`
}

type WorkersConfig struct {
	OutboxWorkers      int           `mapstructure:"outbox_workers"`
	OutboxBatch        int           `mapstructure:"outbox_batch"`
	OutboxPollInterval time.Duration `mapstructure:"outbox_poll_interval"`
	OutboxLease        time.Duration `mapstructure:"outbox_lease"`
	SalesWorkers       int           `mapstructure:"sales_workers"`
	SalesQueueSize     int           `mapstructure:"sales_queue_size"`
	BulkConcurrency    int           `mapstructure:"bulk_concurrency"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type SentryConfig struct {
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// RateLimitConfig 结账接口按用户限流
type RateLimitConfig struct {
	CheckoutRPS   float64 `mapstructure:"checkout_rps"`
	CheckoutBurst int     `mapstructure:"checkout_burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=store port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.order_ttl", 10*time.Minute)
	v.SetDefault("redis.idempotency_ttl", 24*time.Hour)
	v.SetDefault("redis.idempotency_pending_ttl", 2*time.Minute)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.order_events_topic", "orders.events")
	v.SetDefault("kafka.payment_result_topic", "payment.results")
	v.SetDefault("kafka.group_id", "order-engine")

	// 未设置的 key 不会被 AutomaticEnv 覆盖，这里全部声明
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.webhook_token", "")

	v.SetDefault("checkout.tax_rate", "0.10")
	v.SetDefault("checkout.order_number_prefix", "ORD")

	v.SetDefault("workers.outbox_workers", 2)
	v.SetDefault("workers.outbox_batch", 100)
	v.SetDefault("workers.outbox_poll_interval", 500*time.Millisecond)
	v.SetDefault("workers.outbox_lease", time.Minute)
	v.SetDefault("workers.sales_workers", 2)
	v.SetDefault("workers.sales_queue_size", 10000)
	v.SetDefault("workers.bulk_concurrency", 4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("sentry.sample_rate", 1.0)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "order-engine")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("ratelimit.checkout_rps", 2.0)
	v.SetDefault("ratelimit.checkout_burst", 5)
}

// Load 读取 config.yaml（可选）并叠加 APP_ 前缀的环境变量
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	return nil
}

// KafkaEnabled 未配置 broker 时事件只落 outbox，不外发
func (c *Config) KafkaEnabled() bool {
	return strings.TrimSpace(c.Kafka.Brokers) != ""
}
