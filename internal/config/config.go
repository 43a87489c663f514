package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	GuardBackendLocal = "local"
	GuardBackendRedis = "redis"
)

type Config struct {
	DBConfig struct {
		Host     string `env:"WALLET_DB_HOST"`
		Port     int    `env:"WALLET_DB_PORT"`
		User     string `env:"WALLET_DB_USER"`
		Password string `env:"WALLET_DB_PASSWORD"`
		Name     string `env:"WALLET_DB_NAME"`
		SSLMode  string `env:"WALLET_DB_SSLMODE"`
	}

	StoreDriver    string `env:"WALLET_STORE_DRIVER"`
	HTTPPort       int    `env:"HTTP_PORT"`
	MigrationsPath string `env:"MIGRATIONS_PATH"`

	KafkaBrokerURL              string `env:"KAFKA_BROKER_URL"`
	KafkaTransactionEventsTopic string `env:"KAFKA_TRANSACTION_EVENTS_TOPIC"`
	KafkaTransferCommandsTopic  string `env:"KAFKA_TRANSFER_COMMANDS_TOPIC"`
	KafkaConsumerGroup          string `env:"KAFKA_CONSUMER_GROUP"`

	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL"`
	OutboxPollTimeout  time.Duration `env:"OUTBOX_POLL_TIMEOUT"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS"`

	TransferMinAmount        int64         `env:"TRANSFER_MIN_AMOUNT"`
	TransferOperationTimeout time.Duration `env:"TRANSFER_OPERATION_TIMEOUT"`
	TransferMaxRetries       int           `env:"TRANSFER_MAX_RETRIES"`
	TransferRetryBaseDelay   time.Duration `env:"TRANSFER_RETRY_BASE_DELAY"`

	GuardMode       string        `env:"GUARD_MODE"`
	GuardBackend    string        `env:"GUARD_BACKEND"`
	RedisAddr       string        `env:"REDIS_ADDR"`
	GuardLockExpiry time.Duration `env:"GUARD_LOCK_EXPIRY"`
	GuardRetryDelay time.Duration `env:"GUARD_RETRY_DELAY"`

	CurrencyExponent int `env:"CURRENCY_EXPONENT"`
}

// LoadConfig reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; real env vars win over it.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{}

	cfg.DBConfig.Host = getEnvOrDefault("WALLET_DB_HOST", "localhost")
	cfg.DBConfig.Port = getEnvAsInt("WALLET_DB_PORT", 5432)
	cfg.DBConfig.User = getEnvOrDefault("WALLET_DB_USER", "user")
	cfg.DBConfig.Password = getEnvOrDefault("WALLET_DB_PASSWORD", "password")
	cfg.DBConfig.Name = getEnvOrDefault("WALLET_DB_NAME", "wallet_db")
	cfg.DBConfig.SSLMode = getEnvOrDefault("WALLET_DB_SSLMODE", "disable")

	cfg.StoreDriver = getEnvOrDefault("WALLET_STORE_DRIVER", StoreDriverPostgres)
	cfg.HTTPPort = getEnvAsInt("HTTP_PORT", 8082)
	cfg.MigrationsPath = getEnvOrDefault("MIGRATIONS_PATH", "file://migrations")

	cfg.KafkaBrokerURL = getEnvOrDefault("KAFKA_BROKER_URL", "")
	cfg.KafkaTransactionEventsTopic = getEnvOrDefault("KAFKA_TRANSACTION_EVENTS_TOPIC", "wallet_transaction_events")
	cfg.KafkaTransferCommandsTopic = getEnvOrDefault("KAFKA_TRANSFER_COMMANDS_TOPIC", "wallet_transfer_commands")
	cfg.KafkaConsumerGroup = getEnvOrDefault("KAFKA_CONSUMER_GROUP", "wallet-service-group")

	cfg.OutboxPollInterval = getEnvAsDuration("OUTBOX_POLL_INTERVAL", 1*time.Second)
	cfg.OutboxPollTimeout = getEnvAsDuration("OUTBOX_POLL_TIMEOUT", 500*time.Millisecond)
	cfg.OutboxBatchSize = getEnvAsInt("OUTBOX_BATCH_SIZE", 100)
	cfg.OutboxMaxAttempts = getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 10)

	cfg.TransferMinAmount = int64(getEnvAsInt("TRANSFER_MIN_AMOUNT", 1))
	cfg.TransferOperationTimeout = getEnvAsDuration("TRANSFER_OPERATION_TIMEOUT", 5*time.Second)
	cfg.TransferMaxRetries = getEnvAsInt("TRANSFER_MAX_RETRIES", 3)
	cfg.TransferRetryBaseDelay = getEnvAsDuration("TRANSFER_RETRY_BASE_DELAY", 50*time.Millisecond)

	cfg.GuardMode = getEnvOrDefault("GUARD_MODE", "block")
	cfg.GuardBackend = getEnvOrDefault("GUARD_BACKEND", GuardBackendLocal)
	cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
	cfg.GuardLockExpiry = getEnvAsDuration("GUARD_LOCK_EXPIRY", 10*time.Second)
	cfg.GuardRetryDelay = getEnvAsDuration("GUARD_RETRY_DELAY", 20*time.Millisecond)

	cfg.CurrencyExponent = getEnvAsInt("CURRENCY_EXPONENT", 2)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("WALLET_STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver))
	}
	switch c.GuardBackend {
	case GuardBackendLocal, GuardBackendRedis:
	default:
		errs = append(errs, fmt.Errorf("GUARD_BACKEND must be %q or %q, got %q", GuardBackendLocal, GuardBackendRedis, c.GuardBackend))
	}
	switch c.GuardMode {
	case "block", "reject":
	default:
		errs = append(errs, fmt.Errorf("GUARD_MODE must be \"block\" or \"reject\", got %q", c.GuardMode))
	}
	if c.TransferMinAmount < 1 {
		errs = append(errs, fmt.Errorf("TRANSFER_MIN_AMOUNT must be at least 1, got %d", c.TransferMinAmount))
	}
	if c.CurrencyExponent < 0 || c.CurrencyExponent > 18 {
		errs = append(errs, fmt.Errorf("CURRENCY_EXPONENT must be between 0 and 18, got %d", c.CurrencyExponent))
	}
	return errors.Join(errs...)
}

func (c *Config) GetDBMigrationConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.Name, c.DBConfig.SSLMode)
}

// KafkaEnabled is false when no broker is configured; the service then runs
// without the outbox publisher and the command consumer.
func (c *Config) KafkaEnabled() bool {
	return strings.TrimSpace(c.KafkaBrokerURL) != ""
}

func (c *Config) GetKafkaBrokers() []string {
	return strings.Split(c.KafkaBrokerURL, ",")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, defaultValue.String())
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
