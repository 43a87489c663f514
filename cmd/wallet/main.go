package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"wallet/internal/app/transfer"
	"wallet/internal/config"
	"wallet/internal/domain"
	"wallet/internal/guard"
	wallet_http "wallet/internal/handler/http/wallet"
	kafka_handler "wallet/internal/handler/kafka"
	"wallet/internal/infrastructure/database"
	kafka_infra "wallet/internal/infrastructure/kafka"
	"wallet/internal/outbox"
	"wallet/internal/repository/memory"
	"wallet/internal/repository/postgres"
)

// walletStore is what both store drivers provide.
type walletStore interface {
	domain.Store
	domain.AliasResolver
	outbox.Store
}

func ensureKafkaTopics(ctx context.Context, brokerURLs []string, topics []string, logger *zap.Logger) error {
	conn, err := kafka.DialContext(ctx, "tcp", brokerURLs[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka broker for admin operations: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get kafka controller: %w", err)
	}
	controllerConn, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	topicConfigs := make([]kafka.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}

	if err := controllerConn.CreateTopics(topicConfigs...); err != nil {
		if !errors.Is(err, kafka.TopicAlreadyExists) {
			return fmt.Errorf("failed to create Kafka topics: %w", err)
		}
		logger.Info("One or more Kafka topics already exist, skipping creation.")
		return nil
	}
	logger.Info("Kafka topics ensured successfully.", zap.Strings("topics", topics))
	return nil
}

// connectPostgres waits for the database, applies migrations and returns the
// open pool.
func connectPostgres(cfg *config.Config, logger *zap.Logger) (*sql.DB, error) {
	logger.Info("Waiting for database to be available...")
	dbConfig := database.DBConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.Name,
		SSLMode:  cfg.DBConfig.SSLMode,
	}

	var (
		db  *sql.DB
		err error
	)
	maxRetries := 10
	retryDelay := 5 * time.Second
	for i := 0; i < maxRetries; i++ {
		db, err = database.NewPostgresDB(dbConfig)
		if err == nil {
			logger.Info("Successfully connected to PostgreSQL database!")
			break
		}
		logger.Warn(fmt.Sprintf("Failed to connect to database (attempt %d/%d): %v. Retrying in %s...", i+1, maxRetries, err, retryDelay))
		time.Sleep(retryDelay)
	}
	if db == nil {
		return nil, fmt.Errorf("could not connect to database after %d attempts: %w", maxRetries, err)
	}

	logger.Info("Running database migrations...", zap.String("source", cfg.MigrationsPath))
	m, err := migrate.New(cfg.MigrationsPath, cfg.GetDBMigrationConnectionString())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		db.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations completed successfully (or no new migrations).")
	return db, nil
}

func newGuard(cfg *config.Config, logger *zap.Logger) (guard.Guard, func() error, error) {
	mode, err := guard.ParseMode(cfg.GuardMode)
	if err != nil {
		return nil, nil, err
	}
	if cfg.GuardBackend != config.GuardBackendRedis {
		return guard.NewLocal(mode), func() error { return nil }, nil
	}

	client := goredislib.NewClient(&goredislib.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
	}
	g := guard.NewRedis(client, guard.RedisOptions{
		Mode:       mode,
		Expiry:     cfg.GuardLockExpiry,
		RetryDelay: cfg.GuardRetryDelay,
	}, logger)
	return g, client.Close, nil
}

func waitStopped(ctx context.Context, done <-chan struct{}, name string, logger *zap.Logger) {
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn(name + " did not stop before the shutdown deadline.")
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"

	appLogger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()
	appLogger.Info("Wallet Service starting...", zap.String("store", cfg.StoreDriver), zap.String("guard", cfg.GuardBackend))

	var store walletStore
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		appLogger.Warn("Using in-memory store; balances are lost on restart.")
		store = memory.NewStore()
	default:
		db, err := connectPostgres(cfg, appLogger)
		if err != nil {
			appLogger.Fatal("Failed to initialize PostgreSQL store", zap.Error(err))
		}
		defer func() {
			if err := db.Close(); err != nil {
				appLogger.Error("Error closing database connection", zap.Error(err))
			} else {
				appLogger.Info("Database connection closed.")
			}
		}()
		store = postgres.NewStore(db, appLogger.With(zap.String("component", "PostgresStore")))
	}

	accountGuard, closeGuard, err := newGuard(cfg, appLogger.With(zap.String("component", "Guard")))
	if err != nil {
		appLogger.Fatal("Failed to initialize guard", zap.Error(err))
	}
	defer closeGuard()

	engineCfg := transfer.Config{
		MinAmount:        cfg.TransferMinAmount,
		OperationTimeout: cfg.TransferOperationTimeout,
		MaxRetries:       cfg.TransferMaxRetries,
		RetryBaseDelay:   cfg.TransferRetryBaseDelay,
	}
	if cfg.KafkaEnabled() {
		engineCfg.EventsTopic = cfg.KafkaTransactionEventsTopic
	}
	engine := transfer.NewEngine(store, accountGuard, engineCfg, appLogger.With(zap.String("component", "TransferEngine")))
	appLogger.Info("Transfer Engine initialized.")

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	wallet_http.RegisterRoutes(router, engine, store,
		wallet_http.Currency{Exponent: int32(cfg.CurrencyExponent)},
		appLogger.With(zap.String("component", "HTTPHandler")))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}
	appLogger.Info("HTTP server configured.")

	ctxMain, cancelMain := context.WithCancel(context.Background())
	defer cancelMain()

	var (
		outboxProcessor *outbox.Processor
		commandConsumer *kafka_infra.Consumer
		outboxDone      = make(chan struct{})
		consumerDone    = make(chan struct{})
	)

	if cfg.KafkaEnabled() {
		kafkaBrokers := cfg.GetKafkaBrokers()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = ensureKafkaTopics(ctx, kafkaBrokers, []string{
			cfg.KafkaTransactionEventsTopic,
			cfg.KafkaTransferCommandsTopic,
		}, appLogger)
		cancel()
		if err != nil {
			appLogger.Fatal("Failed to ensure Kafka topics", zap.Error(err))
		}

		kafkaProducer := kafka_infra.NewProducer(kafkaBrokers, appLogger.With(zap.String("component", "KafkaProducer")))
		defer func() {
			if err := kafkaProducer.Close(); err != nil {
				appLogger.Error("Error closing Kafka producer", zap.Error(err))
			} else {
				appLogger.Info("Kafka producer closed.")
			}
		}()

		outboxProcessor = outbox.NewProcessor(store, kafkaProducer, outbox.Config{
			PollInterval: cfg.OutboxPollInterval,
			PollTimeout:  cfg.OutboxPollTimeout,
			BatchSize:    cfg.OutboxBatchSize,
			MaxAttempts:  cfg.OutboxMaxAttempts,
		}, appLogger.With(zap.String("component", "OutboxProcessor")))

		commandConsumer = kafka_infra.NewConsumer(
			kafkaBrokers,
			cfg.KafkaTransferCommandsTopic,
			cfg.KafkaConsumerGroup,
			kafka_handler.TransferCommandHandler(engine, appLogger.With(zap.String("component", "TransferCommandHandler"))),
			cfg.TransferOperationTimeout*2,
			appLogger.With(zap.String("component", "TransferCommandConsumer")),
		)

		go func() {
			defer close(outboxDone)
			appLogger.Info("Starting Outbox Processor...")
			outboxProcessor.Start(ctxMain)
			appLogger.Info("Outbox Processor stopped.")
		}()

		go func() {
			defer close(consumerDone)
			appLogger.Info("Starting Transfer Command Kafka Consumer...")
			if err := commandConsumer.Consume(ctxMain); err != nil {
				appLogger.Error("Transfer Command Kafka Consumer failed", zap.Error(err))
			}
			appLogger.Info("Transfer Command Kafka Consumer stopped.")
		}()
	} else {
		appLogger.Warn("KAFKA_BROKER_URL is empty; outbox publishing and the command consumer are disabled.")
		close(outboxDone)
		close(consumerDone)
	}

	go func() {
		appLogger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	appLogger.Info("Shutting down application...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Stop taking requests first so in-flight operations finish before the
	// workers go away.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		appLogger.Info("HTTP server gracefully shut down.")
	}

	cancelMain()
	if outboxProcessor != nil {
		outboxProcessor.Stop()
	}
	if commandConsumer != nil {
		if err := commandConsumer.Close(); err != nil {
			appLogger.Error("Error closing Transfer Command Kafka Consumer", zap.Error(err))
		}
	}

	waitStopped(shutdownCtx, outboxDone, "Outbox Processor", appLogger)
	waitStopped(shutdownCtx, consumerDone, "Transfer Command Consumer", appLogger)

	appLogger.Info("Application gracefully shut down.")
}
