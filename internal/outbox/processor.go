package outbox

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"wallet/internal/domain"
	kafkaInfra "wallet/internal/infrastructure/kafka"
)

type Store interface {
	GetPendingMessages(ctx context.Context, limit int) ([]domain.OutboxMessage, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkAttemptFailed(ctx context.Context, id string, maxAttempts int) error
}

type Config struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Processor relays committed outbox messages to Kafka. Delivery is at least
// once: a crash between Produce and MarkSent resends the message, keyed by
// the transaction id so consumers can deduplicate.
type Processor struct {
	store          Store
	kafkaProducer  kafkaInfra.Producer
	cfg            Config
	logger         *zap.Logger
	shutdownSignal chan struct{}
	shutdownOnce   sync.Once
}

func NewProcessor(store Store, kafkaProducer kafkaInfra.Producer, cfg Config, logger *zap.Logger) *Processor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Processor{
		store:          store,
		kafkaProducer:  kafkaProducer,
		cfg:            cfg,
		logger:         logger,
		shutdownSignal: make(chan struct{}),
	}
}

// Start polls until ctx is done or Stop is called.
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("Starting outbox processor...", zap.Duration("poll_interval", p.cfg.PollInterval))
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Outbox processor context cancelled.")
			return
		case <-p.shutdownSignal:
			p.logger.Info("Outbox processor received stop signal.")
			return
		case <-ticker.C:
			p.ProcessOnce(ctx)
		}
	}
}

func (p *Processor) Stop() {
	p.shutdownOnce.Do(func() {
		p.logger.Info("Signaling outbox processor to stop...")
		close(p.shutdownSignal)
	})
}

// ProcessOnce relays one batch and returns how many messages were sent.
func (p *Processor) ProcessOnce(ctx context.Context) int {
	queryCtx, cancel := context.WithTimeout(ctx, p.cfg.PollTimeout)
	messages, err := p.store.GetPendingMessages(queryCtx, p.cfg.BatchSize)
	cancel()
	if err != nil {
		p.logger.Error("Failed to get pending outbox messages", zap.Error(err))
		return 0
	}
	if len(messages) == 0 {
		p.logger.Debug("No pending outbox messages found.")
		return 0
	}

	p.logger.Info("Found pending outbox messages", zap.Int("count", len(messages)))

	sent := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			return sent
		}
		if err := p.kafkaProducer.Produce(ctx, msg.Key, msg.Topic, msg.Payload); err != nil {
			p.logger.Error("Failed to send message to Kafka",
				zap.String("message_id", msg.ID),
				zap.String("topic", msg.Topic),
				zap.Int("attempts", msg.Attempts+1),
				zap.Error(err))
			if markErr := p.store.MarkAttemptFailed(ctx, msg.ID, p.cfg.MaxAttempts); markErr != nil {
				p.logger.Error("Failed to record outbox delivery attempt", zap.String("message_id", msg.ID), zap.Error(markErr))
			}
			continue
		}

		if err := p.store.MarkSent(ctx, msg.ID, time.Now().UTC()); err != nil {
			p.logger.Error("Failed to update outbox message status to SENT", zap.String("message_id", msg.ID), zap.Error(err))
			continue
		}
		sent++
		p.logger.Debug("Outbox message relayed", zap.String("message_id", msg.ID), zap.String("topic", msg.Topic))
	}
	return sent
}
