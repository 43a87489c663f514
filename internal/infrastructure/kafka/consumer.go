package kafka_infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type MessageHandler func(ctx context.Context, message kafka.Message) error

// Consumer reads a topic in a consumer group and commits an offset only after
// the handler accepted the message.
type Consumer struct {
	reader         *kafka.Reader
	logger         *zap.Logger
	handler        MessageHandler
	handlerTimeout time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, handler MessageHandler, handlerTimeout time.Duration, l *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
		Logger:         kafka.LoggerFunc(l.Sugar().Debugf),
		ErrorLogger:    kafka.LoggerFunc(l.Sugar().Errorf),
	})
	if handlerTimeout <= 0 {
		handlerTimeout = 25 * time.Second
	}

	return &Consumer{
		reader:         reader,
		logger:         l,
		handler:        handler,
		handlerTimeout: handlerTimeout,
	}
}

// Consume blocks until ctx is cancelled or the reader is closed. A message
// whose handler fails is not committed and is redelivered after a restart
// or rebalance.
func (c *Consumer) Consume(ctx context.Context) error {
	topic := c.reader.Config().Topic
	c.logger.Info("Kafka consumer starting message consumption",
		zap.String("topic", topic),
		zap.String("group_id", c.reader.Config().GroupID),
	)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(err, kafka.ErrGroupClosed) || errors.Is(err, io.EOF) {
				c.logger.Info("Consumer stopping.", zap.String("topic", topic), zap.Error(err))
				return nil
			}
			c.logger.Error("Error fetching message from Kafka", zap.Error(err), zap.String("topic", topic))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		handleCtx, cancelHandler := context.WithTimeout(context.WithoutCancel(ctx), c.handlerTimeout)
		err = c.handler(handleCtx, m)
		cancelHandler()
		if err != nil {
			c.logger.Error("Error handling Kafka message",
				zap.String("topic", m.Topic),
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
			continue
		}

		commitCtx, cancelCommit := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.reader.CommitMessages(commitCtx, m); err != nil {
			c.logger.Error("Failed to commit offset for message",
				zap.String("topic", m.Topic),
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
		}
		cancelCommit()
	}
}

func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka consumer reader: %w", err)
	}
	c.logger.Info("Kafka consumer reader closed.", zap.String("topic", c.reader.Config().Topic))
	return nil
}
