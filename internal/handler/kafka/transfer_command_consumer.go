package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"wallet/internal/app/transfer"
	"wallet/internal/domain"
	"wallet/internal/domain/event"
	kafka_infra "wallet/internal/infrastructure/kafka"
)

// TransferCommandHandler executes wallet commands read from Kafka. The command
// id is the idempotency key, so a redelivered command is applied once.
// Commands that can never succeed are logged and acknowledged; transient
// failures return an error so the offset is not committed.
func TransferCommandHandler(svc transfer.Service, logger *zap.Logger) kafka_infra.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		var cmd event.TransferCommand
		if err := json.Unmarshal(msg.Value, &cmd); err != nil {
			logger.Error("Failed to unmarshal Kafka message value to TransferCommand",
				zap.Error(err),
				zap.ByteString("value", msg.Value),
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
			return nil
		}
		if cmd.CommandID == "" {
			logger.Error("Dropping transfer command without command_id", zap.Int64("offset", msg.Offset))
			return nil
		}

		logger.Info("Processing transfer command",
			zap.String("command_id", cmd.CommandID),
			zap.String("kind", cmd.Kind),
			zap.Int64("amount", cmd.Amount),
		)

		opts := []transfer.Option{transfer.WithIdempotencyKey(cmd.CommandID)}
		if cmd.Description != "" {
			opts = append(opts, transfer.WithDescription(cmd.Description))
		}

		var (
			rec *domain.TransactionRecord
			err error
		)
		switch domain.TransactionKind(cmd.Kind) {
		case domain.TransactionKindDeposit:
			rec, err = svc.Deposit(ctx, cmd.DestinationAccountID, cmd.Amount, opts...)
		case domain.TransactionKindWithdrawal:
			rec, err = svc.Withdraw(ctx, cmd.SourceAccountID, cmd.Amount, opts...)
		case domain.TransactionKindTransfer:
			rec, err = svc.Transfer(ctx, cmd.SourceAccountID, cmd.DestinationAccountID, cmd.Amount, cmd.Description, opts...)
		default:
			logger.Error("Dropping transfer command with unknown kind",
				zap.String("command_id", cmd.CommandID), zap.String("kind", cmd.Kind))
			return nil
		}

		if err != nil {
			if isPermanent(err) {
				logger.Warn("Transfer command rejected",
					zap.String("command_id", cmd.CommandID),
					zap.String("code", string(domain.KindOf(err))),
					zap.Error(err))
				return nil
			}
			return fmt.Errorf("failed to process transfer command %s: %w", cmd.CommandID, err)
		}

		logger.Info("Successfully processed transfer command",
			zap.String("command_id", cmd.CommandID),
			zap.String("transaction_id", rec.ID),
		)
		return nil
	}
}

func isPermanent(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindInvalidAmount, domain.KindInsufficientFunds, domain.KindAccountNotFound,
		domain.KindSelfTransfer, domain.KindConflict:
		return true
	}
	return false
}
