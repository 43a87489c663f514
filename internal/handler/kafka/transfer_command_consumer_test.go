package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wallet/internal/app/transfer"
	"wallet/internal/domain"
	"wallet/internal/guard"
	"wallet/internal/repository/memory"
)

func setup(t *testing.T) (*transfer.Engine, string, string) {
	t.Helper()
	e := transfer.NewEngine(memory.NewStore(), guard.NewLocal(guard.ModeReject), transfer.DefaultConfig(), zap.NewNop())
	a, err := e.OpenAccount(context.Background(), 1000)
	require.NoError(t, err)
	b, err := e.OpenAccount(context.Background(), 0)
	require.NoError(t, err)
	return e, a.ID, b.ID
}

func balanceOf(t *testing.T, e *transfer.Engine, id string) int64 {
	t.Helper()
	acc, err := e.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance
}

func TestTransferCommandIsAppliedOnce(t *testing.T) {
	e, a, b := setup(t)
	handler := TransferCommandHandler(e, zap.NewNop())
	msg := kafka.Message{Value: []byte(`{"command_id":"cmd-1","kind":"transfer","source_account_id":"` + a +
		`","destination_account_id":"` + b + `","amount":150,"description":"rent"}`)}

	require.NoError(t, handler(context.Background(), msg))
	require.NoError(t, handler(context.Background(), msg), "redelivery is a replay")

	assert.Equal(t, int64(850), balanceOf(t, e, a))
	assert.Equal(t, int64(150), balanceOf(t, e, b))
}

func TestDepositAndWithdrawalCommands(t *testing.T) {
	e, a, _ := setup(t)
	handler := TransferCommandHandler(e, zap.NewNop())

	require.NoError(t, handler(context.Background(), kafka.Message{
		Value: []byte(`{"command_id":"dep","kind":"deposit","destination_account_id":"` + a + `","amount":50}`),
	}))
	require.NoError(t, handler(context.Background(), kafka.Message{
		Value: []byte(`{"command_id":"wd","kind":"withdrawal","source_account_id":"` + a + `","amount":25}`),
	}))
	assert.Equal(t, int64(1025), balanceOf(t, e, a))
}

func TestPermanentFailuresAreAcknowledged(t *testing.T) {
	e, a, b := setup(t)
	handler := TransferCommandHandler(e, zap.NewNop())

	tests := []struct {
		name  string
		value string
	}{
		{name: "malformed json", value: `{not json`},
		{name: "missing command id", value: `{"kind":"deposit","destination_account_id":"` + a + `","amount":5}`},
		{name: "unknown kind", value: `{"command_id":"x1","kind":"refund","amount":5}`},
		{name: "insufficient funds", value: `{"command_id":"x2","kind":"transfer","source_account_id":"` + b + `","destination_account_id":"` + a + `","amount":5}`},
		{name: "invalid amount", value: `{"command_id":"x3","kind":"deposit","destination_account_id":"` + a + `","amount":0}`},
		{name: "unknown account", value: `{"command_id":"x4","kind":"deposit","destination_account_id":"nope","amount":5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, handler(context.Background(), kafka.Message{Value: []byte(tt.value)}))
		})
	}
	assert.Equal(t, int64(1000), balanceOf(t, e, a))
}

type busyService struct {
	transfer.Service
}

func (busyService) Deposit(context.Context, string, int64, ...transfer.Option) (*domain.TransactionRecord, error) {
	return nil, domain.ErrBusy
}

func TestTransientFailuresAreRetried(t *testing.T) {
	handler := TransferCommandHandler(busyService{}, zap.NewNop())
	err := handler(context.Background(), kafka.Message{
		Value: []byte(`{"command_id":"c","kind":"deposit","destination_account_id":"a","amount":5}`),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBusy)
}

func TestCommandRedeliveredWhileInFlightIsRetried(t *testing.T) {
	ctx := context.Background()
	g := guard.NewLocal(guard.ModeBlock)
	e := transfer.NewEngine(memory.NewStore(), g, transfer.DefaultConfig(), zap.NewNop())
	src, err := e.OpenAccount(ctx, 100)
	require.NoError(t, err)
	dst, err := e.OpenAccount(ctx, 0)
	require.NoError(t, err)

	handler := TransferCommandHandler(e, zap.NewNop())
	msg := kafka.Message{Value: []byte(`{"command_id":"cmd-7","kind":"transfer","source_account_id":"` + src.ID +
		`","destination_account_id":"` + dst.ID + `","amount":40}`)}

	first, err := g.Begin(ctx, "cmd-7")
	require.NoError(t, err)

	err = handler(ctx, msg)
	require.Error(t, err, "the offset must not be committed while the original runs")
	assert.ErrorIs(t, err, domain.ErrBusy)

	require.NoError(t, first.Release(ctx))
	require.NoError(t, handler(ctx, msg))
	assert.Equal(t, int64(60), balanceOf(t, e, src.ID))
	assert.Equal(t, int64(40), balanceOf(t, e, dst.ID))
}

func TestFingerprintConflictIsAcknowledged(t *testing.T) {
	e, a, b := setup(t)
	handler := TransferCommandHandler(e, zap.NewNop())
	body := func(amount string) kafka.Message {
		return kafka.Message{Value: []byte(`{"command_id":"cmd-9","kind":"transfer","source_account_id":"` + a +
			`","destination_account_id":"` + b + `","amount":` + amount + `}`)}
	}

	require.NoError(t, handler(context.Background(), body("10")))
	require.NoError(t, handler(context.Background(), body("11")), "a reused command id with a different body is dropped")
	assert.Equal(t, int64(990), balanceOf(t, e, a))
}
