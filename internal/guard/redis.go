package guard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"wallet/internal/domain"
)

const (
	accountLockPrefix = "wallet:lock:account:"
	keyLockPrefix     = "wallet:lock:key:"
)

type RedisOptions struct {
	Mode       Mode
	Expiry     time.Duration
	RetryDelay time.Duration
}

// Redis is a guard shared by every process using the same Redis. Locks carry
// an expiry so a crashed holder cannot wedge an account forever.
type Redis struct {
	rs     *redsync.Redsync
	opts   RedisOptions
	logger *zap.Logger
}

func NewRedis(client goredislib.UniversalClient, opts RedisOptions, logger *zap.Logger) *Redis {
	if opts.Expiry <= 0 {
		opts.Expiry = 10 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 20 * time.Millisecond
	}
	return &Redis{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}
}

func (g *Redis) Begin(ctx context.Context, key string, accountIDs ...string) (Ticket, error) {
	t := &redisTicket{logger: g.logger}

	if key != "" {
		m := g.rs.NewMutex(keyLockPrefix+key, redsync.WithExpiry(g.opts.Expiry), redsync.WithTries(1))
		if err := m.LockContext(ctx); err != nil {
			if isContention(err) {
				return nil, keyInFlightError(key)
			}
			return nil, g.lockFailure(ctx, err, key)
		}
		t.mutexes = append(t.mutexes, m)
	}

	for _, id := range SortedUnique(accountIDs) {
		m, err := g.lockAccount(ctx, id)
		if err != nil {
			_ = t.Release(context.WithoutCancel(ctx))
			return nil, err
		}
		t.mutexes = append(t.mutexes, m)
	}
	return t, nil
}

func (g *Redis) lockAccount(ctx context.Context, id string) (*redsync.Mutex, error) {
	tries := 1
	if g.opts.Mode == ModeBlock {
		// Block mode is bounded by the context, not by a retry count.
		tries = math.MaxInt32
	}
	m := g.rs.NewMutex(accountLockPrefix+id,
		redsync.WithExpiry(g.opts.Expiry),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(g.opts.RetryDelay),
	)

	err := m.LockContext(ctx)
	if err == nil {
		return m, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, waitError(ctxErr, id)
	}
	if isContention(err) {
		return nil, busyError(id)
	}
	return nil, g.lockFailure(ctx, err, id)
}

func (g *Redis) lockFailure(ctx context.Context, err error, name string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return waitError(ctxErr, name)
	}
	g.logger.Error("Failed to acquire distributed lock", zap.String("lock", name), zap.Error(err))
	return domain.NewError(domain.KindStoreUnavailable, fmt.Sprintf("lock service unavailable for %s", name), err)
}

// isContention reports whether err means somebody else holds the lock, as
// opposed to Redis being unreachable.
func isContention(err error) bool {
	var taken *redsync.ErrTaken
	return errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken)
}

type redisTicket struct {
	logger  *zap.Logger
	mutexes []*redsync.Mutex
	once    sync.Once
	err     error
}

func (t *redisTicket) Release(ctx context.Context) error {
	t.once.Do(func() {
		var errs []error
		for i := len(t.mutexes) - 1; i >= 0; i-- {
			m := t.mutexes[i]
			ok, err := m.UnlockContext(ctx)
			if err != nil {
				errs = append(errs, fmt.Errorf("unlock %s: %w", m.Name(), err))
				continue
			}
			if !ok {
				t.logger.Warn("Lock was not held or already expired", zap.String("lock", m.Name()))
			}
		}
		t.err = errors.Join(errs...)
	})
	return t.err
}
