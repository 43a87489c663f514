package guard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet/internal/domain"
)

func TestSortedUnique(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SortedUnique([]string{"b", "", "a", "b"}))
	assert.Empty(t, SortedUnique(nil))
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("reject")
	require.NoError(t, err)
	assert.Equal(t, ModeReject, mode)

	_, err = ParseMode("queue")
	assert.Error(t, err)
}

func TestLocalRejectMode(t *testing.T) {
	g := NewLocal(ModeReject)
	ctx := context.Background()

	first, err := g.Begin(ctx, "", "b", "a")
	require.NoError(t, err)

	_, err = g.Begin(ctx, "", "a")
	assert.ErrorIs(t, err, domain.ErrBusy)

	other, err := g.Begin(ctx, "", "c")
	require.NoError(t, err, "unrelated accounts are not blocked")
	require.NoError(t, other.Release(ctx))

	require.NoError(t, first.Release(ctx))
	require.NoError(t, first.Release(ctx), "release is idempotent")

	again, err := g.Begin(ctx, "", "a", "b")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocalRejectReleasesPartialAcquisition(t *testing.T) {
	g := NewLocal(ModeReject)
	ctx := context.Background()

	holdB, err := g.Begin(ctx, "", "b")
	require.NoError(t, err)

	_, err = g.Begin(ctx, "k1", "a", "b")
	require.ErrorIs(t, err, domain.ErrBusy)

	// a and k1 must have been released when b could not be taken.
	holdA, err := g.Begin(ctx, "k1", "a")
	require.NoError(t, err)
	require.NoError(t, holdA.Release(ctx))
	require.NoError(t, holdB.Release(ctx))
}

func TestLocalBlockModeWaitsThenTimesOut(t *testing.T) {
	g := NewLocal(ModeBlock)
	held, err := g.Begin(context.Background(), "", "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Begin(ctx, "", "a")
	assert.ErrorIs(t, err, domain.ErrTimeout)

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	_, err = g.Begin(cancelled, "", "a")
	assert.ErrorIs(t, err, domain.ErrCanceled)

	done := make(chan error, 1)
	go func() {
		ticket, err := g.Begin(context.Background(), "", "a")
		if err == nil {
			err = ticket.Release(context.Background())
		}
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, held.Release(context.Background()))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by release")
	}
}

func TestLocalKeyInFlight(t *testing.T) {
	g := NewLocal(ModeBlock)
	ctx := context.Background()

	ticket, err := g.Begin(ctx, "key-1", "a")
	require.NoError(t, err)

	_, err = g.Begin(ctx, "key-1", "z")
	assert.ErrorIs(t, err, domain.ErrBusy)

	require.NoError(t, ticket.Release(ctx))
	ticket, err = g.Begin(ctx, "key-1", "z")
	require.NoError(t, err)
	require.NoError(t, ticket.Release(ctx))
}

func TestLocalMutualExclusion(t *testing.T) {
	g := NewLocal(ModeBlock)
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids := []string{"a", "b"}
			if i%2 == 0 {
				ids = []string{"b", "a"}
			}
			ticket, err := g.Begin(context.Background(), "", ids...)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			assert.NoError(t, ticket.Release(context.Background()))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocalDropsIdleAccountSlots(t *testing.T) {
	g := NewLocal(ModeBlock)
	held, err := g.Begin(context.Background(), "k", "a", "b")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Begin(ctx, "", "b")
	require.ErrorIs(t, err, domain.ErrTimeout)

	require.NoError(t, held.Release(context.Background()))

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Empty(t, g.accounts)
	assert.Empty(t, g.keys)
}
