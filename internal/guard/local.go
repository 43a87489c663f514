package guard

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Local is an in-process guard backed by one weighted semaphore of size 1
// per account.
type Local struct {
	mode Mode

	mu       sync.Mutex
	accounts map[string]*accountSlot
	keys     map[string]struct{}
}

// accountSlot is dropped from the map once no one holds or waits on it.
type accountSlot struct {
	sem  *semaphore.Weighted
	refs int
}

func NewLocal(mode Mode) *Local {
	return &Local{
		mode:     mode,
		accounts: make(map[string]*accountSlot),
		keys:     make(map[string]struct{}),
	}
}

func (g *Local) Begin(ctx context.Context, key string, accountIDs ...string) (Ticket, error) {
	if key != "" {
		g.mu.Lock()
		if _, inFlight := g.keys[key]; inFlight {
			g.mu.Unlock()
			return nil, keyInFlightError(key)
		}
		g.keys[key] = struct{}{}
		g.mu.Unlock()
	}

	t := &localTicket{g: g, key: key}
	for _, id := range SortedUnique(accountIDs) {
		slot, err := g.acquire(ctx, id)
		if err != nil {
			t.release()
			return nil, err
		}
		t.held = append(t.held, heldSlot{id: id, slot: slot})
	}
	return t, nil
}

func (g *Local) acquire(ctx context.Context, id string) (*accountSlot, error) {
	slot := g.ref(id)
	if g.mode == ModeReject {
		if !slot.sem.TryAcquire(1) {
			g.unref(id, slot)
			return nil, busyError(id)
		}
		return slot, nil
	}
	if err := slot.sem.Acquire(ctx, 1); err != nil {
		g.unref(id, slot)
		return nil, waitError(err, id)
	}
	return slot, nil
}

func (g *Local) ref(id string) *accountSlot {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot, ok := g.accounts[id]
	if !ok {
		slot = &accountSlot{sem: semaphore.NewWeighted(1)}
		g.accounts[id] = slot
	}
	slot.refs++
	return slot
}

func (g *Local) unref(id string, slot *accountSlot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(g.accounts, id)
	}
}

type heldSlot struct {
	id   string
	slot *accountSlot
}

type localTicket struct {
	g    *Local
	key  string
	held []heldSlot
	once sync.Once
}

func (t *localTicket) Release(context.Context) error {
	t.release()
	return nil
}

func (t *localTicket) release() {
	t.once.Do(func() {
		for i := len(t.held) - 1; i >= 0; i-- {
			t.held[i].slot.sem.Release(1)
			t.g.unref(t.held[i].id, t.held[i].slot)
		}
		if t.key != "" {
			t.g.mu.Lock()
			delete(t.g.keys, t.key)
			t.g.mu.Unlock()
		}
	})
}
