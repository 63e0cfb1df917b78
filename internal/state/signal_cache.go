package state

import (
	"context"
	"errors"
	"sort"
	"sync"

	"mcp-core/internal/signal"
	"mcp-core/pkg/db"
)

var ErrSignalNotFound = errors.New("signal not found")

// SignalStore is the storage view the signal cache reads through to.
type SignalStore interface {
	GetTradeSignal(ctx context.Context, id string) (*signal.TradeSignal, error)
	ListActiveSignals(ctx context.Context) ([]*signal.TradeSignal, error)
}

// SignalCache holds active signals in memory and falls back to storage on
// a miss. Values handed out are clones.
type SignalCache struct {
	mu     sync.RWMutex
	active map[string]*signal.TradeSignal
	store  SignalStore
}

func NewSignalCache(store SignalStore) *SignalCache {
	return &SignalCache{
		active: make(map[string]*signal.TradeSignal),
		store:  store,
	}
}

// Put caches sig if it is active and evicts it otherwise.
func (c *SignalCache) Put(sig *signal.TradeSignal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sig.Status.IsTerminal() {
		delete(c.active, sig.ID)
		return
	}
	c.active[sig.ID] = sig.Clone()
}

// Get returns the signal from memory, or from storage on a miss. Active
// signals read from storage are cached.
func (c *SignalCache) Get(ctx context.Context, id string) (*signal.TradeSignal, error) {
	c.mu.RLock()
	sig, ok := c.active[id]
	c.mu.RUnlock()
	if ok {
		return sig.Clone(), nil
	}
	if c.store == nil {
		return nil, ErrSignalNotFound
	}

	stored, err := c.store.GetTradeSignal(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrSignalNotFound
	}
	if err != nil {
		return nil, err
	}
	if !stored.Status.IsTerminal() {
		c.mu.Lock()
		if _, raced := c.active[id]; !raced {
			c.active[id] = stored.Clone()
		}
		c.mu.Unlock()
	}
	return stored, nil
}

// Cached returns a clone of the cached signal without reading storage.
func (c *SignalCache) Cached(id string) (*signal.TradeSignal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sig, ok := c.active[id]
	if !ok {
		return nil, false
	}
	return sig.Clone(), true
}

// Invalidate drops a cached signal so the next Get reads storage.
func (c *SignalCache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.active, id)
	c.mu.Unlock()
}

// Active returns clones of every cached active signal, newest first.
func (c *SignalCache) Active() []*signal.TradeSignal {
	c.mu.RLock()
	out := make([]*signal.TradeSignal, 0, len(c.active))
	for _, s := range c.active {
		out = append(out, s.Clone())
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Len returns the number of cached active signals.
func (c *SignalCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.active)
}

// Refresh replaces the cache with the active signals in storage. Cached
// entries updated more recently than their stored copy are kept, and so
// are cached entries storage has never seen. Entries closed in storage
// are dropped.
func (c *SignalCache) Refresh(ctx context.Context) (int, error) {
	if c.store == nil {
		return c.Len(), nil
	}
	stored, err := c.store.ListActiveSignals(ctx)
	if err != nil {
		return 0, err
	}
	inStore := make(map[string]bool, len(stored))
	for _, s := range stored {
		inStore[s.ID] = true
	}

	c.mu.RLock()
	var missing []string
	for id := range c.active {
		if !inStore[id] {
			missing = append(missing, id)
		}
	}
	c.mu.RUnlock()

	closed := make(map[string]bool)
	for _, id := range missing {
		s, err := c.store.GetTradeSignal(ctx, id)
		if err == nil && s.Status.IsTerminal() {
			closed[id] = true
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	next := make(map[string]*signal.TradeSignal, len(stored)+len(missing))
	for _, s := range stored {
		if cur, ok := c.active[s.ID]; ok && cur.UpdatedAt.After(s.UpdatedAt) {
			next[s.ID] = cur
			continue
		}
		next[s.ID] = s
	}
	for id, cur := range c.active {
		if inStore[id] || closed[id] {
			continue
		}
		next[id] = cur
	}
	c.active = next
	return len(next), nil
}

// Clear empties the cache.
func (c *SignalCache) Clear() {
	c.mu.Lock()
	c.active = make(map[string]*signal.TradeSignal)
	c.mu.Unlock()
}
