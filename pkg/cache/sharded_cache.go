// Package cache provides a sharded, mutex-guarded map keyed by string that
// remembers when each value was last written.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Entry is a cached value with its write time.
type Entry[V any] struct {
	Value       V         `json:"value"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Sharded is a concurrent map split over fixed shards to reduce contention.
type Sharded[V any] struct {
	shards [numShards]*shard[V]
	now    func() time.Time
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]Entry[V]
}

// NewSharded creates an empty sharded map.
func NewSharded[V any]() *Sharded[V] {
	c := &Sharded[V]{now: time.Now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard[V]{items: make(map[string]Entry[V])}
	}
	return c
}

func (c *Sharded[V]) getShard(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores the latest value for key. Previous values are discarded.
func (c *Sharded[V]) Set(key string, v V) {
	s := c.getShard(key)
	s.mu.Lock()
	s.items[key] = Entry[V]{Value: v, LastUpdated: c.now()}
	s.mu.Unlock()
}

// Get retrieves the value for key.
func (c *Sharded[V]) Get(key string) (V, bool) {
	e, ok := c.Entry(key)
	return e.Value, ok
}

// Entry retrieves the value for key along with its write time.
func (c *Sharded[V]) Entry(key string) (Entry[V], bool) {
	s := c.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	return e, ok
}

// GetWithAge retrieves the value and how long ago it was written.
func (c *Sharded[V]) GetWithAge(key string) (V, time.Duration, bool) {
	e, ok := c.Entry(key)
	if !ok {
		var zero V
		return zero, 0, false
	}
	return e.Value, c.now().Sub(e.LastUpdated), true
}

// Delete removes key.
func (c *Sharded[V]) Delete(key string) {
	s := c.getShard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len returns total items across all shards.
func (c *Sharded[V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup removes entries older than maxAge and returns how many were removed.
func (c *Sharded[V]) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := c.now().Add(-maxAge)

	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if e.LastUpdated.Before(cutoff) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Clear removes every entry.
func (c *Sharded[V]) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.items = make(map[string]Entry[V])
		s.mu.Unlock()
	}
}

// Snapshot returns a copy of every entry.
func (c *Sharded[V]) Snapshot() map[string]Entry[V] {
	result := make(map[string]Entry[V])
	for _, s := range c.shards {
		s.mu.RLock()
		for k, e := range s.items {
			result[k] = e
		}
		s.mu.RUnlock()
	}
	return result
}

// Stats provides cache statistics.
type Stats struct {
	TotalItems  int            `json:"total_items"`
	ShardCounts [numShards]int `json:"shard_counts"`
	OldestAge   time.Duration  `json:"oldest_age"`
}

// Stats returns cache statistics.
func (c *Sharded[V]) Stats() Stats {
	stats := Stats{}
	var oldest time.Time

	for i, s := range c.shards {
		s.mu.RLock()
		stats.ShardCounts[i] = len(s.items)
		stats.TotalItems += len(s.items)
		for _, e := range s.items {
			if oldest.IsZero() || e.LastUpdated.Before(oldest) {
				oldest = e.LastUpdated
			}
		}
		s.mu.RUnlock()
	}

	if !oldest.IsZero() {
		stats.OldestAge = c.now().Sub(oldest)
	}
	return stats
}
