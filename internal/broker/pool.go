// Package broker keeps the per-user pool of broker adapters with LRU
// eviction, idle cleanup and a failure circuit breaker.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mcp-core/pkg/brokers/common"
	"mcp-core/pkg/db"
)

var (
	ErrBrokerUnhealthy = errors.New("broker is unhealthy")
	ErrPoolFull        = errors.New("broker pool is full")
)

// Factory creates an adapter for a stored broker connection.
type Factory func(conn db.BrokerConnection) (common.Adapter, error)

// ConnectionSource lists the broker connections of a user.
type ConnectionSource interface {
	ListBrokerConnections(ctx context.Context, userID string) ([]db.BrokerConnection, error)
}

// CachedAdapter holds an adapter with metadata for lifecycle management.
type CachedAdapter struct {
	Adapter    common.Adapter
	UserID     string
	BrokerID   string
	BrokerType string
	CreatedAt  time.Time
	LastUsed   time.Time
	HealthyAt  time.Time
	Failures   int
}

// Config holds configuration for the Pool.
type Config struct {
	MaxSize          int           // Maximum number of cached adapters (LRU eviction)
	IdleTimeout      time.Duration // Time before idle adapter is removed
	HealthInterval   time.Duration // Interval between health checks
	FailureThreshold int           // Number of failures before the circuit opens
	CircuitTimeout   time.Duration // Time to wait before retrying an unhealthy adapter
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:          100,
		IdleTimeout:      30 * time.Minute,
		HealthInterval:   5 * time.Minute,
		FailureThreshold: 3,
		CircuitTimeout:   5 * time.Minute,
	}
}

// Pool manages adapters per user.
type Pool struct {
	mu       sync.RWMutex
	adapters map[string]*CachedAdapter // key(user, broker) -> cached adapter
	lruOrder []string                  // oldest first
	pinned   map[string]bool           // registered directly, never evicted

	config  Config
	source  ConnectionSource
	factory Factory
	log     zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPool(source ConnectionSource, factory Factory, cfg Config, log zerolog.Logger) *Pool {
	return &Pool{
		adapters: make(map[string]*CachedAdapter),
		pinned:   make(map[string]bool),
		config:   cfg,
		source:   source,
		factory:  factory,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

func key(userID, brokerID string) string { return userID + "/" + brokerID }

// Start begins background cleanup and health check goroutines.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(2)

	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.config.IdleTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.cleanupIdle()
			}
		}
	}()

	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.config.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.healthCheckAll(ctx)
			}
		}
	}()
}

// Stop shuts down background loops and closes every adapter.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for k, cached := range p.adapters {
		closeAdapter(cached.Adapter)
		delete(p.adapters, k)
	}
	p.lruOrder = nil
	p.pinned = make(map[string]bool)
}

// Register adds an adapter for a user directly, bypassing the factory.
// Registered adapters are not evicted.
func (p *Pool) Register(userID, brokerType string, a common.Adapter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := key(userID, a.Name())
	if old, ok := p.adapters[k]; ok && old.Adapter != a {
		closeAdapter(old.Adapter)
		p.removeLRULocked(k)
	}
	now := time.Now()
	p.adapters[k] = &CachedAdapter{
		Adapter:    a,
		UserID:     userID,
		BrokerID:   a.Name(),
		BrokerType: brokerType,
		CreatedAt:  now,
		LastUsed:   now,
		HealthyAt:  now,
	}
	p.pinned[k] = true
	p.lruOrder = append(p.lruOrder, k)
}

// Adapters returns the user's adapters in connection order: registered
// adapters first, then those built from stored connections. Adapters
// whose circuit is open are skipped.
func (p *Pool) Adapters(ctx context.Context, userID string) ([]common.Adapter, error) {
	var out []common.Adapter
	seen := make(map[string]bool)

	p.mu.RLock()
	for _, k := range p.lruOrder {
		cached := p.adapters[k]
		if cached == nil || cached.UserID != userID || !p.pinned[k] {
			continue
		}
		seen[cached.BrokerID] = true
		if p.circuitOpenLocked(cached) {
			continue
		}
		out = append(out, cached.Adapter)
	}
	p.mu.RUnlock()

	if p.source == nil || p.factory == nil {
		return out, nil
	}
	conns, err := p.source.ListBrokerConnections(ctx, userID)
	if err != nil {
		return out, fmt.Errorf("list broker connections: %w", err)
	}
	for _, c := range conns {
		if seen[c.BrokerID] {
			continue
		}
		a, err := p.GetOrCreate(c)
		if err != nil {
			p.log.Warn().Err(err).Str("user_id", userID).Str("broker_id", c.BrokerID).Msg("broker adapter unavailable")
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// GetOrCreate returns the cached adapter for conn or builds one.
func (p *Pool) GetOrCreate(conn db.BrokerConnection) (common.Adapter, error) {
	k := key(conn.UserID, conn.BrokerID)

	p.mu.RLock()
	if cached, ok := p.adapters[k]; ok {
		if p.circuitOpenLocked(cached) {
			p.mu.RUnlock()
			return nil, ErrBrokerUnhealthy
		}
		p.mu.RUnlock()
		p.touchLRU(k)
		return cached.Adapter, nil
	}
	p.mu.RUnlock()

	return p.create(conn)
}

func (p *Pool) create(conn db.BrokerConnection) (common.Adapter, error) {
	k := key(conn.UserID, conn.BrokerID)

	p.mu.Lock()
	defer p.mu.Unlock()

	if cached, ok := p.adapters[k]; ok {
		p.touchLRULocked(k)
		return cached.Adapter, nil
	}
	if len(p.adapters) >= p.config.MaxSize {
		if !p.evictOldestLocked() {
			return nil, ErrPoolFull
		}
	}

	a, err := p.factory(conn)
	if err != nil {
		return nil, fmt.Errorf("create broker adapter: %w", err)
	}
	now := time.Now()
	p.adapters[k] = &CachedAdapter{
		Adapter:    a,
		UserID:     conn.UserID,
		BrokerID:   conn.BrokerID,
		BrokerType: conn.BrokerType,
		CreatedAt:  now,
		LastUsed:   now,
		HealthyAt:  now,
	}
	p.lruOrder = append(p.lruOrder, k)
	return a, nil
}

// Remove removes a user's adapter from the pool.
func (p *Pool) Remove(userID, brokerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(key(userID, brokerID))
}

// RemoveByUser removes all adapters of a user.
func (p *Pool) RemoveByUser(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, cached := range p.adapters {
		if cached.UserID == userID {
			p.removeLocked(k)
		}
	}
}

// RecordFailure records a failed submission. Enough consecutive failures
// open the circuit for CircuitTimeout.
func (p *Pool) RecordFailure(userID, brokerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, ok := p.adapters[key(userID, brokerID)]; ok {
		cached.Failures++
	}
}

// RecordSuccess resets the failure counter.
func (p *Pool) RecordSuccess(userID, brokerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, ok := p.adapters[key(userID, brokerID)]; ok {
		cached.Failures = 0
		cached.HealthyAt = time.Now()
	}
}

// Stats contains pool statistics.
type Stats struct {
	TotalAdapters  int            `json:"totalAdapters"`
	MaxSize        int            `json:"maxSize"`
	ByBrokerType   map[string]int `json:"byBrokerType"`
	UnhealthyCount int            `json:"unhealthyCount"`
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := Stats{
		TotalAdapters: len(p.adapters),
		MaxSize:       p.config.MaxSize,
		ByBrokerType:  make(map[string]int),
	}
	for _, cached := range p.adapters {
		stats.ByBrokerType[cached.BrokerType]++
		if cached.Failures >= p.config.FailureThreshold {
			stats.UnhealthyCount++
		}
	}
	return stats
}

// --- Internal helpers ---

func (p *Pool) circuitOpenLocked(cached *CachedAdapter) bool {
	return cached.Failures >= p.config.FailureThreshold &&
		time.Since(cached.HealthyAt) < p.config.CircuitTimeout
}

func (p *Pool) touchLRU(k string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.touchLRULocked(k)
}

func (p *Pool) touchLRULocked(k string) {
	if cached, ok := p.adapters[k]; ok {
		cached.LastUsed = time.Now()
	}
	for i, id := range p.lruOrder {
		if id == k {
			p.lruOrder = append(p.lruOrder[:i], p.lruOrder[i+1:]...)
			p.lruOrder = append(p.lruOrder, k)
			break
		}
	}
}

func (p *Pool) removeLRULocked(k string) {
	for i, id := range p.lruOrder {
		if id == k {
			p.lruOrder = append(p.lruOrder[:i], p.lruOrder[i+1:]...)
			break
		}
	}
}

func (p *Pool) removeLocked(k string) {
	if cached, ok := p.adapters[k]; ok {
		closeAdapter(cached.Adapter)
		delete(p.adapters, k)
		delete(p.pinned, k)
		p.removeLRULocked(k)
	}
}

func (p *Pool) evictOldestLocked() bool {
	for _, k := range p.lruOrder {
		if p.pinned[k] {
			continue
		}
		p.removeLocked(k)
		return true
	}
	return false
}

func (p *Pool) cleanupIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var toRemove []string
	for k, cached := range p.adapters {
		if !p.pinned[k] && now.Sub(cached.LastUsed) > p.config.IdleTimeout {
			toRemove = append(toRemove, k)
		}
	}
	for _, k := range toRemove {
		p.removeLocked(k)
	}
	if len(toRemove) > 0 {
		p.log.Debug().Int("removed", len(toRemove)).Msg("idle broker adapters removed")
	}
}

// healthCheckAll reconnects adapters that report themselves offline.
func (p *Pool) healthCheckAll(ctx context.Context) {
	p.mu.RLock()
	targets := make([]*CachedAdapter, 0, len(p.adapters))
	for _, cached := range p.adapters {
		targets = append(targets, cached)
	}
	p.mu.RUnlock()

	for _, cached := range targets {
		if cached.Adapter.IsConnected() {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := cached.Adapter.Connect(cctx)
		cancel()
		if err != nil {
			p.log.Warn().Err(err).Str("user_id", cached.UserID).Str("broker_id", cached.BrokerID).Msg("broker health check failed")
			p.RecordFailure(cached.UserID, cached.BrokerID)
			continue
		}
		p.RecordSuccess(cached.UserID, cached.BrokerID)
	}
}

func closeAdapter(a common.Adapter) {
	if c, ok := a.(common.Closer); ok {
		_ = c.Close()
	}
}
