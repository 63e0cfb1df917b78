// Package paper is a simulated broker that acknowledges orders without
// touching any venue.
package paper

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mcp-core/pkg/brokers/common"
)

var ErrRejected = errors.New("paper: order rejected")

// Config tunes the simulation.
type Config struct {
	LatencyMinMs int
	LatencyMaxMs int
	// RejectSymbols are rejected with ErrRejected, to exercise failure paths.
	RejectSymbols []string
}

// Fill is an order the simulator accepted.
type Fill struct {
	OrderID string
	Request common.OrderRequest
	At      time.Time
}

// Broker is a simulated broker account.
type Broker struct {
	name      string
	cfg       Config
	connected atomic.Bool

	mu    sync.Mutex
	rng   *rand.Rand
	fills []Fill
}

func New(name string, cfg Config) *Broker {
	if cfg.LatencyMaxMs > 0 && cfg.LatencyMinMs > cfg.LatencyMaxMs {
		cfg.LatencyMinMs, cfg.LatencyMaxMs = cfg.LatencyMaxMs, cfg.LatencyMinMs
	}
	return &Broker{
		name: name,
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *Broker) Name() string      { return b.name }
func (b *Broker) IsConnected() bool { return b.connected.Load() }

func (b *Broker) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.connected.Store(true)
	return nil
}

// Disconnect marks the account offline.
func (b *Broker) Disconnect() { b.connected.Store(false) }

func (b *Broker) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if !b.IsConnected() {
		return common.OrderResult{}, common.ErrNotConnected
	}
	if req.Symbol == "" || !req.Qty.IsPositive() {
		return common.OrderResult{}, fmt.Errorf("paper: invalid order %s qty=%s", req.Symbol, req.Qty)
	}
	for _, s := range b.cfg.RejectSymbols {
		if strings.EqualFold(s, req.Symbol) {
			return common.OrderResult{}, fmt.Errorf("%w: %s", ErrRejected, req.Symbol)
		}
	}
	if err := b.simulateLatency(ctx); err != nil {
		return common.OrderResult{}, err
	}

	id := uuid.NewString()
	b.mu.Lock()
	b.fills = append(b.fills, Fill{OrderID: id, Request: req, At: time.Now()})
	b.mu.Unlock()

	return common.OrderResult{OrderID: id, Status: common.StatusFilled, ClientID: req.ClientID}, nil
}

func (b *Broker) simulateLatency(ctx context.Context) error {
	if b.cfg.LatencyMaxMs <= 0 {
		return nil
	}
	b.mu.Lock()
	delayMs := b.cfg.LatencyMinMs
	if span := b.cfg.LatencyMaxMs - b.cfg.LatencyMinMs; span > 0 {
		delayMs += b.rng.Intn(span + 1)
	}
	b.mu.Unlock()

	t := time.NewTimer(time.Duration(delayMs) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fills returns a copy of accepted orders.
func (b *Broker) Fills() []Fill {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Fill, len(b.fills))
	copy(out, b.fills)
	return out
}
