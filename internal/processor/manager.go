// Package processor runs the consumers of the bus queues. Each processor
// owns one queue and is driven by its own ticking goroutine.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mcp-core/internal/events"
	"mcp-core/internal/message"
)

const DefaultInterval = 100 * time.Millisecond

var (
	ErrDuplicateProcessor = errors.New("processor already registered")
	ErrUnexpectedPayload  = errors.New("unexpected payload")
)

// Processor consumes messages of one queue.
type Processor interface {
	Name() string
	Queue() string
	Process(ctx context.Context, msg message.Message) error
}

// Queues is the queue surface processors consume from.
type Queues interface {
	Dequeue(name string) (message.Message, bool)
	Ack(msg message.Message)
	RecordError(name string)
}

// Enqueuer publishes follow-up messages.
type Enqueuer interface {
	Enqueue(queue string, msg message.Message) error
}

// Observer receives the duration of every processed message.
type Observer interface {
	ObserveProcessed(processor string, d time.Duration)
}

// Manager drives registered processors.
type Manager struct {
	queues    Queues
	interval  time.Duration
	bus       *events.Bus
	observers []Observer
	log       zerolog.Logger

	mu         sync.Mutex
	processors map[string]Processor
	runCtx     context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithEvents publishes EventProcessorFailure on bus.
func WithEvents(bus *events.Bus) Option { return func(m *Manager) { m.bus = bus } }

// WithObserver reports processing durations. It may be given more than once.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// NewManager ticks every interval; zero selects DefaultInterval.
func NewManager(queues Queues, interval time.Duration, log zerolog.Logger, opts ...Option) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m := &Manager{
		queues:     queues,
		interval:   interval,
		log:        log,
		processors: make(map[string]Processor),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds p. Processors registered while running start immediately.
func (m *Manager) Register(p Processor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processors[p.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProcessor, p.Name())
	}
	m.processors[p.Name()] = p
	if m.cancel != nil {
		m.wg.Add(1)
		go m.loop(m.runCtx, p)
	}
	m.log.Info().Str("processor", p.Name()).Str("queue", p.Queue()).Msg("processor registered")
	return nil
}

// Names returns the registered processor names, sorted.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.processors))
	for name := range m.processors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Running reports whether the loops are started.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Start launches one loop per processor. Calling Start twice is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	m.runCtx, m.cancel = context.WithCancel(ctx)
	for _, p := range m.processors {
		m.wg.Add(1)
		go m.loop(m.runCtx, p)
	}
	m.log.Info().Int("processors", len(m.processors)).Dur("interval", m.interval).Msg("processors started")
}

// Stop cancels the loops and waits for the in-flight messages.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.log.Info().Msg("processors stopped")
}

func (m *Manager) loop(ctx context.Context, p Processor) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.step(ctx, p)
		}
	}
}

// step handles at most one message. It reports whether one was dequeued.
func (m *Manager) step(ctx context.Context, p Processor) bool {
	msg, ok := m.queues.Dequeue(p.Queue())
	if !ok {
		return false
	}
	start := time.Now()
	err := m.safeProcess(ctx, p, msg)
	m.queues.Ack(msg)

	if err != nil {
		m.queues.RecordError(p.Queue())
		m.log.Error().Err(err).
			Str("processor", p.Name()).
			Str("message_id", msg.ID).
			Str("type", string(msg.Type)).
			Msg("message processing failed")
		if m.bus != nil {
			m.bus.Publish(events.EventProcessorFailure, events.Failure{
				Component: p.Name(),
				Queue:     p.Queue(),
				MessageID: msg.ID,
				Err:       err,
				At:        time.Now(),
			})
		}
		return true
	}
	d := time.Since(start)
	for _, o := range m.observers {
		o.ObserveProcessed(p.Name(), d)
	}
	return true
}

func (m *Manager) safeProcess(ctx context.Context, p Processor, msg message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", p.Name(), r)
		}
	}()
	return p.Process(ctx, msg)
}
