package queue

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mcp-core/internal/events"
	"mcp-core/internal/message"
)

// Observer is notified about queue traffic (metrics hook).
type Observer interface {
	Enqueued(queue string, p message.Priority)
	Rejected(queue string)
	Failed(queue string)
}

// Manager owns the named queues of the bus.
type Manager struct {
	mu      sync.RWMutex
	queues  map[string]*Queue
	maxSize int

	journal   *Journal
	observers []Observer
	bus       *events.Bus
	log       zerolog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithJournal persists enqueues and acks to a write-ahead log.
func WithJournal(j *Journal) ManagerOption {
	return func(m *Manager) { m.journal = j }
}

// WithObserver attaches a traffic observer. It may be given more than once.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// WithEvents publishes EventQueueRejected on bus when a full queue turns a
// message away.
func WithEvents(bus *events.Bus) ManagerOption {
	return func(m *Manager) { m.bus = bus }
}

// WithLogger sets the manager logger.
func WithLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a manager whose queues default to maxSize entries.
func NewManager(maxSize int, opts ...ManagerOption) *Manager {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	m := &Manager{
		queues:  make(map[string]*Queue),
		maxSize: maxSize,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateQueue creates (or returns the existing) queue with the default bound.
func (m *Manager) CreateQueue(name string) *Queue {
	q, _ := m.CreateQueueWithSize(name, m.maxSize)
	return q
}

// CreateQueueWithSize creates a queue with an explicit bound. If the queue
// already exists it is returned together with ErrQueueExists.
func (m *Manager) CreateQueueWithSize(name string, maxSize int) (*Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[name]; ok {
		return q, ErrQueueExists
	}
	q := newQueue(name, maxSize)
	m.queues[name] = q
	m.log.Debug().Str("queue", name).Int("max_size", q.maxSize).Msg("queue created")
	return q, nil
}

// GetQueue looks up a queue by name.
func (m *Manager) GetQueue(name string) (*Queue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[name]
	return q, ok
}

// Enqueue appends msg to the named queue. Unknown queues and full queues are
// reported as errors; the message is journaled before it becomes visible.
func (m *Manager) Enqueue(name string, msg message.Message) error {
	q, ok := m.GetQueue(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, name)
	}
	if m.journal != nil {
		if err := m.journal.Append(name, msg); err != nil {
			return fmt.Errorf("journal enqueue: %w", err)
		}
	}
	if err := q.Push(msg); err != nil {
		if m.journal != nil {
			m.journal.Ack(msg.ID)
		}
		if errors.Is(err, ErrQueueFull) {
			m.log.Warn().Str("queue", name).Str("message_id", msg.ID).Int("max_size", q.maxSize).Msg("queue full, message rejected")
			for _, o := range m.observers {
				o.Rejected(name)
			}
			if m.bus != nil {
				m.bus.Publish(events.EventQueueRejected, events.Failure{
					Component: "queue",
					Queue:     name,
					MessageID: msg.ID,
					Err:       ErrQueueFull,
					At:        time.Now(),
				})
			}
		}
		return fmt.Errorf("enqueue %s: %w", name, err)
	}
	for _, o := range m.observers {
		o.Enqueued(name, msg.Priority)
	}
	return nil
}

// Dequeue pops the next message; ok is false for an empty or unknown queue.
func (m *Manager) Dequeue(name string) (message.Message, bool) {
	q, ok := m.GetQueue(name)
	if !ok {
		return message.Message{}, false
	}
	return q.Pop()
}

// Ack marks a dequeued message as fully processed in the journal.
func (m *Manager) Ack(msg message.Message) {
	if m.journal != nil {
		m.journal.Ack(msg.ID)
	}
}

// Size returns the depth of a queue, or 0 if unknown.
func (m *Manager) Size(name string) int {
	q, ok := m.GetQueue(name)
	if !ok {
		return 0
	}
	return q.Len()
}

// RecordError counts a processing failure against the named queue.
func (m *Manager) RecordError(name string) {
	q, ok := m.GetQueue(name)
	if !ok {
		return
	}
	q.RecordError()
	for _, o := range m.observers {
		o.Failed(name)
	}
}

// Stats returns counters for every queue, sorted by name.
func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	out := make([]Stats, 0, len(m.queues))
	for _, q := range m.queues {
		out = append(out, q.Stats())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Recover replays unacknowledged journal entries into their queues. Queues
// must exist before Recover is called.
func (m *Manager) Recover() (int, error) {
	if m.journal == nil {
		return 0, nil
	}
	pending, err := m.journal.Pending()
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, e := range pending {
		q, ok := m.GetQueue(e.Queue)
		if !ok {
			m.log.Warn().Str("queue", e.Queue).Str("message_id", e.Message.ID).Msg("journal entry for unknown queue dropped")
			m.journal.Ack(e.Message.ID)
			continue
		}
		if err := q.Push(e.Message); err != nil {
			m.log.Warn().Err(err).Str("queue", e.Queue).Msg("journal entry not restored")
			m.journal.Ack(e.Message.ID)
			continue
		}
		restored++
	}
	if restored > 0 {
		m.log.Info().Int("restored", restored).Msg("recovered pending messages from journal")
	}
	return restored, nil
}

// Close flushes and closes the journal.
func (m *Manager) Close() error {
	if m.journal == nil {
		return nil
	}
	return m.journal.Close()
}
