// Package queue implements the named, bounded priority queues of the bus.
//
// Each queue keeps one FIFO lane per priority class and serves lanes from
// highest to lowest. Queues are bounded: when full, Enqueue rejects the new
// message with ErrQueueFull (reject-newest) and counts the rejection; nothing
// already queued is evicted.
package queue

import (
	"errors"
	"sync"

	"mcp-core/internal/message"
)

var (
	ErrUnknownQueue = errors.New("unknown queue")
	ErrQueueFull    = errors.New("queue is full")
	ErrQueueExists  = errors.New("queue already exists")
)

// DefaultMaxSize bounds queues created without an explicit size.
const DefaultMaxSize = 1000

// Stats is a point-in-time view of queue counters.
type Stats struct {
	Name     string `json:"name"`
	Size     int    `json:"size"`
	MaxSize  int    `json:"maxSize"`
	Enqueued uint64 `json:"enqueued"`
	Dequeued uint64 `json:"dequeued"`
	Rejected uint64 `json:"rejected"`
	Errors   uint64 `json:"errors"`
}

// Queue is a bounded priority queue, FIFO within a priority class.
type Queue struct {
	name    string
	maxSize int

	mu    sync.Mutex
	lanes [len(laneOrder)][]message.Message
	size  int

	enqueued uint64
	dequeued uint64
	rejected uint64
	errors   uint64
}

var laneOrder = [...]message.Priority{
	message.PriorityHighest,
	message.PriorityHigh,
	message.PriorityMedium,
	message.PriorityLow,
}

func newQueue(name string, maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Queue{name: name, maxSize: maxSize}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// MaxSize returns the configured bound.
func (q *Queue) MaxSize() int { return q.maxSize }

// Push appends m to its priority lane, or rejects it when the queue is full.
func (q *Queue) Push(m message.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size >= q.maxSize {
		q.rejected++
		return ErrQueueFull
	}
	lane := laneIndex(m.Priority)
	q.lanes[lane] = append(q.lanes[lane], m)
	q.size++
	q.enqueued++
	return nil
}

// Pop removes the oldest message of the highest non-empty priority class.
// It never blocks; ok is false when the queue is empty.
func (q *Queue) Pop() (message.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.lanes {
		if len(q.lanes[i]) == 0 {
			continue
		}
		m := q.lanes[i][0]
		q.lanes[i][0] = message.Message{}
		q.lanes[i] = q.lanes[i][1:]
		q.size--
		q.dequeued++
		return m, true
	}
	return message.Message{}, false
}

// Len returns the current depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// RecordError counts a failed processing attempt for a dequeued message.
func (q *Queue) RecordError() {
	q.mu.Lock()
	q.errors++
	q.mu.Unlock()
}

// Stats returns the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Name:     q.name,
		Size:     q.size,
		MaxSize:  q.maxSize,
		Enqueued: q.enqueued,
		Dequeued: q.dequeued,
		Rejected: q.rejected,
		Errors:   q.errors,
	}
}

func laneIndex(p message.Priority) int {
	if !p.Valid() {
		return len(laneOrder) - 1
	}
	return int(p)
}
