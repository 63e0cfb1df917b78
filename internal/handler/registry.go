// Package handler holds the registry of inbound message handlers and the
// entry point that turns raw client messages into queued bus messages.
package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"mcp-core/internal/message"
)

var (
	ErrHandlerNotFound = errors.New("handler not found")
	ErrMissingType     = errors.New("message type is missing")
)

// Raw is an inbound message as decoded from JSON.
type Raw map[string]any

// Handler consumes raw inbound messages of one source.
type Handler interface {
	ID() (string, error)
	HandleMessage(ctx context.Context, raw Raw) error
}

// Enqueuer accepts messages for a named queue.
type Enqueuer interface {
	Enqueue(queue string, msg message.Message) error
}

// Result describes where ProcessMessage placed a message.
type Result struct {
	MessageID string           `json:"id"`
	Type      message.Type     `json:"type"`
	Queue     string           `json:"queue"`
	Priority  message.Priority `json:"priority"`
}

// Registry keeps handlers by id and classifies raw messages onto queues.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
	ordinal  int

	queues Enqueuer
	log    zerolog.Logger
}

// NewRegistry creates a registry that enqueues into queues.
func NewRegistry(queues Enqueuer, log zerolog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		queues:   queues,
		log:      log,
	}
}

// Register adds h and returns the id it is stored under. If h cannot report
// an id (error, panic or empty string) it is registered as handler-<n>,
// n being its 1-based registration ordinal.
func (r *Registry) Register(h Handler) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ordinal++
	id, err := safeID(h)
	if err != nil || id == "" {
		fallback := fmt.Sprintf("handler-%d", r.ordinal)
		r.log.Warn().Err(err).Str("handler_id", fallback).Msg("handler id unavailable, using fallback")
		id = fallback
	}
	if _, exists := r.handlers[id]; !exists {
		r.order = append(r.order, id)
	} else {
		r.log.Warn().Str("handler_id", id).Msg("handler replaced")
	}
	r.handlers[id] = h
	r.log.Info().Str("handler_id", id).Msg("handler registered")
	return id
}

func safeID(h Handler) (id string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler id panic: %v", rec)
		}
	}()
	return h.ID()
}

// Handler returns the handler registered under id.
func (r *Registry) Handler(id string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	return h, ok
}

// Handlers returns registered handler ids in registration order.
func (r *Registry) Handlers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Dispatch hands raw to the handler registered under id.
func (r *Registry) Dispatch(ctx context.Context, id string, raw Raw) error {
	h, ok := r.Handler(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrHandlerNotFound, id)
	}
	return h.HandleMessage(ctx, raw)
}

// ProcessMessage classifies a raw client message and enqueues it. Messages
// without a type are logged and dropped: the result is nil and so is the
// error. Undecodable bodies are returned as errors.
func (r *Registry) ProcessMessage(ctx context.Context, clientID string, raw Raw) (*Result, error) {
	rawType, _ := raw["type"].(string)
	if rawType == "" {
		r.log.Warn().Err(ErrMissingType).Str("client_id", clientID).Msg("dropping message")
		return nil, nil
	}

	t := message.TypeFor(rawType)
	payload, err := message.Decode(t, raw, clientID)
	if err != nil {
		r.log.Warn().Err(err).Str("client_id", clientID).Str("type", rawType).Msg("dropping undecodable message")
		return nil, err
	}

	priority := message.PriorityFor(rawType)
	msg := message.New(priority, payload,
		message.WithSource(clientID),
		message.WithMetadata("rawType", rawType),
	)
	queue := message.QueueFor(t)
	if err := r.queues.Enqueue(queue, msg); err != nil {
		return nil, err
	}
	r.log.Debug().
		Str("client_id", clientID).
		Str("message_id", msg.ID).
		Str("queue", queue).
		Stringer("priority", priority).
		Msg("message enqueued")
	return &Result{MessageID: msg.ID, Type: t, Queue: queue, Priority: priority}, nil
}
