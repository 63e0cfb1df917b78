// Package message defines the unit that flows through the control plane bus:
// a closed set of message types, their payload variants, and the pure
// functions that classify raw inbound types onto queues and priorities.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Type enumerates the message kinds the bus understands.
type Type string

const (
	TypeTradingSignal Type = "trading_signal"
	TypeSignalStatus  Type = "signal_status"
	TypeNotification  Type = "notification"
	TypeMarketData    Type = "market_data"
	TypeUserAction    Type = "user_action"
	TypeSystem        Type = "system"
)

// Types lists every known message type.
var Types = []Type{TypeTradingSignal, TypeSignalStatus, TypeNotification, TypeMarketData, TypeUserAction, TypeSystem}

// Priority orders messages inside a queue. Lower value is served first.
type Priority int

const (
	PriorityHighest Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

// Priorities lists the priority classes in service order.
var Priorities = []Priority{PriorityHighest, PriorityHigh, PriorityMedium, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityHighest:
		return "HIGHEST"
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityLow:
		return "LOW"
	}
	return "UNKNOWN"
}

// Valid reports whether p is one of the declared classes.
func (p Priority) Valid() bool {
	return p >= PriorityHighest && p <= PriorityLow
}

// Message is immutable once enqueued.
type Message struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	Priority  Priority          `json:"priority"`
	Payload   Payload           `json:"payload"`
	CreatedAt time.Time         `json:"createdAt"`
	Source    string            `json:"source,omitempty"`
	Target    string            `json:"target,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Option customizes a message at construction.
type Option func(*Message)

// WithSource records the producing client or handler.
func WithSource(source string) Option {
	return func(m *Message) { m.Source = source }
}

// WithTarget records the intended recipient.
func WithTarget(target string) Option {
	return func(m *Message) { m.Target = target }
}

// WithMetadata attaches a metadata entry.
func WithMetadata(key, value string) Option {
	return func(m *Message) {
		if m.Metadata == nil {
			m.Metadata = make(map[string]string)
		}
		m.Metadata[key] = value
	}
}

// New wraps a payload into a message. The type is taken from the payload.
func New(priority Priority, payload Payload, opts ...Option) Message {
	m := Message{
		ID:        uuid.NewString(),
		Type:      payload.MessageType(),
		Priority:  priority,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}
