// Package notify delivers alerts produced by the control plane to external
// channels (Telegram, Discord, Firebase push).
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Alert events.
const (
	EventNewSignal    = "new_signal"
	EventSignalClosed = "signal_closed"
	EventExecution    = "execution"
)

// Alert is a channel-agnostic notification.
type Alert struct {
	Event    string
	Title    string
	Body     string
	SignalID string
	Urgent   bool
	Data     map[string]string
}

// Text renders the alert as plain text.
func (a Alert) Text() string {
	var b strings.Builder
	if a.Urgent {
		b.WriteString("[!] ")
	}
	b.WriteString(a.Title)
	if a.Body != "" {
		b.WriteString("\n")
		b.WriteString(a.Body)
	}
	return b.String()
}

// Sink delivers alerts to one channel.
type Sink interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}

// Fanout delivers every alert to all sinks. A failing sink does not stop
// delivery to the others.
type Fanout struct {
	sinks   []Sink
	timeout time.Duration
	log     zerolog.Logger
}

func NewFanout(log zerolog.Logger, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, timeout: 10 * time.Second, log: log}
}

// Add appends a sink.
func (f *Fanout) Add(s Sink) { f.sinks = append(f.sinks, s) }

// Len returns the number of sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

func (f *Fanout) Name() string { return "fanout" }

func (f *Fanout) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range f.sinks {
		sctx, cancel := context.WithTimeout(ctx, f.timeout)
		err := s.Notify(sctx, a)
		cancel()
		if err != nil {
			f.log.Warn().Err(err).Str("sink", s.Name()).Str("event", a.Event).Msg("notification failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		f.log.Debug().Str("sink", s.Name()).Str("event", a.Event).Msg("notification sent")
	}
	return errors.Join(errs...)
}
