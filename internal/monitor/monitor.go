package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"mcp-core/internal/events"
	"mcp-core/internal/notify"
)

// Monitor watches failure events and raises operator alerts. Alerts are
// rate limited so a failing dependency cannot flood the channels.
type Monitor struct {
	Bus     *events.Bus
	Sink    notify.Sink
	Limiter *rate.Limiter
	Log     zerolog.Logger
}

// NewMonitor allows one alert per 30s with a burst of 3.
func NewMonitor(bus *events.Bus, sink notify.Sink, log zerolog.Logger) *Monitor {
	return &Monitor{
		Bus:     bus,
		Sink:    sink,
		Limiter: rate.NewLimiter(rate.Every(30*time.Second), 3),
		Log:     log,
	}
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		m.Log.Info().Msg("monitor not fully configured; skipping")
		return
	}
	failures, unsubFailures := m.Bus.Subscribe(events.EventProcessorFailure, 50)
	rejections, unsubRejections := m.Bus.Subscribe(events.EventQueueRejected, 50)
	degraded, unsubDegraded := m.Bus.Subscribe(events.EventFeedDegraded, 10)
	go func() {
		defer unsubFailures()
		defer unsubRejections()
		defer unsubDegraded()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-failures:
				if !ok {
					return
				}
				m.alert(ctx, formatAlert(msg))
			case msg, ok := <-rejections:
				if !ok {
					return
				}
				m.alert(ctx, formatAlert(msg))
			case msg, ok := <-degraded:
				if !ok {
					return
				}
				m.alert(ctx, formatAlert(msg))
			}
		}
	}()
}

func (m *Monitor) alert(ctx context.Context, a notify.Alert) {
	if m.Limiter != nil && !m.Limiter.Allow() {
		m.Log.Debug().Str("title", a.Title).Msg("alert suppressed by rate limit")
		return
	}
	if err := m.Sink.Notify(ctx, a); err != nil {
		m.Log.Warn().Err(err).Msg("operator alert failed")
	}
}

func formatAlert(msg any) notify.Alert {
	a := notify.Alert{Event: "operator_alert", Urgent: true}
	switch t := msg.(type) {
	case events.Failure:
		a.Title = fmt.Sprintf("%s failure on %s", t.Component, t.Queue)
		a.Body = fmt.Sprintf("[%s] message %s: %v", t.At.Format(time.RFC3339), t.MessageID, t.Err)
	case string:
		a.Title = t
	default:
		a.Title = "alert triggered"
	}
	return a
}
