package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"mcp-core/internal/events"
	"mcp-core/internal/message"
	"mcp-core/internal/notify"
	"mcp-core/internal/queue"
	"mcp-core/internal/router"
	"mcp-core/internal/signal"
)

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{5, 1, 3, 10} {
		h.Record(v)
	}
	st := h.Stats()
	if st.Count != 3 || st.Min != 1 || st.Max != 10 {
		t.Errorf("window not applied: %+v", st)
	}
	if st.Avg != (1.0+3+10)/3 {
		t.Errorf("unexpected avg %v", st.Avg)
	}
}

func TestSnapshotCarriesQueueStats(t *testing.T) {
	m := NewSystemMetrics()
	m.ObserveProcessed("signal", 4*time.Millisecond)
	m.ObserveStore("save", 2*time.Millisecond)
	m.QueueObserver().Failed("system")
	m.SetQueueStats([]queue.Stats{{Name: "system", Size: 2}})
	m.SetClients(4)

	snap := m.GetSnapshot()
	if snap.MessagesProcessed != 1 || snap.ErrorsCount != 1 || snap.Clients != 4 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if len(snap.Queues) != 1 || snap.Queues[0].Size != 2 {
		t.Errorf("queue stats missing: %+v", snap.Queues)
	}
	if snap.ProcessLatency.Count != 1 || snap.DBLatency.Count != 1 {
		t.Errorf("latencies not recorded: process=%+v db=%+v", snap.ProcessLatency, snap.DBLatency)
	}
}

func TestCollectorsExposeSeries(t *testing.T) {
	c := NewCollectors()
	obs := c.QueueObserver()
	obs.Enqueued("system", message.PriorityHigh)
	obs.Rejected("system")
	c.ObserveRouting("paper", true)
	c.ObserveProcessed("signal", 5*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`mcp_messages_enqueued_total{priority="HIGH",queue="system"} 1`,
		`mcp_messages_rejected_total{queue="system"} 1`,
		`mcp_routing_outcomes_total{broker="paper",result="success"} 1`,
		`mcp_messages_processed_total{processor="signal"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

type chanSink struct {
	mu     sync.Mutex
	alerts []notify.Alert
	done   chan struct{}
}

func (s *chanSink) Name() string { return "test" }

func (s *chanSink) Notify(_ context.Context, a notify.Alert) error {
	s.mu.Lock()
	s.alerts = append(s.alerts, a)
	s.mu.Unlock()
	s.done <- struct{}{}
	return nil
}

func TestMonitorForwardsFailures(t *testing.T) {
	bus := events.NewBus()
	sink := &chanSink{done: make(chan struct{}, 4)}
	m := NewMonitor(bus, sink, zerolog.Nop())
	m.Limiter = rate.NewLimiter(rate.Inf, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	bus.Publish(events.EventProcessorFailure, events.Failure{
		Component: "signal", Queue: "trading_signals", MessageID: "m1", Err: errors.New("boom"), At: time.Now(),
	})

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("alert not forwarded")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if !strings.Contains(sink.alerts[0].Title, "signal failure") || !strings.Contains(sink.alerts[0].Body, "boom") {
		t.Errorf("unexpected alert: %+v", sink.alerts[0])
	}
}

func TestMonitorRateLimits(t *testing.T) {
	sink := &chanSink{done: make(chan struct{}, 10)}
	m := NewMonitor(events.NewBus(), sink, zerolog.Nop())
	m.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	for i := 0; i < 3; i++ {
		m.alert(context.Background(), formatAlert("queue full"))
	}
	if len(sink.alerts) != 1 {
		t.Errorf("expected 1 alert through the limiter, got %d", len(sink.alerts))
	}
}

func TestMonitorAlertsOnQueueRejection(t *testing.T) {
	bus := events.NewBus()
	sink := &chanSink{done: make(chan struct{}, 4)}
	m := NewMonitor(bus, sink, zerolog.Nop())
	m.Limiter = rate.NewLimiter(rate.Inf, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	queues := queue.NewManager(1, queue.WithEvents(bus))
	queues.CreateQueue(message.QueueSystem)
	for i := 0; i < 2; i++ {
		msg := message.New(message.PriorityLow, message.SystemPayload{Command: "persist"})
		err := queues.Enqueue(message.QueueSystem, msg)
		if i == 1 && !errors.Is(err, queue.ErrQueueFull) {
			t.Fatalf("expected ErrQueueFull, got %v", err)
		}
	}

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("rejection alert not sent")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if !strings.Contains(sink.alerts[0].Title, "queue failure on system") || !strings.Contains(sink.alerts[0].Body, "full") {
		t.Errorf("unexpected alert: %+v", sink.alerts[0])
	}
}

func TestCollectorsTrackBusEvents(t *testing.T) {
	bus := events.NewBus()
	c := NewCollectors()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Track(ctx, bus)

	bus.Publish(events.EventSignalClosed, &signal.TradeSignal{ID: "s1", Status: signal.StatusTPHit})
	bus.Publish(events.EventRoutingCompleted, router.RoutingResult{
		Strategy: router.StrategyAll,
		Results:  []router.BrokerResult{{BrokerID: "paper", Success: true}},
	})

	want := []string{
		`mcp_signals_closed_total{status="tp_hit"} 1`,
		`mcp_routings_total{result="success",strategy="all"} 1`,
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec := httptest.NewRecorder()
		c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		body := rec.Body.String()
		missing := ""
		for _, w := range want {
			if !strings.Contains(body, w) {
				missing = w
				break
			}
		}
		if missing == "" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("metrics output missing %q", missing)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
