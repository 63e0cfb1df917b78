package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"mcp-core/internal/events"
	"mcp-core/internal/message"
	"mcp-core/internal/signal"
)

type scriptedFetcher struct {
	mu      sync.Mutex
	results []error
	items   []map[string]any
	calls   int
}

func (f *scriptedFetcher) Fetch(ctx context.Context) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.results) && f.results[i] != nil {
		return nil, f.results[i]
	}
	return f.items, nil
}

type recordingSubmitter struct {
	mu      sync.Mutex
	signals []*signal.TradeSignal
}

func (s *recordingSubmitter) ProcessMessage(sig *signal.TradeSignal) (message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
	return message.New(message.PriorityHigh, message.SignalPayload{Signal: sig}), nil
}

func newTestPoller(f Fetcher, sub Submitter, bus *events.Bus) (*Poller, *[]time.Duration) {
	p := NewPoller(f, sub, bus, Config{Provider: "test-feed"}, zerolog.Nop())
	p.limiter = rate.NewLimiter(rate.Inf, 1)
	var slept []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return p, &slept
}

var feedItems = []map[string]any{
	{"id": "ext-1", "symbol": "BTCUSDT", "side": "buy", "entry": "65000", "stop": "64000", "target": "67000"},
	{"symbol": "EURUSD", "direction": "short", "price": "1.0825"},
	{"symbol": "", "side": "buy"},
}

func TestFetchRetriesWithBackoffTable(t *testing.T) {
	boom := errors.New("unavailable")
	f := &scriptedFetcher{results: []error{boom, boom, nil}, items: feedItems}
	p, slept := newTestPoller(f, &recordingSubmitter{}, nil)

	items, stale, err := p.Fetch(context.Background())
	if err != nil || stale {
		t.Fatalf("expected fresh data, got stale=%v err=%v", stale, err)
	}
	if len(items) != 3 {
		t.Errorf("expected 3 items, got %d", len(items))
	}
	want := []time.Duration{time.Second, 5 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, *slept)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i, want[i], (*slept)[i])
		}
	}
}

func TestFetchFallsBackToLastSnapshot(t *testing.T) {
	boom := errors.New("unavailable")
	bus := events.NewBus()
	degraded, unsub := bus.Subscribe(events.EventFeedDegraded, 4)
	defer unsub()

	f := &scriptedFetcher{results: []error{nil, boom, boom, boom, boom}, items: feedItems}
	p, slept := newTestPoller(f, &recordingSubmitter{}, bus)

	if _, _, err := p.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}
	items, stale, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fallback should not fail: %v", err)
	}
	if !stale || len(items) != 3 {
		t.Errorf("expected stale snapshot of 3 items, got stale=%v len=%d", stale, len(items))
	}
	if f.calls != 5 {
		t.Errorf("expected 1 + 1 + %d retries = 5 calls, got %d", DefaultMaxRetries, f.calls)
	}
	if len(*slept) != DefaultMaxRetries {
		t.Errorf("expected %d delays, got %v", DefaultMaxRetries, *slept)
	}
	select {
	case ev := <-degraded:
		if fail, ok := ev.(events.Failure); !ok || fail.Component != "feed" {
			t.Errorf("unexpected event %#v", ev)
		}
	default:
		t.Error("expected degraded event")
	}
}

func TestFetchWithoutSnapshotFails(t *testing.T) {
	boom := errors.New("unavailable")
	f := &scriptedFetcher{results: []error{boom, boom, boom, boom}}
	p, _ := newTestPoller(f, &recordingSubmitter{}, nil)

	if _, _, err := p.Fetch(context.Background()); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestPollSubmitsOnlyNewSignals(t *testing.T) {
	sub := &recordingSubmitter{}
	f := &scriptedFetcher{items: feedItems}
	p, _ := newTestPoller(f, sub, nil)

	n, err := p.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 submitted (one malformed skipped), got %d", n)
	}
	if sub.signals[0].ID != "ext-1" || sub.signals[0].Provider != "test-feed" {
		t.Errorf("unexpected first signal %+v", sub.signals[0])
	}
	if sub.signals[1].Side != signal.SideSell {
		t.Errorf("expected sell, got %s", sub.signals[1].Side)
	}

	n, err = p.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || len(sub.signals) != 2 {
		t.Errorf("second poll should submit nothing, got %d (total %d)", n, len(sub.signals))
	}
}

func TestHTTPFetcherShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"array", `[{"symbol":"BTCUSDT"},{"symbol":"ETHUSDT"}]`, 2},
		{"wrapped", `{"signals":[{"symbol":"BTCUSDT"}]}`, 1},
		{"single", `{"symbol":"BTCUSDT","side":"buy"}`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			items, err := NewHTTPFetcher(srv.URL).Fetch(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if len(items) != tt.want {
				t.Errorf("expected %d items, got %d", tt.want, len(items))
			}
		})
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()
	if _, err := NewHTTPFetcher(srv.URL).Fetch(context.Background()); err == nil {
		t.Error("expected error on 502")
	}
}

type blockingFetcher struct {
	started  chan struct{}
	returned chan struct{}
}

func (f *blockingFetcher) Fetch(ctx context.Context) ([]map[string]any, error) {
	close(f.started)
	<-ctx.Done()
	close(f.returned)
	return nil, ctx.Err()
}

func TestStopWaitsForInFlightPoll(t *testing.T) {
	f := &blockingFetcher{started: make(chan struct{}), returned: make(chan struct{})}
	p, _ := newTestPoller(f, &recordingSubmitter{}, nil)
	p.Start(context.Background())
	p.Start(context.Background())

	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not start")
	}

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	select {
	case <-f.returned:
	default:
		t.Error("Stop returned before the in-flight fetch finished")
	}
	p.Stop()
}
