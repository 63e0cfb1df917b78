package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"firebase.google.com/go/messaging"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mcp-core/internal/signal"
)

type recordingSink struct {
	name   string
	err    error
	alerts []Alert
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Notify(_ context.Context, a Alert) error {
	s.alerts = append(s.alerts, a)
	return s.err
}

func TestFanoutContinuesPastFailures(t *testing.T) {
	bad := &recordingSink{name: "bad", err: errors.New("down")}
	good := &recordingSink{name: "good"}
	f := NewFanout(zerolog.Nop(), bad, good)

	err := f.Notify(context.Background(), Alert{Event: EventNewSignal, Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Errorf("expected error naming failed sink, got %v", err)
	}
	if len(good.alerts) != 1 {
		t.Error("healthy sink did not receive alert")
	}
}

func TestDiscordPostsEmbed(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL)
	err := d.Notify(context.Background(), Alert{Title: "Signal closed", Body: "tp", SignalID: "s1", Urgent: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Embeds) != 1 || got.Embeds[0].Title != "Signal closed" || got.Embeds[0].Color != discordColorUrgent {
		t.Errorf("unexpected payload: %+v", got)
	}
	if len(got.Embeds[0].Fields) != 1 || got.Embeds[0].Fields[0].Value != "s1" {
		t.Errorf("signal field missing: %+v", got.Embeds[0].Fields)
	}
}

func TestDiscordReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if err := NewDiscord(srv.URL).Notify(context.Background(), Alert{Title: "x"}); err == nil {
		t.Error("expected error on 429")
	}
	if err := NewDiscord("").Notify(context.Background(), Alert{Title: "x"}); err != nil {
		t.Errorf("unconfigured webhook should be a no-op, got %v", err)
	}
}

type fakeMessaging struct {
	sent []*messaging.Message
}

func (f *fakeMessaging) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.sent = append(f.sent, m)
	return "projects/x/messages/1", nil
}

func TestFCMMessage(t *testing.T) {
	client := &fakeMessaging{}
	f := NewFCMWithClient(client, "")

	if err := f.Notify(context.Background(), Alert{Event: EventSignalClosed, Title: "T", Body: "B", SignalID: "s1", Urgent: true, Data: map[string]string{"pnl": "12.5"}}); err != nil {
		t.Fatal(err)
	}
	m := client.sent[0]
	if m.Topic != "signals" || m.Notification.Title != "T" {
		t.Errorf("unexpected message: %+v", m)
	}
	if m.Data["event"] != EventSignalClosed || m.Data["signalId"] != "s1" || m.Data["pnl"] != "12.5" {
		t.Errorf("unexpected data: %v", m.Data)
	}
	if m.Android == nil || m.Android.Priority != "high" {
		t.Error("urgent alerts should be high priority")
	}
}

func TestSignalAlerts(t *testing.T) {
	s := &signal.TradeSignal{
		ID:           "s1",
		Symbol:       "EURUSD",
		Side:         signal.SideBuy,
		Entry:        decimal.NewNullDecimal(decimal.RequireFromString("1.0850")),
		TakeProfit:   decimal.NewNullDecimal(decimal.RequireFromString("1.0950")),
		ProviderName: "TradingView",
		CreatedAt:    time.Now(),
	}
	a := NewSignalAlert(s)
	if a.Event != EventNewSignal || !strings.Contains(a.Title, "EURUSD") || !strings.Contains(a.Body, "1.085") {
		t.Errorf("unexpected alert: %+v", a)
	}
	if !strings.Contains(a.Body, "SL -") {
		t.Errorf("missing stop should render as dash: %s", a.Body)
	}

	s.Status = signal.StatusTPHit
	s.ClosePrice = s.TakeProfit
	c := SignalClosedAlert(s)
	if !c.Urgent || !strings.Contains(c.Body, "tp_hit") || !strings.Contains(c.Body, "1.095") {
		t.Errorf("unexpected closed alert: %+v", c)
	}

	e := ExecutionAlert("paper", "o-1", s)
	if e.Data["orderId"] != "o-1" || !strings.Contains(e.Title, "paper") {
		t.Errorf("unexpected execution alert: %+v", e)
	}
}
