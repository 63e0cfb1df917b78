package message

import (
	"encoding/json"
	"errors"
	"testing"

	"mcp-core/internal/signal"
)

func TestTypeAndQueueClassification(t *testing.T) {
	tests := []struct {
		raw       string
		wantType  Type
		wantQueue string
	}{
		{"trading_signal", TypeTradingSignal, QueueTradingSignals},
		{"tradingview", TypeTradingSignal, QueueTradingSignals},
		{"NEW_ORDER", TypeTradingSignal, QueueTradingSignals},
		{"signal_status_update", TypeSignalStatus, QueueTradingSignals},
		{"notification", TypeNotification, QueueNotifications},
		{"price_alert", TypeNotification, QueueNotifications},
		{"market_data", TypeMarketData, QueueMarketData},
		{"ticker", TypeMarketData, QueueMarketData},
		{"user_subscribe", TypeUserAction, QueueUserActions},
		{"heartbeat", TypeSystem, QueueSystem},
		{"", TypeSystem, QueueSystem},
	}
	for _, tt := range tests {
		if got := TypeFor(tt.raw); got != tt.wantType {
			t.Errorf("TypeFor(%q)=%s, want %s", tt.raw, got, tt.wantType)
		}
		if got := QueueForRaw(tt.raw); got != tt.wantQueue {
			t.Errorf("QueueForRaw(%q)=%s, want %s", tt.raw, got, tt.wantQueue)
		}
	}
}

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		raw  string
		want Priority
	}{
		{"emergency_halt", PriorityHighest},
		{"trading_signal", PriorityHigh},
		{"signal_status", PriorityHigh},
		{"market_data", PriorityMedium},
		{"notification", PriorityMedium},
		{"user_subscribe", PriorityLow},
		{"heartbeat", PriorityLow},
	}
	for _, tt := range tests {
		if got := PriorityFor(tt.raw); got != tt.want {
			t.Errorf("PriorityFor(%q)=%s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestDecodeVariants(t *testing.T) {
	p, err := Decode(TypeTradingSignal, map[string]any{
		"type": "tradingview",
		"data": map[string]any{"symbol": "EURUSD", "side": "sell", "entry": "1.08253"},
	}, "tradingview")
	if err != nil {
		t.Fatalf("Decode signal: %v", err)
	}
	sp, ok := p.(SignalPayload)
	if !ok || sp.Signal.Entry.Decimal.String() != "1.08253" {
		t.Fatalf("unexpected signal payload: %#v", p)
	}

	p, err = Decode(TypeSignalStatus, map[string]any{"signalId": "abc", "status": "tp_hit"}, "")
	if err != nil {
		t.Fatalf("Decode status: %v", err)
	}
	if st := p.(StatusPayload); st.SignalID != "abc" || st.Status != signal.StatusTPHit {
		t.Fatalf("unexpected status payload: %#v", st)
	}

	if _, err := Decode(TypeSignalStatus, map[string]any{"status": "tp_hit"}, ""); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if _, err := Decode(TypeMarketData, map[string]any{"price": 1}, ""); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for missing symbol, got %v", err)
	}
}

func TestMessageJSONRestoresPayload(t *testing.T) {
	orig := New(PriorityHigh, StatusPayload{SignalID: "s-1", Status: signal.StatusSLHit},
		WithSource("client-1"), WithMetadata("queue", QueueTradingSignals))

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	st, ok := got.Payload.(StatusPayload)
	if !ok {
		t.Fatalf("payload type %T", got.Payload)
	}
	if got.ID != orig.ID || got.Source != "client-1" || st.SignalID != "s-1" || st.Status != signal.StatusSLHit {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
