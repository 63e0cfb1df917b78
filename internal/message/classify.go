package message

import "strings"

// Queue names owned by the bus.
const (
	QueueTradingSignals = "trading_signals"
	QueueNotifications  = "notifications"
	QueueMarketData     = "market_data"
	QueueUserActions    = "user_actions"
	QueueSystem         = "system"
)

// QueueNames lists every queue the control plane creates.
var QueueNames = []string{QueueTradingSignals, QueueNotifications, QueueMarketData, QueueUserActions, QueueSystem}

// TypeFor maps a raw inbound type string onto the closed message type set.
// Matching is keyword based and case-insensitive.
func TypeFor(raw string) Type {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case containsAny(s, "status", "close", "update_signal"):
		return TypeSignalStatus
	case containsAny(s, "signal", "trade", "order", "webhook", "tradingview"):
		return TypeTradingSignal
	case containsAny(s, "notif", "alert", "discord", "push"):
		return TypeNotification
	case containsAny(s, "market", "price", "ticker", "quote", "candle", "kline"):
		return TypeMarketData
	case containsAny(s, "user", "subscribe", "session", "preference", "register"):
		return TypeUserAction
	}
	return TypeSystem
}

// QueueFor returns the queue that owns messages of type t.
func QueueFor(t Type) string {
	switch t {
	case TypeTradingSignal, TypeSignalStatus:
		return QueueTradingSignals
	case TypeNotification:
		return QueueNotifications
	case TypeMarketData:
		return QueueMarketData
	case TypeUserAction:
		return QueueUserActions
	}
	return QueueSystem
}

// QueueForRaw classifies a raw type string straight to a queue name.
func QueueForRaw(raw string) string {
	return QueueFor(TypeFor(raw))
}

// PriorityFor derives a priority from a raw inbound type string.
func PriorityFor(raw string) Priority {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case containsAny(s, "emergency", "critical", "error", "panic", "halt"):
		return PriorityHighest
	case containsAny(s, "signal", "order", "trade", "status", "execution", "close"):
		return PriorityHigh
	case containsAny(s, "market", "price", "ticker", "notif", "alert"):
		return PriorityMedium
	}
	return PriorityLow
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
