package message

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mcp-core/internal/signal"
)

var ErrInvalidPayload = errors.New("invalid message payload")

// Payload is implemented by exactly one variant per message Type.
type Payload interface {
	MessageType() Type
}

// SignalPayload carries a newly ingested trade signal.
type SignalPayload struct {
	Signal *signal.TradeSignal `json:"signal"`
}

// StatusPayload requests a status transition for an existing signal.
type StatusPayload struct {
	SignalID string              `json:"signalId"`
	Status   signal.Status       `json:"status"`
	PnL      decimal.NullDecimal `json:"pnl"`
}

// NotificationPayload is an alert destined for notification sinks.
type NotificationPayload struct {
	Event    string         `json:"event"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	SignalID string         `json:"signalId,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// MarketDataPayload is a market snapshot for one symbol.
type MarketDataPayload struct {
	Symbol string              `json:"symbol"`
	Price  decimal.NullDecimal `json:"price"`
	Data   map[string]any      `json:"data,omitempty"`
}

// UserActionPayload is an action performed by a connected user.
type UserActionPayload struct {
	UserID string         `json:"userId"`
	Action string         `json:"action"`
	Data   map[string]any `json:"data,omitempty"`
}

// SystemPayload carries control-plane housekeeping commands.
type SystemPayload struct {
	Command string         `json:"command"`
	Data    map[string]any `json:"data,omitempty"`
}

func (SignalPayload) MessageType() Type       { return TypeTradingSignal }
func (StatusPayload) MessageType() Type       { return TypeSignalStatus }
func (NotificationPayload) MessageType() Type { return TypeNotification }
func (MarketDataPayload) MessageType() Type   { return TypeMarketData }
func (UserActionPayload) MessageType() Type   { return TypeUserAction }
func (SystemPayload) MessageType() Type       { return TypeSystem }

// Decode builds the payload variant for t from a raw inbound body. The body
// is the whole inbound object; the "data" or "payload" field is used when
// present.
func Decode(t Type, raw map[string]any, provider string) (Payload, error) {
	body := raw
	for _, k := range []string{"data", "payload"} {
		if inner, ok := raw[k].(map[string]any); ok {
			body = inner
			break
		}
	}

	switch t {
	case TypeTradingSignal:
		sig, err := signal.FromPayload(body, provider, time.Now())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return SignalPayload{Signal: sig}, nil
	case TypeSignalStatus:
		id := str(body, "signalId", "signal_id", "id")
		if id == "" {
			return nil, fmt.Errorf("%w: missing signal id", ErrInvalidPayload)
		}
		status, err := signal.ParseStatus(str(body, "status"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		pnl, err := signal.ParsePrice(body["pnl"])
		if err != nil {
			return nil, fmt.Errorf("%w: pnl: %v", ErrInvalidPayload, err)
		}
		return StatusPayload{SignalID: id, Status: status, PnL: pnl}, nil
	case TypeNotification:
		return NotificationPayload{
			Event:    str(body, "event", "type"),
			Title:    str(body, "title"),
			Body:     str(body, "body", "message", "text"),
			SignalID: str(body, "signalId", "signal_id"),
			Data:     body,
		}, nil
	case TypeMarketData:
		symbol := strings.ToUpper(str(body, "symbol", "ticker"))
		if symbol == "" {
			return nil, fmt.Errorf("%w: missing symbol", ErrInvalidPayload)
		}
		price, err := signal.ParsePrice(first(body, "price", "last", "close"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return MarketDataPayload{Symbol: symbol, Price: price, Data: body}, nil
	case TypeUserAction:
		return UserActionPayload{
			UserID: str(body, "userId", "user_id"),
			Action: str(body, "action", "type"),
			Data:   body,
		}, nil
	case TypeSystem:
		return SystemPayload{Command: str(body, "command", "type"), Data: body}, nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidPayload, t)
}

func first(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func str(m map[string]any, keys ...string) string {
	switch v := first(m, keys...).(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
