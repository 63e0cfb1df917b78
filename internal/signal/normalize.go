package signal

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Field aliases accepted from alert providers, in lookup order.
var (
	symbolKeys     = []string{"symbol", "ticker", "pair", "instrument"}
	sideKeys       = []string{"side", "direction", "action", "order_action"}
	entryKeys      = []string{"entry", "entry_price", "entryPrice", "price", "close"}
	stopKeys       = []string{"stop", "sl", "stop_loss", "stopLoss"}
	targetKeys     = []string{"target", "tp", "take_profit", "takeProfit"}
	providerKeys   = []string{"provider", "source", "strategy"}
	timeframeKeys  = []string{"timeframe", "interval", "tf"}
	notesKeys      = []string{"notes", "comment", "message"}
	brokerKeys     = []string{"targetBroker", "target_broker", "broker"}
	marketTypeKeys = []string{"marketType", "market_type", "asset_class"}
)

// FromPayload normalizes a third-party alert body into a new active signal.
// defaultProvider is used when the body names no provider.
func FromPayload(raw map[string]any, defaultProvider string, now time.Time) (*TradeSignal, error) {
	symbol := strings.ToUpper(strings.TrimSpace(lookupString(raw, symbolKeys)))
	if symbol == "" {
		return nil, ErrMissingSymbol
	}
	side, err := ParseSide(lookupString(raw, sideKeys))
	if err != nil {
		return nil, err
	}

	sig := &TradeSignal{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Status:    StatusActive,
		Timeframe: lookupString(raw, timeframeKeys),
		Notes:     lookupString(raw, notesKeys),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, f := range []struct {
		keys []string
		dst  *decimal.NullDecimal
	}{
		{entryKeys, &sig.Entry},
		{stopKeys, &sig.StopLoss},
		{targetKeys, &sig.TakeProfit},
	} {
		v, err := lookupPrice(raw, f.keys)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}

	sig.Provider = lookupString(raw, providerKeys)
	if sig.Provider == "" {
		sig.Provider = defaultProvider
	}
	sig.ProviderName = lookupString(raw, []string{"providerName", "provider_name"})
	if sig.ProviderName == "" {
		sig.ProviderName = sig.Provider
	}
	sig.TargetBroker = lookupString(raw, brokerKeys)

	sig.MarketType = ClassifyAssetClass(symbol)
	if mt, ok := ParseAssetClass(lookupString(raw, marketTypeKeys)); ok {
		sig.MarketType = mt
	}

	sig.Metadata = map[string]any{
		"marketType": string(sig.MarketType),
		"original":   snapshot(raw),
	}
	return sig, nil
}

// ParseSide maps provider side vocabularies onto buy/sell.
func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long", "bull", "bullish":
		return SideBuy, nil
	case "sell", "short", "bear", "bearish":
		return SideSell, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSide, raw)
}

// ParsePrice converts a JSON-ish value into an exact decimal. Strings and
// json.Number keep every digit; float64 uses the shortest representation
// that round-trips.
func ParsePrice(v any) (decimal.NullDecimal, error) {
	switch t := v.(type) {
	case nil:
		return decimal.NullDecimal{}, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return decimal.NullDecimal{}, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.NullDecimal{}, fmt.Errorf("%w: %q", ErrInvalidPrice, t)
		}
		return decimal.NewNullDecimal(d), nil
	case json.Number:
		return ParsePrice(string(t))
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.NullDecimal{}, fmt.Errorf("%w: %v", ErrInvalidPrice, t)
		}
		return ParsePrice(strconv.FormatFloat(t, 'f', -1, 64))
	case float32:
		return ParsePrice(strconv.FormatFloat(float64(t), 'f', -1, 32))
	case int:
		return decimal.NewNullDecimal(decimal.NewFromInt(int64(t))), nil
	case int64:
		return decimal.NewNullDecimal(decimal.NewFromInt(t)), nil
	case decimal.Decimal:
		return decimal.NewNullDecimal(t), nil
	}
	return decimal.NullDecimal{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidPrice, v)
}

func lookupPrice(raw map[string]any, keys []string) (decimal.NullDecimal, error) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return ParsePrice(v)
		}
	}
	return decimal.NullDecimal{}, nil
}

func lookupString(raw map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case json.Number:
			return t.String()
		case fmt.Stringer:
			return t.String()
		default:
			return fmt.Sprint(t)
		}
	}
	return ""
}

func snapshot(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out
}
