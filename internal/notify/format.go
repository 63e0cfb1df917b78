package notify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"mcp-core/internal/signal"
	"mcp-core/pkg/i18n"
)

func price(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.String()
}

// NewSignalAlert announces a newly ingested signal.
func NewSignalAlert(s *signal.TradeSignal) Alert {
	m := i18n.M()
	return Alert{
		Event:    EventNewSignal,
		Title:    fmt.Sprintf(m.NewSignalTitle, strings.ToUpper(string(s.Side)), s.Symbol),
		Body:     fmt.Sprintf(m.NewSignalBody, price(s.Entry), price(s.StopLoss), price(s.TakeProfit), s.ProviderName),
		SignalID: s.ID,
		Data: map[string]string{
			"symbol":     s.Symbol,
			"side":       string(s.Side),
			"marketType": string(s.MarketType),
		},
	}
}

// SignalClosedAlert announces a terminal status transition.
func SignalClosedAlert(s *signal.TradeSignal) Alert {
	m := i18n.M()
	return Alert{
		Event:    EventSignalClosed,
		Title:    fmt.Sprintf(m.SignalClosedTitle, s.Symbol),
		Body:     fmt.Sprintf(m.SignalClosedBody, strings.ToUpper(string(s.Side)), s.Symbol, s.Status, price(s.ClosePrice)),
		SignalID: s.ID,
		Urgent:   true,
		Data: map[string]string{
			"symbol": s.Symbol,
			"status": string(s.Status),
			"pnl":    price(s.PnL),
		},
	}
}

// ExecutionAlert announces an order accepted by a broker.
func ExecutionAlert(brokerID, orderID string, s *signal.TradeSignal) Alert {
	m := i18n.M()
	return Alert{
		Event:    EventExecution,
		Title:    fmt.Sprintf(m.ExecutionTitle, brokerID),
		Body:     fmt.Sprintf(m.ExecutionBody, strings.ToUpper(string(s.Side)), s.Symbol, orderID),
		SignalID: s.ID,
		Data: map[string]string{
			"broker":  brokerID,
			"orderId": orderID,
			"symbol":  s.Symbol,
		},
	}
}
