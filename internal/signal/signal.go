// Package signal defines the trade signal entity, its status lifecycle and
// the normalization of third-party alert payloads.
package signal

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the trade direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Status is a point in the signal lifecycle.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusTPHit     Status = "tp_hit"
	StatusSLHit     Status = "sl_hit"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

var (
	ErrInvalidStatus  = errors.New("invalid signal status")
	ErrTerminalStatus = errors.New("signal is in a terminal status")
	ErrMissingSymbol  = errors.New("signal symbol is required")
	ErrInvalidSide    = errors.New("signal side must be buy or sell")
	ErrInvalidPrice   = errors.New("invalid price")
)

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	switch s {
	case StatusActive, StatusCompleted, StatusTPHit, StatusSLHit, StatusCancelled, StatusExpired:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// IsTerminal reports whether no transition may leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusTPHit, StatusSLHit, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// CanTransition checks a move from one status to another. active -> active
// is allowed and treated as a no-op by callers.
func CanTransition(from, to Status) error {
	if _, err := ParseStatus(string(to)); err != nil {
		return err
	}
	if from.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrTerminalStatus, from, to)
	}
	return nil
}

// TradeSignal is a proposed or executed trade recommendation.
type TradeSignal struct {
	ID           string              `json:"id"`
	Symbol       string              `json:"symbol"`
	Side         Side                `json:"side"`
	Entry        decimal.NullDecimal `json:"entry"`
	StopLoss     decimal.NullDecimal `json:"stopLoss"`
	TakeProfit   decimal.NullDecimal `json:"takeProfit"`
	ClosePrice   decimal.NullDecimal `json:"closePrice"`
	PnL          decimal.NullDecimal `json:"pnl"`
	Provider     string              `json:"provider"`
	ProviderName string              `json:"providerName"`
	Timeframe    string              `json:"timeframe"`
	Notes        string              `json:"notes"`
	Status       Status              `json:"status"`
	TargetBroker string              `json:"targetBroker,omitempty"`
	MarketType   AssetClass          `json:"marketType"`
	Metadata     map[string]any      `json:"metadata,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
	ClosedAt     *time.Time          `json:"closedAt,omitempty"`
}

// Clone returns a copy safe to hand to another goroutine.
func (s *TradeSignal) Clone() *TradeSignal {
	if s == nil {
		return nil
	}
	c := *s
	if s.Metadata != nil {
		c.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// ApplyStatus moves the signal to a new status. Terminal statuses fix the
// close timestamp; tp_hit and sl_hit also fix the close price from the
// stored target or stop.
func (s *TradeSignal) ApplyStatus(to Status, pnl decimal.NullDecimal, now time.Time) error {
	if err := CanTransition(s.Status, to); err != nil {
		return err
	}
	s.Status = to
	s.UpdatedAt = now
	if pnl.Valid {
		s.PnL = pnl
	}
	if !to.IsTerminal() {
		return nil
	}
	switch to {
	case StatusTPHit:
		s.ClosePrice = s.TakeProfit
	case StatusSLHit:
		s.ClosePrice = s.StopLoss
	}
	closed := now
	s.ClosedAt = &closed
	return nil
}

// View is the normalized payload broadcast to realtime clients.
type View struct {
	ID           string     `json:"id"`
	Provider     string     `json:"provider"`
	ProviderName string     `json:"providerName"`
	Symbol       string     `json:"symbol"`
	Side         Side       `json:"side"`
	Entry        *string    `json:"entry"`
	StopLoss     *string    `json:"stopLoss"`
	TakeProfit   *string    `json:"takeProfit"`
	ClosePrice   *string    `json:"closePrice,omitempty"`
	Status       Status     `json:"status"`
	MarketType   AssetClass `json:"marketType"`
	Timeframe    string     `json:"timeframe"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	ClosedAt     *time.Time `json:"closedAt,omitempty"`
}

// View renders the signal for broadcast. Prices are exact decimal strings.
func (s *TradeSignal) View() View {
	return View{
		ID:           s.ID,
		Provider:     s.Provider,
		ProviderName: s.ProviderName,
		Symbol:       s.Symbol,
		Side:         s.Side,
		Entry:        priceString(s.Entry),
		StopLoss:     priceString(s.StopLoss),
		TakeProfit:   priceString(s.TakeProfit),
		ClosePrice:   priceString(s.ClosePrice),
		Status:       s.Status,
		MarketType:   s.MarketType,
		Timeframe:    s.Timeframe,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		ClosedAt:     s.ClosedAt,
	}
}

func priceString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	v := d.Decimal.String()
	return &v
}
