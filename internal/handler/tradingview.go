package handler

import (
	"context"
	"fmt"
	"time"

	"mcp-core/internal/message"
	"mcp-core/internal/signal"
)

// TradingViewID is the id the TradingView webhook handler registers under.
const TradingViewID = "tradingview"

// SignalSubmitter accepts a normalized signal for processing.
type SignalSubmitter interface {
	ProcessMessage(sig *signal.TradeSignal) (message.Message, error)
}

// TradingViewHandler normalizes TradingView alert webhooks into signals.
type TradingViewHandler struct {
	signals SignalSubmitter
	now     func() time.Time
}

func NewTradingViewHandler(signals SignalSubmitter) *TradingViewHandler {
	return &TradingViewHandler{signals: signals, now: time.Now}
}

func (h *TradingViewHandler) ID() (string, error) { return TradingViewID, nil }

func (h *TradingViewHandler) HandleMessage(ctx context.Context, raw Raw) error {
	_, err := h.Submit(ctx, raw)
	return err
}

// Submit normalizes raw and submits it, returning the accepted signal.
func (h *TradingViewHandler) Submit(ctx context.Context, raw Raw) (*signal.TradeSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sig, err := signal.FromPayload(raw, TradingViewID, h.now())
	if err != nil {
		return nil, fmt.Errorf("normalize tradingview webhook: %w", err)
	}
	if _, err := h.signals.ProcessMessage(sig); err != nil {
		return nil, err
	}
	return sig, nil
}
