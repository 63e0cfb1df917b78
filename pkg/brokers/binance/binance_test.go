package binance

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mcp-core/pkg/brokers/common"
)

func TestMapStatus(t *testing.T) {
	tests := map[string]common.OrderStatus{
		"NEW":              common.StatusNew,
		"PARTIALLY_FILLED": common.StatusPartial,
		"FILLED":           common.StatusFilled,
		"PENDING_CANCEL":   common.StatusCanceled,
		"REJECTED":         common.StatusRejected,
		"EXPIRED_IN_MATCH": common.StatusExpired,
		"SOMETHING":        common.StatusUnknown,
	}
	for in, want := range tests {
		if got := mapStatus(in); got != want {
			t.Errorf("mapStatus(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestConnectRequiresCredentials(t *testing.T) {
	b := New("binance", Config{}, zerolog.Nop())
	if err := b.Connect(context.Background()); err == nil {
		t.Fatal("expected missing credentials error")
	}
	if b.IsConnected() {
		t.Error("broker should not be connected")
	}
	_, err := b.SubmitOrder(context.Background(), common.OrderRequest{Symbol: "BTCUSDT", Qty: decimal.NewFromInt(1)})
	if !errors.Is(err, common.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
