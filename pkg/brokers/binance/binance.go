// Package binance adapts Binance spot and USDT-margined futures accounts
// to the broker contract.
package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"

	"mcp-core/pkg/brokers/common"
)

var testnetOnce sync.Once

// Config holds Binance credentials.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

// Broker routes crypto orders to spot and futures orders to USDT-M futures.
type Broker struct {
	name      string
	cfg       Config
	spot      *gobinance.Client
	futures   *futures.Client
	connected atomic.Bool
	log       zerolog.Logger
}

func New(name string, cfg Config, log zerolog.Logger) *Broker {
	if cfg.Testnet {
		// The client library switches endpoints through package globals.
		testnetOnce.Do(func() {
			gobinance.UseTestnet = true
			futures.UseTestnet = true
		})
	}
	return &Broker{
		name:    name,
		cfg:     cfg,
		spot:    gobinance.NewClient(cfg.APIKey, cfg.APISecret),
		futures: gobinance.NewFuturesClient(cfg.APIKey, cfg.APISecret),
		log:     log,
	}
}

func (b *Broker) Name() string      { return b.name }
func (b *Broker) IsConnected() bool { return b.connected.Load() }

// Connect verifies credentials are present and the venue is reachable.
func (b *Broker) Connect(ctx context.Context) error {
	if b.cfg.APIKey == "" || b.cfg.APISecret == "" {
		return errors.New("binance: API key/secret required")
	}
	if err := b.spot.NewPingService().Do(ctx); err != nil {
		b.connected.Store(false)
		return fmt.Errorf("binance: ping: %w", err)
	}
	b.connected.Store(true)
	return nil
}

func (b *Broker) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if !b.IsConnected() {
		return common.OrderResult{}, common.ErrNotConnected
	}
	if req.MarketType == "futures" {
		return b.submitFutures(ctx, req)
	}
	return b.submitSpot(ctx, req)
}

func (b *Broker) submitSpot(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	svc := b.spot.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(gobinance.SideType(req.Side)).
		Quantity(req.Qty.String())
	if req.Type == common.OrderTypeLimit && req.Price.Valid {
		svc = svc.Type(gobinance.OrderTypeLimit).
			TimeInForce(gobinance.TimeInForceTypeGTC).
			Price(req.Price.Decimal.String())
	} else {
		svc = svc.Type(gobinance.OrderTypeMarket)
	}
	if req.ClientID != "" {
		svc = svc.NewClientOrderID(req.ClientID)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return common.OrderResult{}, fmt.Errorf("binance spot order: %w", err)
	}
	return common.OrderResult{
		OrderID:  strconv.FormatInt(res.OrderID, 10),
		Status:   mapStatus(string(res.Status)),
		ClientID: res.ClientOrderID,
	}, nil
}

func (b *Broker) submitFutures(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	svc := b.futures.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(req.Qty.String())
	if req.ClientID != "" {
		svc = svc.NewClientOrderID(req.ClientID)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return common.OrderResult{}, fmt.Errorf("binance futures order: %w", err)
	}
	b.placeProtection(ctx, req)

	return common.OrderResult{
		OrderID:  strconv.FormatInt(res.OrderID, 10),
		Status:   mapStatus(string(res.Status)),
		ClientID: res.ClientOrderID,
	}, nil
}

// placeProtection attaches reduce-only stop and take-profit orders. The
// entry has already filled, so failures are logged rather than returned.
func (b *Broker) placeProtection(ctx context.Context, req common.OrderRequest) {
	exitSide := futures.SideTypeSell
	if req.Side == common.SideSell {
		exitSide = futures.SideTypeBuy
	}
	for _, p := range []struct {
		kind  futures.OrderType
		price string
		ok    bool
	}{
		{futures.OrderTypeStopMarket, req.StopLoss.Decimal.String(), req.StopLoss.Valid},
		{futures.OrderTypeTakeProfitMarket, req.TakeProfit.Decimal.String(), req.TakeProfit.Valid},
	} {
		if !p.ok {
			continue
		}
		_, err := b.futures.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(exitSide).
			Type(p.kind).
			StopPrice(p.price).
			ClosePosition(true).
			WorkingType(futures.WorkingTypeMarkPrice).
			Do(ctx)
		if err != nil {
			b.log.Warn().Err(err).Str("symbol", req.Symbol).Str("order_type", string(p.kind)).Msg("protective order failed")
		}
	}
}

func mapStatus(s string) common.OrderStatus {
	switch s {
	case "NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED", "PENDING_CANCEL":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return common.StatusExpired
	}
	return common.StatusUnknown
}
