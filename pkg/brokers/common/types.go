package common

import "github.com/shopspring/decimal"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus normalizes broker status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// OrderRequest captures an order intent to be sent to a broker.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Type       OrderType
	Qty        decimal.Decimal
	Price      decimal.NullDecimal // required for LIMIT
	MarketType string              // asset class: crypto, forex, futures, options, stocks
	StopLoss   decimal.NullDecimal
	TakeProfit decimal.NullDecimal
	ClientID   string // optional client order id
}

// OrderResult returns the broker ack.
type OrderResult struct {
	OrderID  string
	Status   OrderStatus
	ClientID string
}
