// Package brokerage defines the broker capability interface the engine
// depends on, plus the Alpaca-backed implementation and a recording mock.
package brokerage

import (
	"time"

	"alpaca-signal-engine/internal/domain"
)

// Account is the broker account snapshot the risk gates read.
type Account struct {
	Equity                   float64
	LastEquity               float64
	Cash                     float64
	RegTBuyingPower          float64
	NonMarginableBuyingPower float64
	DaytradingBuyingPower    float64
	Status                   string
	Currency                 string
	PatternDayTrader         bool
	DaytradeCount            int64
	Multiplier               float64
	SMA                      float64
	CryptoTier               int
}

// PortfolioHistory is the equity curve used for drawdown and Calmar.
type PortfolioHistory struct {
	Equity    []float64
	Timestamp []int64
}

// Position is a broker-side open position.
type Position struct {
	Symbol        string
	Qty           float64
	AvgEntryPrice float64
	Side          string
	MarketValue   float64
}

// OrderStatus values the engine branches on. The broker reports more; only
// these matter to the sync and trail paths.
const (
	OrderStatusNew           = "new"
	OrderStatusAccepted      = "accepted"
	OrderStatusFilled        = "filled"
	OrderStatusPartialFilled = "partially_filled"
	OrderStatusCanceled      = "canceled"
)

// Order is the engine's view of a broker order.
type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           domain.Side
	Type           string
	Status         string
	Qty            float64
	FilledQty      float64
	FilledAvgPrice float64
	LimitPrice     float64
	StopPrice      float64
	CreatedAt      time.Time
	FilledAt       *time.Time
	Legs           []Order
}

// Filled reports whether the order is completely filled.
func (o *Order) Filled() bool {
	return o.Status == OrderStatusFilled
}

// Replaceable reports whether the broker still accepts a replace for this
// order.
func (o *Order) Replaceable() bool {
	return o.Status == OrderStatusNew || o.Status == OrderStatusAccepted
}

// OrderRequest describes an order submission. Bracket submissions carry the
// TP limit and SL stop legs; crypto submissions must stay simple market.
type OrderRequest struct {
	Symbol        string
	Qty           float64
	QtyDecimals   int32
	Side          domain.Side
	TimeInForce   string // "day" or "gtc"
	ClientOrderID string

	Bracket         bool
	TakeProfitLimit float64
	StopLossStop    float64

	LimitPrice float64 // zero means market
}

// ReplaceRequest updates an open order in place.
type ReplaceRequest struct {
	StopPrice  float64
	LimitPrice float64
}

// OrderFilter narrows a historical order listing.
type OrderFilter struct {
	Symbols []string
	Status  string // open, closed, all
	After   time.Time
	Limit   int
	Side    domain.Side
	Nested  bool
}

// Activity is one raw account activity row; CFEE rows carry the exact
// crypto fee the archival pipeline reconciles at T+1.
type Activity struct {
	ID              string
	ActivityType    string
	Symbol          string
	TransactionTime time.Time
	OrderID         string
	Qty             float64
	Price           float64
	Side            string
	NetAmount       float64
	Date            string
}

// ActivityTypeCryptoFee is the broker activity type for crypto fees.
const ActivityTypeCryptoFee = "CFEE"
