package exchange

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// 通用交易类型定义，独立于任何特定交易所
// 上层只依赖这里的形状，便于支持多个交易所（币安、OKX、Gate等）

// Type 交易所类型
type Type string

const (
	TypeBinance Type = "binance"
	TypeOKX     Type = "okx"
	TypeGateIO  Type = "gateio"
)

// OrderSide 订单方向
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// PositionSide 持仓方向
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Opposite 反方向
func (s PositionSide) Opposite() OrderSide {
	if s == PositionSideLong {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType 订单类型
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// OrderStatus 归一化后的订单状态
type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCanceled  OrderStatus = "canceled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Credentials 解密后的账户凭证，仅在单次调用期间存在
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string // 仅OKX需要
}

// PlaceOrderRequest 下单请求
type PlaceOrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Amount        decimal.Decimal
	Price         decimal.Decimal // 零值表示未指定
	StopPrice     decimal.Decimal
	ReduceOnly    bool
	ClientOrderID string // 本地订单号，交易所侧可据此对账
}

// OrderQuery 订单查询键，交易所订单号缺失时回退到本地订单号
type OrderQuery struct {
	ExchangeOrderID string
	ClientOrderID   string
}

// OrderResult 归一化后的订单回执
type OrderResult struct {
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          string
	Side            OrderSide
	Type            OrderType
	Status          OrderStatus
	Amount          decimal.Decimal
	Filled          decimal.Decimal
	AvgPrice        decimal.Decimal
	Fee             decimal.Decimal
	FeeCurrency     string
}

// Position 交易所侧持仓
type Position struct {
	Symbol        string
	Side          PositionSide
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnl decimal.Decimal
	Leverage      int
}

// Kline K线数据
type Kline struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Ticker 最新行情
type Ticker struct {
	Symbol    string
	Last      decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Timestamp time.Time
}

// NormalizeSymbol 归一化交易对格式，如 btc-usdt -> BTCUSDT
func NormalizeSymbol(symbol string) string {
	symbol = strings.NewReplacer("-", "", "_", "", "/", "").Replace(symbol)
	return strings.ToUpper(strings.TrimSpace(symbol))
}
