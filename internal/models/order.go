package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide 订单方向
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderType 订单类型
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
		return true
	}
	return false
}

// RequiresPrice 是否必须携带限价
func (t OrderType) RequiresPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// RequiresStopPrice 是否必须携带触发价
func (t OrderType) RequiresStopPrice() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCanceled  OrderStatus = "canceled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// ValidOrderTransitions 允许的状态流转，终态不再流出
var ValidOrderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusSubmitted, OrderStatusRejected},
	OrderStatusSubmitted: {OrderStatusPartial, OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected},
	OrderStatusPartial:   {OrderStatusPartial, OrderStatusFilled, OrderStatusCanceled},
}

// CanTransition 校验状态流转是否合法
func CanTransition(from, to OrderStatus) bool {
	allowed, ok := ValidOrderTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal 是否终态
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled || s == OrderStatusRejected
}

// Order 订单
type Order struct {
	ID              string              `gorm:"primaryKey;type:varchar(26)" json:"id"`
	AccountID       int64               `gorm:"not null;index" json:"account_id"`
	IdempotencyKey  string              `gorm:"type:varchar(64);index" json:"idempotency_key,omitempty"` // 幂等键，同账户下唯一
	Symbol          string              `gorm:"type:varchar(20);not null;index" json:"symbol"`
	Side            OrderSide           `gorm:"type:varchar(10);not null" json:"side"`
	Type            OrderType           `gorm:"type:varchar(20);not null" json:"type"`
	Amount          decimal.Decimal     `gorm:"type:decimal(20,8);not null" json:"amount"`
	Price           decimal.NullDecimal `gorm:"type:decimal(20,8)" json:"price"`
	StopPrice       decimal.NullDecimal `gorm:"type:decimal(20,8)" json:"stop_price"`
	ReduceOnly      bool                `json:"reduce_only"` // 平仓单
	ExchangeOrderID string              `gorm:"type:varchar(64);index" json:"exchange_order_id"`
	ClientOrderID   string              `gorm:"type:varchar(32)" json:"client_order_id"` // 本地ID下发给交易所，超时后用于对账
	Status          OrderStatus         `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	FilledAmount    decimal.Decimal     `gorm:"type:decimal(20,8);default:0" json:"filled_amount"`
	AvgPrice        decimal.Decimal     `gorm:"type:decimal(20,8);default:0" json:"avg_price"`
	Fee             decimal.Decimal     `gorm:"type:decimal(20,8);default:0" json:"fee"`
	FeeCurrency     string              `gorm:"type:varchar(10)" json:"fee_currency"`
	ErrorKind       string              `gorm:"type:varchar(40)" json:"error_kind,omitempty"` // rejected时记录映射后的错误类别
	SignalID        string              `gorm:"type:varchar(26)" json:"signal_id,omitempty"`  // 来源Webhook信号
	CreatedAt       time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (*Order) TableName() string {
	return "orders"
}

// PositionSideForFill 该订单成交后影响的持仓方向
func (o *Order) PositionSideForFill() PositionSide {
	if o.ReduceOnly {
		// 平仓单方向与持仓相反
		if o.Side == OrderSideBuy {
			return PositionSideShort
		}
		return PositionSideLong
	}
	if o.Side == OrderSideBuy {
		return PositionSideLong
	}
	return PositionSideShort
}
