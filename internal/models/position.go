package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide 持仓方向
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

func (s PositionSide) Valid() bool {
	return s == PositionSideLong || s == PositionSideShort
}

// CloseOrderSide 平仓时下发的订单方向
func (s PositionSide) CloseOrderSide() OrderSide {
	if s == PositionSideLong {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Position 持仓，由订单成交推导，同一(账户,交易对,方向)至多一条开仓记录
type Position struct {
	ID            string          `gorm:"primaryKey;type:varchar(26)" json:"id"`
	AccountID     int64           `gorm:"not null;index:idx_positions_key" json:"account_id"`
	Symbol        string          `gorm:"type:varchar(20);not null;index:idx_positions_key" json:"symbol"`
	Side          PositionSide    `gorm:"type:varchar(10);not null;index:idx_positions_key" json:"side"`
	Size          decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"size"`
	EntryPrice    decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"entry_price"` // 规模加权均价
	UnrealizedPnl decimal.Decimal `gorm:"type:decimal(20,8);default:0" json:"unrealized_pnl"`
	RealizedPnl   decimal.Decimal `gorm:"type:decimal(20,8);default:0" json:"realized_pnl"`
	Margin        decimal.Decimal `gorm:"type:decimal(20,8);default:0" json:"margin"`
	IsOpen        bool            `gorm:"default:true;index" json:"is_open"`
	OpenedAt      time.Time       `gorm:"not null" json:"opened_at"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (*Position) TableName() string {
	return "positions"
}

// DirectionSign 多头为+1，空头为-1
func (p *Position) DirectionSign() decimal.Decimal {
	if p.Side == PositionSideShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// MarkPnl 按标记价计算未实现盈亏
func (p *Position) MarkPnl(markPrice decimal.Decimal) decimal.Decimal {
	return markPrice.Sub(p.EntryPrice).Mul(p.Size).Mul(p.DirectionSign())
}
