package models

import (
	"time"
)

// ExchangeType 支持的交易所
type ExchangeType string

const (
	ExchangeBinance ExchangeType = "binance"
	ExchangeOKX     ExchangeType = "okx"
	ExchangeGateIO  ExchangeType = "gateio"
)

func (e ExchangeType) Valid() bool {
	switch e {
	case ExchangeBinance, ExchangeOKX, ExchangeGateIO:
		return true
	}
	return false
}

// Account 交易账户，凭证字段均为密文存储
type Account struct {
	ID         int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string       `gorm:"type:varchar(100);not null" json:"name"`
	Exchange   ExchangeType `gorm:"type:varchar(20);not null;index" json:"exchange"`
	APIKey     string       `gorm:"type:text;not null" json:"-"` // vault密文
	SecretKey  string       `gorm:"type:text;not null" json:"-"` // vault密文
	Passphrase string       `gorm:"type:text" json:"-"`          // vault密文，仅OKX需要
	Sandbox    bool         `gorm:"default:true" json:"sandbox"` // 是否使用测试网
	CreatedAt  time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (*Account) TableName() string {
	return "accounts"
}

// RequiresPassphrase 该交易所是否要求Passphrase
func (a *Account) RequiresPassphrase() bool {
	return a.Exchange == ExchangeOKX
}
