package models

import (
	"time"

	"gorm.io/datatypes"
)

// SignalAction Webhook信号动作
type SignalAction string

const (
	SignalActionOpen  SignalAction = "open"
	SignalActionClose SignalAction = "close"
)

// SignalResult 信号处理结果
type SignalResult string

const (
	SignalResultAccepted  SignalResult = "accepted"
	SignalResultRejected  SignalResult = "rejected"
	SignalResultDuplicate SignalResult = "duplicate"
)

// WebhookSignal 入站交易信号，DedupKey用于重放去重
type WebhookSignal struct {
	ID         string         `gorm:"primaryKey;type:varchar(26)" json:"id"`
	DedupKey   string         `gorm:"type:varchar(64);not null;uniqueIndex" json:"dedup_key"`
	AccountID  int64          `gorm:"index" json:"account_id"`
	Action     SignalAction   `gorm:"type:varchar(10)" json:"action"`
	Symbol     string         `gorm:"type:varchar(20)" json:"symbol"`
	Payload    datatypes.JSON `gorm:"type:json" json:"payload"`            // 原始请求体
	Metadata   datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"` // 信号附带的自由字段
	Result     SignalResult   `gorm:"type:varchar(10);index" json:"result"`
	Reason     string         `gorm:"type:text" json:"reason,omitempty"` // 被拒绝的原因
	OrderID    string         `gorm:"type:varchar(26)" json:"order_id,omitempty"`
	ReceivedAt time.Time      `gorm:"not null" json:"received_at"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 指定表名
func (*WebhookSignal) TableName() string {
	return "webhook_signals"
}
