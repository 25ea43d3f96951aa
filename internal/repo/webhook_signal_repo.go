package repo

import (
	"context"

	"github.com/dushixiang/relay/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

func NewWebhookSignalRepo(db *gorm.DB) *WebhookSignalRepo {
	return &WebhookSignalRepo{
		Repository: orz.NewRepository[models.WebhookSignal, string](db),
	}
}

type WebhookSignalRepo struct {
	orz.Repository[models.WebhookSignal, string]
}

// FindByDedupKey 按去重键查找信号
func (r WebhookSignalRepo) FindByDedupKey(ctx context.Context, key string) (m models.WebhookSignal, err error) {
	db := r.GetDB(ctx)
	err = db.Table(r.GetTableName()).
		Where("dedup_key = ?", key).
		First(&m).Error
	return m, err
}

// FindRecent 按接收时间倒序返回最近的信号
func (r WebhookSignalRepo) FindRecent(ctx context.Context, limit int) ([]models.WebhookSignal, error) {
	var signals []models.WebhookSignal
	db := r.GetDB(ctx)
	if limit <= 0 {
		limit = 100
	}
	err := db.Table(r.GetTableName()).
		Order("received_at DESC").
		Limit(limit).
		Find(&signals).Error
	return signals, err
}
