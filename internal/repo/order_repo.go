package repo

import (
	"context"

	"github.com/dushixiang/relay/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

func NewOrderRepo(db *gorm.DB) *OrderRepo {
	return &OrderRepo{
		Repository: orz.NewRepository[models.Order, string](db),
	}
}

type OrderRepo struct {
	orz.Repository[models.Order, string]
}

// FindByIdempotencyKey 按幂等键查找同账户下最近一次的订单
// 拒单后允许携带同一键重新提交，因此同一键可能对应多笔订单
func (r OrderRepo) FindByIdempotencyKey(ctx context.Context, accountID int64, key string) (m models.Order, err error) {
	db := r.GetDB(ctx)
	err = db.Table(r.GetTableName()).
		Where("account_id = ? AND idempotency_key = ?", accountID, key).
		Order("created_at DESC").
		First(&m).Error
	return m, err
}

// FindNonTerminal 查找所有未到终态的订单，对账任务轮询用
// pending也要扫，进程在提交中途退出会留下这种订单
func (r OrderRepo) FindNonTerminal(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("status IN ?", []models.OrderStatus{
			models.OrderStatusPending, models.OrderStatusSubmitted, models.OrderStatusPartial,
		}).
		Order("created_at ASC").
		Find(&orders).Error
	return orders, err
}

// FindByAccount 按账户查询订单，status为空时不过滤
func (r OrderRepo) FindByAccount(ctx context.Context, accountID int64, status models.OrderStatus, limit int) ([]models.Order, error) {
	var orders []models.Order
	db := r.GetDB(ctx).Table(r.GetTableName()).
		Where("account_id = ?", accountID)
	if status != "" {
		db = db.Where("status = ?", status)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	err := db.Order("created_at DESC").Find(&orders).Error
	return orders, err
}

// CountActiveByAccount 账户下未到终态的订单数量
func (r OrderRepo) CountActiveByAccount(ctx context.Context, accountID int64) (int64, error) {
	var count int64
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("account_id = ? AND status IN ?", accountID, []models.OrderStatus{
			models.OrderStatusPending, models.OrderStatusSubmitted, models.OrderStatusPartial,
		}).
		Count(&count).Error
	return count, err
}
