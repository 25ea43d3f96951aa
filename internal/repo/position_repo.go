package repo

import (
	"context"

	"github.com/dushixiang/relay/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

func NewPositionRepo(db *gorm.DB) *PositionRepo {
	return &PositionRepo{
		Repository: orz.NewRepository[models.Position, string](db),
	}
}

type PositionRepo struct {
	orz.Repository[models.Position, string]
}

// FindOpen 查找开仓中的持仓，同一(账户,交易对,方向)至多一条
func (r PositionRepo) FindOpen(ctx context.Context, accountID int64, symbol string, side models.PositionSide) (m models.Position, err error) {
	db := r.GetDB(ctx)
	err = db.Table(r.GetTableName()).
		Where("account_id = ? AND symbol = ? AND side = ? AND is_open = ?", accountID, symbol, side, true).
		First(&m).Error
	return m, err
}

// FindAllOpen 查找全部开仓中的持仓
func (r PositionRepo) FindAllOpen(ctx context.Context) ([]models.Position, error) {
	var positions []models.Position
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("is_open = ?", true).
		Order("opened_at ASC").
		Find(&positions).Error
	return positions, err
}

// FindByAccount 按账户查询持仓，openOnly为true时只返回开仓中的
func (r PositionRepo) FindByAccount(ctx context.Context, accountID int64, openOnly bool) ([]models.Position, error) {
	var positions []models.Position
	db := r.GetDB(ctx).Table(r.GetTableName()).
		Where("account_id = ?", accountID)
	if openOnly {
		db = db.Where("is_open = ?", true)
	}
	err := db.Order("opened_at DESC").Find(&positions).Error
	return positions, err
}

// CountOpenByAccount 账户下开仓中的持仓数量
func (r PositionRepo) CountOpenByAccount(ctx context.Context, accountID int64) (int64, error) {
	var count int64
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("account_id = ? AND is_open = ?", accountID, true).
		Count(&count).Error
	return count, err
}
