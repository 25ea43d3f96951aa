package repo

import (
	"context"

	"github.com/dushixiang/relay/internal/models"
	"github.com/go-orz/orz"
	"gorm.io/gorm"
)

func NewAccountRepo(db *gorm.DB) *AccountRepo {
	return &AccountRepo{
		Repository: orz.NewRepository[models.Account, int64](db),
	}
}

type AccountRepo struct {
	orz.Repository[models.Account, int64]
}

// FindByName 按名称查找账户
func (r AccountRepo) FindByName(ctx context.Context, name string) (m models.Account, err error) {
	db := r.GetDB(ctx)
	err = db.Table(r.GetTableName()).
		Where("name = ?", name).
		First(&m).Error
	return m, err
}

// ExistsByName 名称是否已占用
func (r AccountRepo) ExistsByName(ctx context.Context, name string) (bool, error) {
	var count int64
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Where("name = ?", name).
		Count(&count).Error
	return count > 0, err
}

// FindAllOrderByCreatedAt 按创建时间排序返回全部账户
func (r AccountRepo) FindAllOrderByCreatedAt(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	db := r.GetDB(ctx)
	err := db.Table(r.GetTableName()).
		Order("created_at ASC").
		Find(&accounts).Error
	return accounts, err
}
