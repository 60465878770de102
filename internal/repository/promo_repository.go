package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/model"
)

type PromoRepository interface {
	// LockByCode 加行锁按码读取
	LockByCode(ctx context.Context, code string) (*model.PromoCode, error)
	// IncrementUsage 使用次数 +1；有上限时只在未达上限时生效，返回是否命中
	IncrementUsage(ctx context.Context, promoID string) (bool, error)
}

type promoRepository struct {
	db *gorm.DB
}

func NewPromoRepository(db *gorm.DB) PromoRepository {
	return &promoRepository{db: db}
}

func (r *promoRepository) LockByCode(ctx context.Context, code string) (*model.PromoCode, error) {
	var p model.PromoCode
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("code = ?", code).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *promoRepository) IncrementUsage(ctx context.Context, promoID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.PromoCode{}).
		Where("id = ? AND (usage_limit IS NULL OR used_count < usage_limit)", promoID).
		Update("used_count", gorm.Expr("used_count + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
