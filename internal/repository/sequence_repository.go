package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/model"
)

// SequenceRepository 按月订单号计数器
type SequenceRepository interface {
	// Next 锁住 period 行并返回递增后的值，必须在事务内调用
	Next(ctx context.Context, period string) (int, error)
}

type sequenceRepository struct {
	db *gorm.DB
}

func NewSequenceRepository(db *gorm.DB) SequenceRepository {
	return &sequenceRepository{db: db}
}

func (r *sequenceRepository) Next(ctx context.Context, period string) (int, error) {
	db := r.db.WithContext(ctx)

	// 新月份先占位，已存在则忽略
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.OrderSequence{Period: period}).Error; err != nil {
		return 0, err
	}

	var seq model.OrderSequence
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("period = ?", period).
		First(&seq).Error; err != nil {
		return 0, err
	}

	next := seq.LastValue + 1
	if err := db.Model(&model.OrderSequence{}).
		Where("period = ?", period).
		Update("last_value", next).Error; err != nil {
		return 0, err
	}
	return next, nil
}
