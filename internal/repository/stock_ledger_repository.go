package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/model"
)

// StockLedgerRepository 库存流水，只追加
type StockLedgerRepository interface {
	Append(ctx context.Context, entry *model.StockLedgerEntry) error
	// Latest 最近一条流水，没有流水时返回 nil
	Latest(ctx context.Context, productID string, variantID *string) (*model.StockLedgerEntry, error)
	// SumDelta 全部流水增量之和及条数
	SumDelta(ctx context.Context, productID string, variantID *string) (sum int64, count int64, err error)
	ListByReference(ctx context.Context, referenceID string) ([]model.StockLedgerEntry, error)
}

type stockLedgerRepository struct {
	db *gorm.DB
}

func NewStockLedgerRepository(db *gorm.DB) StockLedgerRepository {
	return &stockLedgerRepository{db: db}
}

func (r *stockLedgerRepository) scope(ctx context.Context, productID string, variantID *string) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&model.StockLedgerEntry{}).Where("product_id = ?", productID)
	if variantID != nil {
		return q.Where("variant_id = ?", *variantID)
	}
	return q.Where("variant_id IS NULL")
}

func (r *stockLedgerRepository) Append(ctx context.Context, entry *model.StockLedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *stockLedgerRepository) Latest(ctx context.Context, productID string, variantID *string) (*model.StockLedgerEntry, error) {
	var e model.StockLedgerEntry
	err := r.scope(ctx, productID, variantID).
		Order("created_at DESC, id DESC").
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *stockLedgerRepository) SumDelta(ctx context.Context, productID string, variantID *string) (int64, int64, error) {
	var row struct {
		Total int64
		Cnt   int64
	}
	err := r.scope(ctx, productID, variantID).
		Select("COALESCE(SUM(delta), 0) AS total, COUNT(*) AS cnt").
		Scan(&row).Error
	return row.Total, row.Cnt, err
}

func (r *stockLedgerRepository) ListByReference(ctx context.Context, referenceID string) ([]model.StockLedgerEntry, error) {
	var rows []model.StockLedgerEntry
	err := r.db.WithContext(ctx).
		Where("reference_id = ?", referenceID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}
