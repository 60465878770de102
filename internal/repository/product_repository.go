package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/model"
)

// ErrStockConflict 条件更新未命中：库存不足以扣减
var ErrStockConflict = errors.New("stock conditional update matched no row")

// ProductRepository 商品/规格仓储
type ProductRepository interface {
	// LockProduct 加行锁读取商品
	LockProduct(ctx context.Context, productID string) (*model.Product, error)
	// LockVariant 加行锁读取属于该商品的规格
	LockVariant(ctx context.Context, productID, variantID string) (*model.ProductVariant, error)

	GetProduct(ctx context.Context, productID string) (*model.Product, error)
	GetVariant(ctx context.Context, productID, variantID string) (*model.ProductVariant, error)

	// ApplyStockDelta 带条件地修改库存计数，返回变动后的余量
	ApplyStockDelta(ctx context.Context, productID string, variantID *string, delta int) (int, error)

	// AddSalesCount 累加销量（可为负）
	AddSalesCount(ctx context.Context, productID string, delta int) error

	// ListAfter 按 id 翻页，afterID 为空从头开始
	ListAfter(ctx context.Context, afterID string, limit int) ([]*model.Product, error)
	ListVariants(ctx context.Context, productID string) ([]*model.ProductVariant, error)
}

type productRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) LockProduct(ctx context.Context, productID string) (*model.Product, error) {
	var p model.Product
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", productID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepository) LockVariant(ctx context.Context, productID, variantID string) (*model.ProductVariant, error) {
	var v model.ProductVariant
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND product_id = ?", variantID, productID).
		First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *productRepository) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	var p model.Product
	if err := r.db.WithContext(ctx).Where("id = ?", productID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepository) GetVariant(ctx context.Context, productID, variantID string) (*model.ProductVariant, error) {
	var v model.ProductVariant
	err := r.db.WithContext(ctx).
		Where("id = ? AND product_id = ?", variantID, productID).
		First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *productRepository) ApplyStockDelta(ctx context.Context, productID string, variantID *string, delta int) (int, error) {
	db := r.db.WithContext(ctx)

	var q *gorm.DB
	if variantID != nil {
		q = db.Model(&model.ProductVariant{}).Where("id = ? AND product_id = ?", *variantID, productID)
	} else {
		q = db.Model(&model.Product{}).Where("id = ?", productID)
	}
	// 扣减时要求余量足够，计数永不为负
	if delta < 0 {
		q = q.Where("stock >= ?", -delta)
	}
	res := q.Update("stock", gorm.Expr("stock + ?", delta))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrStockConflict
	}

	var balance int
	var err error
	if variantID != nil {
		err = db.Model(&model.ProductVariant{}).Select("stock").Where("id = ?", *variantID).Scan(&balance).Error
	} else {
		err = db.Model(&model.Product{}).Select("stock").Where("id = ?", productID).Scan(&balance).Error
	}
	return balance, err
}

func (r *productRepository) AddSalesCount(ctx context.Context, productID string, delta int) error {
	return r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ?", productID).
		Update("sales_count", gorm.Expr("sales_count + ?", delta)).Error
}

func (r *productRepository) ListAfter(ctx context.Context, afterID string, limit int) ([]*model.Product, error) {
	var res []*model.Product
	q := r.db.WithContext(ctx).Order("id").Limit(limit)
	if afterID != "" {
		q = q.Where("id > ?", afterID)
	}
	err := q.Find(&res).Error
	return res, err
}

func (r *productRepository) ListVariants(ctx context.Context, productID string) ([]*model.ProductVariant, error) {
	var res []*model.ProductVariant
	err := r.db.WithContext(ctx).Where("product_id = ?", productID).Order("id").Find(&res).Error
	return res, err
}
