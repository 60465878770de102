package service

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/model"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/repository"
)

// ItemRef 结账行：商品 + 可选规格 + 数量
type ItemRef struct {
	ProductID string  `json:"product_id" binding:"required" validate:"required"`
	VariantID *string `json:"variant_id,omitempty"`
	Quantity  int     `json:"quantity" binding:"required,gte=1" validate:"gte=1"`
}

func (r ItemRef) key() string {
	if r.VariantID == nil {
		return r.ProductID + "|"
	}
	return r.ProductID + "|" + *r.VariantID
}

// Snapshot 事务内读取到的价格/库存快照
type Snapshot struct {
	ProductID   string
	VariantID   *string
	ProductName string
	UnitPrice   decimal.Decimal
	Stock       int
	Available   bool
	Quantity    int
}

// CatalogReader 在结账事务内加锁读取商品
type CatalogReader struct{}

func NewCatalogReader() *CatalogReader {
	return &CatalogReader{}
}

// MergeRefs 合并重复的商品/规格并按 (product, variant) 排序，保证加锁顺序一致
func MergeRefs(refs []ItemRef) []ItemRef {
	idx := map[string]int{}
	merged := make([]ItemRef, 0, len(refs))
	for _, r := range refs {
		if r.VariantID != nil && *r.VariantID == "" {
			r.VariantID = nil
		}
		if i, ok := idx[r.key()]; ok {
			merged[i].Quantity += r.Quantity
			continue
		}
		idx[r.key()] = len(merged)
		merged = append(merged, r)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].key() < merged[j].key()
	})
	return merged
}

// Snapshot 按合并后的顺序返回快照；不存在返回 NotFoundError，下架返回 UnavailableError
func (c *CatalogReader) Snapshot(ctx context.Context, tx *gorm.DB, refs []ItemRef) ([]Snapshot, error) {
	repo := repository.NewProductRepository(tx)
	refs = MergeRefs(refs)

	products := map[string]*model.Product{}
	out := make([]Snapshot, 0, len(refs))
	for _, ref := range refs {
		p, ok := products[ref.ProductID]
		if !ok {
			var err error
			p, err = repo.LockProduct(ctx, ref.ProductID)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, &NotFoundError{Resource: "product", ID: ref.ProductID}
			}
			if err != nil {
				return nil, err
			}
			products[ref.ProductID] = p
		}
		if !p.IsActive {
			return nil, &UnavailableError{ProductName: p.Name}
		}

		snap := Snapshot{
			ProductID:   p.ID,
			ProductName: p.Name,
			UnitPrice:   p.Price,
			Stock:       p.Stock,
			Available:   p.IsActive,
			Quantity:    ref.Quantity,
		}

		if ref.VariantID != nil {
			v, err := repo.LockVariant(ctx, ref.ProductID, *ref.VariantID)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, &NotFoundError{Resource: "variant", ID: *ref.VariantID}
			}
			if err != nil {
				return nil, err
			}
			snap.ProductName = p.Name + " - " + v.Name
			if !v.IsActive {
				return nil, &UnavailableError{ProductName: snap.ProductName}
			}
			vid := v.ID
			snap.VariantID = &vid
			snap.Stock = v.Stock
			// 规格价覆盖商品价
			if v.Price.Valid {
				snap.UnitPrice = v.Price.Decimal
			}
		}
		out = append(out, snap)
	}
	return out, nil
}

// ProductsForCheckout 无锁读取，供下单前展示价格/库存
func (c *CatalogReader) ProductsForCheckout(ctx context.Context, db *gorm.DB, ids []string) ([]Snapshot, error) {
	repo := repository.NewProductRepository(db)
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		p, err := repo.GetProduct(ctx, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "product", ID: id}
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Snapshot{ProductID: p.ID, ProductName: p.Name, UnitPrice: p.Price, Stock: p.Stock, Available: p.IsActive})
	}
	return out, nil
}
