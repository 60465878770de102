package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/model"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/repository"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/logger"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/metrics"
)

// Movement 一次库存变动
type Movement struct {
	ProductID   string
	VariantID   *string
	ProductName string
	Quantity    int
	ReferenceID string
	ActorID     string
	Note        string
}

// StockLedger 库存计数 + 流水；Reserve/Release 必须在调用方事务内执行
type StockLedger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStockLedger(db *gorm.DB) *StockLedger {
	return &StockLedger{db: db, now: time.Now}
}

// Reserve 扣减库存；余量不足时不做任何修改并返回 InsufficientStockError
func (l *StockLedger) Reserve(ctx context.Context, tx *gorm.DB, m Movement) (*model.StockLedgerEntry, error) {
	if m.Quantity <= 0 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	return l.apply(ctx, tx, m, -m.Quantity, model.StockReasonOrderReservation)
}

// Release 归还库存（取消订单）
func (l *StockLedger) Release(ctx context.Context, tx *gorm.DB, m Movement) (*model.StockLedgerEntry, error) {
	if m.Quantity <= 0 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	return l.apply(ctx, tx, m, m.Quantity, model.StockReasonCancellationRelease)
}

func (l *StockLedger) apply(ctx context.Context, tx *gorm.DB, m Movement, delta int, reason model.StockReason) (*model.StockLedgerEntry, error) {
	balance, err := repository.NewProductRepository(tx).ApplyStockDelta(ctx, m.ProductID, m.VariantID, delta)
	if errors.Is(err, repository.ErrStockConflict) {
		if delta >= 0 {
			return nil, &NotFoundError{Resource: "product", ID: m.ProductID}
		}
		available, name, lerr := l.current(ctx, tx, m)
		if lerr != nil {
			return nil, lerr
		}
		if m.ProductName == "" {
			m.ProductName = name
		}
		return nil, &InsufficientStockError{ProductName: m.ProductName, Requested: -delta, Available: available}
	}
	if err != nil {
		return nil, err
	}

	entry := &model.StockLedgerEntry{
		ID:           uuid.NewString(),
		ProductID:    m.ProductID,
		VariantID:    m.VariantID,
		Delta:        delta,
		BalanceAfter: balance,
		Reason:       reason,
		ReferenceID:  m.ReferenceID,
		ActorID:      m.ActorID,
		Note:         m.Note,
		CreatedAt:    l.now(),
	}
	if err := repository.NewStockLedgerRepository(tx).Append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// current 读取当前余量与展示名
func (l *StockLedger) current(ctx context.Context, tx *gorm.DB, m Movement) (int, string, error) {
	repo := repository.NewProductRepository(tx)
	p, err := repo.GetProduct(ctx, m.ProductID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, "", &NotFoundError{Resource: "product", ID: m.ProductID}
	}
	if err != nil {
		return 0, "", err
	}
	if m.VariantID == nil {
		return p.Stock, p.Name, nil
	}
	v, err := repo.GetVariant(ctx, m.ProductID, *m.VariantID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, "", &NotFoundError{Resource: "variant", ID: *m.VariantID}
	}
	if err != nil {
		return 0, "", err
	}
	return v.Stock, p.Name + " - " + v.Name, nil
}

// AdjustRequest 管理员手工调整或补货
type AdjustRequest struct {
	ProductID string            `json:"product_id" binding:"required"`
	VariantID *string           `json:"variant_id,omitempty"`
	Delta     int               `json:"delta" binding:"required"`
	Reason    model.StockReason `json:"reason" binding:"required,oneof=manual_adjustment restock"`
	Note      string            `json:"note" binding:"max=255"`
}

// LockRows 与结账相同的顺序加锁：合并排序后每个商品行先于其规格行
func (l *StockLedger) LockRows(ctx context.Context, tx *gorm.DB, refs []ItemRef) error {
	repo := repository.NewProductRepository(tx)
	locked := map[string]bool{}
	for _, ref := range MergeRefs(refs) {
		if !locked[ref.ProductID] {
			if _, err := repo.LockProduct(ctx, ref.ProductID); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			locked[ref.ProductID] = true
		}
		if ref.VariantID != nil {
			if _, err := repo.LockVariant(ctx, ref.ProductID, *ref.VariantID); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
	}
	return nil
}

// Adjust 独立事务：锁行、按增量修改、写流水
func (l *StockLedger) Adjust(ctx context.Context, actorID string, req AdjustRequest) (*model.StockLedgerEntry, error) {
	if req.Delta == 0 {
		return nil, &ValidationError{Field: "delta", Reason: "must not be zero"}
	}
	switch req.Reason {
	case model.StockReasonManualAdjustment:
	case model.StockReasonRestock:
		if req.Delta < 0 {
			return nil, &ValidationError{Field: "delta", Reason: "restock must be positive"}
		}
	default:
		return nil, &ValidationError{Field: "reason", Reason: "must be manual_adjustment or restock"}
	}

	var entry *model.StockLedgerEntry
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewProductRepository(tx)
		if _, err := repo.LockProduct(ctx, req.ProductID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Resource: "product", ID: req.ProductID}
			}
			return err
		}
		if req.VariantID != nil {
			if _, err := repo.LockVariant(ctx, req.ProductID, *req.VariantID); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return &NotFoundError{Resource: "variant", ID: *req.VariantID}
				}
				return err
			}
		}
		var err error
		entry, err = l.apply(ctx, tx, Movement{
			ProductID: req.ProductID,
			VariantID: req.VariantID,
			Quantity:  req.Delta,
			ActorID:   actorID,
			Note:      req.Note,
		}, req.Delta, req.Reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.StockMovements.WithLabelValues(string(entry.Reason)).Inc()
	logger.Info("stock adjusted",
		zap.String("product_id", req.ProductID),
		zap.Int("delta", req.Delta),
		zap.Int("balance", entry.BalanceAfter),
		zap.String("actor_id", actorID),
	)
	return entry, nil
}

// AuditReport 库存计数与流水对账
type AuditReport struct {
	ProductID     string  `json:"product_id"`
	VariantID     *string `json:"variant_id,omitempty"`
	Stock         int     `json:"stock"`
	LedgerBalance *int    `json:"ledger_balance"`
	DeltaSum      int64   `json:"delta_sum"`
	Entries       int64   `json:"entries"`
	Consistent    bool    `json:"consistent"`
}

// Audit 最近一条流水的余量应等于当前计数；没有流水时视为一致
func (l *StockLedger) Audit(ctx context.Context, productID string, variantID *string) (*AuditReport, error) {
	stock, _, err := l.current(ctx, l.db.WithContext(ctx), Movement{ProductID: productID, VariantID: variantID})
	if err != nil {
		return nil, err
	}
	ledger := repository.NewStockLedgerRepository(l.db)
	latest, err := ledger.Latest(ctx, productID, variantID)
	if err != nil {
		return nil, err
	}
	sum, cnt, err := ledger.SumDelta(ctx, productID, variantID)
	if err != nil {
		return nil, err
	}

	report := &AuditReport{
		ProductID:  productID,
		VariantID:  variantID,
		Stock:      stock,
		DeltaSum:   sum,
		Entries:    cnt,
		Consistent: true,
	}
	if latest != nil {
		b := latest.BalanceAfter
		report.LedgerBalance = &b
		report.Consistent = b == stock
	}
	return report, nil
}

// AuditAll 遍历全部商品和规格对账，返回检查条数和不一致的报告
func (l *StockLedger) AuditAll(ctx context.Context, pageSize int) (int, []*AuditReport, error) {
	if pageSize <= 0 {
		pageSize = 200
	}
	products := repository.NewProductRepository(l.db)
	var (
		checked int
		drift   []*AuditReport
		after   string
	)
	check := func(productID string, variantID *string) error {
		report, err := l.Audit(ctx, productID, variantID)
		if err != nil {
			return fmt.Errorf("audit %s: %w", productID, err)
		}
		checked++
		if !report.Consistent {
			drift = append(drift, report)
		}
		return nil
	}

	for {
		page, err := products.ListAfter(ctx, after, pageSize)
		if err != nil {
			return checked, drift, err
		}
		for _, p := range page {
			if err := check(p.ID, nil); err != nil {
				return checked, drift, err
			}
			variants, err := products.ListVariants(ctx, p.ID)
			if err != nil {
				return checked, drift, err
			}
			for _, v := range variants {
				id := v.ID
				if err := check(p.ID, &id); err != nil {
					return checked, drift, err
				}
			}
		}
		if len(page) < pageSize {
			return checked, drift, nil
		}
		after = page[len(page)-1].ID
	}
}

func recordMovements(entries []*model.StockLedgerEntry) {
	for _, e := range entries {
		metrics.StockMovements.WithLabelValues(string(e.Reason)).Inc()
	}
}
