package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/model"
)

// OrderRepository 订单仓储接口
type OrderRepository interface {
	// Create 写入订单头、明细、初始状态历史与支付记录
	Create(ctx context.Context, order *model.Order, items []model.OrderItem, history *model.OrderStatusHistory, payment *model.Payment) error

	// GetByID 根据订单ID查询订单
	GetByID(ctx context.Context, orderID string) (*model.Order, error)

	// LockByID 加行锁读取订单，必须在事务内调用
	LockByID(ctx context.Context, orderID string) (*model.Order, error)

	// Version 当前版本号，不加锁
	Version(ctx context.Context, orderID string) (int64, error)

	// Items 查询订单明细
	Items(ctx context.Context, orderID string) ([]model.OrderItem, error)

	// Payment 查询订单支付记录
	Payment(ctx context.Context, orderID string) (*model.Payment, error)

	// History 按时间顺序返回状态历史
	History(ctx context.Context, orderID string) ([]model.OrderStatusHistory, error)

	// AppendHistory 追加一条状态历史
	AppendHistory(ctx context.Context, h *model.OrderStatusHistory) error

	// Update 只写入 OrderPatch 中白名单字段
	Update(ctx context.Context, orderID string, patch OrderPatch) error

	// UpdatePayment 只写入 PaymentPatch 中白名单字段
	UpdatePayment(ctx context.Context, paymentID string, patch PaymentPatch) error

	// NumberExists 订单号是否已被占用
	NumberExists(ctx context.Context, number string) (bool, error)
}

// OrderPatch 订单可变字段白名单，nil 表示不修改
type OrderPatch struct {
	Status         *model.OrderStatus
	PaymentStatus  *model.PaymentStatus
	TrackingNumber *string
	CancelReason   *string
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	CancelledAt    *time.Time
}

func (p OrderPatch) columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	if p.PaymentStatus != nil {
		cols["payment_status"] = *p.PaymentStatus
	}
	if p.TrackingNumber != nil {
		cols["tracking_number"] = *p.TrackingNumber
	}
	if p.CancelReason != nil {
		cols["cancel_reason"] = *p.CancelReason
	}
	if p.ShippedAt != nil {
		cols["shipped_at"] = *p.ShippedAt
	}
	if p.DeliveredAt != nil {
		cols["delivered_at"] = *p.DeliveredAt
	}
	if p.CancelledAt != nil {
		cols["cancelled_at"] = *p.CancelledAt
	}
	return cols
}

// PaymentPatch 支付记录可变字段白名单
type PaymentPatch struct {
	Status        *model.PaymentStatus
	TransactionID *string
	PaidAt        *time.Time
	RefundedAt    *time.Time
}

func (p PaymentPatch) columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	if p.TransactionID != nil {
		cols["transaction_id"] = *p.TransactionID
	}
	if p.PaidAt != nil {
		cols["paid_at"] = *p.PaidAt
	}
	if p.RefundedAt != nil {
		cols["refunded_at"] = *p.RefundedAt
	}
	return cols
}

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓储；传入事务句柄即在该事务内工作
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *model.Order, items []model.OrderItem, history *model.OrderStatusHistory, payment *model.Payment) error {
	db := r.db.WithContext(ctx)
	if err := db.Create(order).Error; err != nil {
		return err
	}
	if len(items) > 0 {
		if err := db.Create(&items).Error; err != nil {
			return err
		}
	}
	if history != nil {
		if err := db.Create(history).Error; err != nil {
			return err
		}
	}
	if payment != nil {
		if err := db.Create(payment).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *orderRepository) GetByID(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) LockByID(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) Version(ctx context.Context, orderID string) (int64, error) {
	var versions []int64
	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", orderID).
		Pluck("version", &versions).Error
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	return versions[0], nil
}

func (r *orderRepository) Items(ctx context.Context, orderID string) ([]model.OrderItem, error) {
	var items []model.OrderItem
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("product_id, variant_id").
		Find(&items).Error
	return items, err
}

func (r *orderRepository) Payment(ctx context.Context, orderID string) (*model.Payment, error) {
	var p model.Payment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *orderRepository) History(ctx context.Context, orderID string) ([]model.OrderStatusHistory, error) {
	var rows []model.OrderStatusHistory
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *orderRepository) AppendHistory(ctx context.Context, h *model.OrderStatusHistory) error {
	return r.db.WithContext(ctx).Create(h).Error
}

func (r *orderRepository) Update(ctx context.Context, orderID string, patch OrderPatch) error {
	cols := patch.columns()
	if len(cols) == 0 {
		return nil
	}
	cols["version"] = gorm.Expr("version + 1")
	res := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", orderID).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *orderRepository) UpdatePayment(ctx context.Context, paymentID string, patch PaymentPatch) error {
	cols := patch.columns()
	if len(cols) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Where("id = ?", paymentID).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *orderRepository) NumberExists(ctx context.Context, number string) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("order_number = ?", number).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}
