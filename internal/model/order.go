package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Order 订单头；只通过状态机修改，从不物理删除
type Order struct {
	ID             string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderNumber    string          `json:"order_number" gorm:"type:varchar(32);uniqueIndex;not null"`
	UserID         string          `json:"user_id" gorm:"type:varchar(36);index:idx_order_user_created;not null"`
	AddressID      string          `json:"address_id" gorm:"type:varchar(36);not null"`
	Subtotal       decimal.Decimal `json:"subtotal" gorm:"type:decimal(14,2);not null"`
	Tax            decimal.Decimal `json:"tax" gorm:"type:decimal(14,2);not null"`
	ShippingCost   decimal.Decimal `json:"shipping_cost" gorm:"type:decimal(14,2);not null"`
	Discount       decimal.Decimal `json:"discount" gorm:"type:decimal(14,2);not null"`
	Total          decimal.Decimal `json:"total" gorm:"type:decimal(14,2);not null"`
	Status         OrderStatus     `json:"status" gorm:"type:varchar(16);index;not null"`
	PaymentStatus  PaymentStatus   `json:"payment_status" gorm:"type:varchar(16);not null"`
	PaymentMethod  string          `json:"payment_method" gorm:"type:varchar(32);not null"`
	ShippingMethod string          `json:"shipping_method" gorm:"type:varchar(32);not null"`
	PromoCodeID    *string         `json:"promo_code_id" gorm:"type:varchar(36)"`
	Notes          string          `json:"notes" gorm:"type:text"`
	TrackingNumber string          `json:"tracking_number" gorm:"type:varchar(64)"`
	CancelReason   string          `json:"cancel_reason" gorm:"type:varchar(255)"`
	ShippedAt      *time.Time      `json:"shipped_at"`
	DeliveredAt    *time.Time      `json:"delivered_at"`
	CancelledAt    *time.Time      `json:"cancelled_at"`
	// Version 每次 Update 加一，用于判断缓存是否过期
	Version        int64           `json:"version" gorm:"not null;default:1"`
	CreatedAt      time.Time       `json:"created_at" gorm:"index:idx_order_user_created"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// OrderItem 下单时的价格/名称快照，创建后不可变
type OrderItem struct {
	ID          string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderID     string          `json:"order_id" gorm:"type:varchar(36);index;not null"`
	ProductID   string          `json:"product_id" gorm:"type:varchar(36);not null"`
	VariantID   *string         `json:"variant_id" gorm:"type:varchar(36)"`
	ProductName string          `json:"product_name" gorm:"type:varchar(255);not null"`
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:decimal(14,2);not null"`
	Quantity    int             `json:"quantity" gorm:"not null"`
	Subtotal    decimal.Decimal `json:"subtotal" gorm:"type:decimal(14,2);not null"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (OrderItem) TableName() string { return "order_items" }

// OrderStatusHistory 状态变更日志，只追加
type OrderStatusHistory struct {
	ID        string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderID   string      `json:"order_id" gorm:"type:varchar(36);index:idx_history_order_created;not null"`
	Status    OrderStatus `json:"status" gorm:"type:varchar(16);not null"`
	Note      string      `json:"note" gorm:"type:varchar(255)"`
	ActorID   string      `json:"actor_id" gorm:"type:varchar(36)"`
	CreatedAt time.Time   `json:"created_at" gorm:"index:idx_history_order_created"`
}

func (OrderStatusHistory) TableName() string { return "order_status_histories" }

// OrderSequence 按月递增的订单号计数器
type OrderSequence struct {
	Period    string `gorm:"primaryKey;type:varchar(6)"`
	LastValue int    `gorm:"not null;default:0"`
}

func (OrderSequence) TableName() string { return "order_sequences" }
