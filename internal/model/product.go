package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product 商品；Stock 只能通过库存流水按增量修改
type Product struct {
	ID           string              `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name         string              `json:"name" gorm:"type:varchar(255);not null"`
	Price        decimal.Decimal     `json:"price" gorm:"type:decimal(14,2);not null"`
	ComparePrice decimal.NullDecimal `json:"compare_price" gorm:"type:decimal(14,2)"`
	Stock        int                 `json:"stock" gorm:"not null;default:0"`
	IsActive     bool                `json:"is_active" gorm:"not null;default:true"`
	SalesCount   int64               `json:"sales_count" gorm:"not null;default:0"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func (Product) TableName() string { return "products" }

// ProductVariant 规格；Price 为空时沿用商品价格，库存独立计数
type ProductVariant struct {
	ID        string              `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ProductID string              `json:"product_id" gorm:"type:varchar(36);index;not null"`
	Name      string              `json:"name" gorm:"type:varchar(255);not null"`
	Price     decimal.NullDecimal `json:"price" gorm:"type:decimal(14,2)"`
	Stock     int                 `json:"stock" gorm:"not null;default:0"`
	IsActive  bool                `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

func (ProductVariant) TableName() string { return "product_variants" }
