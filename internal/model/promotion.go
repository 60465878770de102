package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// PromoCode 优惠码；UsedCount 永远不超过 UsageLimit
type PromoCode struct {
	ID            string              `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Code          string              `json:"code" gorm:"type:varchar(64);uniqueIndex;not null"`
	DiscountType  DiscountType        `json:"discount_type" gorm:"type:varchar(16);not null"`
	DiscountValue decimal.Decimal     `json:"discount_value" gorm:"type:decimal(14,2);not null"`
	MaxDiscount   decimal.NullDecimal `json:"max_discount" gorm:"type:decimal(14,2)"`
	MinPurchase   decimal.Decimal     `json:"min_purchase" gorm:"type:decimal(14,2);not null;default:0"`
	StartDate     time.Time           `json:"start_date" gorm:"not null"`
	EndDate       time.Time           `json:"end_date" gorm:"not null"`
	UsageLimit    *int                `json:"usage_limit"`
	UsedCount     int                 `json:"used_count" gorm:"not null;default:0"`
	IsActive      bool                `json:"is_active" gorm:"not null;default:true"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func (PromoCode) TableName() string { return "promo_codes" }
