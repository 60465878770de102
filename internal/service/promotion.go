package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/model"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/repository"
)

// PromotionValidator 校验优惠码并计算折扣
type PromotionValidator struct{}

func NewPromotionValidator() *PromotionValidator {
	return &PromotionValidator{}
}

// NormalizeCode 优惠码统一大写
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Lookup 在调用方事务内锁定优惠码行；不存在时返回 PromotionRejectedError
func (v *PromotionValidator) Lookup(ctx context.Context, tx *gorm.DB, code string) (*model.PromoCode, error) {
	code = NormalizeCode(code)
	promo, err := repository.NewPromoRepository(tx).LockByCode(ctx, code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &PromotionRejectedError{Code: code, Reason: ReasonPromoInvalid}
	}
	if err != nil {
		return nil, err
	}
	return promo, nil
}

// Validate 按顺序检查：启用、有效期、使用次数、最低消费
func (v *PromotionValidator) Validate(promo *model.PromoCode, subtotal decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if promo == nil {
		return decimal.Zero, &PromotionRejectedError{Reason: ReasonPromoInvalid}
	}
	reject := func(reason string) (decimal.Decimal, error) {
		return decimal.Zero, &PromotionRejectedError{Code: promo.Code, Reason: reason}
	}

	if !promo.IsActive {
		return reject(ReasonPromoInactive)
	}
	if now.Before(promo.StartDate) {
		return reject(ReasonPromoNotStarted)
	}
	if now.After(promo.EndDate) {
		return reject(ReasonPromoExpired)
	}
	if promo.UsageLimit != nil && promo.UsedCount >= *promo.UsageLimit {
		return reject(ReasonPromoExhausted)
	}
	if subtotal.LessThan(promo.MinPurchase) {
		return reject(ReasonMinPurchaseNotMet)
	}

	var discount decimal.Decimal
	switch promo.DiscountType {
	case model.DiscountPercentage:
		discount = subtotal.Mul(promo.DiscountValue).Div(decimal.NewFromInt(100))
		if promo.MaxDiscount.Valid && discount.GreaterThan(promo.MaxDiscount.Decimal) {
			discount = promo.MaxDiscount.Decimal
		}
	case model.DiscountFixed:
		discount = promo.DiscountValue
	default:
		return reject(ReasonPromoInvalid)
	}

	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	return discount, nil
}

// Consume 使用次数 +1，必须与校验处于同一事务
func (v *PromotionValidator) Consume(ctx context.Context, tx *gorm.DB, promo *model.PromoCode) error {
	ok, err := repository.NewPromoRepository(tx).IncrementUsage(ctx, promo.ID)
	if err != nil {
		return err
	}
	if !ok {
		return &PromotionRejectedError{Code: promo.Code, Reason: ReasonPromoExhausted}
	}
	promo.UsedCount++
	return nil
}
