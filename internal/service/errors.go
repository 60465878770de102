package service

import (
	"errors"
	"fmt"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/model"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUnavailable       = errors.New("product unavailable")
	ErrPromotionRejected = errors.New("promotion rejected")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("forbidden")
)

// ValidationError 请求字段缺失或不合法，无副作用
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientStockError 文案直接展示给顾客
type InsufficientStockError struct {
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for %s. Available: %d", e.ProductName, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type UnavailableError struct {
	ProductName string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s is not available", e.ProductName)
}

func (e *UnavailableError) Unwrap() error { return ErrUnavailable }

const (
	ReasonPromoInvalid      = "invalid promo code"
	ReasonPromoInactive     = "promo code is inactive"
	ReasonPromoNotStarted   = "promo code is not active yet"
	ReasonPromoExpired      = "promo code has expired"
	ReasonPromoExhausted    = "promo code usage limit reached"
	ReasonMinPurchaseNotMet = "minimum purchase not met"
)

type PromotionRejectedError struct {
	Code   string
	Reason string
}

func (e *PromotionRejectedError) Error() string {
	return fmt.Sprintf("promo code %s rejected: %s", e.Code, e.Reason)
}

func (e *PromotionRejectedError) Unwrap() error { return ErrPromotionRejected }

// InvalidTransitionError 状态机拒绝；对外只返回通用文案
type InvalidTransitionError struct {
	From model.OrderStatus
	To   model.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// MsgCouldNotUpdateOrder 状态机冲突对外的通用文案
const MsgCouldNotUpdateOrder = "could not update order"

// PublicMessage 返回可展示给调用方的文案；内部错误不外泄
func PublicMessage(err error) string {
	var (
		verr  *ValidationError
		nf    *NotFoundError
		stock *InsufficientStockError
		un    *UnavailableError
		promo *PromotionRejectedError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return verr.Error()
	case errors.As(err, &nf):
		return nf.Error()
	case errors.As(err, &stock):
		return stock.Error()
	case errors.As(err, &un):
		return un.Error()
	case errors.As(err, &promo):
		return promo.Reason
	case errors.Is(err, ErrInvalidTransition):
		return MsgCouldNotUpdateOrder
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrCheckoutInProgress):
		return ErrCheckoutInProgress.Error()
	}
	return "internal server error"
}
