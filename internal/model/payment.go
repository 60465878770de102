package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Payment 与订单一对一；Amount 恒等于订单 Total
type Payment struct {
	ID            string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderID       string          `json:"order_id" gorm:"type:varchar(36);uniqueIndex;not null"`
	Method        string          `json:"method" gorm:"type:varchar(32);not null"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:decimal(14,2);not null"`
	Status        PaymentStatus   `json:"status" gorm:"type:varchar(16);not null"`
	TransactionID *string         `json:"transaction_id" gorm:"type:varchar(128)"`
	PaidAt        *time.Time      `json:"paid_at"`
	RefundedAt    *time.Time      `json:"refunded_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }
