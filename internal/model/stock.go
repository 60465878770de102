package model

import "time"

// StockReason 库存变动原因
type StockReason string

const (
	StockReasonOrderReservation    StockReason = "order_reservation"
	StockReasonCancellationRelease StockReason = "cancellation_release"
	StockReasonManualAdjustment    StockReason = "manual_adjustment"
	StockReasonRestock             StockReason = "restock"
)

// StockLedgerEntry 库存流水，只追加；BalanceAfter 为变动后的余量
type StockLedgerEntry struct {
	ID           string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ProductID    string      `json:"product_id" gorm:"type:varchar(36);index:idx_ledger_item_created;not null"`
	VariantID    *string     `json:"variant_id" gorm:"type:varchar(36);index:idx_ledger_item_created"`
	Delta        int         `json:"delta" gorm:"not null"`
	BalanceAfter int         `json:"balance_after" gorm:"not null"`
	Reason       StockReason `json:"reason" gorm:"type:varchar(32);not null"`
	ReferenceID  string      `json:"reference_id" gorm:"type:varchar(36);index"`
	ActorID      string      `json:"actor_id" gorm:"type:varchar(36)"`
	Note         string      `json:"note" gorm:"type:varchar(255)"`
	CreatedAt    time.Time   `json:"created_at" gorm:"index:idx_ledger_item_created"`
}

func (StockLedgerEntry) TableName() string { return "stock_ledger_entries" }
