package model

// All 返回需要迁移的全部模型
func All() []interface{} {
	return []interface{}{
		&User{},
		&Address{},
		&Product{},
		&ProductVariant{},
		&CartItem{},
		&PromoCode{},
		&Order{},
		&OrderItem{},
		&OrderStatusHistory{},
		&OrderSequence{},
		&Payment{},
		&StockLedgerEntry{},
		&Outbox{},
	}
}
