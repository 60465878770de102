package service

import "github.com/shopspring/decimal"

// DefaultTaxRate 税按折前小计计算
var DefaultTaxRate = decimal.RequireFromString("0.10")

// PriceLine 单行金额输入
type PriceLine struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

func (l PriceLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Totals struct {
	Subtotal     decimal.Decimal
	Tax          decimal.Decimal
	ShippingCost decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
}

// Price 纯函数：subtotal = Σ单价×数量，tax = subtotal×taxRate，
// total = subtotal + tax + shipping - discount，下限为 0；折扣与合计保留两位小数
func Price(lines []PriceLine, shippingCost, discount, taxRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Subtotal())
	}

	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	// 持久化列为两位小数，接口返回与入库保持同一个值
	discount = discount.Round(2)
	if shippingCost.IsNegative() {
		shippingCost = decimal.Zero
	}

	tax := subtotal.Mul(taxRate)
	total := subtotal.Add(tax).Add(shippingCost).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Totals{
		Subtotal:     subtotal,
		Tax:          tax.Round(2),
		ShippingCost: shippingCost,
		Discount:     discount,
		Total:        total.Round(2),
	}
}
