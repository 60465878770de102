package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/model"
)

func TestCheckout_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	washer := f.product(t, "Front Loader 8kg", "300000", 10)
	dryer := f.product(t, "Dryer 7kg", "100000", 0)
	silver := f.variant(t, dryer.ID, "Silver", "150000", 5)
	f.promo(t, "SAVE10", model.DiscountPercentage, "10", "50000", "100000", nil)
	f.addToCart(t, f.customer.ID, washer.ID, 2)
	f.addToCart(t, f.customer.ID, dryer.ID, 1)

	req := f.request(f.customer.ID, f.address.ID,
		ItemRef{ProductID: washer.ID, Quantity: 2},
		ItemRef{ProductID: dryer.ID, VariantID: &silver.ID, Quantity: 1},
	)
	req.ShippingCost = d("20000")
	req.PromoCode = "save10"

	res, err := f.checkout.Checkout(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Replayed)

	order := res.Order
	assert.Equal(t, "ORD-202601-000001", order.OrderNumber)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.Equal(t, model.PaymentStatusPending, order.PaymentStatus)
	assertMoney(t, "750000", order.Subtotal)
	assertMoney(t, "75000", order.Tax)
	assertMoney(t, "50000", order.Discount)
	assertMoney(t, "20000", order.ShippingCost)
	assertMoney(t, "795000", order.Total)
	require.NotNil(t, order.PromoCodeID)

	require.Len(t, res.Items, 2)
	for _, it := range res.Items {
		if it.VariantID != nil {
			assertMoney(t, "150000", it.UnitPrice)
			assert.Equal(t, "Dryer 7kg - Silver", it.ProductName)
		}
	}
	require.NotNil(t, res.Payment)
	assertMoney(t, "795000", res.Payment.Amount)
	assert.Equal(t, model.PaymentStatusPending, res.Payment.Status)

	assert.Equal(t, 8, f.productStock(t, washer.ID))
	assert.Equal(t, 4, f.variantStock(t, silver.ID))
	assert.Equal(t, 0, f.productStock(t, dryer.ID))

	var promo model.PromoCode
	require.NoError(t, f.db.First(&promo, "code = ?", "SAVE10").Error)
	assert.Equal(t, 1, promo.UsedCount)

	assert.Equal(t, int64(0), f.count(t, &model.CartItem{}, "user_id = ?", f.customer.ID))
	assert.Equal(t, int64(1), f.count(t, &model.OrderStatusHistory{}, "order_id = ? AND status = ?", order.ID, model.OrderStatusPending))
	assert.Equal(t, int64(2), f.count(t, &model.StockLedgerEntry{}, "reference_id = ? AND reason = ?", order.ID, model.StockReasonOrderReservation))
	assert.Equal(t, int64(1), f.count(t, &model.Outbox{}, "aggregate_id = ? AND event_type = ?", order.ID, EventOrderCreated))

	var entry model.StockLedgerEntry
	require.NoError(t, f.db.First(&entry, "reference_id = ? AND product_id = ? AND variant_id IS NULL", order.ID, washer.ID).Error)
	assert.Equal(t, -2, entry.Delta)
	assert.Equal(t, 8, entry.BalanceAfter)
}

func TestCheckout_Save10Scenario(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Washer Dryer Combo", "600000", 3)
	f.promo(t, "SAVE10", model.DiscountPercentage, "10", "50000", "100000", nil)

	req := f.request(f.customer.ID, f.address.ID, ItemRef{ProductID: p.ID, Quantity: 1})
	req.ShippingCost = d("25000")
	req.PromoCode = "SAVE10"

	res, err := f.checkout.Checkout(context.Background(), req)
	require.NoError(t, err)
	assertMoney(t, "600000", res.Order.Subtotal)
	assertMoney(t, "60000", res.Order.Tax)
	assertMoney(t, "50000", res.Order.Discount)
	// 600000 + 60000 + 25000 - 50000
	assertMoney(t, "635000", res.Order.Total)
}

func TestCheckout_DuplicateLinesMerged(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Washer", "1000", 5)

	res, err := f.checkout.Checkout(context.Background(), f.request(f.customer.ID, f.address.ID,
		ItemRef{ProductID: p.ID, Quantity: 2},
		ItemRef{ProductID: p.ID, Quantity: 1},
	))
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, 3, res.Items[0].Quantity)
	assert.Equal(t, 2, f.productStock(t, p.ID))
}

func TestCheckout_InsufficientStockRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plenty := f.product(t, "Washer", "300000", 10)
	scarce := f.product(t, "Dryer", "200000", 1)
	f.addToCart(t, f.customer.ID, plenty.ID, 2)

	_, err := f.checkout.Checkout(ctx, f.request(f.customer.ID, f.address.ID,
		ItemRef{ProductID: plenty.ID, Quantity: 2},
		ItemRef{ProductID: scarce.ID, Quantity: 3},
	))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "Dryer", stockErr.ProductName)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, "Insufficient stock for Dryer. Available: 1", stockErr.Error())

	assert.Equal(t, 10, f.productStock(t, plenty.ID))
	assert.Equal(t, 1, f.productStock(t, scarce.ID))
	assert.Equal(t, int64(0), f.count(t, &model.Order{}, ""))
	assert.Equal(t, int64(0), f.count(t, &model.StockLedgerEntry{}, ""))
	assert.Equal(t, int64(1), f.count(t, &model.CartItem{}, "user_id = ?", f.customer.ID))
}

func TestCheckout_InvalidPromoLeavesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Washer", "50000", 4)
	f.promo(t, "SAVE10", model.DiscountPercentage, "10", "50000", "100000", nil)
	f.addToCart(t, f.customer.ID, p.ID, 1)

	req := f.request(f.customer.ID, f.address.ID, ItemRef{ProductID: p.ID, Quantity: 1})
	req.PromoCode = "SAVE10"
	_, err := f.checkout.Checkout(ctx, req)

	var rejected *PromotionRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, ReasonMinPurchaseNotMet, rejected.Reason)

	// 库存扣减已随事务回滚
	assert.Equal(t, 4, f.productStock(t, p.ID))
	assert.Equal(t, int64(1), f.count(t, &model.CartItem{}, "user_id = ?", f.customer.ID))
	assert.Equal(t, int64(0), f.count(t, &model.Order{}, ""))
	assert.Equal(t, int64(0), f.count(t, &model.OrderSequence{}, ""))

	req.PromoCode = "UNKNOWN"
	_, err = f.checkout.Checkout(ctx, req)
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, ReasonPromoInvalid, rejected.Reason)
}

func TestCheckout_Validation(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Washer", "1000", 5)

	tests := []struct {
		name   string
		mutate func(r *CheckoutRequest)
	}{
		{"no items", func(r *CheckoutRequest) { r.Items = nil }},
		{"zero quantity", func(r *CheckoutRequest) { r.Items[0].Quantity = 0 }},
		{"missing product id", func(r *CheckoutRequest) { r.Items[0].ProductID = "" }},
		{"negative shipping", func(r *CheckoutRequest) { r.ShippingCost = d("-1") }},
		{"missing payment method", func(r *CheckoutRequest) { r.PaymentMethod = "" }},
		{"missing address", func(r *CheckoutRequest) { r.AddressID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request(f.customer.ID, f.address.ID, ItemRef{ProductID: p.ID, Quantity: 1})
			tt.mutate(&req)
			_, err := f.checkout.Checkout(context.Background(), req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.Equal(t, 5, f.productStock(t, p.ID))
}

func TestCheckout_NotFoundAndUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Washer", "1000", 5)
	other := f.user(t, model.RoleCustomer)
	otherAddr := f.addressFor(t, other.ID)

	_, err := f.checkout.Checkout(ctx, f.request(f.customer.ID, otherAddr.ID, ItemRef{ProductID: p.ID, Quantity: 1}))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.checkout.Checkout(ctx, f.request(f.customer.ID, f.address.ID, ItemRef{ProductID: "missing", Quantity: 1}))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.checkout.Checkout(ctx, f.request(f.customer.ID, f.address.ID, ItemRef{ProductID: p.ID, VariantID: strPtr("missing"), Quantity: 1}))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.db.Model(&model.Product{}).Where("id = ?", p.ID).Update("is_active", false).Error)
	_, err = f.checkout.Checkout(ctx, f.request(f.customer.ID, f.address.ID, ItemRef{ProductID: p.ID, Quantity: 1}))
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.Equal(t, 5, f.productStock(t, p.ID))
}

func TestCheckout_OrderNumbersAreSequential(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Washer", "1000", 5)

	first := f.placeOrder(t, p.ID, 1)
	second := f.placeOrder(t, p.ID, 1)
	assert.Equal(t, "ORD-202601-000001", first.Order.OrderNumber)
	assert.Equal(t, "ORD-202601-000002", second.Order.OrderNumber)
}

func TestCheckout_OrderNumbersExhausted(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Washer", "1000", 5)
	require.NoError(t, f.db.Create(&model.OrderSequence{Period: "202601", LastValue: 999998}).Error)

	last := f.placeOrder(t, p.ID, 1)
	assert.Equal(t, "ORD-202601-999999", last.Order.OrderNumber)

	_, err := f.checkout.Checkout(context.Background(), f.request(f.customer.ID, f.address.ID, ItemRef{ProductID: p.ID, Quantity: 1}))
	assert.ErrorIs(t, err, ErrOrderNumbersExhausted)
	assert.Equal(t, 4, f.productStock(t, p.ID))
	assert.Equal(t, int64(1), f.count(t, &model.Order{}, ""))
}

func TestCheckout_RetriesWhenOrderNumberTaken(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Washer", "1000", 5)

	// 第一次插入订单前抢先写入同号订单，模拟并发占号
	var calls atomic.Int32
	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("test:take_order_number", func(db *gorm.DB) {
		o, ok := db.Statement.Dest.(*model.Order)
		if !ok || calls.Add(1) != 1 {
			return
		}
		dup := *o
		dup.ID = uuid.NewString()
		db.Session(&gorm.Session{NewDB: true}).Create(&dup)
	}))

	res := f.placeOrder(t, p.ID, 1)
	assert.Equal(t, "ORD-202601-000001", res.Order.OrderNumber)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(1), f.count(t, &model.Order{}, ""))
	assert.Equal(t, 4, f.productStock(t, p.ID))
}

func TestCheckout_ConcurrentLastUnits(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Washer", "1000", 5)

	buyers := []model.User{f.customer, f.user(t, model.RoleCustomer)}
	addrs := []model.Address{f.address, f.addressFor(t, buyers[1].ID)}

	var wg sync.WaitGroup
	errs := make([]error, len(buyers))
	for i := range buyers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.checkout.Checkout(context.Background(), f.request(buyers[i].ID, addrs[i].ID, ItemRef{ProductID: p.ID, Quantity: 3}))
		}(i)
	}
	wg.Wait()

	succeeded, short := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, short)
	assert.Equal(t, 2, f.productStock(t, p.ID))
	assert.Equal(t, int64(1), f.count(t, &model.Order{}, ""))
}

func TestCheckout_PromoUsageLimitRace(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Washer", "200000", 100)
	f.promo(t, "LAST1", model.DiscountFixed, "10000", "", "0", intPtr(1))

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		u := f.user(t, model.RoleCustomer)
		a := f.addressFor(t, u.ID)
		wg.Add(1)
		go func(i int, userID, addressID string) {
			defer wg.Done()
			req := f.request(userID, addressID, ItemRef{ProductID: p.ID, Quantity: 1})
			req.PromoCode = "LAST1"
			_, errs[i] = f.checkout.Checkout(context.Background(), req)
		}(i, u.ID, a.ID)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrPromotionRejected)
	}
	assert.Equal(t, 1, ok)

	var promo model.PromoCode
	require.NoError(t, f.db.First(&promo, "code = ?", "LAST1").Error)
	assert.Equal(t, 1, promo.UsedCount)
	assert.Equal(t, 99, f.productStock(t, p.ID))
}

func TestCheckout_IdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.checkout.WithIdempotency(newMemIdempotency())
	p := f.product(t, "Washer", "1000", 5)

	req := f.request(f.customer.ID, f.address.ID, ItemRef{ProductID: p.ID, Quantity: 2})
	req.IdempotencyKey = "cart-42"

	first, err := f.checkout.Checkout(ctx, req)
	require.NoError(t, err)
	second, err := f.checkout.Checkout(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Len(t, second.Items, 1)
	assert.Equal(t, 3, f.productStock(t, p.ID))
	assert.Equal(t, int64(1), f.count(t, &model.Order{}, ""))
}

func TestCheckout_IdempotencyKeyReleasedOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.checkout.WithIdempotency(newMemIdempotency())
	p := f.product(t, "Washer", "1000", 1)

	req := f.request(f.customer.ID, f.address.ID, ItemRef{ProductID: p.ID, Quantity: 2})
	req.IdempotencyKey = "retry-me"
	_, err := f.checkout.Checkout(ctx, req)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	req.Items[0].Quantity = 1
	res, err := f.checkout.Checkout(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
}
