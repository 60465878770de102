package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/model"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/logger"
)

func TestCancel_ReleasesStockOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Washer", "300000", 5)
	res := f.placeOrder(t, p.ID, 3)
	require.Equal(t, 2, f.productStock(t, p.ID))

	order, err := f.orders.Cancel(ctx, res.Order.ID, f.customer.ID, "changed mind")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, order.Status)
	assert.Equal(t, "changed mind", order.CancelReason)
	require.NotNil(t, order.CancelledAt)
	assert.Equal(t, 5, f.productStock(t, p.ID))

	// 重复取消：成功但不再归还库存
	again, err := f.orders.Cancel(ctx, res.Order.ID, f.customer.ID, "changed mind")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, again.Status)
	assert.Equal(t, 5, f.productStock(t, p.ID))

	assert.Equal(t, int64(1), f.count(t, &model.OrderStatusHistory{}, "order_id = ? AND status = ?", res.Order.ID, model.OrderStatusCancelled))
	assert.Equal(t, int64(2), f.count(t, &model.OrderStatusHistory{}, "order_id = ?", res.Order.ID))
	assert.Equal(t, int64(1), f.count(t, &model.StockLedgerEntry{}, "reference_id = ? AND reason = ?", res.Order.ID, model.StockReasonCancellationRelease))
	assert.Equal(t, int64(1), f.count(t, &model.Outbox{}, "aggregate_id = ? AND event_type = ?", res.Order.ID, EventOrderCancelled))

	var stored model.Order
	require.NoError(t, f.db.First(&stored, "id = ?", res.Order.ID).Error)
	assert.Equal(t, "changed mind", stored.CancelReason)
	assert.Equal(t, model.PaymentStatusPending, stored.PaymentStatus)
}

func TestCancel_VariantStockRestored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Dryer", "100000", 0)
	v := f.variant(t, p.ID, "White", "", 2)

	res, err := f.checkout.Checkout(ctx, f.request(f.customer.ID, f.address.ID, ItemRef{ProductID: p.ID, VariantID: &v.ID, Quantity: 2}))
	require.NoError(t, err)
	assertMoney(t, "100000", res.Items[0].UnitPrice)
	assert.Equal(t, 0, f.variantStock(t, v.ID))

	_, err = f.orders.Cancel(ctx, res.Order.ID, f.admin.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, f.variantStock(t, v.ID))
	assert.Equal(t, 0, f.productStock(t, p.ID))
}

func TestCancel_PaidOrderIsRefunded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Washer", "300000", 5)
	res := f.placeOrder(t, p.ID, 1)

	order, err := f.orders.OnPaymentResult(ctx, PaymentResult{OrderID: res.Order.ID, Status: model.PaymentStatusPaid, TransactionID: "trx-1"})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusProcessing, order.Status)
	assert.Equal(t, model.PaymentStatusPaid, order.PaymentStatus)

	order, err = f.orders.Cancel(ctx, res.Order.ID, f.admin.ID, "out of delivery area")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, order.Status)
	assert.Equal(t, model.PaymentStatusRefunded, order.PaymentStatus)

	var payment model.Payment
	require.NoError(t, f.db.First(&payment, "order_id = ?", res.Order.ID).Error)
	assert.Equal(t, model.PaymentStatusRefunded, payment.Status)
	assert.NotNil(t, payment.RefundedAt)
	assert.Equal(t, 5, f.productStock(t, p.ID))
}

func TestCancel_Forbidden(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Washer", "300000", 5)
	res := f.placeOrder(t, p.ID, 1)
	stranger := f.user(t, model.RoleCustomer)

	_, err := f.orders.Cancel(context.Background(), res.Order.ID, stranger.ID, "")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.orders.Cancel(context.Background(), res.Order.ID, "", "")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 4, f.productStock(t, p.ID))
}

func TestCancel_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.orders.Cancel(context.Background(), "missing", f.admin.ID, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancel_ShippedIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Washer", "300000", 5)
	res := f.placeOrder(t, p.ID, 1)

	for _, s := range []model.OrderStatus{model.OrderStatusProcessing, model.OrderStatusShipped} {
		_, err := f.orders.TransitionStatus(ctx, res.Order.ID, f.admin.ID, TransitionRequest{Status: s})
		require.NoError(t, err)
	}
	_, err := f.orders.Cancel(ctx, res.Order.ID, f.customer.ID, "too late")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 4, f.productStock(t, p.ID))
}

func TestTransitionStatus_FullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Washer", "300000", 5)
	res := f.placeOrder(t, p.ID, 1)

	_, err := f.orders.TransitionStatus(ctx, res.Order.ID, f.admin.ID, TransitionRequest{Status: model.OrderStatusProcessing})
	require.NoError(t, err)
	order, err := f.orders.TransitionStatus(ctx, res.Order.ID, f.admin.ID, TransitionRequest{Status: model.OrderStatusShipped, TrackingNumber: "JNE-42"})
	require.NoError(t, err)
	assert.Equal(t, "JNE-42", order.TrackingNumber)
	assert.NotNil(t, order.ShippedAt)

	order, err = f.orders.TransitionStatus(ctx, res.Order.ID, f.admin.ID, TransitionRequest{Status: model.OrderStatusDelivered, Note: "received by customer"})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusDelivered, order.Status)
	assert.NotNil(t, order.DeliveredAt)

	history, err := f.orders.GetOrderHistory(ctx, res.Order.ID, f.customer.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)

	// delivered -> shipped：拒绝，无状态变化，无新历史
	_, err = f.orders.TransitionStatus(ctx, res.Order.ID, f.admin.ID, TransitionRequest{Status: model.OrderStatusShipped})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, MsgCouldNotUpdateOrder, PublicMessage(err))

	var stored model.Order
	require.NoError(t, f.db.First(&stored, "id = ?", res.Order.ID).Error)
	assert.Equal(t, model.OrderStatusDelivered, stored.Status)
	assert.Equal(t, int64(4), f.count(t, &model.OrderStatusHistory{}, "order_id = ?", res.Order.ID))

	_, err = f.orders.TransitionStatus(ctx, res.Order.ID, f.admin.ID, TransitionRequest{Status: model.OrderStatusProcessing})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionStatus_SameStatusIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Washer", "300000", 5)
	res := f.placeOrder(t, p.ID, 1)

	for i := 0; i < 2; i++ {
		order, err := f.orders.TransitionStatus(ctx, res.Order.ID, f.admin.ID, TransitionRequest{Status: model.OrderStatusProcessing})
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusProcessing, order.Status)
	}
	assert.Equal(t, int64(2), f.count(t, &model.OrderStatusHistory{}, "order_id = ?", res.Order.ID))
}

func TestTransitionStatus_AdminOnly(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "Washer", "300000", 5)
	res := f.placeOrder(t, p.ID, 1)

	_, err := f.orders.TransitionStatus(context.Background(), res.Order.ID, f.customer.ID, TransitionRequest{Status: model.OrderStatusProcessing})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestBulkTransition_Tally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orders.WithBulkConcurrency(2)
	p := f.product(t, "Washer", "300000", 10)

	a := f.placeOrder(t, p.ID, 1)
	b := f.placeOrder(t, p.ID, 1)
	c := f.placeOrder(t, p.ID, 1)
	_, err := f.orders.Cancel(ctx, c.Order.ID, f.customer.ID, "")
	require.NoError(t, err)

	ids := []string{a.Order.ID, b.Order.ID, c.Order.ID, "missing", a.Order.ID}
	result, err := f.orders.BulkTransition(ctx, f.admin.ID, ids, TransitionRequest{Status: model.OrderStatusProcessing})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.Order.ID, b.Order.ID}, result.Succeeded)
	require.Len(t, result.Failed, 2)

	byID := map[string]BulkFailure{}
	for _, fail := range result.Failed {
		byID[fail.OrderID] = fail
	}
	assert.Equal(t, MsgCouldNotUpdateOrder, byID[c.Order.ID].Error)
	assert.Equal(t, (&NotFoundError{Resource: "order", ID: "missing"}).Error(), byID["missing"].Error)

	_, err = f.orders.BulkTransition(ctx, f.customer.ID, ids, TransitionRequest{Status: model.OrderStatusProcessing})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestOnPaymentResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Washer", "300000", 5)

	t.Run("failed keeps order pending", func(t *testing.T) {
		res := f.placeOrder(t, p.ID, 1)
		order, err := f.orders.OnPaymentResult(ctx, PaymentResult{OrderID: res.Order.ID, Status: model.PaymentStatusFailed, TransactionID: "trx-f"})
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusPending, order.Status)
		assert.Equal(t, model.PaymentStatusFailed, order.PaymentStatus)
		assert.Equal(t, int64(1), f.count(t, &model.OrderStatusHistory{}, "order_id = ?", res.Order.ID))
	})

	t.Run("paid moves to processing once", func(t *testing.T) {
		res := f.placeOrder(t, p.ID, 1)
		amount := res.Order.Total
		in := PaymentResult{OrderID: res.Order.ID, Status: model.PaymentStatusPaid, TransactionID: "trx-p", Amount: &amount}

		order, err := f.orders.OnPaymentResult(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusProcessing, order.Status)

		// 重放
		_, err = f.orders.OnPaymentResult(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, int64(2), f.count(t, &model.OrderStatusHistory{}, "order_id = ?", res.Order.ID))

		var payment model.Payment
		require.NoError(t, f.db.First(&payment, "order_id = ?", res.Order.ID).Error)
		assert.Equal(t, model.PaymentStatusPaid, payment.Status)
		require.NotNil(t, payment.TransactionID)
		assert.Equal(t, "trx-p", *payment.TransactionID)
		assert.NotNil(t, payment.PaidAt)
	})

	t.Run("amount mismatch", func(t *testing.T) {
		res := f.placeOrder(t, p.ID, 1)
		wrong := d("1")
		_, err := f.orders.OnPaymentResult(ctx, PaymentResult{OrderID: res.Order.ID, Status: model.PaymentStatusPaid, TransactionID: "trx-x", Amount: &wrong})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := f.orders.OnPaymentResult(ctx, PaymentResult{OrderID: "missing", Status: model.PaymentStatusPaid, TransactionID: "trx"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("bad status", func(t *testing.T) {
		_, err := f.orders.OnPaymentResult(ctx, PaymentResult{OrderID: "x", Status: model.PaymentStatusRefunded})
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestGetOrder_OwnerOrAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Washer", "300000", 5)
	res := f.placeOrder(t, p.ID, 2)

	detail, err := f.orders.GetOrder(ctx, res.Order.ID, f.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Order.OrderNumber, detail.Order.OrderNumber)
	assert.Len(t, detail.Items, 1)
	require.NotNil(t, detail.Payment)

	_, err = f.orders.GetOrder(ctx, res.Order.ID, f.admin.ID)
	assert.NoError(t, err)

	stranger := f.user(t, model.RoleCustomer)
	_, err = f.orders.GetOrder(ctx, res.Order.ID, stranger.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.orders.GetOrderHistory(ctx, res.Order.ID, stranger.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.orders.GetOrder(ctx, "missing", f.admin.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionStatus_RejectionLoggedOnce(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zap.WarnLevel)
	logger.Set(zap.New(core))
	p := f.product(t, "Washer", "300000", 5)
	res := f.placeOrder(t, p.ID, 1)

	_, err := f.orders.TransitionStatus(context.Background(), res.Order.ID, f.admin.ID, TransitionRequest{Status: model.OrderStatusDelivered})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 1, logs.FilterMessage("rejected order transition").Len())
}

// gatedCache 内存订单缓存；armed 时下一次 Set 停住，直到 release 关闭
type gatedCache struct {
	mu      sync.Mutex
	entries map[string]OrderDetail
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func newGatedCache() *gatedCache {
	return &gatedCache{
		entries: map[string]OrderDetail{},
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (c *gatedCache) arm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armed = true
}

func (c *gatedCache) Get(_ context.Context, orderID string) (*OrderDetail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.entries[orderID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (c *gatedCache) Set(_ context.Context, detail *OrderDetail) error {
	c.mu.Lock()
	gate := c.armed
	c.armed = false
	c.mu.Unlock()
	if gate {
		c.entered <- struct{}{}
		<-c.release
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[detail.Order.ID] = *detail
	return nil
}

func (c *gatedCache) Invalidate(_ context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, orderID)
	return nil
}

func TestGetOrder_CancelDuringCacheFill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cache := newGatedCache()
	f.orders.WithCache(cache)
	p := f.product(t, "Washer", "300000", 5)
	res := f.placeOrder(t, p.ID, 1)

	cache.arm()
	type result struct {
		detail *OrderDetail
		err    error
	}
	done := make(chan result, 1)
	go func() {
		d, err := f.orders.GetOrder(ctx, res.Order.ID, f.customer.ID)
		done <- result{d, err}
	}()

	// 读库完成、写缓存之前提交取消
	<-cache.entered
	_, err := f.orders.Cancel(ctx, res.Order.ID, f.customer.ID, "")
	require.NoError(t, err)
	close(cache.release)

	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, model.OrderStatusPending, first.detail.Order.Status)

	cached, err := cache.Get(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Nil(t, cached)

	detail, err := f.orders.GetOrder(ctx, res.Order.ID, f.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, detail.Order.Status)

	cached, err = cache.Get(ctx, res.Order.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, model.OrderStatusCancelled, cached.Order.Status)
	assert.Equal(t, detail.Order.Version, cached.Order.Version)
}
