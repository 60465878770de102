package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/model"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/logger"
)

var testNow = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type fixture struct {
	db       *gorm.DB
	ledger   *StockLedger
	machine  *StateMachine
	notifier *Notifier
	checkout *CheckoutService
	orders   *OrderService

	customer model.User
	admin    model.User
	address  model.Address
}

// newFixture 单连接的 sqlite 内存库：并发事务在连接上串行，效果等同行锁
func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger.Set(zaptest.NewLogger(t))
	t.Cleanup(func() { logger.Set(nil) })

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(model.All()...))

	f := &fixture{db: db}
	f.ledger = NewStockLedger(db)
	f.ledger.now = fixedClock
	f.machine = NewStateMachine(f.ledger)
	f.machine.now = fixedClock
	f.notifier = NewNotifier()
	f.notifier.now = fixedClock
	f.checkout = NewCheckoutService(db, f.ledger, f.notifier, CheckoutOptions{TaxRate: DefaultTaxRate, OrderNumberPrefix: "ORD"})
	f.checkout.now = fixedClock
	f.orders = NewOrderService(db, f.machine, f.notifier)
	f.orders.now = fixedClock

	f.customer = f.user(t, model.RoleCustomer)
	f.admin = f.user(t, model.RoleAdmin)
	f.address = f.addressFor(t, f.customer.ID)
	return f
}

func (f *fixture) user(t *testing.T, role model.Role) model.User {
	t.Helper()
	id := uuid.NewString()
	u := model.User{ID: id, Name: "user-" + id[:8], Email: id + "@example.com", Role: role}
	require.NoError(t, f.db.Create(&u).Error)
	return u
}

func (f *fixture) addressFor(t *testing.T, userID string) model.Address {
	t.Helper()
	a := model.Address{ID: uuid.NewString(), UserID: userID, Recipient: "Budi", Phone: "0812", Line1: "Jl. Merdeka 1", City: "Bandung", PostalCode: "40111"}
	require.NoError(t, f.db.Create(&a).Error)
	return a
}

func (f *fixture) product(t *testing.T, name, price string, stock int) model.Product {
	t.Helper()
	p := model.Product{ID: uuid.NewString(), Name: name, Price: decimal.RequireFromString(price), Stock: stock, IsActive: true}
	require.NoError(t, f.db.Create(&p).Error)
	return p
}

func (f *fixture) variant(t *testing.T, productID, name, price string, stock int) model.ProductVariant {
	t.Helper()
	v := model.ProductVariant{ID: uuid.NewString(), ProductID: productID, Name: name, Stock: stock, IsActive: true}
	if price != "" {
		v.Price = decimal.NewNullDecimal(decimal.RequireFromString(price))
	}
	require.NoError(t, f.db.Create(&v).Error)
	return v
}

func (f *fixture) promo(t *testing.T, code string, typ model.DiscountType, value, maxDiscount, minPurchase string, limit *int) model.PromoCode {
	t.Helper()
	p := model.PromoCode{
		ID:            uuid.NewString(),
		Code:          code,
		DiscountType:  typ,
		DiscountValue: decimal.RequireFromString(value),
		MinPurchase:   decimal.RequireFromString(minPurchase),
		StartDate:     testNow.AddDate(0, -1, 0),
		EndDate:       testNow.AddDate(0, 1, 0),
		UsageLimit:    limit,
		IsActive:      true,
	}
	if maxDiscount != "" {
		p.MaxDiscount = decimal.NewNullDecimal(decimal.RequireFromString(maxDiscount))
	}
	require.NoError(t, f.db.Create(&p).Error)
	return p
}

func (f *fixture) addToCart(t *testing.T, userID, productID string, qty int) {
	t.Helper()
	require.NoError(t, f.db.Create(&model.CartItem{ID: uuid.NewString(), UserID: userID, ProductID: productID, Quantity: qty}).Error)
}

func (f *fixture) productStock(t *testing.T, id string) int {
	t.Helper()
	var p model.Product
	require.NoError(t, f.db.First(&p, "id = ?", id).Error)
	return p.Stock
}

func (f *fixture) variantStock(t *testing.T, id string) int {
	t.Helper()
	var v model.ProductVariant
	require.NoError(t, f.db.First(&v, "id = ?", id).Error)
	return v.Stock
}

func (f *fixture) count(t *testing.T, m interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := f.db.Model(m)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func (f *fixture) request(userID, addressID string, items ...ItemRef) CheckoutRequest {
	return CheckoutRequest{
		UserID:         userID,
		AddressID:      addressID,
		PaymentMethod:  "bank_transfer",
		ShippingMethod: "regular",
		ShippingCost:   decimal.Zero,
		Items:          items,
	}
}

// placeOrder 为状态流转类测试下单
func (f *fixture) placeOrder(t *testing.T, productID string, qty int) *CheckoutResult {
	t.Helper()
	res, err := f.checkout.Checkout(context.Background(), f.request(f.customer.ID, f.address.ID, ItemRef{ProductID: productID, Quantity: qty}))
	require.NoError(t, err)
	return res
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, got.Equal(decimal.RequireFromString(want)), "want %s, got %s", want, got.String())
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

// memIdempotency 内存版幂等键存储
type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{keys: map[string]string{}}
}

func (m *memIdempotency) Reserve(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.keys[key]; ok {
		return v, false, nil
	}
	m.keys[key] = ""
	return "", true, nil
}

func (m *memIdempotency) Complete(_ context.Context, key, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = orderID
	return nil
}

func (m *memIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}
