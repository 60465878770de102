package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fauzanteza/mesin-cuci-store-sub002/config"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/model"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/repository"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/service"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			return v
		}
	}
	return def
}

// 多个用户并发抢同一件商品（可选同一优惠码），校验不超卖、优惠码不超发
func main() {
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	ctx := context.Background()

	N := envInt("N", 500)
	CONC := envInt("CONC", 16)
	STOCK := envInt("STOCK", 100)
	PROMO_LIMIT := envInt("PROMO_LIMIT", 0)
	if CONC < 1 {
		CONC = 1
	}

	// seed
	product := model.Product{ID: uuid.NewString(), Name: "bench-" + uuid.NewString()[:8], Price: decimal.NewFromInt(100000), Stock: STOCK, IsActive: true}
	must(0, db.Create(&product).Error)

	promoCode := ""
	if PROMO_LIMIT > 0 {
		limit := PROMO_LIMIT
		promo := model.PromoCode{
			ID:            uuid.NewString(),
			Code:          "BENCH" + uuid.NewString()[:6],
			DiscountType:  model.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(10),
			StartDate:     time.Now().Add(-time.Hour),
			EndDate:       time.Now().Add(time.Hour),
			UsageLimit:    &limit,
			IsActive:      true,
		}
		must(0, db.Create(&promo).Error)
		promoCode = promo.Code
	}

	type buyer struct{ userID, addressID string }
	buyers := make([]buyer, N)
	users := make([]model.User, N)
	addrs := make([]model.Address, N)
	for i := 0; i < N; i++ {
		id := uuid.NewString()
		users[i] = model.User{ID: id, Name: "u" + id[:8], Email: id + "@bench.local", Role: model.RoleCustomer}
		addrs[i] = model.Address{ID: uuid.NewString(), UserID: id, Recipient: "bench", Line1: "Jl. Bench", City: "Jakarta"}
		buyers[i] = buyer{userID: id, addressID: addrs[i].ID}
	}
	must(0, db.CreateInBatches(&users, 500).Error)
	must(0, db.CreateInBatches(&addrs, 500).Error)

	// services
	ledger := service.NewStockLedger(db)
	sales := service.NewSalesCounter(db, N)
	stopSales := sales.Start(4)
	checkout := service.NewCheckoutService(db, ledger, service.NewNotifier(), service.CheckoutOptions{TaxRate: service.DefaultTaxRate}).
		WithSalesCounter(sales)

	var (
		mu                        sync.Mutex
		lat                       []time.Duration
		ok, noStock, promo, other int
	)
	feed := make(chan buyer, N)
	for _, b := range buyers {
		feed <- b
	}
	close(feed)

	t0 := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < CONC; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range feed {
				st := time.Now()
				_, err := checkout.Checkout(ctx, service.CheckoutRequest{
					UserID:         b.userID,
					AddressID:      b.addressID,
					PaymentMethod:  "bank_transfer",
					ShippingMethod: "regular",
					PromoCode:      promoCode,
					Items:          []service.ItemRef{{ProductID: product.ID, Quantity: 1}},
				})
				d := time.Since(st)

				mu.Lock()
				lat = append(lat, d)
				switch {
				case err == nil:
					ok++
				case errors.Is(err, service.ErrInsufficientStock):
					noStock++
				case errors.Is(err, service.ErrPromotionRejected):
					promo++
				default:
					other++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(t0)
	_ = stopSales(ctx)

	pct := func(vs []time.Duration, p float64) time.Duration {
		if len(vs) == 0 {
			return 0
		}
		xs := append([]time.Duration(nil), vs...)
		sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
		k := int(math.Ceil(p*float64(len(xs)))) - 1
		if k < 0 {
			k = 0
		}
		if k >= len(xs) {
			k = len(xs) - 1
		}
		return xs[k]
	}

	final := must(repository.NewProductRepository(db).GetProduct(ctx, product.ID))
	report := must(ledger.Audit(ctx, product.ID, nil))

	fmt.Printf("N=%d CONC=%d STOCK=%d PROMO_LIMIT=%d\n", N, CONC, STOCK, PROMO_LIMIT)
	fmt.Printf("checkout total=%v p50=%v p95=%v p99=%v\n", total, pct(lat, 0.50), pct(lat, 0.95), pct(lat, 0.99))
	fmt.Printf("ok=%d insufficient_stock=%d promo_rejected=%d other=%d\n", ok, noStock, promo, other)
	fmt.Printf("stock: start=%d final=%d expected=%d sales_count=%d\n", STOCK, final.Stock, STOCK-ok, final.SalesCount)
	fmt.Printf("ledger: entries=%d delta_sum=%d consistent=%v\n", report.Entries, report.DeltaSum, report.Consistent)

	failed := final.Stock != STOCK-ok || final.Stock < 0 || !report.Consistent
	if PROMO_LIMIT > 0 {
		var used model.PromoCode
		must(0, db.First(&used, "code = ?", promoCode).Error)
		fmt.Printf("promo: used=%d limit=%d\n", used.UsedCount, PROMO_LIMIT)
		failed = failed || used.UsedCount > PROMO_LIMIT || used.UsedCount != ok
	}
	if failed {
		fmt.Println("INVARIANT VIOLATED")
		os.Exit(1)
	}
}
