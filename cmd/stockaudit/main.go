package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/fauzanteza/mesin-cuci-store-sub002/config"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/service"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/database"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/logger"
)

// 对比每个商品/规格的库存计数与最近一条流水的余量；存在差异时以 1 退出
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Fatal("init database", zap.Error(err))
	}

	PAGE := 200
	if s := os.Getenv("PAGE"); s != "" {
		if p, err := strconv.Atoi(s); err == nil && p > 0 {
			PAGE = p
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	t0 := time.Now()
	checked, drift, err := service.NewStockLedger(db).AuditAll(ctx, PAGE)
	if err != nil {
		logger.Fatal("stock audit", zap.Int("checked", checked), zap.Error(err))
	}

	for _, r := range drift {
		variant := "-"
		if r.VariantID != nil {
			variant = *r.VariantID
		}
		fmt.Printf("DRIFT product=%s variant=%s stock=%d ledger_balance=%d entries=%d delta_sum=%d\n",
			r.ProductID, variant, r.Stock, *r.LedgerBalance, r.Entries, r.DeltaSum)
	}
	fmt.Printf("checked=%d drift=%d elapsed=%v\n", checked, len(drift), time.Since(t0))
	if len(drift) > 0 {
		os.Exit(1)
	}
}
