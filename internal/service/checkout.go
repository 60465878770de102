package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/model"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/repository"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/database"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/logger"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/metrics"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/tracing"
)

// ErrCheckoutInProgress 同一幂等键的请求仍在处理
var ErrCheckoutInProgress = errors.New("checkout with this idempotency key is in progress")

const maxCheckoutAttempts = 3

// CheckoutRequest 结账入参
type CheckoutRequest struct {
	UserID         string          `validate:"required"`
	AddressID      string          `validate:"required"`
	PaymentMethod  string          `validate:"required,max=32"`
	ShippingMethod string          `validate:"required,max=32"`
	ShippingCost   decimal.Decimal `validate:"-"`
	PromoCode      string          `validate:"max=64"`
	Notes          string          `validate:"max=1000"`
	Items          []ItemRef       `validate:"required,min=1,dive"`
	IdempotencyKey string          `validate:"max=128"`
}

// OrderDetail 订单 + 明细 + 支付
type OrderDetail struct {
	Order   model.Order       `json:"order"`
	Items   []model.OrderItem `json:"items"`
	Payment *model.Payment    `json:"payment"`
}

type CheckoutResult struct {
	OrderDetail
	// Replayed 幂等键命中，返回的是已有订单
	Replayed bool `json:"replayed"`
}

// OrderCache 订单读缓存
type OrderCache interface {
	Get(ctx context.Context, orderID string) (*OrderDetail, error)
	Set(ctx context.Context, detail *OrderDetail) error
	Invalidate(ctx context.Context, orderID string) error
}

// IdempotencyStore 结账幂等键
type IdempotencyStore interface {
	// Reserve 占用 key；已完成时返回之前的订单ID
	Reserve(ctx context.Context, key string) (existingOrderID string, reserved bool, err error)
	Complete(ctx context.Context, key, orderID string) error
	Release(ctx context.Context, key string) error
}

type CheckoutOptions struct {
	TaxRate           decimal.Decimal
	OrderNumberPrefix string
}

// CheckoutService 购物车 -> 订单，全部写入在一个事务内完成
type CheckoutService struct {
	db       *gorm.DB
	catalog  *CatalogReader
	promos   *PromotionValidator
	ledger   *StockLedger
	notifier *Notifier
	sales    *SalesCounter
	cache    OrderCache
	idem     IdempotencyStore
	validate *validator.Validate
	taxRate  decimal.Decimal
	prefix   string
	now      func() time.Time
}

func NewCheckoutService(db *gorm.DB, ledger *StockLedger, notifier *Notifier, opts CheckoutOptions) *CheckoutService {
	if opts.OrderNumberPrefix == "" {
		opts.OrderNumberPrefix = "ORD"
	}
	if opts.TaxRate.IsNegative() {
		opts.TaxRate = DefaultTaxRate
	}
	return &CheckoutService{
		db:       db,
		catalog:  NewCatalogReader(),
		promos:   NewPromotionValidator(),
		ledger:   ledger,
		notifier: notifier,
		validate: validator.New(),
		taxRate:  opts.TaxRate,
		prefix:   opts.OrderNumberPrefix,
		now:      time.Now,
	}
}

func (s *CheckoutService) WithCache(c OrderCache) *CheckoutService {
	s.cache = c
	return s
}

func (s *CheckoutService) WithSalesCounter(sc *SalesCounter) *CheckoutService {
	s.sales = sc
	return s
}

func (s *CheckoutService) WithIdempotency(store IdempotencyStore) *CheckoutService {
	s.idem = store
	return s
}

func (s *CheckoutService) checkRequest(req *CheckoutRequest) error {
	if len(req.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "must not be empty"}
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{Field: fe.Namespace(), Reason: "failed on " + fe.Tag()}
		}
		return &ValidationError{Reason: err.Error()}
	}
	if req.ShippingCost.IsNegative() {
		return &ValidationError{Field: "shipping_cost", Reason: "must not be negative"}
	}
	return nil
}

// Checkout 地址 -> 加锁快照 -> 预检 -> 扣库存 -> 优惠码 -> 计价 -> 订单号 -> 落库 -> 核销 -> 清购物车
func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := tracing.Tracer().Start(ctx, "checkout")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", req.UserID), attribute.Int("items", len(req.Items)))

	start := time.Now()
	res, err := s.checkout(ctx, req)
	metrics.CheckoutDuration.Observe(time.Since(start).Seconds())
	metrics.CheckoutTotal.WithLabelValues(checkoutOutcome(res, err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("order.number", res.Order.OrderNumber))
	return res, nil
}

func checkoutOutcome(res *CheckoutResult, err error) string {
	switch {
	case err == nil && res != nil && res.Replayed:
		return "replayed"
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrPromotionRejected):
		return "promo_rejected"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	}
	return "error"
}

func (s *CheckoutService) checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	req.PromoCode = strings.TrimSpace(req.PromoCode)
	if err := s.checkRequest(&req); err != nil {
		return nil, err
	}

	idemKey := ""
	if s.idem != nil && req.IdempotencyKey != "" {
		idemKey = req.UserID + ":" + req.IdempotencyKey
		existing, reserved, err := s.idem.Reserve(ctx, idemKey)
		if err != nil {
			// 幂等存储不可用时按普通请求处理
			logger.Warn("idempotency reserve failed", zap.String("key", idemKey), zap.Error(err))
			idemKey = ""
		} else if !reserved {
			if existing == "" {
				return nil, ErrCheckoutInProgress
			}
			detail, err := loadDetail(ctx, s.db, existing)
			if err != nil {
				return nil, err
			}
			return &CheckoutResult{OrderDetail: *detail, Replayed: true}, nil
		}
	}

	var (
		detail  *OrderDetail
		entries []*model.StockLedgerEntry
		err     error
	)
	for attempt := 1; ; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			detail, entries, err = s.placeOrder(ctx, tx, req)
			return err
		})
		// 订单号被并发写入抢占时整笔事务已回滚，重新分配序号
		if err == nil || attempt >= maxCheckoutAttempts || !database.IsUniqueViolation(err) {
			break
		}
		logger.Warn("order number taken, retrying checkout", zap.Int("attempt", attempt), zap.Error(err))
	}
	if err != nil {
		if idemKey != "" {
			if rerr := s.idem.Release(ctx, idemKey); rerr != nil {
				logger.Warn("idempotency release failed", zap.String("key", idemKey), zap.Error(rerr))
			}
		}
		return nil, err
	}

	s.afterCommit(ctx, detail, entries, idemKey)
	return &CheckoutResult{OrderDetail: *detail}, nil
}

func (s *CheckoutService) placeOrder(ctx context.Context, tx *gorm.DB, req CheckoutRequest) (*OrderDetail, []*model.StockLedgerEntry, error) {
	if _, err := repository.NewAddressRepository(tx).GetForUser(ctx, req.AddressID, req.UserID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, &NotFoundError{Resource: "address", ID: req.AddressID}
		}
		return nil, nil, err
	}

	snaps, err := s.catalog.Snapshot(ctx, tx, req.Items)
	if err != nil {
		return nil, nil, err
	}

	// 先整体预检，给出明确的缺货商品
	for _, snap := range snaps {
		if snap.Quantity > snap.Stock {
			return nil, nil, &InsufficientStockError{ProductName: snap.ProductName, Requested: snap.Quantity, Available: snap.Stock}
		}
	}

	orderID := uuid.NewString()
	entries := make([]*model.StockLedgerEntry, 0, len(snaps))
	for _, snap := range snaps {
		entry, err := s.ledger.Reserve(ctx, tx, Movement{
			ProductID:   snap.ProductID,
			VariantID:   snap.VariantID,
			ProductName: snap.ProductName,
			Quantity:    snap.Quantity,
			ReferenceID: orderID,
			ActorID:     req.UserID,
		})
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, entry)
	}

	lines := make([]PriceLine, len(snaps))
	subtotal := decimal.Zero
	for i, snap := range snaps {
		lines[i] = PriceLine{UnitPrice: snap.UnitPrice, Quantity: snap.Quantity}
		subtotal = subtotal.Add(lines[i].Subtotal())
	}

	now := s.now()
	var promo *model.PromoCode
	discount := decimal.Zero
	if req.PromoCode != "" {
		promo, err = s.promos.Lookup(ctx, tx, req.PromoCode)
		if err != nil {
			return nil, nil, err
		}
		discount, err = s.promos.Validate(promo, subtotal, now)
		if err != nil {
			return nil, nil, err
		}
	}

	totals := Price(lines, req.ShippingCost, discount, s.taxRate)

	number, err := s.nextOrderNumber(ctx, tx, now)
	if err != nil {
		return nil, nil, err
	}

	order := &model.Order{
		ID:             orderID,
		OrderNumber:    number,
		UserID:         req.UserID,
		AddressID:      req.AddressID,
		Subtotal:       totals.Subtotal,
		Tax:            totals.Tax,
		ShippingCost:   totals.ShippingCost,
		Discount:       totals.Discount,
		Total:          totals.Total,
		Status:         model.OrderStatusPending,
		PaymentStatus:  model.PaymentStatusPending,
		PaymentMethod:  req.PaymentMethod,
		ShippingMethod: req.ShippingMethod,
		Notes:          req.Notes,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if promo != nil {
		pid := promo.ID
		order.PromoCodeID = &pid
	}

	items := make([]model.OrderItem, len(snaps))
	for i, snap := range snaps {
		items[i] = model.OrderItem{
			ID:          uuid.NewString(),
			OrderID:     orderID,
			ProductID:   snap.ProductID,
			VariantID:   snap.VariantID,
			ProductName: snap.ProductName,
			UnitPrice:   snap.UnitPrice,
			Quantity:    snap.Quantity,
			Subtotal:    lines[i].Subtotal(),
			CreatedAt:   now,
		}
	}
	history := &model.OrderStatusHistory{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Status:    model.OrderStatusPending,
		Note:      "Order created",
		ActorID:   req.UserID,
		CreatedAt: now,
	}
	payment := &model.Payment{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Method:    req.PaymentMethod,
		Amount:    totals.Total,
		Status:    model.PaymentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := repository.NewOrderRepository(tx).Create(ctx, order, items, history, payment); err != nil {
		return nil, nil, fmt.Errorf("persist order: %w", err)
	}

	if promo != nil {
		if err := s.promos.Consume(ctx, tx, promo); err != nil {
			return nil, nil, err
		}
	}

	if _, err := repository.NewCartRepository(tx).ClearForUser(ctx, req.UserID); err != nil {
		return nil, nil, fmt.Errorf("clear cart: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.Record(ctx, tx, EventOrderCreated, order, ""); err != nil {
			return nil, nil, fmt.Errorf("record order event: %w", err)
		}
	}

	return &OrderDetail{Order: *order, Items: items, Payment: payment}, entries, nil
}

// maxMonthlySequence 订单号序号固定 6 位
const maxMonthlySequence = 999999

// ErrOrderNumbersExhausted 当月序号用尽
var ErrOrderNumbersExhausted = errors.New("order numbers for this month are exhausted")

// nextOrderNumber ORD-YYYYMM-NNNNNN，计数器行在事务内加锁
func (s *CheckoutService) nextOrderNumber(ctx context.Context, tx *gorm.DB, now time.Time) (string, error) {
	period := now.Format("200601")
	seq := repository.NewSequenceRepository(tx)
	orders := repository.NewOrderRepository(tx)
	for attempt := 0; attempt < 5; attempt++ {
		n, err := seq.Next(ctx, period)
		if err != nil {
			return "", fmt.Errorf("next order sequence: %w", err)
		}
		if n > maxMonthlySequence {
			return "", fmt.Errorf("%w: period %s", ErrOrderNumbersExhausted, period)
		}
		number := fmt.Sprintf("%s-%s-%06d", s.prefix, period, n)
		exists, err := orders.NumberExists(ctx, number)
		if err != nil {
			return "", err
		}
		if !exists {
			return number, nil
		}
		logger.Warn("order number collision, retrying", zap.String("number", number))
	}
	return "", errors.New("could not allocate order number")
}

// afterCommit 尽力而为，失败只记日志
func (s *CheckoutService) afterCommit(ctx context.Context, detail *OrderDetail, entries []*model.StockLedgerEntry, idemKey string) {
	recordMovements(entries)

	if idemKey != "" {
		if err := s.idem.Complete(ctx, idemKey, detail.Order.ID); err != nil {
			logger.Warn("idempotency complete failed", zap.String("key", idemKey), zap.Error(err))
		}
	}
	if s.cache != nil {
		fillCache(ctx, s.db, s.cache, detail)
	}
	for _, it := range detail.Items {
		s.sales.Enqueue(it.ProductID, it.Quantity)
	}

	logger.Info("order placed",
		zap.String("order_id", detail.Order.ID),
		zap.String("order_number", detail.Order.OrderNumber),
		zap.String("user_id", detail.Order.UserID),
		zap.String("total", detail.Order.Total.StringFixed(2)),
	)
}
