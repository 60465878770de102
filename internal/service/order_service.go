package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/model"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/repository"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/logger"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/metrics"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/tracing"
)

// PaymentActor 支付回调写入历史时的操作者
const PaymentActor = "system:payment"

// OrderService 订单读取与状态流转
type OrderService struct {
	db              *gorm.DB
	machine         *StateMachine
	notifier        *Notifier
	sales           *SalesCounter
	cache           OrderCache
	bulkConcurrency int
	now             func() time.Time
}

func NewOrderService(db *gorm.DB, machine *StateMachine, notifier *Notifier) *OrderService {
	return &OrderService{
		db:              db,
		machine:         machine,
		notifier:        notifier,
		bulkConcurrency: 4,
		now:             time.Now,
	}
}

func (s *OrderService) WithCache(c OrderCache) *OrderService {
	s.cache = c
	return s
}

func (s *OrderService) WithSalesCounter(sc *SalesCounter) *OrderService {
	s.sales = sc
	return s
}

func (s *OrderService) WithBulkConcurrency(n int) *OrderService {
	if n > 0 {
		s.bulkConcurrency = n
	}
	return s
}

// loadDetail 订单 + 明细 + 支付
func loadDetail(ctx context.Context, db *gorm.DB, orderID string) (*OrderDetail, error) {
	repo := repository.NewOrderRepository(db)
	order, err := repo.GetByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "order", ID: orderID}
	}
	if err != nil {
		return nil, err
	}
	items, err := repo.Items(ctx, orderID)
	if err != nil {
		return nil, err
	}
	detail := &OrderDetail{Order: *order, Items: items}
	payment, err := repo.Payment(ctx, orderID)
	switch {
	case err == nil:
		detail.Payment = payment
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}
	return detail, nil
}

// fillCache 写入后回读版本号；读库与写缓存之间有变更提交时删掉刚写入的旧值。
// 变更方总在提交后失效缓存，两边任意交错都不会留下旧版本
func fillCache(ctx context.Context, db *gorm.DB, c OrderCache, detail *OrderDetail) {
	id := detail.Order.ID
	if err := c.Set(ctx, detail); err != nil {
		logger.Warn("cache order failed", zap.String("order_id", id), zap.Error(err))
		return
	}
	current, err := repository.NewOrderRepository(db).Version(ctx, id)
	if err == nil && current == detail.Order.Version {
		return
	}
	if err != nil {
		logger.Warn("verify cached order version failed", zap.String("order_id", id), zap.Error(err))
	}
	if err := c.Invalidate(ctx, id); err != nil {
		logger.Warn("invalidate order cache failed", zap.String("order_id", id), zap.Error(err))
	}
}

// actor 角色只从 users 表读取
func actor(ctx context.Context, db *gorm.DB, actorID string) (*model.User, error) {
	if actorID == "" {
		return nil, ErrForbidden
	}
	u, err := repository.NewUserRepository(db).GetByID(ctx, actorID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrForbidden
	}
	return u, err
}

func (s *OrderService) authorize(ctx context.Context, db *gorm.DB, order *model.Order, actorID string) error {
	if order.UserID == actorID && actorID != "" {
		return nil
	}
	u, err := actor(ctx, db, actorID)
	if err != nil {
		return err
	}
	if !u.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// IsAdmin 供接口层做路由级权限判断
func (s *OrderService) IsAdmin(ctx context.Context, actorID string) (bool, error) {
	u, err := actor(ctx, s.db.WithContext(ctx), actorID)
	if errors.Is(err, ErrForbidden) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.IsAdmin(), nil
}

// GetOrder 仅订单所有者或管理员可读
func (s *OrderService) GetOrder(ctx context.Context, orderID, requesterID string) (*OrderDetail, error) {
	var detail *OrderDetail
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, orderID)
		if err != nil {
			logger.Warn("read order cache failed", zap.String("order_id", orderID), zap.Error(err))
		}
		detail = cached
	}
	if detail == nil {
		var err error
		detail, err = loadDetail(ctx, s.db, orderID)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			fillCache(ctx, s.db, s.cache, detail)
		}
	}
	if err := s.authorize(ctx, s.db, &detail.Order, requesterID); err != nil {
		return nil, err
	}
	return detail, nil
}

func (s *OrderService) GetOrderHistory(ctx context.Context, orderID, requesterID string) ([]model.OrderStatusHistory, error) {
	repo := repository.NewOrderRepository(s.db)
	order, err := repo.GetByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "order", ID: orderID}
	}
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, s.db, order, requesterID); err != nil {
		return nil, err
	}
	return repo.History(ctx, orderID)
}

// Cancel 所有者或管理员可取消；重复取消为幂等成功
func (s *OrderService) Cancel(ctx context.Context, orderID, actorID, reason string) (*model.Order, error) {
	return s.transition(ctx, orderID, actorID, false, Transition{
		To:           model.OrderStatusCancelled,
		ActorID:      actorID,
		CancelReason: reason,
	})
}

// TransitionRequest 管理员状态变更
type TransitionRequest struct {
	Status         model.OrderStatus `json:"status" binding:"required"`
	Note           string            `json:"note" binding:"max=255"`
	TrackingNumber string            `json:"tracking_number" binding:"max=64"`
	Reason         string            `json:"reason" binding:"max=255"`
}

// TransitionStatus 仅管理员
func (s *OrderService) TransitionStatus(ctx context.Context, orderID, actorID string, req TransitionRequest) (*model.Order, error) {
	return s.transition(ctx, orderID, actorID, true, Transition{
		To:             req.Status,
		ActorID:        actorID,
		Note:           req.Note,
		TrackingNumber: req.TrackingNumber,
		CancelReason:   req.Reason,
	})
}

func (s *OrderService) transition(ctx context.Context, orderID, actorID string, adminOnly bool, t Transition) (*model.Order, error) {
	ctx, span := tracing.Tracer().Start(ctx, "order.transition")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("order.to", string(t.To)))

	var (
		order   *model.Order
		outcome *TransitionOutcome
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if adminOnly {
			u, err := actor(ctx, tx, actorID)
			if err != nil {
				return err
			}
			if !u.IsAdmin() {
				return ErrForbidden
			}
		}

		var err error
		order, err = repository.NewOrderRepository(tx).LockByID(ctx, orderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &NotFoundError{Resource: "order", ID: orderID}
		}
		if err != nil {
			return err
		}
		if !adminOnly {
			if err := s.authorize(ctx, tx, order, actorID); err != nil {
				return err
			}
		}

		outcome, err = s.machine.Apply(ctx, tx, order, t)
		if err != nil {
			return err
		}
		if outcome.NoOp || s.notifier == nil {
			return nil
		}
		evt := EventOrderStatusChanged
		if t.To == model.OrderStatusCancelled {
			evt = EventOrderCancelled
		}
		return s.notifier.Record(ctx, tx, evt, order, t.Note)
	})
	if err != nil {
		metrics.OrderTransitions.WithLabelValues(string(t.To), "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrInvalidTransition) {
			logger.Warn("rejected order transition",
				zap.String("order_id", orderID),
				zap.String("actor_id", actorID),
				zap.Error(err),
			)
		}
		return nil, err
	}

	if outcome.NoOp {
		metrics.OrderTransitions.WithLabelValues(string(t.To), "noop").Inc()
		return order, nil
	}
	metrics.OrderTransitions.WithLabelValues(string(t.To), "ok").Inc()
	s.afterTransition(ctx, order, outcome)
	return order, nil
}

func (s *OrderService) afterTransition(ctx context.Context, order *model.Order, outcome *TransitionOutcome) {
	recordMovements(outcome.Released)
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, order.ID); err != nil {
			logger.Warn("invalidate order cache failed", zap.String("order_id", order.ID), zap.Error(err))
		}
	}
	if outcome.To == model.OrderStatusCancelled {
		for _, it := range outcome.Items {
			s.sales.Enqueue(it.ProductID, -it.Quantity)
		}
	}
	logger.Info("order status changed",
		zap.String("order_id", order.ID),
		zap.String("from", string(outcome.From)),
		zap.String("to", string(outcome.To)),
		zap.Bool("refunded", outcome.Refunded),
	)
}

// BulkFailure 单个订单失败原因
type BulkFailure struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error"`
}

// BulkResult 批量变更的成功/失败统计
type BulkResult struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

// BulkTransition 每个订单独立事务，受限并发，单个失败不影响其他
func (s *OrderService) BulkTransition(ctx context.Context, actorID string, orderIDs []string, req TransitionRequest) (*BulkResult, error) {
	ok, err := s.IsAdmin(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}

	result := &BulkResult{Succeeded: []string{}, Failed: []BulkFailure{}}
	var mu sync.Mutex
	var wg sync.WaitGroup
	jobs := make(chan string)

	workers := s.bulkConcurrency
	if workers > len(orderIDs) {
		workers = len(orderIDs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				_, err := s.TransitionStatus(ctx, id, actorID, req)
				mu.Lock()
				if err != nil {
					result.Failed = append(result.Failed, BulkFailure{OrderID: id, Error: PublicMessage(err)})
				} else {
					result.Succeeded = append(result.Succeeded, id)
				}
				mu.Unlock()
			}
		}()
	}

	seen := map[string]bool{}
	for _, id := range orderIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		jobs <- id
	}
	close(jobs)
	wg.Wait()
	return result, nil
}

// PaymentResult 支付方回调
type PaymentResult struct {
	OrderID       string              `json:"order_id" binding:"required"`
	Status        model.PaymentStatus `json:"status" binding:"required,oneof=paid failed"`
	TransactionID string              `json:"transaction_id" binding:"required,max=128"`
	Amount        *decimal.Decimal    `json:"amount,omitempty"`
}

// OnPaymentResult paid: 支付置 paid，订单 pending -> processing；failed: 支付置 failed，订单保持 pending。重放无副作用
func (s *OrderService) OnPaymentResult(ctx context.Context, res PaymentResult) (*model.Order, error) {
	if res.Status != model.PaymentStatusPaid && res.Status != model.PaymentStatusFailed {
		return nil, &ValidationError{Field: "status", Reason: "must be paid or failed"}
	}

	var (
		order   *model.Order
		outcome *TransitionOutcome
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewOrderRepository(tx)
		var err error
		order, err = repo.LockByID(ctx, res.OrderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &NotFoundError{Resource: "order", ID: res.OrderID}
		}
		if err != nil {
			return err
		}
		payment, err := repo.Payment(ctx, order.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &NotFoundError{Resource: "payment", ID: res.OrderID}
		}
		if err != nil {
			return err
		}

		now := s.now()
		txID := res.TransactionID
		switch res.Status {
		case model.PaymentStatusPaid:
			if payment.Status == model.PaymentStatusPaid || payment.Status == model.PaymentStatusRefunded {
				return nil
			}
			if res.Amount != nil && !res.Amount.Equal(payment.Amount) {
				return &ValidationError{Field: "amount", Reason: "does not match order total"}
			}
			status := model.PaymentStatusPaid
			patch := repository.PaymentPatch{Status: &status, TransactionID: &txID, PaidAt: &now}
			if order.Status == model.OrderStatusCancelled {
				// 已取消的订单收到款项，直接标记退款
				status = model.PaymentStatusRefunded
				patch.RefundedAt = &now
				logger.Warn("payment received for cancelled order", zap.String("order_id", order.ID))
			}
			if err := repo.UpdatePayment(ctx, payment.ID, patch); err != nil {
				return err
			}
			if err := repo.Update(ctx, order.ID, repository.OrderPatch{PaymentStatus: &status}); err != nil {
				return err
			}
			order.PaymentStatus = status
			order.Version++
			changed = true
			if order.Status == model.OrderStatusPending {
				outcome, err = s.machine.Apply(ctx, tx, order, Transition{
					To:      model.OrderStatusProcessing,
					ActorID: PaymentActor,
					Note:    "Payment received, transaction " + txID,
				})
				if err != nil {
					return err
				}
			}
		case model.PaymentStatusFailed:
			if payment.Status != model.PaymentStatusPending {
				return nil
			}
			status := model.PaymentStatusFailed
			if err := repo.UpdatePayment(ctx, payment.ID, repository.PaymentPatch{Status: &status, TransactionID: &txID}); err != nil {
				return err
			}
			if err := repo.Update(ctx, order.ID, repository.OrderPatch{PaymentStatus: &status}); err != nil {
				return err
			}
			order.PaymentStatus = status
			order.Version++
			changed = true
		}

		if changed && s.notifier != nil {
			return s.notifier.Record(ctx, tx, EventPaymentRecorded, order, string(res.Status))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		if s.cache != nil {
			if err := s.cache.Invalidate(ctx, order.ID); err != nil {
				logger.Warn("invalidate order cache failed", zap.String("order_id", order.ID), zap.Error(err))
			}
		}
		logger.Info("payment result recorded",
			zap.String("order_id", order.ID),
			zap.String("status", string(res.Status)),
			zap.String("transaction_id", res.TransactionID),
		)
	}
	if outcome != nil && !outcome.NoOp {
		metrics.OrderTransitions.WithLabelValues(string(outcome.To), "ok").Inc()
	}
	return order, nil
}
