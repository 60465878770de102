package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/model"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/repository"
)

// 允许的状态迁移；delivered 与 cancelled 为终态
var transitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderStatusPending:    {model.OrderStatusProcessing, model.OrderStatusCancelled},
	model.OrderStatusProcessing: {model.OrderStatusShipped, model.OrderStatusCancelled},
	model.OrderStatusShipped:    {model.OrderStatusDelivered},
}

// Transition 一次状态迁移请求
type Transition struct {
	To             model.OrderStatus
	ActorID        string
	Note           string
	TrackingNumber string
	CancelReason   string
}

// TransitionOutcome 迁移结果，供提交后的副作用使用
type TransitionOutcome struct {
	From     model.OrderStatus
	To       model.OrderStatus
	NoOp     bool
	Released []*model.StockLedgerEntry
	Items    []model.OrderItem
	Refunded bool
}

type StateMachine struct {
	ledger *StockLedger
	now    func() time.Time
}

func NewStateMachine(ledger *StockLedger) *StateMachine {
	return &StateMachine{ledger: ledger, now: time.Now}
}

// CanTransition 仅判断表内是否允许，不含同状态幂等
func CanTransition(from, to model.OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Check 同状态返回 noop；表外迁移返回 InvalidTransitionError
func (m *StateMachine) Check(from, to model.OrderStatus) (bool, error) {
	if !to.Valid() {
		return false, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", to)}
	}
	if from == to {
		return true, nil
	}
	if !CanTransition(from, to) {
		return false, &InvalidTransitionError{From: from, To: to}
	}
	return false, nil
}

// Apply 在调用方事务内执行迁移；order 必须已加行锁，成功后原地更新
func (m *StateMachine) Apply(ctx context.Context, tx *gorm.DB, order *model.Order, t Transition) (*TransitionOutcome, error) {
	out := &TransitionOutcome{From: order.Status, To: t.To}
	noop, err := m.Check(order.Status, t.To)
	if err != nil {
		return nil, err
	}
	if noop {
		out.NoOp = true
		return out, nil
	}

	orders := repository.NewOrderRepository(tx)
	now := m.now()
	to := t.To
	patch := repository.OrderPatch{Status: &to}
	note := t.Note

	switch t.To {
	case model.OrderStatusShipped:
		patch.ShippedAt = &now
		if t.TrackingNumber != "" {
			tn := t.TrackingNumber
			patch.TrackingNumber = &tn
		}
		if note == "" {
			note = "Order shipped"
			if t.TrackingNumber != "" {
				note += ", tracking number " + t.TrackingNumber
			}
		}
	case model.OrderStatusDelivered:
		patch.DeliveredAt = &now
		if note == "" {
			note = "Order delivered"
		}
	case model.OrderStatusProcessing:
		if note == "" {
			note = "Order is being processed"
		}
	case model.OrderStatusCancelled:
		reason := t.CancelReason
		patch.CancelledAt = &now
		patch.CancelReason = &reason
		if note == "" {
			note = "Order cancelled"
			if reason != "" {
				note += ": " + reason
			}
		}

		items, err := orders.Items(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		refs := make([]ItemRef, len(items))
		for i, it := range items {
			refs[i] = itemRef(it)
		}
		if err := m.ledger.LockRows(ctx, tx, refs); err != nil {
			return nil, err
		}
		sort.SliceStable(items, func(i, j int) bool {
			return itemRef(items[i]).key() < itemRef(items[j]).key()
		})
		for _, it := range items {
			entry, err := m.ledger.Release(ctx, tx, Movement{
				ProductID:   it.ProductID,
				VariantID:   it.VariantID,
				ProductName: it.ProductName,
				Quantity:    it.Quantity,
				ReferenceID: order.ID,
				ActorID:     t.ActorID,
				Note:        "order " + order.OrderNumber + " cancelled",
			})
			if err != nil {
				return nil, err
			}
			out.Released = append(out.Released, entry)
		}
		out.Items = items

		if order.PaymentStatus == model.PaymentStatusPaid {
			if err := m.refund(ctx, orders, order.ID, now); err != nil {
				return nil, err
			}
			refunded := model.PaymentStatusRefunded
			patch.PaymentStatus = &refunded
			out.Refunded = true
		}
	}

	if err := orders.Update(ctx, order.ID, patch); err != nil {
		return nil, err
	}
	if err := orders.AppendHistory(ctx, &model.OrderStatusHistory{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		Status:    t.To,
		Note:      note,
		ActorID:   t.ActorID,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	order.Status = t.To
	order.UpdatedAt = now
	order.Version++
	switch t.To {
	case model.OrderStatusShipped:
		order.ShippedAt = &now
		if patch.TrackingNumber != nil {
			order.TrackingNumber = *patch.TrackingNumber
		}
	case model.OrderStatusDelivered:
		order.DeliveredAt = &now
	case model.OrderStatusCancelled:
		order.CancelledAt = &now
		order.CancelReason = t.CancelReason
		if out.Refunded {
			order.PaymentStatus = model.PaymentStatusRefunded
		}
	}
	return out, nil
}

func itemRef(it model.OrderItem) ItemRef {
	return ItemRef{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity}
}

// refund 仅修改支付状态标记，资金退回由外部支付方处理
func (m *StateMachine) refund(ctx context.Context, orders repository.OrderRepository, orderID string, now time.Time) error {
	payment, err := orders.Payment(ctx, orderID)
	if err != nil {
		return err
	}
	status := model.PaymentStatusRefunded
	return orders.UpdatePayment(ctx, payment.ID, repository.PaymentPatch{Status: &status, RefundedAt: &now})
}
