package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/model"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/repository"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/kafka"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/logger"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/metrics"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderCancelled     = "order.cancelled"
	EventPaymentRecorded    = "order.payment_recorded"
)

// OrderEvent 外发的订单事件
type OrderEvent struct {
	EventID       string              `json:"event_id"`
	Type          string              `json:"type"`
	OrderID       string              `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	UserID        string              `json:"user_id"`
	Status        model.OrderStatus   `json:"status"`
	PaymentStatus model.PaymentStatus `json:"payment_status"`
	Total         string              `json:"total"`
	Note          string              `json:"note,omitempty"`
	OccurredAt    time.Time           `json:"occurred_at"`
}

// Notifier 与业务写入同事务落 outbox，由 OutboxRelay 异步投递
type Notifier struct {
	now func() time.Time
}

func NewNotifier() *Notifier {
	return &Notifier{now: time.Now}
}

func (n *Notifier) Record(ctx context.Context, tx *gorm.DB, eventType string, order *model.Order, note string) error {
	evt := OrderEvent{
		EventID:       uuid.NewString(),
		Type:          eventType,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Total:         order.Total.StringFixed(2),
		Note:          note,
		OccurredAt:    n.now().UTC(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return repository.NewOutboxRepository(tx).Insert(ctx, &model.Outbox{
		ID:          evt.EventID,
		AggregateID: order.ID,
		EventType:   eventType,
		Payload:     string(payload),
		Status:      model.OutboxPending,
		CreatedAt:   evt.OccurredAt,
	})
}

// Publisher 事件投递目标
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// KafkaPublisher 按订单ID分区写入 Kafka
type KafkaPublisher struct {
	writer kafka.MessageWriter
}

func NewKafkaPublisher(writer kafka.MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	return kafka.PublishRaw(ctx, p.writer, key, payload)
}

// LogPublisher 未配置 Kafka 时只记录日志
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, key string, payload []byte) error {
	logger.Info("order event", zap.String("key", key), zap.ByteString("payload", payload))
	return nil
}

// OutboxRelay 轮询 outbox，认领后投递并标记完成
type OutboxRelay struct {
	outbox       repository.OutboxRepository
	publisher    Publisher
	workers      int
	batchSize    int
	pollInterval time.Duration
	lease        time.Duration
	now          func() time.Time
}

// DefaultOutboxLease processing 行超过该时长未完成即视为 relay 已失联
const DefaultOutboxLease = time.Minute

func NewOutboxRelay(db *gorm.DB, publisher Publisher, workers, batchSize int, pollInterval time.Duration) *OutboxRelay {
	if workers <= 0 {
		workers = 2
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &OutboxRelay{
		outbox:       repository.NewOutboxRepository(db),
		publisher:    publisher,
		workers:      workers,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		lease:        DefaultOutboxLease,
		now:          time.Now,
	}
}

func (r *OutboxRelay) WithLease(d time.Duration) *OutboxRelay {
	if d > 0 {
		r.lease = d
	}
	return r
}

// Start 启动若干 worker；返回停止函数
func (r *OutboxRelay) Start() func(context.Context) error {
	stop := make(chan struct{})
	done := make(chan struct{}, r.workers)
	for i := 0; i < r.workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			r.loop(stop)
		}()
	}
	return func(ctx context.Context) error {
		close(stop)
		for i := 0; i < r.workers; i++ {
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
}

func (r *OutboxRelay) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := r.ProcessOnce(context.Background()); err != nil {
				logger.Warn("outbox relay failed", zap.Error(err))
			}
		}
	}
}

// ProcessOnce 处理一批，返回成功投递的条数
func (r *OutboxRelay) ProcessOnce(ctx context.Context) (int, error) {
	now := r.now().UTC()
	batch, err := r.outbox.Claim(ctx, r.batchSize, now, now.Add(-r.lease))
	if err != nil {
		return 0, err
	}
	defer r.reportBacklog(ctx)
	sent := 0
	for _, row := range batch {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := r.publisher.Publish(pctx, row.AggregateID, []byte(row.Payload))
		cancel()
		if err != nil {
			metrics.OutboxPublished.WithLabelValues("error").Inc()
			logger.Warn("publish order event failed",
				zap.String("outbox_id", row.ID),
				zap.String("event", row.EventType),
				zap.Error(err),
			)
			if merr := r.outbox.MarkRetry(ctx, row.ID, err.Error()); merr != nil {
				logger.Error("mark outbox retry failed", zap.String("outbox_id", row.ID), zap.Error(merr))
			}
			continue
		}
		if err := r.outbox.MarkDone(ctx, row.ID, r.now().UTC()); err != nil {
			logger.Error("mark outbox done failed", zap.String("outbox_id", row.ID), zap.Error(err))
			continue
		}
		metrics.OutboxPublished.WithLabelValues("ok").Inc()
		sent++
	}
	return sent, nil
}

func (r *OutboxRelay) reportBacklog(ctx context.Context) {
	for _, status := range []string{model.OutboxPending, model.OutboxProcessing} {
		n, err := r.outbox.CountByStatus(ctx, status)
		if err != nil {
			logger.Warn("count outbox backlog failed", zap.String("status", status), zap.Error(err))
			return
		}
		metrics.OutboxBacklog.WithLabelValues(status).Set(float64(n))
	}
}
