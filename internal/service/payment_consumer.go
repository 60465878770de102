package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/kafka"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/logger"
)

// PaymentConsumer 消费支付结果 topic；每条消息处理完（或确定丢弃）后才提交 offset
type PaymentConsumer struct {
	reader      kafka.MessageReader
	orders      *OrderService
	maxAttempts int
	backoff     time.Duration
}

func NewPaymentConsumer(reader kafka.MessageReader, orders *OrderService) *PaymentConsumer {
	return &PaymentConsumer{reader: reader, orders: orders, maxAttempts: 5, backoff: 2 * time.Second}
}

// Run 阻塞直到 ctx 取消
func (c *PaymentConsumer) Run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("fetch payment result failed", zap.Error(err))
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		c.process(ctx, msg)
		if ctx.Err() != nil {
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Warn("commit payment result failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// process 临时错误原地重试；超过次数后记录并跳过
func (c *PaymentConsumer) process(ctx context.Context, msg kafkago.Message) {
	mctx := kafka.ContextFromMessage(ctx, &msg)
	for attempt := 1; ; attempt++ {
		err := c.handle(mctx, msg)
		if err == nil {
			return
		}
		if attempt >= c.maxAttempts {
			logger.Error("giving up on payment result",
				zap.String("key", string(msg.Key)),
				zap.Int64("offset", msg.Offset),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return
		}
		logger.Warn("payment result failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		if !c.sleep(ctx) {
			return
		}
	}
}

func (c *PaymentConsumer) handle(ctx context.Context, msg kafkago.Message) error {
	var res PaymentResult
	if err := json.Unmarshal(msg.Value, &res); err != nil {
		logger.Warn("drop malformed payment result", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}
	if res.OrderID == "" {
		logger.Warn("drop payment result without order id", zap.Int64("offset", msg.Offset))
		return nil
	}

	order, err := c.orders.OnPaymentResult(ctx, res)
	switch {
	case err == nil:
		logger.Info("payment result applied",
			zap.String("order_id", order.ID),
			zap.String("payment_status", string(order.PaymentStatus)),
		)
		return nil
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		// 重试也不会成功
		logger.Warn("drop payment result", zap.String("order_id", res.OrderID), zap.Error(err))
		return nil
	}
	return err
}

func (c *PaymentConsumer) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
