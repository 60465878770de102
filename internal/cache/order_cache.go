package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/service"
)

// OrderCache 订单详情读缓存；状态变更后整体失效
type OrderCache struct {
	client *redis.Client
	ttl    time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

var _ service.OrderCache = (*OrderCache)(nil)

func NewOrderCache(client *redis.Client, ttl time.Duration) *OrderCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &OrderCache{client: client, ttl: ttl}
}

func orderKey(orderID string) string {
	return fmt.Sprintf("order:detail:%s", orderID)
}

// Get 未命中返回 nil, nil
func (c *OrderCache) Get(ctx context.Context, orderID string) (*service.OrderDetail, error) {
	data, err := c.client.Get(ctx, orderKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var detail service.OrderDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		// 脏数据直接删掉，回源
		_ = c.client.Del(ctx, orderKey(orderID)).Err()
		c.misses.Add(1)
		return nil, nil
	}
	c.hits.Add(1)
	return &detail, nil
}

func (c *OrderCache) Set(ctx context.Context, detail *service.OrderDetail) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, orderKey(detail.Order.ID), payload, c.ttl).Err()
}

func (c *OrderCache) Invalidate(ctx context.Context, orderID string) error {
	return c.client.Del(ctx, orderKey(orderID)).Err()
}

// Stats 命中/未命中计数
func (c *OrderCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
