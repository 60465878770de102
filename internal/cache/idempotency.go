package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/service"
)

const pendingMarker = "__pending__"

// IdempotencyStore 结账幂等键：占位 -> 完成(订单ID) / 失败释放
type IdempotencyStore struct {
	client     *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

var _ service.IdempotencyStore = (*IdempotencyStore)(nil)

const defaultPendingTTL = 2 * time.Minute

func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{client: client, ttl: ttl, pendingTTL: defaultPendingTTL}
}

// WithPendingTTL 占位过期后同一 key 可再次结账，取值要覆盖锁等待最久的结账
func (s *IdempotencyStore) WithPendingTTL(d time.Duration) *IdempotencyStore {
	if d > 0 {
		s.pendingTTL = d
	}
	return s
}

func idemKey(key string) string {
	return "checkout:idem:" + key
}

// Reserve 占位成功返回 reserved=true；已完成返回订单ID；处理中返回空订单ID
func (s *IdempotencyStore) Reserve(ctx context.Context, key string) (string, bool, error) {
	ok, err := s.client.SetNX(ctx, idemKey(key), pendingMarker, s.pendingTTL).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	val, err := s.client.Get(ctx, idemKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		// 占位刚过期，重试一次
		ok, err = s.client.SetNX(ctx, idemKey(key), pendingMarker, s.pendingTTL).Result()
		return "", ok, err
	}
	if err != nil {
		return "", false, err
	}
	if val == pendingMarker {
		return "", false, nil
	}
	return val, false, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key, orderID string) error {
	return s.client.Set(ctx, idemKey(key), orderID, s.ttl).Err()
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, idemKey(key)).Err()
}
