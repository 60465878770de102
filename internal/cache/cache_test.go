package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/model"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/service"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestOrderCache_RoundTrip(t *testing.T) {
	mr, client := setupRedis(t)
	c := NewOrderCache(client, time.Minute)
	ctx := context.Background()

	got, err := c.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Nil(t, got)

	detail := &service.OrderDetail{
		Order: model.Order{ID: "o1", OrderNumber: "ORD-202601-000007", Total: decimal.RequireFromString("795000.50"), Status: model.OrderStatusPending},
		Items: []model.OrderItem{{ID: "i1", OrderID: "o1", ProductName: "Washer", Quantity: 2, UnitPrice: decimal.RequireFromString("397500.25")}},
	}
	require.NoError(t, c.Set(ctx, detail))
	assert.True(t, mr.Exists("order:detail:o1"))

	got, err = c.Get(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ORD-202601-000007", got.Order.OrderNumber)
	assert.True(t, got.Order.Total.Equal(detail.Order.Total))
	require.Len(t, got.Items, 1)
	assert.Nil(t, got.Payment)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	require.NoError(t, c.Invalidate(ctx, "o1"))
	assert.False(t, mr.Exists("order:detail:o1"))
}

func TestOrderCache_TTLAndCorruptEntry(t *testing.T) {
	mr, client := setupRedis(t)
	c := NewOrderCache(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, &service.OrderDetail{Order: model.Order{ID: "o2"}}))
	mr.FastForward(2 * time.Minute)
	got, err := c.Get(ctx, "o2")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, mr.Set("order:detail:o3", "{not json"))
	got, err = c.Get(ctx, "o3")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, mr.Exists("order:detail:o3"))
}

func TestOrderCache_RedisDown(t *testing.T) {
	mr, client := setupRedis(t)
	c := NewOrderCache(client, time.Minute)
	mr.Close()

	_, err := c.Get(context.Background(), "o1")
	assert.Error(t, err)
}

func TestIdempotencyStore(t *testing.T) {
	mr, client := setupRedis(t)
	s := NewIdempotencyStore(client, time.Hour)
	ctx := context.Background()

	id, reserved, err := s.Reserve(ctx, "u1:k1")
	require.NoError(t, err)
	assert.True(t, reserved)
	assert.Empty(t, id)

	// 处理中
	id, reserved, err = s.Reserve(ctx, "u1:k1")
	require.NoError(t, err)
	assert.False(t, reserved)
	assert.Empty(t, id)

	require.NoError(t, s.Complete(ctx, "u1:k1", "order-1"))
	id, reserved, err = s.Reserve(ctx, "u1:k1")
	require.NoError(t, err)
	assert.False(t, reserved)
	assert.Equal(t, "order-1", id)
	assert.Equal(t, time.Hour, mr.TTL("checkout:idem:u1:k1"))

	_, reserved, err = s.Reserve(ctx, "u1:k2")
	require.NoError(t, err)
	require.True(t, reserved)
	require.NoError(t, s.Release(ctx, "u1:k2"))
	_, reserved, err = s.Reserve(ctx, "u1:k2")
	require.NoError(t, err)
	assert.True(t, reserved)
}

func TestIdempotencyStore_PendingTTL(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	s := NewIdempotencyStore(client, time.Hour)
	_, reserved, err := s.Reserve(ctx, "u1:k1")
	require.NoError(t, err)
	require.True(t, reserved)
	assert.Equal(t, defaultPendingTTL, mr.TTL("checkout:idem:u1:k1"))

	s = NewIdempotencyStore(client, time.Hour).WithPendingTTL(10 * time.Minute)
	_, reserved, err = s.Reserve(ctx, "u1:k2")
	require.NoError(t, err)
	require.True(t, reserved)
	assert.Equal(t, 10*time.Minute, mr.TTL("checkout:idem:u1:k2"))

	// 占位过期后可重新占用
	mr.FastForward(11 * time.Minute)
	_, reserved, err = s.Reserve(ctx, "u1:k2")
	require.NoError(t, err)
	assert.True(t, reserved)
}
