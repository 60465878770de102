package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/repository"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/logger"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/metrics"
)

type salesJob struct {
	productID string
	delta     int
}

// SalesCounter 提交后异步累加商品销量；队列满时丢弃，不影响订单
type SalesCounter struct {
	products repository.ProductRepository
	ch       chan salesJob
}

func NewSalesCounter(db *gorm.DB, queueSize int) *SalesCounter {
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &SalesCounter{products: repository.NewProductRepository(db), ch: make(chan salesJob, queueSize)}
}

// Start 启动 worker；停止函数关闭后各 worker 排空队列再退出，并等待进行中的任务完成
func (s *SalesCounter) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 2
	}
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case job := <-s.ch:
					s.handle(job)
				case <-stopCh:
					s.drain()
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		close(stopCh)
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *SalesCounter) drain() {
	for {
		select {
		case job := <-s.ch:
			s.handle(job)
		default:
			return
		}
	}
}

func (s *SalesCounter) handle(job salesJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.products.AddSalesCount(ctx, job.productID, job.delta); err != nil {
		logger.Warn("update sales count failed", zap.String("product_id", job.productID), zap.Int("delta", job.delta), zap.Error(err))
	}
}

func (s *SalesCounter) Enqueue(productID string, delta int) {
	if s == nil || delta == 0 {
		return
	}
	select {
	case s.ch <- salesJob{productID: productID, delta: delta}:
	default:
		metrics.WorkerQueueDropped.WithLabelValues("sales_count").Inc()
		logger.Warn("sales queue full, drop", zap.String("product_id", productID), zap.Int("delta", delta))
	}
}

// QueueLen 当前队列长度（采样值）
func (s *SalesCounter) QueueLen() int { return len(s.ch) }
