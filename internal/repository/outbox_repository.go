package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/model"
)

// OutboxRepository 订单事件外发盒
type OutboxRepository interface {
	Insert(ctx context.Context, row *model.Outbox) error
	// Claim 认领一批 pending 行以及租约早于 staleBefore 的 processing 行并置为 processing；
	// 多个 relay 并发时互相跳过已锁行
	Claim(ctx context.Context, limit int, now, staleBefore time.Time) ([]model.Outbox, error)
	MarkDone(ctx context.Context, id string, at time.Time) error
	// MarkRetry 投递失败，回到 pending 等待下一轮
	MarkRetry(ctx context.Context, id string, cause string) error
	CountByStatus(ctx context.Context, status string) (int64, error)
}

type outboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Insert(ctx context.Context, row *model.Outbox) error {
	if row.Status == "" {
		row.Status = model.OutboxPending
	}
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *outboxRepository) Claim(ctx context.Context, limit int, now, staleBefore time.Time) ([]model.Outbox, error) {
	var batch []model.Outbox
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? OR (status = ? AND claimed_at < ?)", model.OutboxPending, model.OutboxProcessing, staleBefore).
			Order("created_at").
			Limit(limit).
			Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]string, len(batch))
		for i, b := range batch {
			ids[i] = b.ID
		}
		return tx.Model(&model.Outbox{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":     model.OutboxProcessing,
				"claimed_at": now,
				"attempts":   gorm.Expr("attempts + 1"),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	for i := range batch {
		batch[i].Status = model.OutboxProcessing
		batch[i].ClaimedAt = &now
		batch[i].Attempts++
	}
	return batch, nil
}

func (r *outboxRepository) MarkDone(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Outbox{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": model.OutboxDone, "processed_at": at, "last_error": ""}).Error
}

func (r *outboxRepository) MarkRetry(ctx context.Context, id string, cause string) error {
	if len(cause) > 255 {
		cause = cause[:255]
	}
	return r.db.WithContext(ctx).Model(&model.Outbox{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": model.OutboxPending, "claimed_at": nil, "last_error": cause}).Error
}

func (r *outboxRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Outbox{}).Where("status = ?", status).Count(&n).Error
	return n, err
}
