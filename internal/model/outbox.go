package model

import "time"

const (
	OutboxPending    = "pending"
	OutboxProcessing = "processing"
	OutboxDone       = "done"
)

// Outbox 订单事件外发盒，提交后写入，由 relay 投递到 Kafka
type Outbox struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)"`
	AggregateID string     `gorm:"type:varchar(36);index:idx_outbox_aggregate"`
	EventType   string     `gorm:"type:varchar(64);not null"`
	Payload     string     `gorm:"type:text"`
	Status      string     `gorm:"type:varchar(16);index:idx_outbox_status_created"` // pending, processing, done
	Attempts    int        `gorm:"not null;default:0"`
	LastError   string     `gorm:"type:varchar(255)"`
	CreatedAt   time.Time  `gorm:"index:idx_outbox_status_created"`
	ClaimedAt   *time.Time // processing 租约起点
	ProcessedAt *time.Time
}

func (Outbox) TableName() string { return "outbox" }
