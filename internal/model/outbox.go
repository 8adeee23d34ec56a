package model

import "time"

// OutboxEvent is written in the same transaction as the event it relays.
type OutboxEvent struct {
	ID               uint64    `gorm:"primaryKey"`
	AggregateType    string    `gorm:"size:64;not null"`
	AggregateID      string    `gorm:"size:36;not null;index"`
	AggregateVersion uint32    `gorm:"not null"`
	EventName        string    `gorm:"size:128;not null"`
	Payload          string    `gorm:"type:text;not null"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	Processed        bool      `gorm:"not null;default:false;index"`
	ProcessedAt      *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }
