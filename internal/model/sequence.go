package model

import "time"

const (
	SeqUserID      = "userId"
	SeqCommunityID = "communityId"
)

// SequenceCounter 按命名空间单调递增的计数器
type SequenceCounter struct {
	Namespace string `gorm:"primaryKey;size:64"`
	Value     uint64 `gorm:"not null"`
	UpdatedAt time.Time
}

func (SequenceCounter) TableName() string { return "sequence_counters" }
