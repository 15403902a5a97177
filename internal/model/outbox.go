package model

import "time"

const (
	EventCommunityCreated = "community.created"
	EventMemberUpserted   = "member.upserted"
	EventMemberRemoved    = "member.removed"
	EventBrandingUpdated  = "branding.updated"
)

const (
	OutboxPending int8 = 0
	OutboxSent    int8 = 1
	OutboxFailed  int8 = 2
)

// MembershipOutbox 社区变更事件表，与业务写入同一事务
type MembershipOutbox struct {
	ID          uint64 `gorm:"primaryKey"`
	EventID     string `gorm:"size:36;not null;uniqueIndex"`
	EventType   string `gorm:"size:32;not null"`
	CommunityID uint64 `gorm:"not null;index"`
	UserID      uint64 `gorm:"not null"`
	Payload     string `gorm:"type:text;not null"`
	Status      int8   `gorm:"not null;default:0;index"`
	Retry       int    `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (MembershipOutbox) TableName() string { return "membership_outbox" }
