package model

import "time"

type User struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement:false"` // 由 userId 序列分配
	Username     string `gorm:"uniqueIndex;size:32;not null"`
	Email        string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserCommunity 用户所在社区的冗余索引（community_members 才是权威数据）
type UserCommunity struct {
	ID          uint64 `gorm:"primaryKey"`
	UserID      uint64 `gorm:"not null;index;uniqueIndex:uk_user_community"`
	CommunityID uint64 `gorm:"not null;uniqueIndex:uk_user_community"`
	CreatedAt   time.Time
}

// Identity 成员列表展示用的用户信息
type Identity struct {
	UserID   uint64 `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

const UnknownUsername = "Unknown"

// UnknownIdentity 用户记录不存在时的占位
func UnknownIdentity(userID uint64) Identity {
	return Identity{UserID: userID, Username: UnknownUsername}
}
